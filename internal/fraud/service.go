package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

// Risk contributions per check. The duplicate check is a hard veto and
// forces the score to the maximum on its own.
const (
	vetoScore = 100

	riskModerateScore = 40
	riskHighScore     = 80

	avsMismatchScore = 25
	cvvMismatchScore = 25
	scaMissingScore  = 30

	newAccountScore           = 15
	newAccountHighAmountScore = 20
	identityUnverifiedScore   = 15
	failedPaymentsScore       = 25

	failedPaymentThreshold = 3
	failedPaymentWindow    = 30 * 24 * time.Hour
)

// PaymentSignal carries everything the gate needs about one succeeded payment.
type PaymentSignal struct {
	UserID          uuid.UUID
	IntentID        *uuid.UUID
	SquarePaymentID string
	AmountCents     int64
	Currency        string
	RiskLevel       enums.RiskLevel
	AVSStatus       string
	CVVStatus       string
	SCACompleted    bool
}

// CheckResult is one named check's contribution to the aggregate score.
type CheckResult struct {
	Name   enums.FraudCheckName `json:"name"`
	Passed bool                 `json:"passed"`
	Score  int                  `json:"score"`
	Detail string               `json:"detail,omitempty"`
}

// Result is the gate's decision for one payment signal.
type Result struct {
	Checks []CheckResult     `json:"checks"`
	Score  int               `json:"score"`
	Action enums.FraudAction `json:"action"`
}

type membershipSource interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Membership, error)
}

type intentSource interface {
	FindOpenByUser(ctx context.Context, userID uuid.UUID) (*models.MembershipIntent, error)
	CountRecentFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

type profileSource interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// Service scores payment-success signals before activation trusts them.
type Service interface {
	Evaluate(ctx context.Context, signal PaymentSignal) (*Result, error)
}

type service struct {
	memberships  membershipSource
	intents      intentSource
	profiles     profileSource
	repo         Repository
	rejectScore  int
	reviewScore  int
	scaThreshold decimal.Decimal
	newAcctAge   time.Duration
	logg         *logger.Logger
}

type ServiceParams struct {
	Memberships membershipSource
	Intents     intentSource
	Profiles    profileSource
	Repo        Repository
	Config      config.FraudConfig
	Logger      *logger.Logger
}

// NewService wires the fraud gate dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Memberships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "memberships source required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intents source required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles source required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fraud repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}

	threshold, err := decimal.NewFromString(params.Config.SCAAmountThreshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sca amount threshold")
	}

	return &service{
		memberships:  params.Memberships,
		intents:      params.Intents,
		profiles:     params.Profiles,
		repo:         params.Repo,
		rejectScore:  params.Config.RejectScore,
		reviewScore:  params.Config.ReviewScore,
		scaThreshold: threshold,
		newAcctAge:   params.Config.NewAccountMaxAge,
		logg:         params.Logger,
	}, nil
}

// Evaluate runs every check, derives the action, and persists the full
// evaluation for audit regardless of the outcome.
func (s *service) Evaluate(ctx context.Context, signal PaymentSignal) (*Result, error) {
	if signal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if signal.SquarePaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":           signal.UserID.String(),
		"square_payment_id": signal.SquarePaymentID,
	})

	checks := []CheckResult{
		s.checkDuplicateMembership(logCtx, signal),
		s.checkProcessorRisk(signal),
		s.checkPaymentMethod(signal),
		s.checkUserRiskProfile(logCtx, signal),
	}

	result := s.scoreAndDecide(checks)
	s.persist(logCtx, signal, result)

	if result.Action != enums.FraudActionApprove {
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"fraud_score":  result.Score,
			"fraud_action": result.Action.String(),
		}), "payment flagged by fraud gate")
	}
	return result, nil
}

// scoreAndDecide sums check contributions, applies the duplicate veto, and
// maps the aggregate score onto an action.
func (s *service) scoreAndDecide(checks []CheckResult) *Result {
	score := 0
	veto := false
	for _, check := range checks {
		score += check.Score
		if check.Name == enums.FraudCheckDuplicateMembership && !check.Passed {
			veto = true
		}
	}
	if veto || score > vetoScore {
		score = vetoScore
	}

	action := enums.FraudActionApprove
	switch {
	case veto || score >= s.rejectScore:
		action = enums.FraudActionReject
	case score >= s.reviewScore:
		action = enums.FraudActionManualReview
	}

	return &Result{Checks: checks, Score: score, Action: action}
}

func (s *service) checkDuplicateMembership(ctx context.Context, signal PaymentSignal) CheckResult {
	result := CheckResult{Name: enums.FraudCheckDuplicateMembership, Passed: true}

	membership, err := s.memberships.FindByUser(ctx, signal.UserID)
	if err != nil {
		s.logg.Warn(ctx, "duplicate membership check unavailable, defaulting to pass")
		result.Detail = "membership lookup unavailable"
		return result
	}
	if membership != nil && membership.Status != enums.MembershipStatusCancelled {
		result.Passed = false
		result.Score = vetoScore
		result.Detail = fmt.Sprintf("user already holds a %s membership", membership.Status)
		return result
	}

	open, err := s.intents.FindOpenByUser(ctx, signal.UserID)
	if err != nil {
		s.logg.Warn(ctx, "open intent check unavailable, defaulting to pass")
		result.Detail = "intent lookup unavailable"
		return result
	}
	if open != nil && (signal.IntentID == nil || open.ID != *signal.IntentID) {
		result.Passed = false
		result.Score = vetoScore
		result.Detail = "another membership purchase is already in flight"
	}
	return result
}

func (s *service) checkProcessorRisk(signal PaymentSignal) CheckResult {
	result := CheckResult{Name: enums.FraudCheckProcessorRisk, Passed: true}
	switch signal.RiskLevel {
	case enums.RiskLevelModerate:
		result.Passed = false
		result.Score = riskModerateScore
		result.Detail = "processor reports elevated risk"
	case enums.RiskLevelHigh:
		result.Passed = false
		result.Score = riskHighScore
		result.Detail = "processor reports highest risk"
	}
	return result
}

func (s *service) checkPaymentMethod(signal PaymentSignal) CheckResult {
	result := CheckResult{Name: enums.FraudCheckPaymentMethod, Passed: true}

	score := 0
	details := ""
	if signal.AVSStatus == "AVS_REJECTED" {
		score += avsMismatchScore
		details = "address verification mismatch"
	}
	if signal.CVVStatus == "CVV_REJECTED" {
		score += cvvMismatchScore
		details = appendDetail(details, "card security code mismatch")
	}
	if !signal.SCACompleted && s.amountExceedsSCAThreshold(signal.AmountCents) {
		score += scaMissingScore
		details = appendDetail(details, "strong customer authentication missing above amount threshold")
	}

	if score > 0 {
		result.Passed = false
		result.Score = score
		result.Detail = details
	}
	return result
}

func (s *service) checkUserRiskProfile(ctx context.Context, signal PaymentSignal) CheckResult {
	result := CheckResult{Name: enums.FraudCheckUserRiskProfile, Passed: true}

	profile, err := s.profiles.FindByUser(ctx, signal.UserID)
	if err != nil {
		s.logg.Warn(ctx, "user risk profile unavailable, defaulting to pass")
		result.Detail = "profile lookup unavailable"
		return result
	}

	score := 0
	details := ""
	now := time.Now().UTC()
	if profile != nil {
		if now.Sub(profile.CreatedAt) < s.newAcctAge {
			score += newAccountScore
			details = "very new account"
			if s.amountExceedsSCAThreshold(signal.AmountCents) {
				score += newAccountHighAmountScore
				details = appendDetail(details, "high amount on a very new account")
			}
		}
		if !profile.IdentityVerified {
			score += identityUnverifiedScore
			details = appendDetail(details, "identity not verified")
		}
	}

	failures, err := s.intents.CountRecentFailed(ctx, signal.UserID, now.Add(-failedPaymentWindow))
	if err != nil {
		s.logg.Warn(ctx, "failed payment history unavailable, skipping contribution")
	} else if failures >= failedPaymentThreshold {
		score += failedPaymentsScore
		details = appendDetail(details, fmt.Sprintf("%d recent failed payments", failures))
	}

	if score > 0 {
		result.Passed = false
		result.Score = score
		result.Detail = details
	}
	return result
}

func (s *service) amountExceedsSCAThreshold(amountCents int64) bool {
	amount := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100))
	return amount.GreaterThan(s.scaThreshold)
}

// persist writes the evaluation for audit. A failed write is logged but
// never blocks the decision.
func (s *service) persist(ctx context.Context, signal PaymentSignal, result *Result) {
	checks, err := json.Marshal(result.Checks)
	if err != nil {
		s.logg.Error(ctx, "failed to encode fraud checks", err)
		return
	}

	row := &models.FraudCheck{
		ID:              uuid.New(),
		IntentID:        signal.IntentID,
		UserID:          signal.UserID,
		SquarePaymentID: signal.SquarePaymentID,
		Checks:          checks,
		Score:           result.Score,
		Action:          result.Action,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		s.logg.Error(ctx, "failed to persist fraud check", err)
	}
}

func appendDetail(existing, detail string) string {
	if existing == "" {
		return detail
	}
	return existing + "; " + detail
}
