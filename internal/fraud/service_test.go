package fraud

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

type stubMembershipSource struct {
	membership *models.Membership
	err        error
}

func (s *stubMembershipSource) FindByUser(_ context.Context, _ uuid.UUID) (*models.Membership, error) {
	return s.membership, s.err
}

type stubIntentSource struct {
	open     *models.MembershipIntent
	failures int64
	openErr  error
	countErr error
}

func (s *stubIntentSource) FindOpenByUser(_ context.Context, _ uuid.UUID) (*models.MembershipIntent, error) {
	return s.open, s.openErr
}

func (s *stubIntentSource) CountRecentFailed(_ context.Context, _ uuid.UUID, _ time.Time) (int64, error) {
	return s.failures, s.countErr
}

type stubProfileSource struct {
	profile *models.Profile
	err     error
}

func (s *stubProfileSource) FindByUser(_ context.Context, _ uuid.UUID) (*models.Profile, error) {
	return s.profile, s.err
}

type recordingFraudRepo struct {
	rows []*models.FraudCheck
	err  error
}

func (r *recordingFraudRepo) WithTx(_ *gorm.DB) Repository { return r }

func (r *recordingFraudRepo) Create(_ context.Context, check *models.FraudCheck) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, check)
	return nil
}

func newTestService(t *testing.T, memberships *stubMembershipSource, intents *stubIntentSource, profiles *stubProfileSource, repo *recordingFraudRepo) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Memberships: memberships,
		Intents:     intents,
		Profiles:    profiles,
		Repo:        repo,
		Config: config.FraudConfig{
			RejectScore:        80,
			ReviewScore:        50,
			SCAAmountThreshold: "250.00",
			NewAccountMaxAge:   168 * time.Hour,
		},
		Logger: logger.New(logger.Options{ServiceName: "test-fraud", Level: logger.ParseLevel("debug"), Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func cleanSignal() PaymentSignal {
	return PaymentSignal{
		UserID:          uuid.New(),
		SquarePaymentID: "pay-1",
		AmountCents:     9900,
		Currency:        "USD",
		RiskLevel:       enums.RiskLevelNormal,
		AVSStatus:       "AVS_ACCEPTED",
		CVVStatus:       "CVV_ACCEPTED",
		SCACompleted:    true,
	}
}

func oldVerifiedProfile() *models.Profile {
	return &models.Profile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		IdentityVerified: true,
		CreatedAt:        time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
}

func TestEvaluateCleanPaymentApproves(t *testing.T) {
	repo := &recordingFraudRepo{}
	svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	result, err := svc.Evaluate(context.Background(), cleanSignal())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionApprove {
		t.Fatalf("expected approve, got %s (score %d)", result.Action, result.Score)
	}
	if result.Score != 0 {
		t.Fatalf("expected zero score, got %d", result.Score)
	}
	if len(result.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(result.Checks))
	}
	if len(repo.rows) != 1 {
		t.Fatal("expected evaluation persisted")
	}
}

func TestEvaluateDuplicateMembershipVetoes(t *testing.T) {
	repo := &recordingFraudRepo{}
	memberships := &stubMembershipSource{membership: &models.Membership{
		ID:     uuid.New(),
		Status: enums.MembershipStatusActive,
	}}
	svc := newTestService(t, memberships, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	result, err := svc.Evaluate(context.Background(), cleanSignal())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionReject {
		t.Fatalf("duplicate membership must reject, got %s", result.Action)
	}
	if result.Score != 100 {
		t.Fatalf("veto must force score 100, got %d", result.Score)
	}
}

func TestEvaluateOwnOpenIntentIsNotDuplicate(t *testing.T) {
	intentID := uuid.New()
	repo := &recordingFraudRepo{}
	intents := &stubIntentSource{open: &models.MembershipIntent{
		ID:     intentID,
		Status: enums.IntentStatusPaidPendingVerify,
	}}
	svc := newTestService(t, &stubMembershipSource{}, intents, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	signal := cleanSignal()
	signal.IntentID = &intentID
	result, err := svc.Evaluate(context.Background(), signal)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionApprove {
		t.Fatalf("intent under evaluation must not count as duplicate, got %s", result.Action)
	}
}

func TestEvaluateCancelledMembershipNotDuplicate(t *testing.T) {
	repo := &recordingFraudRepo{}
	memberships := &stubMembershipSource{membership: &models.Membership{
		ID:     uuid.New(),
		Status: enums.MembershipStatusCancelled,
	}}
	svc := newTestService(t, memberships, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	result, err := svc.Evaluate(context.Background(), cleanSignal())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionApprove {
		t.Fatalf("cancelled membership must not veto, got %s", result.Action)
	}
}

func TestEvaluateProcessorRiskLevels(t *testing.T) {
	cases := []struct {
		level  enums.RiskLevel
		action enums.FraudAction
		score  int
	}{
		{enums.RiskLevelNormal, enums.FraudActionApprove, 0},
		{enums.RiskLevelPending, enums.FraudActionApprove, 0},
		{enums.RiskLevelModerate, enums.FraudActionApprove, 40},
		{enums.RiskLevelHigh, enums.FraudActionReject, 80},
	}
	for _, tc := range cases {
		repo := &recordingFraudRepo{}
		svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

		signal := cleanSignal()
		signal.RiskLevel = tc.level
		result, err := svc.Evaluate(context.Background(), signal)
		if err != nil {
			t.Fatalf("evaluate %s: %v", tc.level, err)
		}
		if result.Action != tc.action || result.Score != tc.score {
			t.Fatalf("risk %s: expected %s/%d, got %s/%d", tc.level, tc.action, tc.score, result.Action, result.Score)
		}
	}
}

func TestEvaluateMissingSCAAboveThreshold(t *testing.T) {
	repo := &recordingFraudRepo{}
	svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	signal := cleanSignal()
	signal.AmountCents = 30000
	signal.SCACompleted = false
	result, err := svc.Evaluate(context.Background(), signal)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Score != 30 {
		t.Fatalf("expected sca contribution 30, got %d", result.Score)
	}

	// Same amount with SCA completed contributes nothing.
	signal.SCACompleted = true
	result, err = svc.Evaluate(context.Background(), signal)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Score != 0 {
		t.Fatalf("expected zero score with sca completed, got %d", result.Score)
	}
}

func TestScoreBoundaries(t *testing.T) {
	repo := &recordingFraudRepo{}
	svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{}, repo).(*service)

	boundary := func(total int) enums.FraudAction {
		checks := []CheckResult{
			{Name: enums.FraudCheckProcessorRisk, Passed: total == 0, Score: total},
		}
		return svc.scoreAndDecide(checks).Action
	}

	if action := boundary(49); action != enums.FraudActionApprove {
		t.Fatalf("score 49 must approve, got %s", action)
	}
	if action := boundary(50); action != enums.FraudActionManualReview {
		t.Fatalf("score 50 must manual_review, got %s", action)
	}
	if action := boundary(79); action != enums.FraudActionManualReview {
		t.Fatalf("score 79 must manual_review, got %s", action)
	}
	if action := boundary(80); action != enums.FraudActionReject {
		t.Fatalf("score 80 must reject, got %s", action)
	}
}

func TestScoreCapsAtHundred(t *testing.T) {
	repo := &recordingFraudRepo{}
	svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{}, repo).(*service)

	result := svc.scoreAndDecide([]CheckResult{
		{Name: enums.FraudCheckProcessorRisk, Score: 80},
		{Name: enums.FraudCheckPaymentMethod, Score: 55},
	})
	if result.Score != 100 {
		t.Fatalf("expected capped score 100, got %d", result.Score)
	}
}

func TestEvaluateUnreachableDependencyDefaultsToPass(t *testing.T) {
	repo := &recordingFraudRepo{}
	memberships := &stubMembershipSource{err: errors.New("db down")}
	profiles := &stubProfileSource{err: errors.New("db down")}
	intents := &stubIntentSource{countErr: errors.New("db down")}
	svc := newTestService(t, memberships, intents, profiles, repo)

	result, err := svc.Evaluate(context.Background(), cleanSignal())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionApprove {
		t.Fatalf("unreachable dependencies must not block payment, got %s", result.Action)
	}
	if result.Score != 0 {
		t.Fatalf("expected neutral score, got %d", result.Score)
	}
}

func TestEvaluateNewUnverifiedAccountAccumulates(t *testing.T) {
	repo := &recordingFraudRepo{}
	profiles := &stubProfileSource{profile: &models.Profile{
		ID:               uuid.New(),
		IdentityVerified: false,
		CreatedAt:        time.Now().UTC().Add(-1 * time.Hour),
	}}
	intents := &stubIntentSource{failures: 4}
	svc := newTestService(t, &stubMembershipSource{}, intents, profiles, repo)

	signal := cleanSignal()
	signal.AmountCents = 50000
	// new account 15 + high amount on new account 20 + unverified 15 +
	// failed payments 25 = 75, plus missing-SCA 30 over the threshold.
	signal.SCACompleted = false
	result, err := svc.Evaluate(context.Background(), signal)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionReject {
		t.Fatalf("expected reject at score %d, got %s", result.Score, result.Action)
	}
	if result.Score != 100 {
		t.Fatalf("expected capped score 100, got %d", result.Score)
	}
}

func TestEvaluatePersistFailureDoesNotBlockDecision(t *testing.T) {
	repo := &recordingFraudRepo{err: errors.New("insert failed")}
	svc := newTestService(t, &stubMembershipSource{}, &stubIntentSource{}, &stubProfileSource{profile: oldVerifiedProfile()}, repo)

	result, err := svc.Evaluate(context.Background(), cleanSignal())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Action != enums.FraudActionApprove {
		t.Fatalf("expected approve, got %s", result.Action)
	}
}
