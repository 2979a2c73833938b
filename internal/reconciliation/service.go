package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"go.uber.org/multierr"

	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/metrics"
	"github.com/sdelgadillo/membercore-backend/pkg/square"
)

const (
	sweepActor  = "worker:reconcile"
	paymentDone = "COMPLETED"
)

// Result is the polling-friendly reconciliation response. Unmet conditions
// come back as success=false with a reason, never as an HTTP error.
type Result struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	AlreadyActive     bool   `json:"already_active,omitempty"`
	NeedsVerification bool   `json:"needs_verification,omitempty"`
	PaymentStatus     string `json:"payment_status,omitempty"`
}

type squareClient interface {
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	SearchSubscriptions(ctx context.Context, customerIDs []string) ([]*sq.Subscription, error)
	SearchCustomer(ctx context.Context, params square.CustomerSearchParams) (*sq.Customer, error)
}

// Service is the pull-based fallback for lost webhook events. The client
// polls Reconcile; the sweep covers members who never poll.
type Service interface {
	Reconcile(ctx context.Context, callerID, intentID uuid.UUID) (*Result, error)
	Recover(ctx context.Context, userID uuid.UUID) (*Result, error)
	Sweep(ctx context.Context) error
}

type service struct {
	intents        intents.Repository
	profiles       profiles.Repository
	memberships    memberships.Repository
	orchestrator   activation.Orchestrator
	square         squareClient
	metrics        *metrics.ReconcileMetrics
	stuckIntentAge time.Duration
	batchSize      int
	logg           *logger.Logger
}

type ServiceParams struct {
	Intents      intents.Repository
	Profiles     profiles.Repository
	Memberships  memberships.Repository
	Orchestrator activation.Orchestrator
	Square       squareClient
	Metrics      *metrics.ReconcileMetrics
	Config       config.ReconcileConfig
	Logger       *logger.Logger
}

// NewService wires the reconciliation dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intents repository required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repository required")
	}
	if params.Memberships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "memberships repository required")
	}
	if params.Orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation orchestrator required")
	}
	if params.Square == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		intents:        params.Intents,
		profiles:       params.Profiles,
		memberships:    params.Memberships,
		orchestrator:   params.Orchestrator,
		square:         params.Square,
		metrics:        params.Metrics,
		stuckIntentAge: params.Config.StuckIntentAge,
		batchSize:      params.Config.BatchSize,
		logg:           params.Logger,
	}, nil
}

// Reconcile re-checks one intent pull-style. It is safe to call repeatedly:
// unmet conditions mutate nothing.
func (s *service) Reconcile(ctx context.Context, callerID, intentID uuid.UUID) (*Result, error) {
	if callerID == uuid.Nil || intentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "caller and intent ids required")
	}

	logCtx := s.logg.WithIntentID(s.logg.WithUserID(ctx, callerID.String()), intentID.String())

	intent, err := s.intents.FindByID(logCtx, intentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership intent not found")
	}
	if intent.UserID != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "intent belongs to another user")
	}

	if intent.Status == enums.IntentStatusActive {
		return &Result{Success: true, AlreadyActive: true, Message: "membership already active"}, nil
	}
	if intent.Status != enums.IntentStatusPaidPendingVerify {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("intent status is %s, nothing to reconcile", intent.Status),
		}, nil
	}

	verified, err := s.identityVerified(logCtx, intent.UserID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return &Result{
			Success:           false,
			NeedsVerification: true,
			Message:           "identity verification is still pending",
		}, nil
	}

	if intent.SquarePaymentID == nil || *intent.SquarePaymentID == "" {
		return &Result{
			Success:       false,
			PaymentStatus: "unknown",
			Message:       "no payment reference recorded yet",
		}, nil
	}

	payment, err := s.square.GetPayment(logCtx, *intent.SquarePaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query payment")
	}
	status := paymentStatus(payment)
	if status != paymentDone {
		return &Result{
			Success:       false,
			PaymentStatus: status,
			Message:       fmt.Sprintf("payment is %s, not completed", status),
		}, nil
	}

	outcome, err := s.orchestrator.Activate(logCtx, activation.Input{
		UserID:   callerID,
		IntentID: intentID,
		Actor:    "user:" + callerID.String(),
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Success {
		return &Result{Success: false, Message: outcome.Reason}, nil
	}
	return &Result{
		Success:       true,
		AlreadyActive: outcome.AlreadyActive,
		Message:       "membership activated",
	}, nil
}

// Recover re-derives activation from the processor when no webhook event was
// ever received, using the profile's stored customer reference or an email
// lookup when none was recorded.
func (s *service) Recover(ctx context.Context, userID uuid.UUID) (*Result, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	logCtx := s.logg.WithUserID(ctx, userID.String())

	profile, err := s.profiles.FindByUser(logCtx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	if profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no profile on file")
	}

	customerID := deref(profile.SquareCustomerID)
	if customerID == "" {
		// Customer reference never landed locally; try an email lookup at the
		// processor before giving up.
		customerID, err = s.lookupCustomerByEmail(logCtx, profile)
		if err != nil {
			return nil, err
		}
	}
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no processor customer reference on file")
	}

	subs, err := s.square.SearchSubscriptions(logCtx, []string{customerID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search subscriptions")
	}

	live := pickLiveSubscription(subs)
	if live == nil {
		return &Result{Success: false, Message: "no active subscription found at the processor"}, nil
	}
	subscriptionID := deref(live.GetID())

	pending, err := s.intents.FindLatestPendingByUser(logCtx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending intent")
	}

	if pending != nil {
		outcome, err := s.orchestrator.Activate(logCtx, activation.Input{
			UserID:               userID,
			IntentID:             pending.ID,
			SquareSubscriptionID: &subscriptionID,
			SquareCustomerID:     &customerID,
			Actor:                "user:" + userID.String(),
		})
		if err != nil {
			return nil, err
		}
		if !outcome.Success {
			return &Result{Success: false, Message: outcome.Reason}, nil
		}
		return &Result{Success: true, AlreadyActive: outcome.AlreadyActive, Message: "membership recovered from processor state"}, nil
	}

	// No intent survives; converge directly on the processor's state.
	membershipType := enums.MembershipTypeStandard
	billingCycle := enums.BillingCycleMonthly
	if existing, err := s.memberships.FindByUser(logCtx, userID); err == nil && existing != nil {
		membershipType = existing.MembershipType
		billingCycle = existing.BillingCycle
	}

	params := memberships.UpsertFromSquareSubscription(userID, membershipType, billingCycle, live, time.Now().UTC())
	if _, err := s.memberships.Upsert(logCtx, params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert membership")
	}
	if err := s.profiles.SetMembershipState(logCtx, userID, profiles.MembershipState{
		Status:               params.Status,
		MembershipType:       params.MembershipType,
		Since:                params.StartDate,
		SquareCustomerID:     &customerID,
		SquareSubscriptionID: params.SquareSubscriptionID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror membership onto profile")
	}

	return &Result{Success: true, Message: "membership recovered from processor state"}, nil
}

// Sweep walks stuck intents and drifted memberships, converging each on the
// processor's authoritative state. Row failures are collected, not fatal.
func (s *service) Sweep(ctx context.Context) error {
	var errs []error
	if err := s.sweepStuckIntents(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.sweepMembershipDrift(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (s *service) sweepStuckIntents(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.stuckIntentAge)
	stuck, err := s.intents.ListStuckPending(ctx, cutoff, s.batchSize)
	if err != nil {
		return fmt.Errorf("list stuck intents: %w", err)
	}

	var errs []error
	for i := range stuck {
		intent := &stuck[i]
		s.metrics.IncScanned("intent")
		logCtx := s.logg.WithIntentID(ctx, intent.ID.String())

		verified, err := s.identityVerified(logCtx, intent.UserID)
		if err != nil {
			s.metrics.IncFailure("intent")
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		if !verified {
			continue
		}

		if intent.SquarePaymentID == nil || *intent.SquarePaymentID == "" {
			continue
		}
		payment, err := s.square.GetPayment(logCtx, *intent.SquarePaymentID)
		if err != nil {
			s.metrics.IncFailure("intent")
			errs = append(errs, fmt.Errorf("intent %s: query payment: %w", intent.ID, err))
			continue
		}
		if paymentStatus(payment) != paymentDone {
			continue
		}

		outcome, err := s.orchestrator.Activate(logCtx, activation.Input{
			UserID:   intent.UserID,
			IntentID: intent.ID,
			Actor:    sweepActor,
		})
		if err != nil {
			s.metrics.IncFailure("intent")
			errs = append(errs, fmt.Errorf("intent %s: activate: %w", intent.ID, err))
			continue
		}
		if outcome.Success && !outcome.AlreadyActive {
			s.metrics.IncRecovered("intent")
			s.logg.Info(logCtx, "stuck intent recovered by sweep")
		}
	}
	return multierr.Combine(errs...)
}

func (s *service) sweepMembershipDrift(ctx context.Context) error {
	rows, err := s.memberships.ListWithSubscriptions(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}

	var errs []error
	for i := range rows {
		membership := &rows[i]
		if membership.SquareSubscriptionID == nil {
			continue
		}
		s.metrics.IncScanned("membership")
		subscriptionID := *membership.SquareSubscriptionID
		logCtx := s.logg.WithField(ctx, "square_subscription_id", subscriptionID)

		sub, err := s.square.GetSubscription(logCtx, subscriptionID)
		if err != nil {
			s.metrics.IncFailure("membership")
			errs = append(errs, fmt.Errorf("membership %s: %w", membership.ID, err))
			continue
		}

		params := memberships.UpsertFromSquareSubscription(membership.UserID, membership.MembershipType, membership.BillingCycle, sub, time.Now().UTC())
		if !membershipDrifted(membership, params) {
			continue
		}

		if _, err := s.memberships.Upsert(logCtx, params); err != nil {
			s.metrics.IncFailure("membership")
			errs = append(errs, fmt.Errorf("membership %s: upsert: %w", membership.ID, err))
			continue
		}
		if err := s.profiles.SetMembershipState(logCtx, membership.UserID, profiles.MembershipState{
			Status:               params.Status,
			MembershipType:       params.MembershipType,
			Since:                params.StartDate,
			SquareCustomerID:     params.SquareCustomerID,
			SquareSubscriptionID: params.SquareSubscriptionID,
		}); err != nil {
			s.metrics.IncFailure("membership")
			errs = append(errs, fmt.Errorf("membership %s: mirror profile: %w", membership.ID, err))
			continue
		}
		s.metrics.IncRecovered("membership")
		s.logg.Info(logCtx, "membership drift corrected by sweep")
	}
	return multierr.Combine(errs...)
}

func (s *service) lookupCustomerByEmail(ctx context.Context, profile *models.Profile) (string, error) {
	email := strings.TrimSpace(deref(profile.Email))
	if email == "" {
		return "", nil
	}
	customer, err := s.square.SearchCustomer(ctx, square.CustomerSearchParams{Email: email})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search customer")
	}
	if customer == nil {
		return "", nil
	}
	return deref(customer.GetID()), nil
}

func (s *service) identityVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	profile, err := s.profiles.FindByUser(ctx, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	return profile != nil && profile.IdentityVerified, nil
}

// membershipDrifted reports whether the local row disagrees with the state
// derived from the processor.
func membershipDrifted(current *models.Membership, desired memberships.UpsertParams) bool {
	if current.Status != desired.Status {
		return true
	}
	if desired.EndDate != nil && (current.EndDate == nil || !current.EndDate.Equal(*desired.EndDate)) {
		return true
	}
	return false
}

func paymentStatus(payment *sq.Payment) string {
	if payment == nil {
		return "unknown"
	}
	status := strings.ToUpper(strings.TrimSpace(deref(payment.GetStatus())))
	if status == "" {
		return "unknown"
	}
	return status
}

func pickLiveSubscription(subs []*sq.Subscription) *sq.Subscription {
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if status := sub.GetStatus(); status != nil {
			mapped := memberships.StatusFromSquare(string(*status))
			if mapped != enums.MembershipStatusCancelled {
				return sub
			}
		}
	}
	return nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
