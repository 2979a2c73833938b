package reconciliation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/square"
)

type fakeIntents struct {
	byID    *models.MembershipIntent
	pending *models.MembershipIntent
	stuck   []models.MembershipIntent
}

func (f *fakeIntents) WithTx(_ *gorm.DB) intents.Repository { return f }

func (f *fakeIntents) Create(_ context.Context, _ *models.MembershipIntent) error { return nil }

func (f *fakeIntents) FindByID(_ context.Context, id uuid.UUID) (*models.MembershipIntent, error) {
	if f.byID != nil && f.byID.ID == id {
		return f.byID, nil
	}
	return nil, nil
}

func (f *fakeIntents) FindOpenByUser(_ context.Context, _ uuid.UUID) (*models.MembershipIntent, error) {
	return nil, nil
}

func (f *fakeIntents) FindLatestPendingByUser(_ context.Context, _ uuid.UUID) (*models.MembershipIntent, error) {
	return f.pending, nil
}

func (f *fakeIntents) ListStuckPending(_ context.Context, _ time.Time, _ int) ([]models.MembershipIntent, error) {
	return f.stuck, nil
}

func (f *fakeIntents) CountRecentFailed(_ context.Context, _ uuid.UUID, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeIntents) MarkPaid(_ context.Context, _ uuid.UUID, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (f *fakeIntents) TransitionToActive(_ context.Context, _ uuid.UUID, _ *string, _ time.Time) (bool, error) {
	return false, nil
}

func (f *fakeIntents) RevertToPending(_ context.Context, _ uuid.UUID) error { return nil }

func (f *fakeIntents) Cancel(_ context.Context, _ uuid.UUID) (bool, error) { return false, nil }

func (f *fakeIntents) MarkFailed(_ context.Context, _ uuid.UUID, _ string) (bool, error) {
	return false, nil
}

type fakeProfiles struct {
	profile *models.Profile
	states  int
}

func (f *fakeProfiles) WithTx(_ *gorm.DB) profiles.Repository { return f }

func (f *fakeProfiles) FindByUser(_ context.Context, _ uuid.UUID) (*models.Profile, error) {
	return f.profile, nil
}

func (f *fakeProfiles) FindBySquareCustomerID(_ context.Context, _ string) (*models.Profile, error) {
	return nil, nil
}

func (f *fakeProfiles) ApplySnapshot(_ context.Context, _ uuid.UUID, _ profiles.Snapshot) error {
	return nil
}

func (f *fakeProfiles) SetMembershipState(_ context.Context, _ uuid.UUID, _ profiles.MembershipState) error {
	f.states++
	return nil
}

func (f *fakeProfiles) MarkIdentityVerified(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (f *fakeProfiles) ClearSubscriptionRef(_ context.Context, _ string) error { return nil }

func (f *fakeProfiles) SetSquareRefs(_ context.Context, _ uuid.UUID, _, _ *string) error { return nil }

type fakeMemberships struct {
	existing *models.Membership
	upserts  []memberships.UpsertParams
	listed   []models.Membership
}

func (f *fakeMemberships) WithTx(_ *gorm.DB) memberships.Repository { return f }

func (f *fakeMemberships) FindByUser(_ context.Context, _ uuid.UUID) (*models.Membership, error) {
	return f.existing, nil
}

func (f *fakeMemberships) FindBySubscriptionID(_ context.Context, _ string) (*models.Membership, error) {
	return nil, nil
}

func (f *fakeMemberships) Upsert(_ context.Context, params memberships.UpsertParams) (*models.Membership, error) {
	f.upserts = append(f.upserts, params)
	return &models.Membership{ID: uuid.New(), UserID: params.UserID, Status: params.Status}, nil
}

func (f *fakeMemberships) MarkCancelled(_ context.Context, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (f *fakeMemberships) ExtendPeriod(_ context.Context, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (f *fakeMemberships) ListWithSubscriptions(_ context.Context, _ int) ([]models.Membership, error) {
	return f.listed, nil
}

type fakeOrchestrator struct {
	inputs  []activation.Input
	outcome *activation.Outcome
}

func (f *fakeOrchestrator) Activate(_ context.Context, input activation.Input) (*activation.Outcome, error) {
	f.inputs = append(f.inputs, input)
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &activation.Outcome{Success: true}, nil
}

type fakeSquare struct {
	payment         *sq.Payment
	subscription    *sq.Subscription
	searched        []*sq.Subscription
	customer        *sq.Customer
	customerLookups []square.CustomerSearchParams
}

func (f *fakeSquare) GetPayment(_ context.Context, _ string) (*sq.Payment, error) {
	return f.payment, nil
}

func (f *fakeSquare) GetSubscription(_ context.Context, _ string) (*sq.Subscription, error) {
	return f.subscription, nil
}

func (f *fakeSquare) SearchSubscriptions(_ context.Context, _ []string) ([]*sq.Subscription, error) {
	return f.searched, nil
}

func (f *fakeSquare) SearchCustomer(_ context.Context, params square.CustomerSearchParams) (*sq.Customer, error) {
	f.customerLookups = append(f.customerLookups, params)
	return f.customer, nil
}

type harness struct {
	intents      *fakeIntents
	profiles     *fakeProfiles
	memberships  *fakeMemberships
	orchestrator *fakeOrchestrator
	square       *fakeSquare
	service      Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		intents:      &fakeIntents{},
		profiles:     &fakeProfiles{},
		memberships:  &fakeMemberships{},
		orchestrator: &fakeOrchestrator{},
		square:       &fakeSquare{},
	}
	svc, err := NewService(ServiceParams{
		Intents:      h.intents,
		Profiles:     h.profiles,
		Memberships:  h.memberships,
		Orchestrator: h.orchestrator,
		Square:       h.square,
		Config:       config.ReconcileConfig{StuckIntentAge: time.Hour, BatchSize: 100},
		Logger:       logger.New(logger.Options{ServiceName: "test-reconcile", Level: logger.ParseLevel("debug"), Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.service = svc
	return h
}

func completedPayment() *sq.Payment {
	status := "COMPLETED"
	return &sq.Payment{Status: &status}
}

func pendingIntent(userID uuid.UUID) *models.MembershipIntent {
	paymentID := "pay-1"
	return &models.MembershipIntent{
		ID:              uuid.New(),
		UserID:          userID,
		Status:          enums.IntentStatusPaidPendingVerify,
		MembershipType:  enums.MembershipTypeStandard,
		BillingCycle:    enums.BillingCycleMonthly,
		SquarePaymentID: &paymentID,
	}
}

func verifiedProfile(userID uuid.UUID) *models.Profile {
	customerID := "cust-1"
	return &models.Profile{
		ID:               uuid.New(),
		UserID:           userID,
		IdentityVerified: true,
		SquareCustomerID: &customerID,
	}
}

func TestReconcileOwnershipMismatchForbidden(t *testing.T) {
	h := newHarness(t)
	intent := pendingIntent(uuid.New())
	h.intents.byID = intent

	_, err := h.service.Reconcile(context.Background(), uuid.New(), intent.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(h.orchestrator.inputs) != 0 {
		t.Fatal("ownership mismatch must not mutate")
	}
}

func TestReconcileAlreadyActive(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	intent := pendingIntent(userID)
	intent.Status = enums.IntentStatusActive
	h.intents.byID = intent

	result, err := h.service.Reconcile(context.Background(), userID, intent.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Success || !result.AlreadyActive {
		t.Fatalf("expected already_active, got %+v", result)
	}
	if len(h.orchestrator.inputs) != 0 {
		t.Fatal("already active must not re-run activation")
	}
}

func TestReconcileNeedsVerification(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	intent := pendingIntent(userID)
	h.intents.byID = intent
	profile := verifiedProfile(userID)
	profile.IdentityVerified = false
	h.profiles.profile = profile

	// Polling with unmet conditions is always safe.
	for i := 0; i < 3; i++ {
		result, err := h.service.Reconcile(context.Background(), userID, intent.ID)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if result.Success || !result.NeedsVerification {
			t.Fatalf("expected needs_verification, got %+v", result)
		}
	}
	if len(h.orchestrator.inputs) != 0 {
		t.Fatal("unmet conditions must not mutate")
	}
}

func TestReconcilePaymentNotCompleted(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	intent := pendingIntent(userID)
	h.intents.byID = intent
	h.profiles.profile = verifiedProfile(userID)
	status := "PENDING"
	h.square.payment = &sq.Payment{Status: &status}

	result, err := h.service.Reconcile(context.Background(), userID, intent.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Success {
		t.Fatal("pending payment must not activate")
	}
	if result.PaymentStatus != "PENDING" {
		t.Fatalf("expected payment status surfaced, got %q", result.PaymentStatus)
	}
	if len(h.orchestrator.inputs) != 0 {
		t.Fatal("pending payment must not mutate")
	}
}

func TestReconcileBothConditionsMetActivates(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	intent := pendingIntent(userID)
	h.intents.byID = intent
	h.profiles.profile = verifiedProfile(userID)
	h.square.payment = completedPayment()

	result, err := h.service.Reconcile(context.Background(), userID, intent.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(h.orchestrator.inputs) != 1 {
		t.Fatal("expected orchestrator invocation")
	}
	if h.orchestrator.inputs[0].IntentID != intent.ID {
		t.Fatal("orchestrator must target the reconciled intent")
	}
}

func TestRecoverWithoutCustomerRefNotFound(t *testing.T) {
	h := newHarness(t)
	h.profiles.profile = &models.Profile{ID: uuid.New(), UserID: uuid.New()}

	_, err := h.service.Recover(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecoverFallsBackToEmailLookup(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	email := "member@example.com"
	h.profiles.profile = &models.Profile{
		ID:               uuid.New(),
		UserID:           userID,
		IdentityVerified: true,
		Email:            &email,
	}
	h.intents.pending = pendingIntent(userID)

	customerID := "cust-email"
	h.square.customer = &sq.Customer{ID: &customerID}
	subID := "sub-5"
	status := sq.SubscriptionStatusActive
	h.square.searched = []*sq.Subscription{{ID: &subID, Status: &status}}

	result, err := h.service.Recover(context.Background(), userID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(h.square.customerLookups) != 1 || h.square.customerLookups[0].Email != email {
		t.Fatal("expected customer lookup by email")
	}
	if len(h.orchestrator.inputs) != 1 {
		t.Fatal("expected orchestrator invocation")
	}
	input := h.orchestrator.inputs[0]
	if input.SquareCustomerID == nil || *input.SquareCustomerID != customerID {
		t.Fatal("expected resolved customer forwarded to activation")
	}
}

func TestRecoverActivatesPendingIntentFromLiveSubscription(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.profiles.profile = verifiedProfile(userID)
	h.intents.pending = pendingIntent(userID)

	subID := "sub-1"
	status := sq.SubscriptionStatusActive
	h.square.searched = []*sq.Subscription{{ID: &subID, Status: &status}}

	result, err := h.service.Recover(context.Background(), userID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(h.orchestrator.inputs) != 1 {
		t.Fatal("expected orchestrator invocation")
	}
	input := h.orchestrator.inputs[0]
	if input.SquareSubscriptionID == nil || *input.SquareSubscriptionID != subID {
		t.Fatal("expected live subscription forwarded to activation")
	}
}

func TestRecoverWithoutIntentConvergesDirectly(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.profiles.profile = verifiedProfile(userID)

	subID := "sub-2"
	start := "2026-01-01"
	status := sq.SubscriptionStatusActive
	h.square.searched = []*sq.Subscription{{ID: &subID, Status: &status, StartDate: &start}}

	result, err := h.service.Recover(context.Background(), userID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(h.memberships.upserts) != 1 {
		t.Fatal("expected direct membership upsert")
	}
	if h.profiles.states != 1 {
		t.Fatal("expected profile mirror")
	}
	if len(h.orchestrator.inputs) != 0 {
		t.Fatal("no intent means no orchestrator run")
	}
}

func TestRecoverNoLiveSubscription(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.profiles.profile = verifiedProfile(userID)
	status := sq.SubscriptionStatusCanceled
	subID := "sub-3"
	h.square.searched = []*sq.Subscription{{ID: &subID, Status: &status}}

	result, err := h.service.Recover(context.Background(), userID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Success {
		t.Fatal("cancelled subscription must not recover")
	}
}

func TestSweepRecoversStuckIntent(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	intent := pendingIntent(userID)
	h.intents.stuck = []models.MembershipIntent{*intent}
	h.profiles.profile = verifiedProfile(userID)
	h.square.payment = completedPayment()

	if err := h.service.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(h.orchestrator.inputs) != 1 {
		t.Fatal("expected sweep to activate the stuck intent")
	}
	if h.orchestrator.inputs[0].Actor != sweepActor {
		t.Fatalf("unexpected actor %q", h.orchestrator.inputs[0].Actor)
	}
}

func TestSweepCorrectsMembershipDrift(t *testing.T) {
	h := newHarness(t)
	subID := "sub-4"
	h.memberships.listed = []models.Membership{{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: &subID,
	}}
	status := sq.SubscriptionStatusCanceled
	h.square.subscription = &sq.Subscription{ID: &subID, Status: &status}

	if err := h.service.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(h.memberships.upserts) != 1 {
		t.Fatal("expected drifted membership upsert")
	}
	if h.memberships.upserts[0].Status != enums.MembershipStatusCancelled {
		t.Fatalf("expected cancelled state, got %s", h.memberships.upserts[0].Status)
	}
}
