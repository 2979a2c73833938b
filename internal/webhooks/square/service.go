package squarewebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/fraud"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/notifications"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

const webhookActor = "webhook:square"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type subscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
}

type notifier interface {
	Notify(ctx context.Context, params notifications.NotifyParams) (bool, error)
}

type ServiceParams struct {
	DB           txRunner
	Intents      intents.Repository
	Memberships  memberships.Repository
	Profiles     profiles.Repository
	Fraud        fraud.Service
	Orchestrator activation.Orchestrator
	Outbox       outboxEmitter
	Notifier     notifier
	Square       subscriptionFetcher
	Logger       *logger.Logger
}

// Service applies Square events to local state. Every handler is written to
// converge on the same final state when the event is redelivered.
type Service struct {
	db           txRunner
	intents      intents.Repository
	memberships  memberships.Repository
	profiles     profiles.Repository
	fraud        fraud.Service
	orchestrator activation.Orchestrator
	outbox       outboxEmitter
	notifier     notifier
	square       subscriptionFetcher
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intents repository required")
	}
	if params.Memberships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "memberships repository required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repository required")
	}
	if params.Fraud == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fraud service required")
	}
	if params.Orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation orchestrator required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.Square == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		db:           params.DB,
		intents:      params.Intents,
		memberships:  params.Memberships,
		profiles:     params.Profiles,
		fraud:        params.Fraud,
		orchestrator: params.Orchestrator,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		square:       params.Square,
		logg:         params.Logger,
	}, nil
}

// HandleEvent dispatches one verified Square event. Unknown types are
// acknowledged without side effects so new processor events never cause
// redelivery storms.
func (s *Service) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"square_event_id":   event.EventID,
		"square_event_type": event.Type,
	})

	switch strings.ToLower(event.Type) {
	case EventCheckoutCompleted:
		if event.Data.Object.Checkout == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "checkout payload missing")
		}
		return s.handleCheckoutCompleted(logCtx, event.Data.Object.Checkout)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if event.Data.Object.Subscription == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription payload missing")
		}
		return s.syncSubscription(logCtx, event.Data.Object.Subscription, strings.ToLower(event.Type) == EventSubscriptionCreated)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(logCtx, event)
	case EventInvoicePaid:
		if event.Data.Object.Invoice == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice payload missing")
		}
		return s.handleInvoicePaid(logCtx, event.Data.Object.Invoice)
	case EventInvoicePaymentFailed:
		if event.Data.Object.Invoice == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice payload missing")
		}
		return s.handleInvoicePaymentFailed(logCtx, event.Data.Object.Invoice)
	case EventPaymentSucceeded:
		if event.Data.Object.Payment == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
		}
		return s.handlePaymentSucceeded(logCtx, event.Data.Object.Payment)
	default:
		s.logg.Info(logCtx, "ignoring unhandled square event type")
		return nil
	}
}

// handleCheckoutCompleted is the advisory activation path. When the checkout
// references an intent the orchestrator runs; lifecycle events remain the
// authoritative source for the membership window.
func (s *Service) handleCheckoutCompleted(ctx context.Context, checkout *CheckoutPayload) error {
	intentID, hasIntent := parseIntentRef(checkout.ReferenceID)
	if !hasIntent {
		return s.bootstrapFromCheckout(ctx, checkout)
	}

	intent, err := s.intents.FindByID(ctx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent == nil {
		s.logg.Warn(s.logg.WithIntentID(ctx, intentID.String()), "checkout references unknown intent")
		return s.bootstrapFromCheckout(ctx, checkout)
	}

	logCtx := s.logg.WithIntentID(ctx, intentID.String())

	if checkout.PaymentID != "" && intent.Status == enums.IntentStatusCreated {
		if _, err := s.intents.MarkPaid(logCtx, intent.ID, checkout.PaymentID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent paid")
		}
	}

	input := activation.Input{
		UserID:   intent.UserID,
		IntentID: intent.ID,
		Actor:    webhookActor,
	}
	if checkout.SubscriptionID != "" {
		input.SquareSubscriptionID = &checkout.SubscriptionID
	}
	if checkout.CustomerID != "" {
		input.SquareCustomerID = &checkout.CustomerID
	}

	outcome, err := s.orchestrator.Activate(logCtx, input)
	if err != nil {
		return err
	}
	if !outcome.Success {
		// Not ready yet (for example still awaiting the payment
		// signal). The event is acknowledged; the lifecycle events or
		// the reconcile sweep finish the job.
		s.logg.Info(s.logg.WithField(logCtx, "reason", outcome.Reason), "checkout did not activate intent")
	}
	return nil
}

// bootstrapFromCheckout links processor references for checkouts with no
// local intent, such as purchases started outside this system.
func (s *Service) bootstrapFromCheckout(ctx context.Context, checkout *CheckoutPayload) error {
	if checkout.CustomerID == "" {
		s.logg.Warn(ctx, "checkout has no customer reference, nothing to link")
		return nil
	}
	profile, err := s.profiles.FindBySquareCustomerID(ctx, checkout.CustomerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve profile by customer")
	}
	if profile == nil {
		s.logg.Warn(ctx, "checkout customer unknown, dropping event")
		return nil
	}

	var subscriptionID *string
	if checkout.SubscriptionID != "" {
		subscriptionID = &checkout.SubscriptionID
	}
	if err := s.profiles.SetSquareRefs(ctx, profile.UserID, &checkout.CustomerID, subscriptionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store square refs")
	}
	return nil
}

// syncSubscription applies the authoritative subscription state. Replays
// converge because the membership row is upserted by user id.
func (s *Service) syncSubscription(ctx context.Context, sub *sq.Subscription, created bool) error {
	subscriptionID := derefStr(sub.GetID())
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	logCtx := s.logg.WithField(ctx, "square_subscription_id", subscriptionID)

	userID, existing, err := s.resolveSubscriptionUser(logCtx, subscriptionID, derefStr(sub.GetCustomerID()))
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		s.logg.Warn(logCtx, "subscription event for unknown user, dropping")
		return nil
	}

	membershipType := enums.MembershipTypeStandard
	billingCycle := enums.BillingCycleMonthly
	if existing != nil {
		membershipType = existing.MembershipType
		billingCycle = existing.BillingCycle
	} else if pending, err := s.intents.FindLatestPendingByUser(logCtx, userID); err == nil && pending != nil {
		membershipType = pending.MembershipType
		billingCycle = pending.BillingCycle
	}

	now := time.Now().UTC()
	params := memberships.UpsertFromSquareSubscription(userID, membershipType, billingCycle, sub, now)

	var membership = existing
	err = s.db.WithTx(logCtx, func(tx *gorm.DB) error {
		var upsertErr error
		membership, upsertErr = s.memberships.WithTx(tx).Upsert(logCtx, params)
		if upsertErr != nil {
			return upsertErr
		}
		if params.Status == enums.MembershipStatusPaused {
			return s.outbox.EmitIfNotExists(logCtx, tx, outbox.DomainEvent{
				EventType:     enums.EventMembershipPaused,
				AggregateType: enums.AggregateMembership,
				AggregateID:   membership.ID,
				Data: payloads.MembershipLifecycleEvent{
					UserID:               userID,
					Status:               enums.MembershipStatusPaused,
					SquareSubscriptionID: params.SquareSubscriptionID,
					OccurredAt:           now,
				},
				Version: 1,
			})
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert membership from subscription")
	}

	if err := s.profiles.SetMembershipState(logCtx, userID, profiles.MembershipState{
		Status:               params.Status,
		MembershipType:       params.MembershipType,
		Since:                params.StartDate,
		SquareCustomerID:     params.SquareCustomerID,
		SquareSubscriptionID: params.SquareSubscriptionID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror membership onto profile")
	}

	if created {
		s.notifyOnce(logCtx, notifications.NotifyParams{
			UserID:    userID,
			Type:      enums.NotificationTypeSubscriptionCreated,
			Title:     "New subscription created",
			Message:   fmt.Sprintf("Subscription %s created for user %s.", subscriptionID, userID),
			DedupeKey: strPtr("subscription_created:" + subscriptionID),
			NotifyOps: true,
		})
	}
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *WebhookEvent) error {
	subscriptionID := ""
	if event.Data.Object.Subscription != nil {
		subscriptionID = derefStr(event.Data.Object.Subscription.GetID())
	}
	if subscriptionID == "" {
		subscriptionID = event.Data.ID
	}
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	logCtx := s.logg.WithField(ctx, "square_subscription_id", subscriptionID)
	now := time.Now().UTC()

	membership, err := s.memberships.FindBySubscriptionID(logCtx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load membership")
	}
	if membership == nil {
		s.logg.Warn(logCtx, "cancellation for unknown subscription, dropping")
		return nil
	}

	err = s.db.WithTx(logCtx, func(tx *gorm.DB) error {
		cancelled, markErr := s.memberships.WithTx(tx).MarkCancelled(logCtx, subscriptionID, now)
		if markErr != nil {
			return markErr
		}
		if !cancelled {
			return nil
		}
		return s.outbox.EmitIfNotExists(logCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventMembershipCancelled,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membership.ID,
			Data: payloads.MembershipLifecycleEvent{
				UserID:               membership.UserID,
				Status:               enums.MembershipStatusCancelled,
				SquareSubscriptionID: &subscriptionID,
				OccurredAt:           now,
			},
			Version: 1,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel membership")
	}

	if err := s.profiles.ClearSubscriptionRef(logCtx, subscriptionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear profile subscription ref")
	}

	s.logg.Info(logCtx, "membership cancelled from subscription event")
	return nil
}

// handleInvoicePaid extends the membership window from the renewed
// subscription's charged-through date. Activation side effects never rerun.
func (s *Service) handleInvoicePaid(ctx context.Context, invoice *InvoicePayload) error {
	if invoice.SubscriptionID == "" {
		s.logg.Warn(ctx, "paid invoice without subscription, dropping")
		return nil
	}

	logCtx := s.logg.WithField(ctx, "square_subscription_id", invoice.SubscriptionID)

	sub, err := s.square.GetSubscription(logCtx, invoice.SubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription for renewal")
	}

	charged := derefStr(sub.GetChargedThroughDate())
	endDate, ok := memberships.ParseSquareDate(charged)
	if !ok {
		s.logg.Warn(logCtx, "renewed subscription has no charged-through date")
		return nil
	}

	extended, err := s.memberships.ExtendPeriod(logCtx, invoice.SubscriptionID, endDate)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend membership period")
	}
	if !extended {
		s.logg.Warn(logCtx, "renewal for a membership that is not active")
	}
	return nil
}

// handleInvoicePaymentFailed alerts but deliberately does not deactivate;
// only an explicit cancellation event ends a membership.
func (s *Service) handleInvoicePaymentFailed(ctx context.Context, invoice *InvoicePayload) error {
	logCtx := s.logg.WithField(ctx, "square_invoice_id", invoice.ID)

	userID, _, err := s.resolveSubscriptionUser(logCtx, invoice.SubscriptionID, invoice.CustomerID)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		s.logg.Warn(logCtx, "failed invoice for unknown user, dropping")
		return nil
	}

	var emailTo []string
	if profile, err := s.profiles.FindByUser(logCtx, userID); err == nil && profile != nil && profile.Email != nil {
		emailTo = []string{*profile.Email}
	}

	s.notifyOnce(logCtx, notifications.NotifyParams{
		UserID:    userID,
		Type:      enums.NotificationTypePaymentFailed,
		Title:     "Membership payment failed",
		Message:   "Your latest membership payment did not go through. Please update your payment method.",
		DedupeKey: strPtr("invoice_payment_failed:" + invoice.ID),
		EmailTo:   emailTo,
		NotifyOps: true,
	})
	return nil
}

// handlePaymentSucceeded runs the fraud gate and advances the intent to
// paid_pending_verification on approval. Non-approvals alert and flag for
// review without undoing completed state.
func (s *Service) handlePaymentSucceeded(ctx context.Context, payment *PaymentPayload) error {
	if payment.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
	}

	logCtx := s.logg.WithField(ctx, "square_payment_id", payment.ID)

	intentID, hasIntent := parseIntentRef(payment.ReferenceID)
	var intent *intentRef
	userID := uuid.Nil
	if hasIntent {
		loaded, err := s.intents.FindByID(logCtx, intentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
		}
		if loaded != nil {
			userID = loaded.UserID
			intent = &intentRef{id: loaded.ID, status: loaded.Status}
		}
	}
	if userID == uuid.Nil && payment.CustomerID != "" {
		profile, err := s.profiles.FindBySquareCustomerID(logCtx, payment.CustomerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve profile by customer")
		}
		if profile != nil {
			userID = profile.UserID
		}
	}
	if userID == uuid.Nil {
		s.logg.Warn(logCtx, "payment for unknown user, dropping")
		return nil
	}

	signal := fraud.PaymentSignal{
		UserID:          userID,
		SquarePaymentID: payment.ID,
		AmountCents:     payment.AmountMoney.Amount,
		Currency:        payment.AmountMoney.Currency,
		RiskLevel:       riskLevelFromPayload(payment.RiskEvaluation),
		SCACompleted:    payment.BuyerVerificationToken != "",
	}
	if intent != nil {
		signal.IntentID = &intent.id
	}
	if payment.CardDetails != nil {
		signal.AVSStatus = payment.CardDetails.AvsStatus
		signal.CVVStatus = payment.CardDetails.CvvStatus
	}

	result, err := s.fraud.Evaluate(logCtx, signal)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "evaluate fraud gate")
	}

	if result.Action != enums.FraudActionApprove {
		return s.flagForReview(logCtx, signal, result)
	}

	if intent != nil && intent.status == enums.IntentStatusCreated {
		if _, err := s.intents.MarkPaid(logCtx, intent.id, payment.ID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark intent paid")
		}
		s.logg.Info(s.logg.WithIntentID(logCtx, intent.id.String()), "intent marked paid")
	}
	return nil
}

// flagForReview emits the review event and alerts ops. The triggering
// webhook still succeeds.
func (s *Service) flagForReview(ctx context.Context, signal fraud.PaymentSignal, result *fraud.Result) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		aggregateID := signal.UserID
		if signal.IntentID != nil {
			aggregateID = *signal.IntentID
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFraudReviewRequested,
			AggregateType: enums.AggregateMembershipIntent,
			AggregateID:   aggregateID,
			Data: payloads.FraudReviewRequestedEvent{
				IntentID:        signal.IntentID,
				UserID:          signal.UserID,
				SquarePaymentID: signal.SquarePaymentID,
				Score:           result.Score,
				Action:          result.Action,
			},
			Version: 1,
		})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to queue fraud review event", err)
	}

	s.notifyOnce(ctx, notifications.NotifyParams{
		UserID:    signal.UserID,
		Type:      enums.NotificationTypeFraudReview,
		Title:     "Payment flagged for review",
		Message:   fmt.Sprintf("Payment %s scored %d (%s) and needs review.", signal.SquarePaymentID, result.Score, result.Action),
		DedupeKey: strPtr("fraud_review:" + signal.SquarePaymentID),
		NotifyOps: true,
	})
	return nil
}

// resolveSubscriptionUser maps processor references back to a local user,
// preferring the membership row over the profile link.
func (s *Service) resolveSubscriptionUser(ctx context.Context, subscriptionID, customerID string) (uuid.UUID, *models.Membership, error) {
	if subscriptionID != "" {
		membership, err := s.memberships.FindBySubscriptionID(ctx, subscriptionID)
		if err != nil {
			return uuid.Nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve membership by subscription")
		}
		if membership != nil {
			return membership.UserID, membership, nil
		}
	}
	if customerID != "" {
		profile, err := s.profiles.FindBySquareCustomerID(ctx, customerID)
		if err != nil {
			return uuid.Nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve profile by customer")
		}
		if profile != nil {
			return profile.UserID, nil, nil
		}
	}
	return uuid.Nil, nil, nil
}

func (s *Service) notifyOnce(ctx context.Context, params notifications.NotifyParams) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, params); err != nil {
		s.logg.Error(ctx, "webhook notification failed", err)
	}
}

type intentRef struct {
	id     uuid.UUID
	status enums.IntentStatus
}

func parseIntentRef(reference string) (uuid.UUID, bool) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func riskLevelFromPayload(evaluation *RiskEvaluation) enums.RiskLevel {
	if evaluation == nil {
		return enums.RiskLevelNormal
	}
	level, err := enums.ParseRiskLevel(strings.ToLower(evaluation.RiskLevel))
	if err != nil {
		return enums.RiskLevelNormal
	}
	return level
}

func derefStr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func strPtr(value string) *string { return &value }
