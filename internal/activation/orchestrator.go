package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/internal/audit"
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

// Input identifies the intent to activate and carries the processor
// references the webhook or reconciliation path learned along the way.
type Input struct {
	UserID               uuid.UUID
	IntentID             uuid.UUID
	VerificationID       *string
	ProfileOverride      *profiles.Snapshot
	SquareSubscriptionID *string
	SquareCustomerID     *string
	Actor                string
}

// Outcome is the structured result of one activation attempt. Invalid
// transitions are reported here rather than as errors so polling callers can
// tell "not ready" from "broken".
type Outcome struct {
	Success       bool                     `json:"success"`
	AlreadyActive bool                     `json:"already_active,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Intent        *models.MembershipIntent `json:"-"`
	Membership    *models.Membership       `json:"-"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, params notifications.NotifyParams) (bool, error)
}

type auditSink interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Orchestrator is the single idempotent activation procedure both the
// webhook path and the reconciliation path converge on.
type Orchestrator interface {
	Activate(ctx context.Context, input Input) (*Outcome, error)
}

type orchestrator struct {
	db          txRunner
	intents     intents.Repository
	profiles    profiles.Repository
	memberships memberships.Repository
	outbox      outboxEmitter
	notifier    notifier
	audit       auditSink
	adminEmail  string
	logg        *logger.Logger
}

type OrchestratorParams struct {
	DB          txRunner
	Intents     intents.Repository
	Profiles    profiles.Repository
	Memberships memberships.Repository
	Outbox      outboxEmitter
	Notifier    notifier
	Audit       auditSink
	AdminEmail  string
	Logger      *logger.Logger
}

// NewOrchestrator wires the activation dependencies.
func NewOrchestrator(params OrchestratorParams) (Orchestrator, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intents repository required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repository required")
	}
	if params.Memberships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "memberships repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &orchestrator{
		db:          params.DB,
		intents:     params.Intents,
		profiles:    params.Profiles,
		memberships: params.Memberships,
		outbox:      params.Outbox,
		notifier:    params.Notifier,
		audit:       params.Audit,
		adminEmail:  params.AdminEmail,
		logg:        params.Logger,
	}, nil
}

// Activate runs the activation procedure. Every attempt is audited,
// including replays and rejected transitions.
func (o *orchestrator) Activate(ctx context.Context, input Input) (*Outcome, error) {
	if input.UserID == uuid.Nil || input.IntentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and intent id required")
	}

	logCtx := o.logg.WithIntentID(o.logg.WithUserID(ctx, input.UserID.String()), input.IntentID.String())

	intent, err := o.intents.FindByID(logCtx, input.IntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership intent not found")
	}
	if intent.UserID != input.UserID {
		o.recordAttempt(logCtx, input, "forbidden", nil)
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "intent belongs to another user")
	}

	if intent.Status == enums.IntentStatusActive {
		o.recordAttempt(logCtx, input, "already_active", nil)
		return &Outcome{Success: true, AlreadyActive: true, Intent: intent}, nil
	}
	if intent.Status != enums.IntentStatusPaidPendingVerify {
		reason := fmt.Sprintf("intent status is %s, expected %s", intent.Status, enums.IntentStatusPaidPendingVerify)
		o.recordAttempt(logCtx, input, "invalid_state", map[string]any{"status": intent.Status.String()})
		return &Outcome{Success: false, Reason: reason, Intent: intent}, nil
	}

	now := time.Now().UTC()

	// Single-writer gate: the status check and the transition are one
	// conditional UPDATE, so concurrent callers cannot both pass.
	won, err := o.intents.TransitionToActive(logCtx, intent.ID, input.VerificationID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transition intent")
	}
	if !won {
		return o.resolveLostRace(logCtx, input)
	}

	o.logg.Info(logCtx, "intent transitioned to active")

	// Persist the purchase-form snapshot. This is the one failure point
	// with a compensating write: the intent goes back to
	// paid_pending_verification so the whole run can be retried.
	snapshot := o.snapshotFor(intent, input)
	if err := o.profiles.ApplySnapshot(logCtx, intent.UserID, snapshot); err != nil {
		o.logg.Error(logCtx, "profile snapshot failed, reverting intent", err)
		if revertErr := o.intents.RevertToPending(logCtx, intent.ID); revertErr != nil {
			o.logg.Error(logCtx, "compensating revert failed", revertErr)
		}
		o.recordAttempt(logCtx, input, "snapshot_failed", nil)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist profile snapshot")
	}

	// The membership upsert and the activated event commit together. If
	// this transaction fails the intent stays active on purpose; a retry
	// event hands the gap to the activation worker instead of unwinding
	// the single-writer transition.
	var membership *models.Membership
	err = o.db.WithTx(logCtx, func(tx *gorm.DB) error {
		var upsertErr error
		membership, upsertErr = o.memberships.WithTx(tx).Upsert(logCtx, memberships.UpsertParams{
			UserID:                  intent.UserID,
			MembershipType:          intent.MembershipType,
			BillingCycle:            intent.BillingCycle,
			Status:                  enums.MembershipStatusActive,
			SquareSubscriptionID:    input.SquareSubscriptionID,
			SquareCustomerID:        input.SquareCustomerID,
			StartDate:               now,
			PreserveLifecycleStatus: true,
		})
		if upsertErr != nil {
			return upsertErr
		}
		return o.outbox.EmitIfNotExists(logCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventMembershipActivated,
			AggregateType: enums.AggregateMembershipIntent,
			AggregateID:   intent.ID,
			Data: payloads.MembershipActivatedEvent{
				IntentID:             intent.ID,
				UserID:               intent.UserID,
				MembershipType:       intent.MembershipType,
				BillingCycle:         intent.BillingCycle,
				SquareSubscriptionID: input.SquareSubscriptionID,
				ActivatedAt:          now,
			},
			Version: 1,
		})
	})
	if err != nil {
		o.logg.Error(logCtx, "membership upsert failed, scheduling retry", err)
		o.emitRetry(logCtx, intent, input, now, err)
		o.recordAttempt(logCtx, input, "membership_upsert_failed", nil)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert membership")
	}

	// Record the verification outcome and mirror membership state onto the
	// profile. Activation is the only path besides the verification flow
	// that may flip identity_verified; lifecycle syncs never touch it. The
	// membership row is authoritative; a failed mirror is left to the
	// reconcile sweep.
	if err := o.profiles.MarkIdentityVerified(logCtx, intent.UserID, now); err != nil {
		o.logg.Error(logCtx, "profile verification flag update failed", err)
	}
	if err := o.profiles.SetMembershipState(logCtx, intent.UserID, profiles.MembershipState{
		Status:               enums.MembershipStatusActive,
		MembershipType:       intent.MembershipType,
		Since:                now,
		SquareCustomerID:     input.SquareCustomerID,
		SquareSubscriptionID: input.SquareSubscriptionID,
	}); err != nil {
		o.logg.Error(logCtx, "profile membership mirror failed", err)
	}

	o.sendNotifications(logCtx, intent)
	o.recordAttempt(logCtx, input, "activated", map[string]any{
		"membership_type": intent.MembershipType.String(),
		"billing_cycle":   intent.BillingCycle.String(),
	})
	o.logg.Info(logCtx, "membership activated")

	activated, err := o.intents.FindByID(logCtx, intent.ID)
	if err != nil || activated == nil {
		activated = intent
	}
	return &Outcome{Success: true, Intent: activated, Membership: membership}, nil
}

// resolveLostRace reloads the intent after the conditional update matched no
// rows. A concurrent caller either finished the activation or moved the
// intent elsewhere.
func (o *orchestrator) resolveLostRace(ctx context.Context, input Input) (*Outcome, error) {
	current, err := o.intents.FindByID(ctx, input.IntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload intent")
	}
	if current != nil && current.Status == enums.IntentStatusActive {
		o.recordAttempt(ctx, input, "already_active", nil)
		return &Outcome{Success: true, AlreadyActive: true, Intent: current}, nil
	}

	reason := "intent no longer eligible for activation"
	if current != nil {
		reason = fmt.Sprintf("intent status is %s, expected %s", current.Status, enums.IntentStatusPaidPendingVerify)
	}
	o.recordAttempt(ctx, input, "invalid_state", nil)
	return &Outcome{Success: false, Reason: reason, Intent: current}, nil
}

func (o *orchestrator) snapshotFor(intent *models.MembershipIntent, input Input) profiles.Snapshot {
	if input.ProfileOverride != nil {
		return *input.ProfileOverride
	}
	return profiles.Snapshot{
		FullName:           intent.FullName,
		Email:              intent.Email,
		Phone:              intent.Phone,
		DocumentNumber:     intent.DocumentNumber,
		ShippingLine1:      intent.ShippingLine1,
		ShippingLine2:      intent.ShippingLine2,
		ShippingCity:       intent.ShippingCity,
		ShippingState:      intent.ShippingState,
		ShippingPostalCode: intent.ShippingPostalCode,
		ShippingCountry:    intent.ShippingCountry,
	}
}

func (o *orchestrator) emitRetry(ctx context.Context, intent *models.MembershipIntent, input Input, startDate time.Time, cause error) {
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		return o.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMembershipActivationRetry,
			AggregateType: enums.AggregateMembershipIntent,
			AggregateID:   intent.ID,
			Data: payloads.MembershipActivationRetryEvent{
				IntentID:             intent.ID,
				UserID:               intent.UserID,
				MembershipType:       intent.MembershipType,
				BillingCycle:         intent.BillingCycle,
				SquareSubscriptionID: input.SquareSubscriptionID,
				SquareCustomerID:     input.SquareCustomerID,
				StartDate:            startDate,
				Reason:               cause.Error(),
			},
			Version: 1,
		})
	})
	if err != nil {
		o.logg.Error(ctx, "failed to queue activation retry event", err)
	}
}

// sendNotifications fans out the member and admin notifications. Delivery is
// best-effort and never fails the activation.
func (o *orchestrator) sendNotifications(ctx context.Context, intent *models.MembershipIntent) {
	if o.notifier == nil {
		return
	}

	memberKey := "membership_activated:" + intent.ID.String()
	var emailTo []string
	if intent.Email != nil && *intent.Email != "" {
		emailTo = []string{*intent.Email}
	}
	if _, err := o.notifier.Notify(ctx, notifications.NotifyParams{
		UserID:    intent.UserID,
		Type:      enums.NotificationTypeMembershipActivated,
		Title:     "Your membership is active",
		Message:   fmt.Sprintf("Your %s membership is now active. Welcome!", intent.MembershipType),
		DedupeKey: &memberKey,
		EmailTo:   emailTo,
	}); err != nil {
		o.logg.Error(ctx, "member activation notification failed", err)
	}

	adminKey := "membership_activated_admin:" + intent.ID.String()
	if _, err := o.notifier.Notify(ctx, notifications.NotifyParams{
		UserID:    intent.UserID,
		Type:      enums.NotificationTypeSystemAnnouncement,
		Title:     "New membership activated",
		Message:   fmt.Sprintf("User %s activated a %s membership (%s billing).", intent.UserID, intent.MembershipType, intent.BillingCycle),
		DedupeKey: &adminKey,
		NotifyOps: true,
	}); err != nil {
		o.logg.Error(ctx, "admin activation notification failed", err)
	}
}

func (o *orchestrator) recordAttempt(ctx context.Context, input Input, outcome string, detail map[string]any) {
	actor := input.Actor
	if actor == "" {
		actor = "user:" + input.UserID.String()
	}
	o.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Action:     "membership.activate",
		EntityType: "membership_intent",
		EntityID:   input.IntentID.String(),
		Outcome:    outcome,
		Detail:     detail,
	})
}
