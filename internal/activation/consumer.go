package activation

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/idempotency"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/registry"
)

const retryConsumerName = "activation-retry"

// RetryConsumer replays the membership upsert for intents that activated but
// whose membership row failed to persist. The intent is already active by the
// time a retry event exists, so the replay touches only membership and profile.
type RetryConsumer struct {
	memberships  memberships.Repository
	profiles     profiles.Repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// RetryConsumerParams configure the retry consumer.
type RetryConsumerParams struct {
	Memberships  memberships.Repository
	Profiles     profiles.Repository
	Subscription *pubsub.Subscriber
	Idempotency  *idempotency.Manager
	Logger       *logger.Logger
}

// NewRetryConsumer builds an activation retry consumer.
func NewRetryConsumer(params RetryConsumerParams) (*RetryConsumer, error) {
	if params.Memberships == nil {
		return nil, fmt.Errorf("memberships repository required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profiles repository required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &RetryConsumer{
		memberships:  params.Memberships,
		profiles:     params.Profiles,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		decoders:     registry.Decoders(),
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *RetryConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns true when the message should be redelivered.
func (c *RetryConsumer) process(ctx context.Context, msg *pubsub.Message) bool {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventMembershipActivationRetry) {
		return false
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return false
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return false
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, retryConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return false
	}

	decoded, err := c.decoders.Decode(enums.EventMembershipActivationRetry, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, retryConsumerName, eventID)
		return true
	}
	payload := *decoded.(*payloads.MembershipActivationRetryEvent)

	if err := c.replay(logCtx, payload); err != nil {
		c.logg.Error(logCtx, "activation retry failed", err)
		_ = c.idempotency.Delete(ctx, retryConsumerName, eventID)
		return true
	}

	c.logg.Info(c.logg.WithIntentID(logCtx, payload.IntentID.String()), "membership activation replayed")
	return false
}

func (c *RetryConsumer) replay(ctx context.Context, payload payloads.MembershipActivationRetryEvent) error {
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("retry payload missing user id")
	}
	if _, err := c.memberships.Upsert(ctx, memberships.UpsertParams{
		UserID:                  payload.UserID,
		MembershipType:          payload.MembershipType,
		BillingCycle:            payload.BillingCycle,
		Status:                  enums.MembershipStatusActive,
		SquareSubscriptionID:    payload.SquareSubscriptionID,
		SquareCustomerID:        payload.SquareCustomerID,
		StartDate:               payload.StartDate,
		PreserveLifecycleStatus: true,
	}); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	// The replay finishes the profile step the failed run never reached,
	// including the verification flag only activation may set.
	if err := c.profiles.MarkIdentityVerified(ctx, payload.UserID, payload.StartDate); err != nil {
		return fmt.Errorf("mark identity verified: %w", err)
	}
	if err := c.profiles.SetMembershipState(ctx, payload.UserID, profiles.MembershipState{
		Status:               enums.MembershipStatusActive,
		MembershipType:       payload.MembershipType,
		Since:                payload.StartDate,
		SquareCustomerID:     payload.SquareCustomerID,
		SquareSubscriptionID: payload.SquareSubscriptionID,
	}); err != nil {
		return fmt.Errorf("mirror membership onto profile: %w", err)
	}
	return nil
}
