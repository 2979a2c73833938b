package registry

import (
	"encoding/json"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

// Version is the envelope version producers emit today.
const Version = 1

// Decoders returns the registry covering every payload version consumers
// accept. Unknown event type or version combinations fail to decode.
func Decoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	register[payloads.MembershipActivatedEvent](reg, enums.EventMembershipActivated)
	register[payloads.MembershipActivationRetryEvent](reg, enums.EventMembershipActivationRetry)
	register[payloads.MembershipLifecycleEvent](reg, enums.EventMembershipPaused)
	register[payloads.MembershipLifecycleEvent](reg, enums.EventMembershipCancelled)
	register[payloads.IntentFailedEvent](reg, enums.EventIntentFailed)
	register[payloads.FraudReviewRequestedEvent](reg, enums.EventFraudReviewRequested)
	register[payloads.NotificationRequestedEvent](reg, enums.EventNotificationRequested)
	register[payloads.AuditRecordedEvent](reg, enums.EventAuditRecorded)
	return reg
}

func register[T any](reg *DecoderRegistry, eventType enums.OutboxEventType) {
	reg.Register(eventType, Version, func(payload json.RawMessage) (interface{}, error) {
		var out T
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}
