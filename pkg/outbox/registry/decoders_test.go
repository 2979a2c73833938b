package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

func TestDecodersCoverAllEventTypes(t *testing.T) {
	reg := Decoders()
	for _, eventType := range []enums.OutboxEventType{
		enums.EventMembershipActivated,
		enums.EventMembershipActivationRetry,
		enums.EventMembershipPaused,
		enums.EventMembershipCancelled,
		enums.EventIntentFailed,
		enums.EventFraudReviewRequested,
		enums.EventNotificationRequested,
		enums.EventAuditRecorded,
	} {
		if _, err := reg.Decode(eventType, Version, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
	}
}

func TestDecodersReturnTypedPayload(t *testing.T) {
	reg := Decoders()
	userID := uuid.New()
	raw, err := json.Marshal(payloads.NotificationRequestedEvent{
		UserID:  userID,
		Type:    enums.NotificationTypeMembershipActivated,
		Title:   "Welcome",
		Message: "Your membership is active",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := reg.Decode(enums.EventNotificationRequested, Version, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	event, ok := decoded.(*payloads.NotificationRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", decoded)
	}
	if event.UserID != userID || event.Title != "Welcome" {
		t.Fatalf("payload fields lost: %+v", event)
	}
}

func TestDecodersRejectUnknownVersion(t *testing.T) {
	reg := Decoders()
	if _, err := reg.Decode(enums.EventMembershipActivated, Version+1, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unregistered version")
	}
}
