package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

func TestDecodeAuditMessage(t *testing.T) {
	auditID := uuid.New()
	eventID := uuid.New()
	recorded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(payloads.AuditRecordedEvent{
		AuditID:    auditID,
		Actor:      "user:" + uuid.NewString(),
		Action:     "membership.activate",
		EntityType: "membership_intent",
		EntityID:   uuid.NewString(),
		Outcome:    "success",
		RecordedAt: recorded,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: recorded,
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	row, gotEventID, err := decodeAuditMessage(envelope)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotEventID != eventID {
		t.Fatalf("expected event id %s got %s", eventID, gotEventID)
	}
	if row.AuditID != auditID.String() {
		t.Fatalf("expected audit id %s got %s", auditID, row.AuditID)
	}
	if row.Action != "membership.activate" {
		t.Fatalf("unexpected action %s", row.Action)
	}
	if !row.RecordedAt.Equal(recorded) {
		t.Fatalf("unexpected recorded at %s", row.RecordedAt)
	}
}

func TestDecodeAuditMessageRejectsGarbage(t *testing.T) {
	if _, _, err := decodeAuditMessage([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}

	envelope, _ := json.Marshal(outbox.PayloadEnvelope{
		Version: 1,
		EventID: "not-a-uuid",
		Data:    json.RawMessage(`{}`),
	})
	if _, _, err := decodeAuditMessage(envelope); err == nil {
		t.Fatal("expected event id error")
	}
}
