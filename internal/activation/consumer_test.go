package activation

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/idempotency"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/registry"
)

type fakeIdempotencyStore struct {
	keys map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = "1"
	_ = value
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "mc:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func newRetryConsumerForTest(t *testing.T) (*RetryConsumer, *fakeMembershipRepo, *fakeProfileRepo) {
	t.Helper()
	membershipRepo := &fakeMembershipRepo{}
	profileRepo := &fakeProfileRepo{}
	manager, err := idempotency.NewManager(newFakeIdempotencyStore(), time.Hour)
	if err != nil {
		t.Fatalf("idempotency manager: %v", err)
	}
	return &RetryConsumer{
		memberships: membershipRepo,
		profiles:    profileRepo,
		idempotency: manager,
		decoders:    registry.Decoders(),
		logg:        logger.New(logger.Options{ServiceName: "test-activation-retry", Level: logger.ParseLevel("debug"), Output: io.Discard}),
	}, membershipRepo, profileRepo
}

func retryMessage(t *testing.T, eventID uuid.UUID, payload payloads.MembershipActivationRetryEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version: 1,
		EventID: eventID.String(),
		Data:    data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         "msg-1",
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(enums.EventMembershipActivationRetry)},
	}
}

func TestRetryConsumerReplaysMembershipUpsert(t *testing.T) {
	consumer, membershipRepo, profileRepo := newRetryConsumerForTest(t)
	subID := "sub-9"
	payload := payloads.MembershipActivationRetryEvent{
		IntentID:             uuid.New(),
		UserID:               uuid.New(),
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		SquareSubscriptionID: &subID,
		StartDate:            time.Now().UTC(),
		Reason:               "membership upsert failed",
	}

	if nack := consumer.process(context.Background(), retryMessage(t, uuid.New(), payload)); nack {
		t.Fatal("expected ack")
	}
	if len(membershipRepo.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(membershipRepo.upserts))
	}
	upsert := membershipRepo.upserts[0]
	if upsert.Status != enums.MembershipStatusActive {
		t.Fatalf("expected active status, got %s", upsert.Status)
	}
	if upsert.SquareSubscriptionID == nil || *upsert.SquareSubscriptionID != subID {
		t.Fatal("expected subscription ref carried through")
	}
	if profileRepo.membershipSets != 1 {
		t.Fatal("expected profile mirror")
	}
	if profileRepo.verifiedMarks != 1 {
		t.Fatal("expected replay to record identity verification")
	}
}

func TestRetryConsumerDuplicateEventIsNoOp(t *testing.T) {
	consumer, membershipRepo, _ := newRetryConsumerForTest(t)
	eventID := uuid.New()
	payload := payloads.MembershipActivationRetryEvent{
		IntentID:       uuid.New(),
		UserID:         uuid.New(),
		MembershipType: enums.MembershipTypeStandard,
		BillingCycle:   enums.BillingCycleMonthly,
		StartDate:      time.Now().UTC(),
	}

	if nack := consumer.process(context.Background(), retryMessage(t, eventID, payload)); nack {
		t.Fatal("expected first delivery acked")
	}
	if nack := consumer.process(context.Background(), retryMessage(t, eventID, payload)); nack {
		t.Fatal("expected duplicate delivery acked")
	}
	if len(membershipRepo.upserts) != 1 {
		t.Fatalf("duplicate delivery must not replay, got %d upserts", len(membershipRepo.upserts))
	}
}

func TestRetryConsumerIgnoresOtherEventTypes(t *testing.T) {
	consumer, membershipRepo, _ := newRetryConsumerForTest(t)
	msg := &pubsub.Message{
		ID:         "msg-2",
		Data:       []byte(`{}`),
		Attributes: map[string]string{"event_type": string(enums.EventMembershipActivated)},
	}

	if nack := consumer.process(context.Background(), msg); nack {
		t.Fatal("unrelated events must be acked")
	}
	if len(membershipRepo.upserts) != 0 {
		t.Fatal("unrelated events must not replay")
	}
}

func TestRetryConsumerFailedReplayReleasesIdempotencyMark(t *testing.T) {
	consumer, membershipRepo, _ := newRetryConsumerForTest(t)
	membershipRepo.upsertErr = context.DeadlineExceeded
	eventID := uuid.New()
	payload := payloads.MembershipActivationRetryEvent{
		IntentID:       uuid.New(),
		UserID:         uuid.New(),
		MembershipType: enums.MembershipTypeStandard,
		BillingCycle:   enums.BillingCycleMonthly,
		StartDate:      time.Now().UTC(),
	}

	if nack := consumer.process(context.Background(), retryMessage(t, eventID, payload)); !nack {
		t.Fatal("failed replay must request redelivery")
	}

	membershipRepo.upsertErr = nil
	if nack := consumer.process(context.Background(), retryMessage(t, eventID, payload)); nack {
		t.Fatal("redelivery after release must succeed")
	}
	if len(membershipRepo.upserts) != 1 {
		t.Fatalf("expected successful replay on redelivery, got %d", len(membershipRepo.upserts))
	}
}
