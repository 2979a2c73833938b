package intents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

func setupIntentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS membership_intents (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  membership_type TEXT NOT NULL,
  billing_cycle TEXT NOT NULL,
  square_payment_id TEXT,
  square_verification_id TEXT,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  full_name TEXT,
  email TEXT,
  phone TEXT,
  document_number TEXT,
  shipping_line1 TEXT,
  shipping_line2 TEXT,
  shipping_city TEXT,
  shipping_state TEXT,
  shipping_postal_code TEXT,
  shipping_country TEXT,
  failure_reason TEXT,
  paid_at DATETIME,
  verified_at DATETIME,
  activated_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newTestIntent(userID uuid.UUID, status enums.IntentStatus) *models.MembershipIntent {
	return &models.MembershipIntent{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         status,
		MembershipType: enums.MembershipTypeStandard,
		BillingCycle:   enums.BillingCycleMonthly,
		AmountCents:    9900,
		Currency:       "USD",
	}
}

func TestRepositoryTransitionToActive(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	intent := newTestIntent(uuid.New(), enums.IntentStatusPaidPendingVerify)
	require.NoError(t, repo.Create(ctx, intent))

	verification := "verify-123"
	now := time.Now().UTC()

	moved, err := repo.TransitionToActive(ctx, intent.ID, &verification, now)
	require.NoError(t, err)
	assert.True(t, moved)

	// Second attempt must not pass the guard.
	movedAgain, err := repo.TransitionToActive(ctx, intent.ID, &verification, now)
	require.NoError(t, err)
	assert.False(t, movedAgain)

	stored, err := repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.IntentStatusActive, stored.Status)
	require.NotNil(t, stored.SquareVerificationID)
	assert.Equal(t, verification, *stored.SquareVerificationID)
	assert.NotNil(t, stored.ActivatedAt)
}

func TestRepositoryTransitionRejectsWrongStatus(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	intent := newTestIntent(uuid.New(), enums.IntentStatusCreated)
	require.NoError(t, repo.Create(ctx, intent))

	moved, err := repo.TransitionToActive(ctx, intent.ID, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, moved)

	stored, err := repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusCreated, stored.Status)
}

func TestRepositoryRevertToPending(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	intent := newTestIntent(uuid.New(), enums.IntentStatusPaidPendingVerify)
	require.NoError(t, repo.Create(ctx, intent))

	moved, err := repo.TransitionToActive(ctx, intent.ID, nil, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	require.NoError(t, repo.RevertToPending(ctx, intent.ID))

	stored, err := repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatusPaidPendingVerify, stored.Status)
	assert.Nil(t, stored.ActivatedAt)
}

func TestRepositoryMarkPaidIsIdempotent(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	intent := newTestIntent(uuid.New(), enums.IntentStatusCreated)
	require.NoError(t, repo.Create(ctx, intent))

	now := time.Now().UTC()
	paid, err := repo.MarkPaid(ctx, intent.ID, "pay-1", now)
	require.NoError(t, err)
	assert.True(t, paid)

	paidAgain, err := repo.MarkPaid(ctx, intent.ID, "pay-other", now)
	require.NoError(t, err)
	assert.False(t, paidAgain)

	stored, err := repo.FindByID(ctx, intent.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SquarePaymentID)
	assert.Equal(t, "pay-1", *stored.SquarePaymentID)
}

func TestRepositoryFindLatestPendingByUser(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	older := newTestIntent(userID, enums.IntentStatusFailed)
	older.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, older))

	pending := newTestIntent(userID, enums.IntentStatusPaidPendingVerify)
	require.NoError(t, repo.Create(ctx, pending))

	found, err := repo.FindLatestPendingByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, pending.ID, found.ID)

	none, err := repo.FindLatestPendingByUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepositoryListStuckPending(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stale := newTestIntent(uuid.New(), enums.IntentStatusPaidPendingVerify)
	staleTime := time.Now().Add(-3 * time.Hour).UTC()
	stale.PaidAt = &staleTime
	require.NoError(t, repo.Create(ctx, stale))

	fresh := newTestIntent(uuid.New(), enums.IntentStatusPaidPendingVerify)
	freshTime := time.Now().UTC()
	fresh.PaidAt = &freshTime
	require.NoError(t, repo.Create(ctx, fresh))

	rows, err := repo.ListStuckPending(ctx, time.Now().Add(-time.Hour).UTC(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].ID)
}

func TestRepositoryCancelOnlyOpenIntents(t *testing.T) {
	db := setupIntentsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	open := newTestIntent(uuid.New(), enums.IntentStatusCreated)
	require.NoError(t, repo.Create(ctx, open))

	done := newTestIntent(uuid.New(), enums.IntentStatusActive)
	require.NoError(t, repo.Create(ctx, done))

	cancelled, err := repo.Cancel(ctx, open.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	notCancelled, err := repo.Cancel(ctx, done.ID)
	require.NoError(t, err)
	assert.False(t, notCancelled)
}
