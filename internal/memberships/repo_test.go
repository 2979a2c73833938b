package memberships

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

func setupMembershipsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS memberships (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  membership_type TEXT NOT NULL,
  billing_cycle TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  square_subscription_id TEXT UNIQUE,
  square_customer_id TEXT,
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func subPtr(v string) *string { return &v }

func TestUpsertKeyedByUser(t *testing.T) {
	db := setupMembershipsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	start := time.Now().UTC()

	first, err := repo.Upsert(ctx, UpsertParams{
		UserID:               userID,
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: subPtr("sub-1"),
		StartDate:            start,
	})
	require.NoError(t, err)
	require.NotNil(t, first)

	// Replaying the same upsert must converge on the same row.
	second, err := repo.Upsert(ctx, UpsertParams{
		UserID:               userID,
		MembershipType:       enums.MembershipTypePremium,
		BillingCycle:         enums.BillingCycleAnnual,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: subPtr("sub-1"),
		StartDate:            start,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, enums.MembershipTypePremium, second.MembershipType)

	var count int64
	require.NoError(t, db.Table("memberships").Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertPreservesLifecycleStatus(t *testing.T) {
	db := setupMembershipsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	start := time.Now().UTC()

	_, err := repo.Upsert(ctx, UpsertParams{
		UserID:               userID,
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusPaused,
		SquareSubscriptionID: subPtr("sub-7"),
		StartDate:            start,
	})
	require.NoError(t, err)

	// A lagging activation write must not undo the pause.
	preserved, err := repo.Upsert(ctx, UpsertParams{
		UserID:                  userID,
		MembershipType:          enums.MembershipTypeStandard,
		BillingCycle:            enums.BillingCycleMonthly,
		Status:                  enums.MembershipStatusActive,
		SquareSubscriptionID:    subPtr("sub-7"),
		StartDate:               start,
		PreserveLifecycleStatus: true,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.MembershipStatusPaused, preserved.Status)

	// The lifecycle sync itself still resumes the membership.
	resumed, err := repo.Upsert(ctx, UpsertParams{
		UserID:               userID,
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: subPtr("sub-7"),
		StartDate:            start,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.MembershipStatusActive, resumed.Status)
}

func TestMarkCancelled(t *testing.T) {
	db := setupMembershipsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, UpsertParams{
		UserID:               uuid.New(),
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: subPtr("sub-2"),
		StartDate:            time.Now().UTC(),
	})
	require.NoError(t, err)

	changed, err := repo.MarkCancelled(ctx, "sub-2", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, changed)

	// Second cancel is a no-op.
	changedAgain, err := repo.MarkCancelled(ctx, "sub-2", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changedAgain)

	stored, err := repo.FindBySubscriptionID(ctx, "sub-2")
	require.NoError(t, err)
	assert.Equal(t, enums.MembershipStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
}

func TestExtendPeriodOnlyActive(t *testing.T) {
	db := setupMembershipsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, UpsertParams{
		UserID:               uuid.New(),
		MembershipType:       enums.MembershipTypeStandard,
		BillingCycle:         enums.BillingCycleMonthly,
		Status:               enums.MembershipStatusActive,
		SquareSubscriptionID: subPtr("sub-3"),
		StartDate:            time.Now().UTC(),
	})
	require.NoError(t, err)

	newEnd := time.Now().Add(30 * 24 * time.Hour).UTC()
	extended, err := repo.ExtendPeriod(ctx, "sub-3", newEnd)
	require.NoError(t, err)
	assert.True(t, extended)

	_, err = repo.MarkCancelled(ctx, "sub-3", time.Now().UTC())
	require.NoError(t, err)

	extendedAfterCancel, err := repo.ExtendPeriod(ctx, "sub-3", newEnd)
	require.NoError(t, err)
	assert.False(t, extendedAfterCancel)
}

func TestStatusFromSquare(t *testing.T) {
	assert.Equal(t, enums.MembershipStatusActive, StatusFromSquare("ACTIVE"))
	assert.Equal(t, enums.MembershipStatusPaused, StatusFromSquare("paused"))
	assert.Equal(t, enums.MembershipStatusCancelled, StatusFromSquare("CANCELED"))
	assert.Equal(t, enums.MembershipStatusCancelled, StatusFromSquare("DEACTIVATED"))
	assert.Equal(t, enums.MembershipStatusActive, StatusFromSquare("SOMETHING_NEW"))
}

func TestParseSquareDate(t *testing.T) {
	parsed, ok := ParseSquareDate("2026-03-01")
	require.True(t, ok)
	assert.Equal(t, 2026, parsed.Year())

	_, ok = ParseSquareDate("")
	assert.False(t, ok)

	_, ok = ParseSquareDate("03/01/2026")
	assert.False(t, ok)
}
