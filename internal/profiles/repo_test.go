package profiles

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

func setupProfilesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  full_name TEXT,
  email TEXT,
  phone TEXT,
  document_number TEXT,
  identity_verified INTEGER NOT NULL DEFAULT 0,
  identity_verified_at DATETIME,
  membership_status TEXT,
  membership_type TEXT,
  membership_since DATETIME,
  square_customer_id TEXT,
  square_subscription_id TEXT,
  shipping_line1 TEXT,
  shipping_line2 TEXT,
  shipping_city TEXT,
  shipping_state TEXT,
  shipping_postal_code TEXT,
  shipping_country TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func strPtr(v string) *string { return &v }

func TestApplySnapshotUpsertsByUser(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.ApplySnapshot(ctx, userID, Snapshot{
		FullName: strPtr("Sofia Delgadillo"),
		Email:    strPtr("sofia@example.com"),
	}))

	// Second apply only overwrites submitted fields.
	require.NoError(t, repo.ApplySnapshot(ctx, userID, Snapshot{
		Phone: strPtr("5551234567"),
	}))

	profile, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Sofia Delgadillo", *profile.FullName)
	assert.Equal(t, "5551234567", *profile.Phone)

	var count int64
	require.NoError(t, db.Table("profiles").Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSetMembershipStateCreatesWhenMissing(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	since := time.Now().UTC()
	require.NoError(t, repo.SetMembershipState(ctx, userID, MembershipState{
		Status:           enums.MembershipStatusActive,
		MembershipType:   enums.MembershipTypePremium,
		Since:            since,
		SquareCustomerID: strPtr("cust-1"),
	}))

	profile, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.False(t, profile.IdentityVerified)
	assert.Equal(t, enums.MembershipStatusActive, *profile.MembershipStatus)
	assert.Equal(t, "cust-1", *profile.SquareCustomerID)
}

func TestSetMembershipStateLeavesVerificationFlagAlone(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.ApplySnapshot(ctx, userID, Snapshot{
		Email: strPtr("member@example.com"),
	}))

	// A subscription lifecycle sync must not verify the user.
	require.NoError(t, repo.SetMembershipState(ctx, userID, MembershipState{
		Status:               enums.MembershipStatusActive,
		MembershipType:       enums.MembershipTypeStandard,
		Since:                time.Now().UTC(),
		SquareSubscriptionID: strPtr("sub-1"),
	}))

	profile, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.False(t, profile.IdentityVerified)

	require.NoError(t, repo.MarkIdentityVerified(ctx, userID, time.Now().UTC()))

	// Later syncs keep the flag as the verification flow left it.
	require.NoError(t, repo.SetMembershipState(ctx, userID, MembershipState{
		Status:         enums.MembershipStatusPaused,
		MembershipType: enums.MembershipTypeStandard,
		Since:          time.Now().UTC(),
	}))

	profile, err = repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, profile.IdentityVerified)
	require.NotNil(t, profile.IdentityVerifiedAt)
}

func TestClearSubscriptionRef(t *testing.T) {
	db := setupProfilesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.SetMembershipState(ctx, userID, MembershipState{
		Status:               enums.MembershipStatusActive,
		MembershipType:       enums.MembershipTypeStandard,
		Since:                time.Now().UTC(),
		SquareSubscriptionID: strPtr("sub-9"),
	}))

	require.NoError(t, repo.ClearSubscriptionRef(ctx, "sub-9"))

	profile, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, profile.SquareSubscriptionID)
	assert.Equal(t, enums.MembershipStatusCancelled, *profile.MembershipStatus)
}
