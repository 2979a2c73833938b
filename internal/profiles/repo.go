package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// Snapshot carries the purchase-form fields written onto the profile during
// activation.
type Snapshot struct {
	FullName           *string
	Email              *string
	Phone              *string
	DocumentNumber     *string
	ShippingLine1      *string
	ShippingLine2      *string
	ShippingCity       *string
	ShippingState      *string
	ShippingPostalCode *string
	ShippingCountry    *string
}

// MembershipState mirrors the membership fields kept on the profile row.
type MembershipState struct {
	Status               enums.MembershipStatus
	MembershipType       enums.MembershipType
	Since                time.Time
	SquareCustomerID     *string
	SquareSubscriptionID *string
}

// Repository exposes profile persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	FindBySquareCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	ApplySnapshot(ctx context.Context, userID uuid.UUID, snapshot Snapshot) error
	SetMembershipState(ctx context.Context, userID uuid.UUID, state MembershipState) error
	MarkIdentityVerified(ctx context.Context, userID uuid.UUID, now time.Time) error
	ClearSubscriptionRef(ctx context.Context, subscriptionID string) error
	SetSquareRefs(ctx context.Context, userID uuid.UUID, customerID, subscriptionID *string) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repositoryImpl) FindBySquareCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("square_customer_id = ?", customerID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// ApplySnapshot upserts the form snapshot by user_id. Only submitted fields
// overwrite what is already stored.
func (r *repositoryImpl) ApplySnapshot(ctx context.Context, userID uuid.UUID, snapshot Snapshot) error {
	updates := snapshotUpdates(snapshot)
	if len(updates) == 0 {
		return nil
	}

	profile := &models.Profile{
		ID:                 uuid.New(),
		UserID:             userID,
		FullName:           snapshot.FullName,
		Email:              snapshot.Email,
		Phone:              snapshot.Phone,
		DocumentNumber:     snapshot.DocumentNumber,
		ShippingLine1:      snapshot.ShippingLine1,
		ShippingLine2:      snapshot.ShippingLine2,
		ShippingCity:       snapshot.ShippingCity,
		ShippingState:      snapshot.ShippingState,
		ShippingPostalCode: snapshot.ShippingPostalCode,
		ShippingCountry:    snapshot.ShippingCountry,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(profile).Error
}

// SetMembershipState mirrors membership fields onto the profile. It never
// touches identity_verified; that flag belongs to the verification flow and
// the activation step that records it.
func (r *repositoryImpl) SetMembershipState(ctx context.Context, userID uuid.UUID, state MembershipState) error {
	updates := map[string]any{
		"membership_status": state.Status,
		"membership_type":   state.MembershipType,
		"membership_since":  state.Since,
	}
	if state.SquareCustomerID != nil {
		updates["square_customer_id"] = *state.SquareCustomerID
	}
	if state.SquareSubscriptionID != nil {
		updates["square_subscription_id"] = *state.SquareSubscriptionID
	}

	profile := &models.Profile{
		ID:                   uuid.New(),
		UserID:               userID,
		MembershipStatus:     &state.Status,
		MembershipType:       &state.MembershipType,
		MembershipSince:      &state.Since,
		SquareCustomerID:     state.SquareCustomerID,
		SquareSubscriptionID: state.SquareSubscriptionID,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(profile).Error
}

func (r *repositoryImpl) MarkIdentityVerified(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"identity_verified":    true,
			"identity_verified_at": now,
		}).Error
}

// ClearSubscriptionRef detaches a cancelled subscription from whichever
// profile still references it.
func (r *repositoryImpl) ClearSubscriptionRef(ctx context.Context, subscriptionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("square_subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"square_subscription_id": nil,
			"membership_status":      enums.MembershipStatusCancelled,
		}).Error
}

func (r *repositoryImpl) SetSquareRefs(ctx context.Context, userID uuid.UUID, customerID, subscriptionID *string) error {
	updates := map[string]any{}
	if customerID != nil {
		updates["square_customer_id"] = *customerID
	}
	if subscriptionID != nil {
		updates["square_subscription_id"] = *subscriptionID
	}
	if len(updates) == 0 {
		return nil
	}

	profile := &models.Profile{
		ID:                   uuid.New(),
		UserID:               userID,
		SquareCustomerID:     customerID,
		SquareSubscriptionID: subscriptionID,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(profile).Error
}

func snapshotUpdates(snapshot Snapshot) map[string]any {
	updates := map[string]any{}
	set := func(column string, value *string) {
		if value != nil {
			updates[column] = *value
		}
	}
	set("full_name", snapshot.FullName)
	set("email", snapshot.Email)
	set("phone", snapshot.Phone)
	set("document_number", snapshot.DocumentNumber)
	set("shipping_line1", snapshot.ShippingLine1)
	set("shipping_line2", snapshot.ShippingLine2)
	set("shipping_city", snapshot.ShippingCity)
	set("shipping_state", snapshot.ShippingState)
	set("shipping_postal_code", snapshot.ShippingPostalCode)
	set("shipping_country", snapshot.ShippingCountry)
	return updates
}
