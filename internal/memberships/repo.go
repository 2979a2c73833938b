package memberships

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

// UpsertParams describes the desired membership row. The upsert is keyed on
// user_id so replayed events converge on the same record.
type UpsertParams struct {
	UserID               uuid.UUID
	MembershipType       enums.MembershipType
	BillingCycle         enums.BillingCycle
	Status               enums.MembershipStatus
	SquareSubscriptionID *string
	SquareCustomerID     *string
	StartDate            time.Time
	EndDate              *time.Time
	CancelAtPeriodEnd    bool

	// PreserveLifecycleStatus keeps an existing paused or cancelled status
	// instead of overwriting it. Activation writes set this so a lagging
	// activation cannot undo a transition the lifecycle stream applied.
	PreserveLifecycleStatus bool
}

// Repository exposes membership persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Membership, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Membership, error)
	Upsert(ctx context.Context, params UpsertParams) (*models.Membership, error)
	MarkCancelled(ctx context.Context, subscriptionID string, now time.Time) (bool, error)
	ExtendPeriod(ctx context.Context, subscriptionID string, endDate time.Time) (bool, error)
	ListWithSubscriptions(ctx context.Context, limit int) ([]models.Membership, error)
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

func (r *repositoryImpl) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func (r *repositoryImpl) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).Where("square_subscription_id = ?", subscriptionID).First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

// Upsert writes the one membership row a user may hold. Conflicts on
// user_id update the existing row instead of inserting.
func (r *repositoryImpl) Upsert(ctx context.Context, params UpsertParams) (*models.Membership, error) {
	if params.UserID == uuid.Nil {
		return nil, errors.New("user id required")
	}

	membership := &models.Membership{
		ID:                   uuid.New(),
		UserID:               params.UserID,
		MembershipType:       params.MembershipType,
		BillingCycle:         params.BillingCycle,
		Status:               params.Status,
		SquareSubscriptionID: params.SquareSubscriptionID,
		SquareCustomerID:     params.SquareCustomerID,
		StartDate:            params.StartDate,
		EndDate:              params.EndDate,
		CancelAtPeriodEnd:    params.CancelAtPeriodEnd,
	}

	updates := map[string]any{
		"membership_type":      params.MembershipType,
		"billing_cycle":        params.BillingCycle,
		"status":               params.Status,
		"start_date":           params.StartDate,
		"cancel_at_period_end": params.CancelAtPeriodEnd,
	}
	if params.PreserveLifecycleStatus {
		updates["status"] = gorm.Expr(
			"CASE WHEN memberships.status IN (?, ?) THEN memberships.status ELSE ? END",
			enums.MembershipStatusPaused, enums.MembershipStatusCancelled, params.Status,
		)
	}
	if params.SquareSubscriptionID != nil {
		updates["square_subscription_id"] = *params.SquareSubscriptionID
	}
	if params.SquareCustomerID != nil {
		updates["square_customer_id"] = *params.SquareCustomerID
	}
	if params.EndDate != nil {
		updates["end_date"] = *params.EndDate
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(membership).Error
	if err != nil {
		return nil, err
	}

	return r.FindByUser(ctx, params.UserID)
}

func (r *repositoryImpl) MarkCancelled(ctx context.Context, subscriptionID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("square_subscription_id = ? AND status <> ?", subscriptionID, enums.MembershipStatusCancelled).
		Updates(map[string]any{
			"status":       enums.MembershipStatusCancelled,
			"cancelled_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExtendPeriod pushes the membership end date forward after a paid invoice.
func (r *repositoryImpl) ExtendPeriod(ctx context.Context, subscriptionID string, endDate time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("square_subscription_id = ? AND status = ?", subscriptionID, enums.MembershipStatusActive).
		Update("end_date", endDate)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) ListWithSubscriptions(ctx context.Context, limit int) ([]models.Membership, error) {
	var rows []models.Membership
	query := r.db.WithContext(ctx).
		Where("square_subscription_id IS NOT NULL AND status <> ?", enums.MembershipStatusCancelled).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
