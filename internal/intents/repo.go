package intents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// Repository exposes membership intent persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.MembershipIntent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.MembershipIntent, error)
	FindOpenByUser(ctx context.Context, userID uuid.UUID) (*models.MembershipIntent, error)
	FindLatestPendingByUser(ctx context.Context, userID uuid.UUID) (*models.MembershipIntent, error)
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.MembershipIntent, error)
	CountRecentFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) (bool, error)
	TransitionToActive(ctx context.Context, id uuid.UUID, verificationID *string, now time.Time) (bool, error)
	RevertToPending(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
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

func (r *repositoryImpl) Create(ctx context.Context, intent *models.MembershipIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.MembershipIntent, error) {
	var intent models.MembershipIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repositoryImpl) FindOpenByUser(ctx context.Context, userID uuid.UUID) (*models.MembershipIntent, error) {
	var intent models.MembershipIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []enums.IntentStatus{enums.IntentStatusCreated, enums.IntentStatusPaidPendingVerify}).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repositoryImpl) FindLatestPendingByUser(ctx context.Context, userID uuid.UUID) (*models.MembershipIntent, error) {
	var intent models.MembershipIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.IntentStatusPaidPendingVerify).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repositoryImpl) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]models.MembershipIntent, error) {
	var rows []models.MembershipIntent
	query := r.db.WithContext(ctx).
		Where("status = ? AND paid_at IS NOT NULL AND paid_at < ?", enums.IntentStatusPaidPendingVerify, olderThan).
		Order("paid_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) CountRecentFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("user_id = ? AND status = ? AND updated_at >= ?", userID, enums.IntentStatusFailed, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkPaid moves a created intent to paid_pending_verification. The WHERE
// clause on the current status makes redelivered payment events no-ops.
func (r *repositoryImpl) MarkPaid(ctx context.Context, id uuid.UUID, paymentID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("id = ? AND status = ?", id, enums.IntentStatusCreated).
		Updates(map[string]any{
			"status":            enums.IntentStatusPaidPendingVerify,
			"square_payment_id": paymentID,
			"paid_at":           now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// TransitionToActive is the single-writer gate for activation side effects.
// The status check and the transition happen in one conditional UPDATE so
// two concurrent callers cannot both pass the guard.
func (r *repositoryImpl) TransitionToActive(ctx context.Context, id uuid.UUID, verificationID *string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":       enums.IntentStatusActive,
		"verified_at":  now,
		"activated_at": now,
	}
	if verificationID != nil {
		updates["square_verification_id"] = *verificationID
	}
	result := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("id = ? AND status = ?", id, enums.IntentStatusPaidPendingVerify).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RevertToPending is the compensating write for a failed profile snapshot.
func (r *repositoryImpl) RevertToPending(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("id = ? AND status = ?", id, enums.IntentStatusActive).
		Updates(map[string]any{
			"status":       enums.IntentStatusPaidPendingVerify,
			"verified_at":  nil,
			"activated_at": nil,
		}).Error
}

func (r *repositoryImpl) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("id = ? AND status IN ?", id, []enums.IntentStatus{enums.IntentStatusCreated, enums.IntentStatusPaidPendingVerify}).
		Update("status", enums.IntentStatusCancelled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("id = ? AND status IN ?", id, []enums.IntentStatus{enums.IntentStatusCreated, enums.IntentStatusPaidPendingVerify}).
		Updates(map[string]any{
			"status":         enums.IntentStatusFailed,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
