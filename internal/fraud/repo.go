package fraud

import (
	"context"

	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
)

// Repository persists fraud gate evaluations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, check *models.FraudCheck) error
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

func (r *repositoryImpl) Create(ctx context.Context, check *models.FraudCheck) error {
	return r.db.WithContext(ctx).Create(check).Error
}
