package intents

import (
	"context"
	"strings"

	"github.com/google/uuid"

	dbpkg "github.com/sdelgadillo/membercore-backend/pkg/db"
	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

// Service drives the purchase-intent lifecycle up to the point the webhook
// or reconciliation paths take over.
type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateIntentInput) (*IntentDTO, error)
	Current(ctx context.Context, userID uuid.UUID) (*IntentDTO, error)
	Cancel(ctx context.Context, userID, intentID uuid.UUID) error
}

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intents repository required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateIntentInput) (*IntentDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	membershipType, err := enums.ParseMembershipType(input.MembershipType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid membership type")
	}
	billingCycle, err := enums.ParseBillingCycle(input.BillingCycle)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle")
	}

	open, err := s.repo.FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open intent")
	}
	if open != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a purchase is already in progress")
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}

	intent := &models.MembershipIntent{
		UserID:         userID,
		Status:         enums.IntentStatusCreated,
		MembershipType: membershipType,
		BillingCycle:   billingCycle,
		AmountCents:    input.AmountCents,
		Currency:       currency,
	}
	applySnapshot(intent, input.Profile)

	if err := s.repo.Create(ctx, intent); err != nil {
		// The partial unique index backs the app-level check for races.
		if dbpkg.IsUniqueViolation(err, "ux_membership_intents_open_user") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a purchase is already in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create intent")
	}

	if s.logg != nil {
		logCtx := s.logg.WithIntentID(ctx, intent.ID.String())
		s.logg.Info(logCtx, "membership intent created")
	}
	return toDTO(intent), nil
}

func (s *service) Current(ctx context.Context, userID uuid.UUID) (*IntentDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	intent, err := s.repo.FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open intent")
	}
	if intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no purchase in progress")
	}
	return toDTO(intent), nil
}

func (s *service) Cancel(ctx context.Context, userID, intentID uuid.UUID) error {
	if userID == uuid.Nil || intentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and intent id required")
	}
	intent, err := s.repo.FindByID(ctx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load intent")
	}
	if intent == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
	}
	if intent.UserID != userID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "intent belongs to another user")
	}

	cancelled, err := s.repo.Cancel(ctx, intentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel intent")
	}
	if !cancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "intent can no longer be cancelled")
	}
	return nil
}

func applySnapshot(intent *models.MembershipIntent, profile *ProfileData) {
	if profile == nil {
		return
	}
	intent.FullName = profile.FullName
	intent.Email = profile.Email
	intent.Phone = profile.Phone
	intent.DocumentNumber = profile.DocumentNumber
	intent.ShippingLine1 = profile.ShippingLine1
	intent.ShippingLine2 = profile.ShippingLine2
	intent.ShippingCity = profile.ShippingCity
	intent.ShippingState = profile.ShippingState
	intent.ShippingPostalCode = profile.ShippingPostalCode
	intent.ShippingCountry = profile.ShippingCountry
}
