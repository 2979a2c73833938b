package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/api/middleware"
	"github.com/sdelgadillo/membercore-backend/api/responses"
	"github.com/sdelgadillo/membercore-backend/api/validators"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// CreateIntent starts a membership purchase flow for the caller.
func CreateIntent(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body intents.CreateIntentInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sanitizeProfile(body.Profile)

		dto, err := svc.Create(r.Context(), userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

func sanitizeProfile(profile *intents.ProfileData) {
	if profile == nil {
		return
	}
	for field, maxLen := range map[**string]int{
		&profile.FullName:           200,
		&profile.Email:              254,
		&profile.Phone:              32,
		&profile.DocumentNumber:     64,
		&profile.ShippingLine1:      200,
		&profile.ShippingLine2:      200,
		&profile.ShippingCity:       100,
		&profile.ShippingState:      100,
		&profile.ShippingPostalCode: 20,
		&profile.ShippingCountry:    2,
	} {
		if *field == nil {
			continue
		}
		cleaned := validators.SanitizeString(**field, maxLen)
		if cleaned == "" {
			*field = nil
			continue
		}
		**field = cleaned
	}
}

// CurrentIntent returns the caller's open purchase flow, if any.
func CurrentIntent(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Current(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// CancelIntent abandons an open purchase flow.
func CancelIntent(svc intents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intents service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid intent id"))
			return
		}

		if err := svc.Cancel(r.Context(), userID, intentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}
