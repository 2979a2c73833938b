package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/pagination"
)

// Service defines notification operations.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Notify(ctx context.Context, params NotifyParams) (bool, error)
}

type service struct {
	repo       Repository
	mailer     Mailer
	adminEmail string
	logg       *logger.Logger
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NotifyParams records an in-app notification and optionally fans the same
// message out over email. Email delivery is best-effort.
type NotifyParams struct {
	UserID    uuid.UUID
	Type      enums.NotificationType
	Title     string
	Message   string
	DedupeKey *string
	EmailTo   []string
	NotifyOps bool
}

type ServiceParams struct {
	Repo       Repository
	Mailer     Mailer
	AdminEmail string
	Logger     *logger.Logger
}

// NewService wires notifications dependencies. Mailer may be nil when email
// delivery is disabled.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{
		repo:       params.Repo,
		mailer:     params.Mailer,
		adminEmail: params.AdminEmail,
		logg:       params.Logger,
	}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID:     params.UserID,
		Limit:      pagination.LimitWithBuffer(params.Limit),
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

// Notify writes the in-app record, then sends emails. Reports whether a new
// record was written; replays deduped by key return false without error.
func (s *service) Notify(ctx context.Context, params NotifyParams) (bool, error) {
	if params.UserID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !params.Type.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}

	row := &models.Notification{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Type:      params.Type,
		Title:     params.Title,
		Message:   params.Message,
		DedupeKey: params.DedupeKey,
	}

	created, err := s.repo.CreateOnce(ctx, row)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	if !created {
		return false, nil
	}

	recipients := params.EmailTo
	if params.NotifyOps && s.adminEmail != "" {
		recipients = append(recipients, s.adminEmail)
	}
	s.sendEmails(ctx, recipients, params.Title, params.Message)

	return true, nil
}

func (s *service) sendEmails(ctx context.Context, recipients []string, subject, body string) {
	if s.mailer == nil {
		return
	}
	for _, to := range recipients {
		if to == "" {
			continue
		}
		if err := s.mailer.Send(ctx, Email{To: to, Subject: subject, Body: body}); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "recipient", to), "notification email failed", err)
		}
	}
}
