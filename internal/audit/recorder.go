package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
	pkgerrors "github.com/sdelgadillo/membercore-backend/pkg/errors"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

// Entry describes one state-changing attempt, successful or not.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Outcome    string
	Detail     map[string]any
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Recorder writes append-only audit rows and streams them through the
// outbox so the warehouse exporter picks them up.
type Recorder struct {
	db     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

type RecorderParams struct {
	DB     txRunner
	Outbox outboxEmitter
	Logger *logger.Logger
}

func NewRecorder(params RecorderParams) (*Recorder, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	return &Recorder{db: params.DB, outbox: params.Outbox, logg: params.Logger}, nil
}

// Record persists the entry. Audit writes never fail the caller's primary
// operation; failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if err := r.record(ctx, entry); err != nil && r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
		})
		r.logg.Error(logCtx, "audit record failed", err)
	}
}

func (r *Recorder) record(ctx context.Context, entry Entry) error {
	var detail json.RawMessage
	if entry.Detail != nil {
		encoded, err := json.Marshal(entry.Detail)
		if err != nil {
			return err
		}
		detail = encoded
	}

	row := &models.AuditLog{
		ID:         uuid.New(),
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Outcome:    entry.Outcome,
		Detail:     detail,
	}

	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuditRecorded,
			AggregateType: enums.AggregateAuditLog,
			AggregateID:   row.ID,
			Data: payloads.AuditRecordedEvent{
				AuditID:    row.ID,
				Actor:      row.Actor,
				Action:     row.Action,
				EntityType: row.EntityType,
				EntityID:   row.EntityID,
				Outcome:    row.Outcome,
				RecordedAt: time.Now().UTC(),
			},
			Version: 1,
		})
	})
}
