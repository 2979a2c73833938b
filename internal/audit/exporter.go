package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/payloads"
)

const exporterConsumerName = "audit-export"

type warehouseWriter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Exporter streams audit events from Pub/Sub into the warehouse.
type Exporter struct {
	subscription *gcppubsub.Subscriber
	warehouse    warehouseWriter
	table        string
	manager      idempotencyChecker
	logg         *logger.Logger
}

type ExporterParams struct {
	Subscription *gcppubsub.Subscriber
	Warehouse    warehouseWriter
	Table        string
	Manager      idempotencyChecker
	Logger       *logger.Logger
}

func NewExporter(params ExporterParams) (*Exporter, error) {
	if params.Subscription == nil {
		return nil, errors.New("audit subscription is required")
	}
	if params.Warehouse == nil {
		return nil, errors.New("warehouse writer is required")
	}
	if params.Table == "" {
		return nil, errors.New("warehouse table is required")
	}
	if params.Manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Exporter{
		subscription: params.Subscription,
		warehouse:    params.Warehouse,
		table:        params.Table,
		manager:      params.Manager,
		logg:         params.Logger,
	}, nil
}

// WarehouseRow is the flattened audit schema streamed to the warehouse.
type WarehouseRow struct {
	AuditID    string    `bigquery:"audit_id" json:"audit_id"`
	Actor      string    `bigquery:"actor" json:"actor"`
	Action     string    `bigquery:"action" json:"action"`
	EntityType string    `bigquery:"entity_type" json:"entity_type"`
	EntityID   string    `bigquery:"entity_id" json:"entity_id"`
	Outcome    string    `bigquery:"outcome" json:"outcome"`
	RecordedAt time.Time `bigquery:"recorded_at" json:"recorded_at"`
}

// Run consumes audit messages until the context is canceled.
func (e *Exporter) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if e.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (e *Exporter) process(ctx context.Context, msg *gcppubsub.Message) (nack bool) {
	logCtx := e.logg.WithField(ctx, "message_id", msg.ID)

	row, eventID, err := decodeAuditMessage(msg.Data)
	if err != nil {
		e.logg.Warn(e.logg.WithField(logCtx, "error", err.Error()), "invalid audit message")
		return false
	}
	logCtx = e.logg.WithField(logCtx, "event_id", eventID.String())

	already, err := e.manager.CheckAndMarkProcessed(logCtx, exporterConsumerName, eventID)
	if err != nil {
		e.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if already {
		e.logg.Info(logCtx, "audit event already exported")
		return false
	}

	if err := e.warehouse.InsertRows(logCtx, e.table, []any{row}); err != nil {
		e.logg.Error(logCtx, "warehouse insert failed", err)
		_ = e.manager.Delete(logCtx, exporterConsumerName, eventID)
		return true
	}

	e.logg.Info(logCtx, "audit event exported")
	return false
}

func decodeAuditMessage(data []byte) (*WarehouseRow, uuid.UUID, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	eventID, err := uuid.Parse(stored.EventID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event id: %w", err)
	}

	var event payloads.AuditRecordedEvent
	if err := json.Unmarshal(stored.Data, &event); err != nil {
		return nil, uuid.Nil, fmt.Errorf("decode audit event: %w", err)
	}
	if event.AuditID == uuid.Nil {
		return nil, uuid.Nil, errors.New("audit id missing")
	}

	recordedAt := event.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = stored.OccurredAt
	}

	return &WarehouseRow{
		AuditID:    event.AuditID.String(),
		Actor:      event.Actor,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Outcome:    event.Outcome,
		RecordedAt: recordedAt.UTC(),
	}, eventID, nil
}
