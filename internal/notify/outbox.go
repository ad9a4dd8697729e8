// Package notify carries appointment events out of the core: a Postgres
// outbox drained to SQS, and a websocket hub for live dashboards.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// OutboxEntry is one undelivered event.
type OutboxEntry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Type          string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// DeliveryHandler pushes an entry to a downstream transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type outboxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type OutboxStore struct {
	db outboxDB
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

func (s *OutboxStore) Insert(ctx context.Context, ev appointment.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notification_outbox (id, appointment_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, ev.ID, ev.AppointmentID, ev.Type, data)
	if err != nil {
		return fmt.Errorf("notify: insert outbox: %w", err)
	}
	return nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, appointment_id, event_type, payload, created_at
		FROM notification_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			entry   OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &entry.AppointmentID, &entry.Type, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE notification_outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("notify: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// OutboxEmitter records events for later delivery. A failed insert is
// logged and dropped; booking never waits on notifications.
type OutboxEmitter struct {
	store  *OutboxStore
	logger zerolog.Logger
}

func NewOutboxEmitter(store *OutboxStore, logger zerolog.Logger) *OutboxEmitter {
	return &OutboxEmitter{store: store, logger: logger}
}

func (e *OutboxEmitter) Emit(ctx context.Context, ev appointment.Event) {
	if err := e.store.Insert(ctx, ev); err != nil {
		e.logger.Error().Err(err).
			Str("event_id", ev.ID.String()).
			Str("type", ev.Type).
			Str("appointment_id", ev.AppointmentID.String()).
			Msg("outbox insert failed")
	}
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store     *OutboxStore
	handler   DeliveryHandler
	logger    zerolog.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries went out.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox fetch failed")
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error().Err(err).
				Str("event_id", entry.ID.String()).
				Str("type", entry.Type).
				Msg("outbox delivery failed")
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("failed to mark outbox delivered")
			continue
		}
		if ok {
			delivered++
			d.logger.Debug().Str("event_id", entry.ID.String()).Str("type", entry.Type).Msg("outbox delivered")
		}
	}
	return delivered
}
