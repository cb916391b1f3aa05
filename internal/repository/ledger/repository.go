package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/foodpass/repository/ledger")

// ErrInvalidDelta is returned when an increment would not grow the counter.
var ErrInvalidDelta = errors.New("ledger delta must be positive")

// Key identifies one consumption counter.
type Key struct {
	EventID  int64
	TicketID int64
	VendorID int64
}

func (k Key) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("event.id", k.EventID),
		attribute.Int64("ticket.id", k.TicketID),
		attribute.Int64("vendor.id", k.VendorID),
	}
}

// Repository stores per (event, ticket, vendor) consumption counters.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a ledger backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Get returns the consumed item count for key, or 0 when nothing was consumed yet.
func (r *Repository) Get(ctx context.Context, key Key) (int, error) {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.Get", trace.WithAttributes(key.attributes()...))
	defer span.End()

	var total int
	err := r.reader.NewSelect().
		Model((*entity.TierConsumption)(nil)).
		Column("total_items_consumed").
		Where("event_id = ?", key.EventID).
		Where("ticket_id = ?", key.TicketID).
		Where("vendor_id = ?", key.VendorID).
		Limit(1).
		Scan(ctx, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return 0, err
	}
	return total, nil
}

// Increment adds delta to the counter for key, creating it when absent, and
// returns the new total. The upsert is a single statement so concurrent
// increments on the same key never lose an update. Pass a transaction as db to
// enlist the write in it; nil uses the writer connection.
func (r *Repository) Increment(ctx context.Context, db bun.IDB, key Key, delta int) (int, error) {
	ctx, span := repoTracer.Start(ctx, "LedgerRepository.Increment",
		trace.WithAttributes(append(key.attributes(), attribute.Int("ledger.delta", delta))...))
	defer span.End()

	if delta <= 0 {
		return 0, ErrInvalidDelta
	}
	if db == nil {
		db = r.writer
	}

	row := &entity.TierConsumption{
		EventID:            key.EventID,
		TicketID:           key.TicketID,
		VendorID:           key.VendorID,
		TotalItemsConsumed: delta,
		UpdatedAt:          time.Now().UTC(),
	}

	var err error
	if db.Dialect().Name() == dialect.MySQL {
		_, err = db.NewInsert().
			Model(row).
			On("DUPLICATE KEY UPDATE").
			Set("total_items_consumed = total_items_consumed + VALUES(total_items_consumed)").
			Set("updated_at = VALUES(updated_at)").
			Exec(ctx)
		if err == nil {
			err = db.NewSelect().
				Model(row).
				Column("total_items_consumed").
				Where("event_id = ?", key.EventID).
				Where("ticket_id = ?", key.TicketID).
				Where("vendor_id = ?", key.VendorID).
				Scan(ctx)
		}
	} else {
		_, err = db.NewInsert().
			Model(row).
			On("CONFLICT (event_id, ticket_id, vendor_id) DO UPDATE").
			Set("total_items_consumed = ?TableAlias.total_items_consumed + EXCLUDED.total_items_consumed").
			Set("updated_at = EXCLUDED.updated_at").
			Returning("total_items_consumed").
			Exec(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return 0, fmt.Errorf("increment consumption: %w", err)
	}

	span.SetAttributes(attribute.Int("ledger.total", row.TotalItemsConsumed))
	return row.TotalItemsConsumed, nil
}
