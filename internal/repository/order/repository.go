package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/foodpass/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateNumber is returned when the vendor order number is already taken.
	ErrDuplicateNumber = errors.New("vendor order number already taken")
)

// Filter narrows order listings. Zero values mean no restriction.
type Filter struct {
	EventID  int64
	VendorID int64
	TicketID int64
	Statuses []entity.OrderStatus
	Limit    int
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// DB exposes the write connection for callers that run their own transactions.
func (r *Repository) DB() *bun.DB {
	return r.writer
}

// MaxVendorNumber returns the highest vendor order number issued so far, 0 when none.
func (r *Repository) MaxVendorNumber(ctx context.Context, db bun.IDB, vendorID int64) (int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MaxVendorNumber", trace.WithAttributes(attribute.Int64("vendor.id", vendorID)))
	defer span.End()

	var highest sql.NullInt64
	err := db.NewSelect().
		Model((*entity.Order)(nil)).
		ColumnExpr("MAX(vendor_order_number)").
		Where("vendor_id = ?", vendorID).
		Scan(ctx, &highest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return 0, err
	}
	return int(highest.Int64), nil
}

// Create persists an order together with its items. ErrDuplicateNumber signals
// that another checkout claimed the same vendor order number.
func (r *Repository) Create(ctx context.Context, db bun.IDB, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(
		attribute.Int64("vendor.id", order.VendorID),
		attribute.Int("order.vendor_number", order.VendorOrderNumber),
	))
	defer span.End()

	if _, err := db.NewInsert().Model(order).Exec(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			span.SetStatus(codes.Error, "duplicate number")
			return ErrDuplicateNumber
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}

	for _, item := range order.Items {
		item.OrderID = order.ID
	}
	if len(order.Items) > 0 {
		if _, err := db.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert items failed")
			return err
		}
	}
	return nil
}

// GetByID fetches an order with its items, vendor and ticket using the read replica.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.reader, id, "OrderRepository.GetByID")
}

// Reload fetches an order from the primary, for reads that must observe a
// write made moments ago.
func (r *Repository) Reload(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.writer, id, "OrderRepository.Reload")
}

func (r *Repository) get(ctx context.Context, db *bun.DB, id int64, name string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := withGraph(db.NewSelect().Model(order)).Where("?TableAlias.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// HasOpen reports whether the ticket has an order at the vendor still awaiting pickup.
func (r *Repository) HasOpen(ctx context.Context, ticketID, vendorID int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.HasOpen", trace.WithAttributes(
		attribute.Int64("ticket.id", ticketID),
		attribute.Int64("vendor.id", vendorID),
	))
	defer span.End()

	exists, err := r.writer.NewSelect().
		Model((*entity.Order)(nil)).
		Where("ticket_id = ?", ticketID).
		Where("vendor_id = ?", vendorID).
		Where("status IN (?)", bun.In(entity.OpenStatuses)).
		Exists(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return exists, err
}

// Transition moves the order to status `to` only when its current status is one
// of `from`, and reports whether the row changed.
func (r *Repository) Transition(ctx context.Context, db bun.IDB, id int64, from []entity.OrderStatus, to entity.OrderStatus) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Transition", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", string(to)),
	))
	defer span.End()

	res, err := db.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	return affected(span, res, err)
}

// Complete moves a READY order to COMPLETED, recording guest confirmation and
// the partial PIN, and reports whether the row changed.
func (r *Repository) Complete(ctx context.Context, db bun.IDB, id int64, pinLast4 string) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Complete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	q := db.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", entity.StatusCompleted).
		Set("confirmed_by_guest = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", entity.StatusReady)
	if pinLast4 != "" {
		q = q.Set("pin_last4 = ?", pinLast4)
	}
	res, err := q.Exec(ctx)
	return affected(span, res, err)
}

// List returns orders matching f, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List", trace.WithAttributes(
		attribute.Int64("event.id", f.EventID),
		attribute.Int64("vendor.id", f.VendorID),
		attribute.Int64("ticket.id", f.TicketID),
	))
	defer span.End()

	var orders []*entity.Order
	q := withGraph(r.reader.NewSelect().Model(&orders))
	if f.EventID != 0 {
		q = q.Where("?TableAlias.event_id = ?", f.EventID)
	}
	if f.VendorID != 0 {
		q = q.Where("?TableAlias.vendor_id = ?", f.VendorID)
	}
	if f.TicketID != 0 {
		q = q.Where("?TableAlias.ticket_id = ?", f.TicketID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(f.Statuses))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC").Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

func withGraph(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Relation("Event").
		Relation("Vendor").
		Relation("Ticket").
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Relation("MenuItem").OrderExpr("?TableAlias.id ASC")
		})
}

func affected(span trace.Span, res sql.Result, err error) (bool, error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
