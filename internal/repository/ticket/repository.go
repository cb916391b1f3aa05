package ticket

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/foodpass/internal/database"
	"github.com/Additional-Code/foodpass/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/foodpass/repository/ticket")

var (
	// ErrNotFound is returned when a ticket is missing.
	ErrNotFound = errors.New("ticket not found")
	// ErrDuplicateQR is returned when another ticket already owns the QR code.
	ErrDuplicateQR = errors.New("ticket qr code already exists")
)

// Repository encapsulates read/write access for tickets.
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

// Create persists a new ticket. ErrDuplicateQR signals a lost race on the QR code.
func (r *Repository) Create(ctx context.Context, ticket *entity.Ticket) error {
	if ticket == nil {
		return errors.New("nil ticket")
	}
	ctx, span := repoTracer.Start(ctx, "TicketRepository.Create", trace.WithAttributes(attribute.String("ticket.qr", ticket.QRCode)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(ticket).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateQR
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches a ticket by primary key. Reads go to the writer so a bind
// is always visible to the caller that made it.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Ticket, error) {
	ctx, span := repoTracer.Start(ctx, "TicketRepository.GetByID", trace.WithAttributes(attribute.Int64("ticket.id", id)))
	defer span.End()

	ticket := new(entity.Ticket)
	err := r.writer.NewSelect().Model(ticket).Where("id = ?", id).Scan(ctx)
	return r.one(span, ticket, err)
}

// GetByQR fetches a ticket by its QR code.
func (r *Repository) GetByQR(ctx context.Context, qr string) (*entity.Ticket, error) {
	ctx, span := repoTracer.Start(ctx, "TicketRepository.GetByQR", trace.WithAttributes(attribute.String("ticket.qr", qr)))
	defer span.End()

	ticket := new(entity.Ticket)
	err := r.writer.NewSelect().Model(ticket).Where("qr_code = ?", qr).Limit(1).Scan(ctx)
	return r.one(span, ticket, err)
}

// GetByDevice fetches the first ticket of the event bound to deviceHash.
func (r *Repository) GetByDevice(ctx context.Context, eventID int64, deviceHash string) (*entity.Ticket, error) {
	ctx, span := repoTracer.Start(ctx, "TicketRepository.GetByDevice", trace.WithAttributes(attribute.Int64("event.id", eventID)))
	defer span.End()

	ticket := new(entity.Ticket)
	err := r.reader.NewSelect().
		Model(ticket).
		Where("event_id = ?", eventID).
		Where("bound_device_hash = ?", deviceHash).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	return r.one(span, ticket, err)
}

// BindDevice sets the device hash only when the ticket is still unbound and
// reports whether this call won the bind.
func (r *Repository) BindDevice(ctx context.Context, id int64, deviceHash string) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "TicketRepository.BindDevice", trace.WithAttributes(attribute.Int64("ticket.id", id)))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Ticket)(nil)).
		Set("bound_device_hash = ?", deviceHash).
		Where("id = ?", id).
		Where("bound_device_hash IS NULL").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("ticket.bound", n > 0))
	return n > 0, nil
}

func (r *Repository) one(span trace.Span, ticket *entity.Ticket, err error) (*entity.Ticket, error) {
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return ticket, nil
}
