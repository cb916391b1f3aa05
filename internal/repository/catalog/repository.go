package catalog

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

var repoTracer = otel.Tracer("github.com/Additional-Code/foodpass/repository/catalog")

// ErrNotFound is returned when an event, vendor, menu item or policy is missing.
var ErrNotFound = errors.New("catalog record not found")

// Repository reads events, vendors, menus and tier policies.
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

// EventByCode fetches an event by its public code.
func (r *Repository) EventByCode(ctx context.Context, code string) (*entity.Event, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.EventByCode", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	event := new(entity.Event)
	err := r.reader.NewSelect().Model(event).Where("code = ?", code).Limit(1).Scan(ctx)
	if err = translate(span, err); err != nil {
		return nil, err
	}
	return event, nil
}

// EventByID fetches an event by primary key.
func (r *Repository) EventByID(ctx context.Context, id int64) (*entity.Event, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.EventByID", trace.WithAttributes(attribute.Int64("event.id", id)))
	defer span.End()

	event := new(entity.Event)
	err := r.reader.NewSelect().Model(event).Where("id = ?", id).Scan(ctx)
	if err = translate(span, err); err != nil {
		return nil, err
	}
	return event, nil
}

// VendorByID fetches a vendor by primary key.
func (r *Repository) VendorByID(ctx context.Context, id int64) (*entity.Vendor, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.VendorByID", trace.WithAttributes(attribute.Int64("vendor.id", id)))
	defer span.End()

	vendor := new(entity.Vendor)
	err := r.reader.NewSelect().Model(vendor).Where("id = ?", id).Scan(ctx)
	if err = translate(span, err); err != nil {
		return nil, err
	}
	return vendor, nil
}

// VendorsByEvent lists the event's vendors ordered by name.
func (r *Repository) VendorsByEvent(ctx context.Context, eventID int64) ([]*entity.Vendor, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.VendorsByEvent", trace.WithAttributes(attribute.Int64("event.id", eventID)))
	defer span.End()

	var vendors []*entity.Vendor
	if err := r.reader.NewSelect().Model(&vendors).Where("event_id = ?", eventID).Order("name ASC").Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return vendors, nil
}

// MenuByVendor lists a vendor's menu grouped by category then name.
func (r *Repository) MenuByVendor(ctx context.Context, vendorID int64) ([]*entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.MenuByVendor", trace.WithAttributes(attribute.Int64("vendor.id", vendorID)))
	defer span.End()

	var items []*entity.MenuItem
	if err := r.reader.NewSelect().Model(&items).Where("vendor_id = ?", vendorID).Order("category ASC", "name ASC").Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return items, nil
}

// UpdateVendorStatus stores a new availability status for the vendor.
func (r *Repository) UpdateVendorStatus(ctx context.Context, id int64, status entity.VendorStatus) error {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.UpdateVendorStatus", trace.WithAttributes(
		attribute.Int64("vendor.id", id),
		attribute.String("vendor.status", string(status)),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Vendor)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	return nil
}

// MenuItemsByIDs fetches the given menu items keyed by id. Missing ids are
// simply absent from the result.
func (r *Repository) MenuItemsByIDs(ctx context.Context, ids []int64) (map[int64]*entity.MenuItem, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.MenuItemsByIDs", trace.WithAttributes(attribute.Int("menu_item.count", len(ids))))
	defer span.End()

	items := make(map[int64]*entity.MenuItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	var rows []*entity.MenuItem
	if err := r.reader.NewSelect().Model(&rows).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	for _, item := range rows {
		items[item.ID] = item
	}
	return items, nil
}

// TierPolicy fetches the policy configured for (event, tier).
func (r *Repository) TierPolicy(ctx context.Context, eventID int64, tier entity.TierCode) (*entity.TierPolicy, error) {
	ctx, span := repoTracer.Start(ctx, "CatalogRepository.TierPolicy", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.String("tier.code", string(tier)),
	))
	defer span.End()

	policy := new(entity.TierPolicy)
	err := r.reader.NewSelect().
		Model(policy).
		Where("event_id = ?", eventID).
		Where("tier_code = ?", tier).
		Limit(1).
		Scan(ctx)
	if err = translate(span, err); err != nil {
		return nil, err
	}
	return policy, nil
}

func translate(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "select failed")
	return err
}
