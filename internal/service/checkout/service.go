package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/cart"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/lock"
	applog "github.com/Additional-Code/foodpass/internal/logger"
	"github.com/Additional-Code/foodpass/internal/repository/catalog"
	orderrepo "github.com/Additional-Code/foodpass/internal/repository/order"
	"github.com/Additional-Code/foodpass/internal/service/admission"
	ordersvc "github.com/Additional-Code/foodpass/internal/service/order"
	"github.com/Additional-Code/foodpass/internal/service/policy"
	"github.com/Additional-Code/foodpass/internal/service/ticket"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/Additional-Code/foodpass/service/checkout")
	meter         = otel.Meter("github.com/Additional-Code/foodpass/service/checkout")
)

const recentOrdersLimit = 20

// Rejection reasons reported per vendor group.
const (
	ReasonVendorNotFound     = "Vendor not found"
	ReasonVendorNotInEvent   = "Vendor not in this event"
	ReasonVendorNotAccepting = "Vendor is not accepting orders"
	ReasonInvalidQty         = "Invalid quantity"
	ReasonItemNotFound       = "Menu item not found"
	ReasonItemNotOwned       = "Menu item does not belong to vendor"
	ReasonSingleVendorOnly   = "This event allows orders from one vendor at a time."
)

// Request is one checkout attempt. QRCode nil means a walk-in.
type Request struct {
	EventCode  string
	QRCode     *string
	DeviceHash string
	Groups     []cart.Group
	// Username attributes audit entries.
	Username string
}

// Result lists the orders created and why other groups were refused.
type Result struct {
	Ticket     *entity.Ticket
	Orders     []*entity.Order
	Rejections map[int64]string
}

// Accepted returns the vendor ids whose group became an order.
func (r *Result) Accepted() []int64 {
	ids := make([]int64, 0, len(r.Orders))
	for _, order := range r.Orders {
		ids = append(ids, order.VendorID)
	}
	return ids
}

// Service turns a cart into one order per vendor group.
type Service struct {
	tickets   *ticket.Service
	admission *admission.Service
	policies  *policy.Service
	orders    *ordersvc.Service
	orderRepo *orderrepo.Repository
	catalog   *catalog.Repository
	locker    lock.Locker
	audit     audit.Recorder
	logger    *zap.Logger

	retries  int
	lockTTL  time.Duration
	lockWait time.Duration

	created  metric.Int64Counter
	rejected metric.Int64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Tickets   *ticket.Service
	Admission *admission.Service
	Policies  *policy.Service
	Orders    *ordersvc.Service
	OrderRepo *orderrepo.Repository
	Catalog   *catalog.Repository
	Locker    lock.Locker
	Audit     audit.Recorder
	Config    config.Config
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	created, _ := meter.Int64Counter("foodpass.checkout.orders_created",
		metric.WithDescription("Orders created by checkout"))
	rejected, _ := meter.Int64Counter("foodpass.checkout.groups_rejected",
		metric.WithDescription("Vendor groups refused by checkout"))

	retries := p.Config.Checkout.NumberingRetries
	if retries <= 0 {
		retries = 1
	}
	return &Service{
		tickets:   p.Tickets,
		admission: p.Admission,
		policies:  p.Policies,
		orders:    p.Orders,
		orderRepo: p.OrderRepo,
		catalog:   p.Catalog,
		locker:    p.Locker,
		audit:     p.Audit,
		logger:    p.Logger,
		retries:   retries,
		lockTTL:   p.Config.Checkout.VendorLockTTL,
		lockWait:  p.Config.Checkout.LockWait,
		created:   created,
		rejected:  rejected,
	}
}

// Checkout resolves the ticket once, then handles each vendor group on its
// own: a refused group is reported in Rejections and never affects the others.
// Errors other than refusals abort the call. Orders committed before the
// error stay committed and come back in the partial Result alongside the
// error, whose details list their ids.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := serviceTracer.Start(ctx, "CheckoutService.Checkout", trace.WithAttributes(
		attribute.String("event.code", req.EventCode),
		attribute.Int("checkout.groups", len(req.Groups)),
	))
	defer span.End()

	event, err := s.policies.Event(ctx, req.EventCode)
	if err != nil {
		return nil, err
	}

	groups := normalize(req.Groups)
	if len(groups) == 0 {
		return nil, errorbank.Validation("Cart is empty")
	}
	if !event.EnableMultiVendorCart && len(groups) > 1 {
		return nil, errorbank.Validation(ReasonSingleVendorOnly)
	}

	tkt, err := s.tickets.Resolve(ctx, req.EventCode, req.QRCode, req.DeviceHash)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("ticket.id", tkt.ID))

	result := &Result{Ticket: tkt, Orders: []*entity.Order{}, Rejections: map[int64]string{}}
	for _, group := range groups {
		order, reason, err := s.placeGroup(ctx, event, tkt, group, req.Username)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "group failed")
			return s.abort(ctx, result, group.VendorID, err)
		}
		if reason != "" {
			result.Rejections[group.VendorID] = reason
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event.Code)))
			applog.WithTrace(ctx, s.logger).Info("checkout group rejected",
				zap.String("event", event.Code),
				zap.Int64("ticket_id", tkt.ID),
				zap.Int64("vendor_id", group.VendorID),
				zap.String("reason", reason),
			)
			continue
		}
		result.Orders = append(result.Orders, order)
		s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event.Code)))
	}

	span.SetAttributes(
		attribute.Int("checkout.created", len(result.Orders)),
		attribute.Int("checkout.rejected", len(result.Rejections)),
	)
	return result, nil
}

// abort ends a checkout after a group failed unexpectedly. Without committed
// orders the error is returned as is.
func (s *Service) abort(ctx context.Context, result *Result, vendorID int64, err error) (*Result, error) {
	if len(result.Orders) == 0 {
		return nil, err
	}
	ids := make([]int64, 0, len(result.Orders))
	for _, order := range result.Orders {
		ids = append(ids, order.ID)
	}
	applog.WithTrace(ctx, s.logger).Error("checkout stopped after committing orders",
		zap.Int64("ticket_id", result.Ticket.ID),
		zap.Int64("failed_vendor_id", vendorID),
		zap.Int64s("order_ids", ids),
		zap.Error(err),
	)
	appErr := errorbank.From(err)
	return result, errorbank.New(appErr.Kind(), appErr.Message(),
		errorbank.WithCause(err),
		errorbank.WithDetails(appErr.Details()),
		errorbank.WithDetail("createdOrderIds", ids),
	)
}

// AdmitRequest asks whether qty more items may be ordered from a vendor.
type AdmitRequest struct {
	EventCode  string
	QRCode     *string
	DeviceHash string
	VendorID   int64
	Qty        int
}

// Admit previews admission for a prospective cart line without binding or
// creating tickets. A device without a ticket yet has nothing to block it.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (admission.Decision, error) {
	ctx, span := serviceTracer.Start(ctx, "CheckoutService.Admit", trace.WithAttributes(
		attribute.String("event.code", req.EventCode),
		attribute.Int64("vendor.id", req.VendorID),
	))
	defer span.End()

	if req.Qty < 1 {
		return admission.Decision{}, errorbank.Validation(ReasonInvalidQty)
	}
	event, err := s.policies.Event(ctx, req.EventCode)
	if err != nil {
		return admission.Decision{}, err
	}
	vendor, err := s.catalog.VendorByID(ctx, req.VendorID)
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && vendor.EventID != event.ID) {
		return admission.Decision{}, errorbank.NotFound(ReasonVendorNotFound)
	}
	if err != nil {
		return admission.Decision{}, errorbank.Internal("failed to load vendor", errorbank.WithCause(err))
	}

	var tkt *entity.Ticket
	if req.QRCode != nil && *req.QRCode != "" {
		tkt, err = s.tickets.Peek(ctx, event, *req.QRCode, req.DeviceHash)
	} else {
		tkt, err = s.tickets.FindForDevice(ctx, req.EventCode, req.DeviceHash)
		if errorbank.IsKind(err, errorbank.KindNotFound) {
			return admission.Decision{Allowed: true, Remaining: -1}, nil
		}
	}
	if err != nil {
		return admission.Decision{}, err
	}
	return s.admission.CanAdmit(ctx, event, tkt, vendor, req.Qty)
}

// RecentOrders lists the ticket's latest orders at the event, newest first.
func (s *Service) RecentOrders(ctx context.Context, eventCode string, tkt *entity.Ticket) ([]*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "CheckoutService.RecentOrders", trace.WithAttributes(attribute.Int64("ticket.id", tkt.ID)))
	defer span.End()

	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}
	orders, err := s.orderRepo.List(ctx, orderrepo.Filter{EventID: event.ID, TicketID: tkt.ID, Limit: recentOrdersLimit})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// placeGroup validates one vendor group and persists it. A non-empty reason
// means the group was refused.
func (s *Service) placeGroup(ctx context.Context, event *entity.Event, tkt *entity.Ticket, group cart.Group, username string) (*entity.Order, string, error) {
	ctx, span := serviceTracer.Start(ctx, "CheckoutService.placeGroup", trace.WithAttributes(attribute.Int64("vendor.id", group.VendorID)))
	defer span.End()

	vendor, err := s.catalog.VendorByID(ctx, group.VendorID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ReasonVendorNotFound, nil
	}
	if err != nil {
		return nil, "", errorbank.Internal("failed to load vendor", errorbank.WithCause(err))
	}
	if vendor.EventID != event.ID {
		return nil, ReasonVendorNotInEvent, nil
	}
	if !vendor.Active || vendor.Status == entity.VendorClosed {
		return nil, ReasonVendorNotAccepting, nil
	}
	if len(group.Lines) == 0 {
		return nil, ReasonInvalidQty, nil
	}
	for _, line := range group.Lines {
		if line.Qty < 1 {
			return nil, ReasonInvalidQty, nil
		}
	}

	decision, err := s.admission.CanAdmit(ctx, event, tkt, vendor, group.Qty())
	if err != nil {
		return nil, "", err
	}
	if !decision.Allowed {
		return nil, decision.Reason, nil
	}

	if reason, err := s.validateItems(ctx, vendor, group); err != nil || reason != "" {
		return nil, reason, err
	}

	order, err := s.persist(ctx, event, tkt, vendor, group)
	if errorbank.IsKind(err, errorbank.KindConflict) {
		return nil, errorbank.From(err).Message(), nil
	}
	if err != nil {
		return nil, "", err
	}

	applog.WithTrace(ctx, s.logger).Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("vendor_id", vendor.ID),
		zap.Int("vendor_order_number", order.VendorOrderNumber),
		zap.Int64("ticket_id", tkt.ID),
	)
	s.audit.Record(ctx, audit.CategoryOrder,
		fmt.Sprintf("Order #%d created for %s (%s)", order.VendorOrderNumber, vendor.Name, order.ItemSummary()), username)
	s.orders.Announce(order)
	return order, "", nil
}

func (s *Service) validateItems(ctx context.Context, vendor *entity.Vendor, group cart.Group) (string, error) {
	ids := make([]int64, 0, len(group.Lines))
	for _, line := range group.Lines {
		ids = append(ids, line.MenuItemID)
	}
	items, err := s.catalog.MenuItemsByIDs(ctx, ids)
	if err != nil {
		return "", errorbank.Internal("failed to load menu items", errorbank.WithCause(err))
	}
	for _, line := range group.Lines {
		item, ok := items[line.MenuItemID]
		switch {
		case !ok:
			return ReasonItemNotFound, nil
		case item.VendorID != vendor.ID:
			return ReasonItemNotOwned, nil
		case !item.Available:
			return item.Name + " is unavailable", nil
		case item.MaxPerOrder != nil && line.Qty > *item.MaxPerOrder:
			return fmt.Sprintf("At most %d x %s per order", *item.MaxPerOrder, item.Name), nil
		}
	}
	return "", nil
}

// persist assigns the next vendor order number and stores the order. The
// per-vendor lock serializes numbering; the unique (vendor, number) constraint
// backs it up, and a collision is retried with a fresh number.
func (s *Service) persist(ctx context.Context, event *entity.Event, tkt *entity.Ticket, vendor *entity.Vendor, group cart.Group) (*entity.Order, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	release, err := s.locker.Acquire(lockCtx, fmt.Sprintf("vendor-order-number:%d", vendor.ID), s.lockTTL)
	cancel()
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, errorbank.Conflict("Vendor is busy, please retry")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to lock vendor numbering", errorbank.WithCause(err))
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release vendor lock", zap.Int64("vendor_id", vendor.ID), zap.Error(err))
		}
	}()

	for attempt := 1; attempt <= s.retries; attempt++ {
		order := newOrder(event, tkt, vendor, group)
		err := s.orderRepo.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			highest, err := s.orderRepo.MaxVendorNumber(ctx, tx, vendor.ID)
			if err != nil {
				return err
			}
			order.VendorOrderNumber = highest + 1
			return s.orderRepo.Create(ctx, tx, order)
		})
		if err == nil {
			saved, err := s.orderRepo.Reload(ctx, order.ID)
			if err != nil {
				return nil, errorbank.Internal("failed to reload order", errorbank.WithCause(err))
			}
			return saved, nil
		}
		if !errors.Is(err, orderrepo.ErrDuplicateNumber) {
			return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
		}
		s.logger.Warn("vendor order number collision",
			zap.Int64("vendor_id", vendor.ID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, errorbank.Conflict("Could not assign an order number, please retry")
}

func newOrder(event *entity.Event, tkt *entity.Ticket, vendor *entity.Vendor, group cart.Group) *entity.Order {
	now := time.Now().UTC()
	order := &entity.Order{
		EventID:   event.ID,
		VendorID:  vendor.ID,
		TicketID:  tkt.ID,
		Status:    entity.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]*entity.OrderItem, 0, len(group.Lines)),
	}
	for _, line := range group.Lines {
		order.Items = append(order.Items, &entity.OrderItem{MenuItemID: line.MenuItemID, Qty: line.Qty})
	}
	return order
}

// normalize merges repeated vendor groups and orders them by vendor id so
// checkout handles groups deterministically. Lines keep their order.
func normalize(groups []cart.Group) []cart.Group {
	byVendor := make(map[int64]*cart.Group, len(groups))
	for _, group := range groups {
		existing, ok := byVendor[group.VendorID]
		if !ok {
			copied := cart.Group{VendorID: group.VendorID, Lines: append([]cart.Line(nil), group.Lines...)}
			byVendor[group.VendorID] = &copied
			continue
		}
		existing.Lines = append(existing.Lines, group.Lines...)
	}

	out := make([]cart.Group, 0, len(byVendor))
	for _, group := range byVendor {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out
}
