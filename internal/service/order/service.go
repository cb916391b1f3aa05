package order

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/access"
	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/broadcast"
	"github.com/Additional-Code/foodpass/internal/entity"
	applog "github.com/Additional-Code/foodpass/internal/logger"
	"github.com/Additional-Code/foodpass/internal/repository/ledger"
	repo "github.com/Additional-Code/foodpass/internal/repository/order"
	"github.com/Additional-Code/foodpass/internal/service/policy"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/foodpass/service/order")

const boardLimit = 200

// predecessors lists, per target, the statuses MarkStatus may move from.
// COMPLETED is reachable only through completion.
var predecessors = map[entity.OrderStatus][]entity.OrderStatus{
	entity.StatusNew:       {entity.StatusNew},
	entity.StatusPreparing: {entity.StatusNew},
	entity.StatusReady:     {entity.StatusPreparing},
	entity.StatusCancelled: {entity.StatusNew, entity.StatusPreparing, entity.StatusReady},
}

var errNotReady = errors.New("order not ready")

// Service is the order state machine. Completion is the only path that
// touches the consumption ledger.
type Service struct {
	repo      *repo.Repository
	ledger    *ledger.Repository
	policies  *policy.Service
	publisher broadcast.Publisher
	audit     audit.Recorder
	logger    *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Ledger     *ledger.Repository
	Policies   *policy.Service
	Publisher  broadcast.Publisher
	Audit      audit.Recorder
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		ledger:    p.Ledger,
		policies:  p.Policies,
		publisher: p.Publisher,
		audit:     p.Audit,
		logger:    p.Logger,
	}
}

// Board groups an event's orders by status for the usher view.
type Board map[entity.OrderStatus][]*entity.Order

// Get returns a snapshot of the order when it belongs to the event.
func (s *Service) Get(ctx context.Context, eventCode string, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}
	order, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if order.EventID != event.ID {
		return nil, errorbank.NotFound("Order not found")
	}
	return order, nil
}

// MarkStatus moves an order of the event forward to target and broadcasts the
// change. Moving to NEW is only accepted while the order is still NEW and
// re-announces it.
func (s *Service) MarkStatus(ctx context.Context, principal access.Principal, eventCode string, id int64, target entity.OrderStatus) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.MarkStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.target", string(target)),
	))
	defer span.End()

	order, err := s.loadInEvent(ctx, span, eventCode, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(principal, order, false); err != nil {
		return nil, err
	}
	if target == entity.StatusCompleted {
		return nil, errorbank.Conflict("Orders are completed through pickup confirmation")
	}
	from, ok := predecessors[target]
	if !ok {
		return nil, errorbank.BadRequest(fmt.Sprintf("Unknown status %q", target))
	}

	changed, err := s.repo.Transition(ctx, s.repo.DB(), id, from, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, errorbank.Internal("failed to update order", errorbank.WithCause(err))
	}
	if !changed {
		current := order.Status
		if fresh, err := s.repo.Reload(ctx, id); err == nil {
			current = fresh.Status
		}
		return nil, errorbank.Conflict(fmt.Sprintf("Order cannot move from %s to %s", current, target),
			errorbank.WithDetail("status", current))
	}

	updated, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	applog.WithTrace(ctx, s.logger).Info("order status changed",
		zap.Int64("order_id", id),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)),
		zap.String("by", principal.Name()),
	)
	s.audit.Record(ctx, audit.CategoryOrder,
		fmt.Sprintf("Order #%d (%d) marked %s", updated.VendorOrderNumber, id, target), principal.Name())
	s.Announce(updated)
	return updated, nil
}

// MarkCompletedByGuest completes a READY order. When the event requires it the
// vendor pickup PIN must match. The status change and the ledger increment
// commit together, so a second completion fails and never double counts.
func (s *Service) MarkCompletedByGuest(ctx context.Context, principal access.Principal, eventCode string, id int64, pin *string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.MarkCompletedByGuest", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.loadInEvent(ctx, span, eventCode, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(principal, order, true); err != nil {
		return nil, err
	}
	if order.Status != entity.StatusReady {
		return nil, errorbank.Conflict("Order not READY", errorbank.WithDetail("status", order.Status))
	}

	supplied := ""
	if pin != nil {
		supplied = strings.TrimSpace(*pin)
	}
	if order.Event.RequireVendorPinForPickup {
		if supplied == "" {
			return nil, errorbank.Forbidden("Vendor PIN required")
		}
		if !pinMatches(order.Vendor.PickupPin, supplied) {
			s.logger.Warn("invalid pickup pin", zap.Int64("order_id", id), zap.String("by", principal.Name()))
			return nil, errorbank.Forbidden("Invalid PIN")
		}
	}

	tier, err := s.policies.TierPolicy(ctx, order.EventID, order.Ticket.TierCode)
	if err != nil {
		return nil, err
	}

	storedPin := ""
	if utf8.RuneCountInString(supplied) >= 4 {
		storedPin = lastFour(supplied)
	}

	var total int
	err = s.repo.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		changed, err := s.repo.Complete(ctx, tx, id, storedPin)
		if err != nil {
			return err
		}
		if !changed {
			return errNotReady
		}
		if qty := order.TotalQty(); tier.HasLimit() && qty > 0 {
			key := ledger.Key{EventID: order.EventID, TicketID: order.TicketID, VendorID: order.VendorID}
			total, err = s.ledger.Increment(ctx, tx, key, qty)
			return err
		}
		return nil
	})
	if errors.Is(err, errNotReady) {
		return nil, errorbank.Conflict("Order not READY")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, errorbank.Internal("failed to complete order", errorbank.WithCause(err))
	}

	updated, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	applog.WithTrace(ctx, s.logger).Info("order completed",
		zap.Int64("order_id", id),
		zap.Int("items", order.TotalQty()),
		zap.Int("consumed_total", total),
		zap.String("by", principal.Name()),
	)
	s.audit.Record(ctx, audit.CategoryOrder,
		fmt.Sprintf("Order #%d (%d) picked up", updated.VendorOrderNumber, id), principal.Name())
	s.Announce(updated)
	return updated, nil
}

// Advance moves an order one step along NEW, PREPARING, READY, COMPLETED.
func (s *Service) Advance(ctx context.Context, principal access.Principal, eventCode string, id int64, pin *string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Advance", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.loadInEvent(ctx, span, eventCode, id)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case entity.StatusNew:
		return s.MarkStatus(ctx, principal, eventCode, id, entity.StatusPreparing)
	case entity.StatusPreparing:
		return s.MarkStatus(ctx, principal, eventCode, id, entity.StatusReady)
	case entity.StatusReady:
		return s.MarkCompletedByGuest(ctx, principal, eventCode, id, pin)
	default:
		return nil, errorbank.Conflict("Order already finalized", errorbank.WithDetail("status", order.Status))
	}
}

// Board lists the event's recent orders grouped by status. Vendor scoped
// principals only see their own vendor; guests have no board.
func (s *Service) Board(ctx context.Context, principal access.Principal, eventCode string, ticketID int64) (Board, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Board", trace.WithAttributes(attribute.String("event.code", eventCode)))
	defer span.End()

	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}

	filter := repo.Filter{EventID: event.ID, TicketID: ticketID, Limit: boardLimit}
	switch {
	case principal.Unrestricted():
	case principal.VendorScoped() && principal.VendorID != 0:
		filter.VendorID = principal.VendorID
	default:
		return nil, errorbank.Forbidden("Not allowed to view the order board")
	}

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}

	board := Board{}
	for _, status := range []entity.OrderStatus{entity.StatusNew, entity.StatusPreparing, entity.StatusReady, entity.StatusCompleted, entity.StatusCancelled} {
		board[status] = []*entity.Order{}
	}
	for _, order := range orders {
		board[order.Status] = append(board[order.Status], order)
	}
	return board, nil
}

// Announce publishes the order's current state on its event topic.
func (s *Service) Announce(order *entity.Order) {
	if s.publisher == nil || order == nil || order.Event == nil {
		return
	}
	s.publisher.Publish(broadcast.OrdersTopic(order.Event.Code), broadcast.NewOrderUpdate(order.Event.Code, order))
}

func (s *Service) load(ctx context.Context, span trace.Span, id int64) (*entity.Order, error) {
	order, err := s.repo.Reload(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("Order not found")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// loadInEvent reports orders of other events as missing.
func (s *Service) loadInEvent(ctx context.Context, span trace.Span, eventCode string, id int64) (*entity.Order, error) {
	order, err := s.load(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if order.Event == nil || order.Event.Code != eventCode {
		return nil, errorbank.NotFound("Order not found")
	}
	return order, nil
}

// authorize applies role scoping. Guests may only confirm pickup of their own
// orders, and only when the event allows it.
func (s *Service) authorize(principal access.Principal, order *entity.Order, completing bool) error {
	switch {
	case principal.Unrestricted():
		return nil
	case principal.VendorScoped():
		if !principal.CanManageVendor(order.VendorID) {
			return errorbank.Forbidden("Not allowed to manage this vendor's orders")
		}
		return nil
	default:
		if !completing {
			return errorbank.Forbidden("Guests cannot change order status")
		}
		if order.Event == nil || !order.Event.EnableGuestPickupConfirm {
			return errorbank.Forbidden("Guest pickup confirmation is disabled for this event")
		}
		if !principal.OwnsTicket(order.TicketID) {
			return errorbank.Forbidden("Order belongs to another ticket")
		}
		return nil
	}
}

// pinMatches compares the last four characters of both PINs in constant time.
func pinMatches(vendorPin, supplied string) bool {
	if vendorPin == "" {
		return false
	}
	want, got := lastFour(vendorPin), lastFour(supplied)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// lastFour returns the trailing four characters, or all of s when shorter.
func lastFour(s string) string {
	runes := []rune(s)
	if len(runes) <= 4 {
		return s
	}
	return string(runes[len(runes)-4:])
}
