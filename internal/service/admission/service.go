package admission

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/repository/ledger"
	orderrepo "github.com/Additional-Code/foodpass/internal/repository/order"
	"github.com/Additional-Code/foodpass/internal/service/policy"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/foodpass/service/admission")

// Denial reasons shown to guests.
const (
	ReasonOpenOrder    = "You have an open order with this vendor. Complete it first."
	ReasonLimitReached = "Limit reached for this vendor."
)

// Decision is the outcome of an admission check. Remaining is -1 when the
// ticket's tier has no limit.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

func allow(remaining int) Decision {
	return Decision{Allowed: true, Remaining: remaining}
}

func deny(reason string, remaining int) Decision {
	return Decision{Allowed: false, Reason: reason, Remaining: remaining}
}

// Service decides whether a ticket may add or check out items at a vendor.
// It only reads.
type Service struct {
	orders   *orderrepo.Repository
	ledger   *ledger.Repository
	policies *policy.Service
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders   *orderrepo.Repository
	Ledger   *ledger.Repository
	Policies *policy.Service
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		orders:   p.Orders,
		ledger:   p.Ledger,
		policies: p.Policies,
	}
}

// CanAdmit evaluates, in order: the open-order block, then the tier limit
// against consumption recorded so far. The first failing rule decides.
func (s *Service) CanAdmit(ctx context.Context, event *entity.Event, ticket *entity.Ticket, vendor *entity.Vendor, requestedQty int) (Decision, error) {
	ctx, span := serviceTracer.Start(ctx, "AdmissionService.CanAdmit", trace.WithAttributes(
		attribute.Int64("ticket.id", ticket.ID),
		attribute.Int64("vendor.id", vendor.ID),
		attribute.Int("admission.qty", requestedQty),
	))
	defer span.End()

	if event.BlockAddWhenOpenOrder {
		open, err := s.orders.HasOpen(ctx, ticket.ID, vendor.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open order lookup failed")
			return Decision{}, errorbank.Internal("failed to check open orders", errorbank.WithCause(err))
		}
		if open {
			span.SetAttributes(attribute.String("admission.denied", "open_order"))
			return deny(ReasonOpenOrder, -1), nil
		}
	}

	policy, err := s.policies.TierPolicy(ctx, event.ID, ticket.TierCode)
	if err != nil {
		return Decision{}, err
	}
	if !policy.HasLimit() {
		return allow(-1), nil
	}

	limit := policy.Limit()
	consumed, err := s.ledger.Get(ctx, ledger.Key{EventID: event.ID, TicketID: ticket.ID, VendorID: vendor.ID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger lookup failed")
		return Decision{}, errorbank.Internal("failed to read consumption", errorbank.WithCause(err))
	}

	remaining := max(0, limit-consumed)
	span.SetAttributes(attribute.Int("admission.remaining", remaining))
	if consumed >= limit {
		return deny(ReasonLimitReached, 0), nil
	}
	if consumed+requestedQty > limit {
		return deny(fmt.Sprintf("Only %d more item(s) allowed for this vendor.", remaining), remaining), nil
	}
	return allow(remaining - requestedQty), nil
}
