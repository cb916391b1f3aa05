package ticket

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/audit"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/fingerprint"
	repo "github.com/Additional-Code/foodpass/internal/repository/ticket"
	"github.com/Additional-Code/foodpass/internal/service/policy"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/foodpass/service/ticket")

const (
	walkInPrefix     = "WALKIN-"
	walkInHolderName = "Walk-in Guest"
	randomTokenLen   = 12
)

// Service resolves tickets from QR codes or device fingerprints and keeps each
// ticket bound to a single device.
type Service struct {
	repo     *repo.Repository
	policies *policy.Service
	audit    audit.Recorder
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Policies   *policy.Service
	Audit      audit.Recorder
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:     p.Repository,
		policies: p.Policies,
		audit:    p.Audit,
		logger:   p.Logger,
	}
}

// WalkInQR derives the synthetic QR code of a walk-in ticket.
func WalkInQR(eventCode, sanitizedHash string) string {
	return strings.ToUpper(walkInPrefix + eventCode + "-" + sanitizedHash)
}

// Resolve returns the ticket the caller is entitled to use. With a QR code the
// ticket is looked up and bound to deviceHash on first use; without one a
// walk-in ticket keyed by the device is found or created.
func (s *Service) Resolve(ctx context.Context, eventCode string, qrCode *string, deviceHash string) (*entity.Ticket, error) {
	ctx, span := serviceTracer.Start(ctx, "TicketService.Resolve", trace.WithAttributes(
		attribute.String("event.code", eventCode),
		attribute.Bool("ticket.walk_in", qrCode == nil || strings.TrimSpace(*qrCode) == ""),
	))
	defer span.End()

	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}

	if qrCode != nil && strings.TrimSpace(*qrCode) != "" {
		return s.resolveQR(ctx, span, event, strings.TrimSpace(*qrCode), deviceHash)
	}
	return s.resolveWalkIn(ctx, span, event, deviceHash)
}

func (s *Service) resolveQR(ctx context.Context, span trace.Span, event *entity.Event, qr, deviceHash string) (*entity.Ticket, error) {
	if strings.TrimSpace(deviceHash) == "" {
		return nil, errorbank.Validation("Device hash required")
	}
	ticket, err := s.repo.GetByQR(ctx, qr)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("Ticket not found")
	}
	if err != nil {
		return nil, s.internal(span, "failed to load ticket", err)
	}
	if err := checkUsable(ticket, event); err != nil {
		return nil, err
	}

	if !ticket.IsBound() {
		won, err := s.repo.BindDevice(ctx, ticket.ID, deviceHash)
		if err != nil {
			return nil, s.internal(span, "failed to bind ticket", err)
		}
		// re-read so the caller sees whichever bind actually landed
		ticket, err = s.repo.GetByID(ctx, ticket.ID)
		if err != nil {
			return nil, s.internal(span, "failed to reload ticket", err)
		}
		if won {
			s.logger.Info("ticket bound", zap.Int64("ticket_id", ticket.ID), zap.String("event", event.Code))
			s.audit.Record(ctx, audit.CategoryTicket, "Ticket "+ticket.QRCode+" bound to device", "guest")
		}
	}

	if err := checkDevice(ticket, deviceHash); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Peek loads a QR ticket for event and applies the same checks as Resolve
// without binding it. An unbound ticket is returned as is.
func (s *Service) Peek(ctx context.Context, event *entity.Event, qr, deviceHash string) (*entity.Ticket, error) {
	ctx, span := serviceTracer.Start(ctx, "TicketService.Peek", trace.WithAttributes(
		attribute.String("event.code", event.Code),
	))
	defer span.End()

	if strings.TrimSpace(deviceHash) == "" {
		return nil, errorbank.Validation("Device hash required")
	}
	ticket, err := s.repo.GetByQR(ctx, strings.TrimSpace(qr))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("Ticket not found")
	}
	if err != nil {
		return nil, s.internal(span, "failed to load ticket", err)
	}
	if err := checkUsable(ticket, event); err != nil {
		return nil, err
	}
	if ticket.IsBound() {
		if err := checkDevice(ticket, deviceHash); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

func checkUsable(ticket *entity.Ticket, event *entity.Event) error {
	if ticket.EventID != event.ID {
		return errorbank.Forbidden("Ticket not for this event")
	}
	if !ticket.Active {
		return errorbank.Forbidden("Ticket inactive")
	}
	return nil
}

func checkDevice(ticket *entity.Ticket, deviceHash string) error {
	if ticket.BoundDeviceHash == nil || *ticket.BoundDeviceHash != deviceHash {
		return errorbank.Forbidden("Ticket bound to another device")
	}
	return nil
}

func (s *Service) resolveWalkIn(ctx context.Context, span trace.Span, event *entity.Event, deviceHash string) (*entity.Ticket, error) {
	hash := fingerprint.Sanitize(deviceHash)
	if hash == "" {
		hash = strings.ReplaceAll(uuid.NewString(), "-", "")[:randomTokenLen]
	}
	qr := WalkInQR(event.Code, hash)

	ticket, err := s.repo.GetByQR(ctx, qr)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, s.internal(span, "failed to load walk-in ticket", err)
	}

	ticket = &entity.Ticket{
		EventID:         event.ID,
		QRCode:          qr,
		TierCode:        entity.MostPermissiveTier,
		HolderName:      walkInHolderName,
		Serial:          strings.ToUpper(walkInPrefix + hash),
		BoundDeviceHash: &hash,
		Active:          true,
	}
	switch err := s.repo.Create(ctx, ticket); {
	case errors.Is(err, repo.ErrDuplicateQR):
		// a concurrent request for the same device created it first
		ticket, err = s.repo.GetByQR(ctx, qr)
		if err != nil {
			return nil, s.internal(span, "failed to load walk-in ticket", err)
		}
		return ticket, nil
	case err != nil:
		return nil, s.internal(span, "failed to create walk-in ticket", err)
	}

	s.logger.Info("walk-in ticket created", zap.Int64("ticket_id", ticket.ID), zap.String("event", event.Code))
	s.audit.Record(ctx, audit.CategoryTicket, "Walk-in ticket "+qr+" created", "guest")
	return ticket, nil
}

// FindForDevice returns the ticket already bound to deviceHash at the event,
// trying the raw hash and then its sanitized form. It never creates tickets.
func (s *Service) FindForDevice(ctx context.Context, eventCode, deviceHash string) (*entity.Ticket, error) {
	ctx, span := serviceTracer.Start(ctx, "TicketService.FindForDevice", trace.WithAttributes(attribute.String("event.code", eventCode)))
	defer span.End()

	if strings.TrimSpace(deviceHash) == "" {
		return nil, errorbank.NotFound("Ticket not found")
	}
	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}

	candidates := []string{deviceHash}
	if sanitized := fingerprint.Sanitize(deviceHash); sanitized != "" && sanitized != deviceHash {
		candidates = append(candidates, sanitized)
	}
	for _, candidate := range candidates {
		ticket, err := s.repo.GetByDevice(ctx, event.ID, candidate)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, s.internal(span, "failed to load ticket", err)
		}
	}
	return nil, errorbank.NotFound("Ticket not found")
}

// FindByIDAndEvent returns the ticket when it belongs to the event.
func (s *Service) FindByIDAndEvent(ctx context.Context, ticketID int64, eventCode string) (*entity.Ticket, error) {
	ctx, span := serviceTracer.Start(ctx, "TicketService.FindByIDAndEvent", trace.WithAttributes(attribute.Int64("ticket.id", ticketID)))
	defer span.End()

	event, err := s.policies.Event(ctx, eventCode)
	if err != nil {
		return nil, err
	}
	ticket, err := s.repo.GetByID(ctx, ticketID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && ticket.EventID != event.ID) {
		return nil, errorbank.NotFound("Ticket not found")
	}
	if err != nil {
		return nil, s.internal(span, "failed to load ticket", err)
	}
	return ticket, nil
}

// ByQR returns a ticket by its QR code regardless of event.
func (s *Service) ByQR(ctx context.Context, qr string) (*entity.Ticket, error) {
	ticket, err := s.repo.GetByQR(ctx, qr)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("Ticket not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load ticket", errorbank.WithCause(err))
	}
	return ticket, nil
}

func (s *Service) internal(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
