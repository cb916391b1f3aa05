package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/cache"
	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/repository/catalog"
	"github.com/Additional-Code/foodpass/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/foodpass/service/policy")

// Service answers read-only questions about events and tier policies.
type Service struct {
	catalog  *catalog.Repository
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Catalog *catalog.Repository
	Cache   cache.Store
	Config  config.Config
	Logger  *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		catalog:  p.Catalog,
		cache:    p.Cache,
		cacheTTL: p.Config.Cache.DefaultTTL,
		logger:   p.Logger,
	}
}

// Event returns the event with the given code, consulting cache first.
func (s *Service) Event(ctx context.Context, code string) (*entity.Event, error) {
	ctx, span := serviceTracer.Start(ctx, "PolicyService.Event", trace.WithAttributes(attribute.String("event.code", code)))
	defer span.End()

	key := fmt.Sprintf("events:%s", code)
	event := new(entity.Event)
	if err := cache.GetJSON(ctx, s.cache, key, event); err == nil {
		return event, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("events cache read failed", zap.String("code", code), zap.Error(err))
	}

	event, err := s.catalog.EventByCode(ctx, code)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, errorbank.NotFound("Event not found")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load event", errorbank.WithCause(err))
	}

	if err := cache.SetJSON(ctx, s.cache, key, event, s.cacheTTL); err != nil {
		s.logger.Warn("events cache write failed", zap.String("code", code), zap.Error(err))
	}
	return event, nil
}

// TierPolicy returns the policy for the ticket tier at the event. A missing
// policy means unlimited and is not persisted.
func (s *Service) TierPolicy(ctx context.Context, eventID int64, tier entity.TierCode) (*entity.TierPolicy, error) {
	ctx, span := serviceTracer.Start(ctx, "PolicyService.TierPolicy", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.String("tier.code", string(tier)),
	))
	defer span.End()

	key := fmt.Sprintf("tier-policies:%d:%s", eventID, tier)
	policy := new(entity.TierPolicy)
	if err := cache.GetJSON(ctx, s.cache, key, policy); err == nil {
		return policy, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("tier policy cache read failed", zap.String("key", key), zap.Error(err))
	}

	policy, err := s.catalog.TierPolicy(ctx, eventID, tier)
	if errors.Is(err, catalog.ErrNotFound) {
		policy = entity.UnlimitedPolicy(eventID, tier)
	} else if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load tier policy", errorbank.WithCause(err))
	}

	if err := cache.SetJSON(ctx, s.cache, key, policy, s.cacheTTL); err != nil {
		s.logger.Warn("tier policy cache write failed", zap.String("key", key), zap.Error(err))
	}
	return policy, nil
}
