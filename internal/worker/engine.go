// Package worker runs the background consumers fed by relayed broadcasts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/messaging"
)

var meter = otel.Meter("github.com/Additional-Code/foodpass/worker")

// HandlerRegistration binds a broadcast channel prefix, such as "orders/",
// to a handler.
type HandlerRegistration struct {
	Channel string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine fans relayed messages out to the handler whose channel prefix
// matches the message's channel header.
type Engine struct {
	client   messaging.Client
	logger   *zap.Logger
	cfg      config.Config
	routes   []HandlerRegistration
	handled  metric.Int64Counter
	cancel   context.CancelFunc
	done     chan struct{}
	retryGap func() backoff.BackOff
}

// NewEngine constructs the worker Engine. Longer prefixes win.
func NewEngine(p Params) *Engine {
	routes := make([]HandlerRegistration, 0, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Channel == "" || r.Handler == nil {
			continue
		}
		routes = append(routes, r)
	}
	sort.SliceStable(routes, func(i, j int) bool { return len(routes[i].Channel) > len(routes[j].Channel) })

	handled, _ := meter.Int64Counter("foodpass.worker.messages",
		metric.WithDescription("Relayed messages processed by channel and outcome"))

	return &Engine{
		client:  p.Client,
		logger:  p.Logger,
		cfg:     p.Config,
		routes:  routes,
		handled: handled,
		retryGap: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.Start,
			OnStop:  engine.Stop,
		})
	}),
)

// Start launches the configured number of consumers.
func (e *Engine) Start(context.Context) error {
	if e.cfg.Messaging.Driver == "noop" || !e.cfg.Messaging.Workers.Enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.routes) == 0 {
		e.logger.Info("worker engine has no handlers, skipping")
		return nil
	}

	concurrency := max(e.cfg.Messaging.Workers.Concurrency, 1)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	g, gctx := errgroup.WithContext(runCtx)
	for id := range concurrency {
		g.Go(func() error {
			e.consumeLoop(gctx, id)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(e.done)
	}()

	e.logger.Info("worker engine started", zap.Int("workers", concurrency), zap.Int("routes", len(e.routes)))
	return nil
}

// Stop cancels consumers and waits for in-flight handlers or ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// Dispatch routes one message. Messages on channels nobody handles are acknowledged.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) (err error) {
	channel := msg.Headers[messaging.HeaderChannel]
	route, ok := e.route(channel)
	if !ok {
		e.logger.Debug("no handler for channel", zap.String("channel", channel))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", route.Channel, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.handled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", route.Channel),
			attribute.String("outcome", outcome),
		))
	}()

	return route.Handler(ctx, msg)
}

func (e *Engine) route(channel string) (HandlerRegistration, bool) {
	for _, r := range e.routes {
		if strings.HasPrefix(channel, r.Channel) {
			return r, true
		}
	}
	return HandlerRegistration{}, false
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	gap := e.retryGap()
	for {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			gap.Reset()
			return e.Dispatch(msgCtx, msg)
		})
		if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
			return
		}

		wait := gap.NextBackOff()
		e.logger.Error("consume loop error", zap.Int("worker", workerID), zap.Duration("retry_in", wait), zap.Error(err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
