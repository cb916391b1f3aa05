// Package broadcast pushes order and vendor status changes to live dashboards.
// Delivery is best effort: nothing here can fail or slow down the caller.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
	"github.com/Additional-Code/foodpass/internal/messaging"
)

const relayTimeout = 5 * time.Second

var meter = otel.Meter("github.com/Additional-Code/foodpass/broadcast")

// Publisher accepts messages for asynchronous delivery.
type Publisher interface {
	Publish(topic string, payload any)
}

// Module provides the hub and gateway, and runs the gateway with the app.
var Module = fx.Options(
	fx.Provide(
		func(cfg config.Config) *Hub { return NewHub(cfg.Broadcast.SubscriberBuf) },
		New,
		func(g *Gateway) Publisher { return g },
	),
	fx.Invoke(func(lc fx.Lifecycle, g *Gateway) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				g.Start()
				return nil
			},
			OnStop: g.Stop,
		})
	}),
)

// Options configures a Gateway.
type Options struct {
	Enabled   bool
	QueueSize int
	Hub       *Hub
	// Relay forwards every envelope to the message bus when set.
	Relay  messaging.Client
	Logger *zap.Logger
}

// Params defines dependencies for constructing the Gateway via Fx.
type Params struct {
	fx.In

	Config config.Config
	Hub    *Hub
	Relay  messaging.Client
	Logger *zap.Logger
}

// Gateway queues envelopes and drains them on a background goroutine.
type Gateway struct {
	enabled bool
	queue   chan Envelope
	hub     *Hub
	relay   messaging.Client
	logger  *zap.Logger

	published metric.Int64Counter
	dropped   metric.Int64Counter

	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Gateway from application config.
func New(p Params) *Gateway {
	var relay messaging.Client
	if p.Config.Messaging.Enabled {
		relay = p.Relay
	}
	return NewGateway(Options{
		Enabled:   p.Config.Broadcast.Enabled,
		QueueSize: p.Config.Broadcast.QueueSize,
		Hub:       p.Hub,
		Relay:     relay,
		Logger:    p.Logger,
	})
}

// NewGateway builds a Gateway. Call Start before publishing.
func NewGateway(opts Options) *Gateway {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(1)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	published, _ := meter.Int64Counter("foodpass.broadcast.published",
		metric.WithDescription("Broadcast envelopes handed to subscribers"))
	dropped, _ := meter.Int64Counter("foodpass.broadcast.dropped",
		metric.WithDescription("Broadcast envelopes discarded because the queue was full"))

	return &Gateway{
		enabled:   opts.Enabled,
		queue:     make(chan Envelope, opts.QueueSize),
		hub:       opts.Hub,
		relay:     opts.Relay,
		logger:    opts.Logger.Named("broadcast"),
		published: published,
		dropped:   dropped,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Hub returns the in-process subscriber hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Publish enqueues payload for topic. It never blocks; a full queue drops the message.
func (g *Gateway) Publish(topic string, payload any) {
	if !g.enabled {
		return
	}
	select {
	case g.queue <- Envelope{Topic: topic, Payload: payload}:
	default:
		g.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topic)))
		g.logger.Warn("broadcast queue full; dropping message", zap.String("topic", topic))
	}
}

// Start launches the drain goroutine.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		go g.run()
	})
}

// Stop flushes what is queued and waits for the drain goroutine, or for ctx.
func (g *Gateway) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.quit) })
	// a gateway that never started has nothing to wait for
	g.startOnce.Do(func() { close(g.done) })
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) run() {
	defer close(g.done)
	for {
		select {
		case env := <-g.queue:
			g.deliver(env)
		case <-g.quit:
			for {
				select {
				case env := <-g.queue:
					g.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (g *Gateway) deliver(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		g.logger.Error("encode broadcast", zap.String("topic", env.Topic), zap.Error(err))
		return
	}

	g.hub.Deliver(env.Topic, data)
	g.published.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", env.Topic)))

	if g.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	err = g.relay.Publish(ctx, messaging.Message{
		Key:   []byte(env.Topic),
		Value: data,
		Time:  time.Now().UTC(),
		Headers: map[string]string{
			messaging.HeaderChannel:     env.Topic,
			messaging.HeaderContentType: "application/json",
		},
	})
	if err != nil {
		g.logger.Warn("relay broadcast failed", zap.String("topic", env.Topic), zap.Error(err))
	}
}
