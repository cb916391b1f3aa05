// Package messaging relays broadcast envelopes through Kafka so that
// background workers and other replicas observe order and vendor changes.
package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
)

// Header names set on relayed broadcast messages.
const (
	HeaderChannel     = "foodpass-channel"
	HeaderContentType = "content-type"
)

// Message is one record on the bus. Key selects the partition, so records
// sharing a broadcast channel stay ordered.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Handler processes an inbound message. A returned error triggers redelivery.
type Handler func(context.Context, Message) error

// Client publishes to and consumes from the configured topic.
type Client interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
}

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// NewClient builds the client selected by MESSAGING_DRIVER.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.Messaging.Driver {
	case "noop":
		logger.Info("messaging disabled, broadcasts stay local")
		return NewNoop(cfg.Messaging.Kafka.Topic), nil
	case "kafka":
		client := newKafkaClient(cfg, logger)
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

// NewNoop returns a client that drops publishes and blocks consumers until cancelled.
func NewNoop(topic string) Client {
	return noopClient{topic: topic}
}

type noopClient struct {
	topic string
}

func (n noopClient) Publish(context.Context, Message) error { return nil }

func (n noopClient) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (n noopClient) Topic() string { return n.topic }
