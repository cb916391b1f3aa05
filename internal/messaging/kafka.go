package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/Additional-Code/foodpass/internal/config"
)

// handlerAttempts bounds redelivery of one record before it is skipped.
const handlerAttempts = 5

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaClient struct {
	writer kafkaWriter
	reader kafkaReader
	topic  string
	logger *zap.Logger
	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

func newKafkaClient(cfg config.Config, logger *zap.Logger) *kafkaClient {
	k := cfg.Messaging.Kafka
	kl := kafkaLogger{logger: logger.Named("kafka")}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.Brokers...),
		Topic:        k.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Logger:       kl,
		ErrorLogger:  kl,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.Brokers,
		GroupID:        cfg.Messaging.ConsumerGroup,
		Topic:          k.Topic,
		MinBytes:       k.MinBytes,
		MaxBytes:       k.MaxBytes,
		CommitInterval: k.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  k.ConnectTimeout,
			ClientID: k.ClientID,
		},
	})

	return &kafkaClient{writer: writer, reader: reader, topic: k.Topic, logger: logger, newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Publish writes msg with the caller's trace context injected into headers.
func (k *kafkaClient) Publish(ctx context.Context, msg Message) error {
	carrier := propagation.MapCarrier{}
	for name, value := range msg.Headers {
		carrier[name] = value
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	out := kafka.Message{Key: msg.Key, Value: msg.Value, Time: msg.Time}
	for name, value := range carrier {
		out.Headers = append(out.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	return k.writer.WriteMessages(ctx, out)
}

// Consume fetches records until ctx ends. Fetch errors and handler failures
// back off exponentially; a record failing handlerAttempts times is committed
// and skipped so one bad envelope cannot stall the partition.
func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	fetchBackOff := k.newBackOff()
	for {
		record, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))
			if err := sleep(ctx, fetchBackOff.NextBackOff()); err != nil {
				return err
			}
			continue
		}
		fetchBackOff.Reset()

		msg := fromKafka(record)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))

		if err := k.handle(msgCtx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("message skipped after retries",
				zap.Error(err),
				zap.String("channel", msg.Headers[HeaderChannel]),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := k.reader.CommitMessages(ctx, record); err != nil && !errors.Is(err, context.Canceled) {
			k.logger.Warn("commit failed", zap.Error(err), zap.Int64("offset", record.Offset))
		}
	}
}

func (k *kafkaClient) handle(ctx context.Context, handler Handler, msg Message) error {
	retry := k.newBackOff()
	var err error
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		k.logger.Warn("message handler failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int64("offset", msg.Offset),
		)
		if attempt < handlerAttempts {
			if serr := sleep(ctx, retry.NextBackOff()); serr != nil {
				return serr
			}
		}
	}
	return err
}

func (k *kafkaClient) Topic() string { return k.topic }

func (k *kafkaClient) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

func fromKafka(record kafka.Message) Message {
	msg := Message{
		Topic:  record.Topic,
		Key:    append([]byte(nil), record.Key...),
		Value:  append([]byte(nil), record.Value...),
		Offset: record.Offset,
		Time:   record.Time,
	}
	if len(record.Headers) > 0 {
		msg.Headers = make(map[string]string, len(record.Headers))
		for _, h := range record.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...any) {
	k.logger.Sugar().Debugf(msg, args...)
}
