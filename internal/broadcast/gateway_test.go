package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/foodpass/internal/entity"
	"github.com/Additional-Code/foodpass/internal/messaging"
)

type recordingRelay struct {
	mu   sync.Mutex
	msgs []messaging.Message
	err  error
}

func (r *recordingRelay) Publish(_ context.Context, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingRelay) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingRelay) Topic() string { return "test" }

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func sampleOrder() *entity.Order {
	return &entity.Order{
		ID:                42,
		Status:            entity.StatusReady,
		VendorOrderNumber: 7,
		Vendor:            &entity.Vendor{Name: "Burger Hut"},
		Ticket:            &entity.Ticket{HolderName: "Rex"},
		Items: []*entity.OrderItem{
			{Qty: 2, MenuItem: &entity.MenuItem{Name: "Burger"}},
			{Qty: 1, MenuItem: &entity.MenuItem{Name: "Fries"}},
		},
	}
}

func TestGatewayDeliversToSubscribersAndRelay(t *testing.T) {
	relay := &recordingRelay{}
	hub := NewHub(4)
	g := NewGateway(Options{Enabled: true, QueueSize: 8, Hub: hub, Relay: relay})
	g.Start()
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	sub := hub.Subscribe(OrdersTopic("FEST"))
	defer sub.Close()
	other := hub.Subscribe(OrdersTopic("OTHER"))
	defer other.Close()

	g.Publish(OrdersTopic("FEST"), NewOrderUpdate("FEST", sampleOrder()))

	select {
	case data := <-sub.C:
		var env struct {
			Topic   string      `json:"topic"`
			Payload OrderUpdate `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "orders/FEST", env.Topic)
		assert.Equal(t, OrderUpdate{
			OrderID:           42,
			EventCode:         "FEST",
			Status:            "READY",
			HolderName:        "Rex",
			VendorName:        "Burger Hut",
			ItemSummary:       "2x Burger, 1x Fries",
			VendorOrderNumber: 7,
		}, env.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}

	assert.Eventually(t, func() bool { return relay.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	relay.mu.Lock()
	assert.Equal(t, "orders/FEST", relay.msgs[0].Headers[messaging.HeaderChannel])
	relay.mu.Unlock()

	select {
	case <-other.C:
		t.Fatal("message leaked to another event")
	default:
	}
}

func TestGatewayDropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g := NewGateway(Options{Enabled: true, QueueSize: 1, Logger: zap.New(core)})

	// not started, so the single slot fills up
	g.Publish("orders/FEST", "first")
	g.Publish("orders/FEST", "second")

	assert.Equal(t, 1, logs.FilterMessage("broadcast queue full; dropping message").Len())
	require.NoError(t, g.Stop(context.Background()))
}

func TestGatewayDisabledIsSilent(t *testing.T) {
	hub := NewHub(1)
	g := NewGateway(Options{Enabled: false, Hub: hub})
	g.Start()
	defer func() { _ = g.Stop(context.Background()) }()

	sub := hub.Subscribe("orders/FEST")
	defer sub.Close()
	g.Publish("orders/FEST", "x")

	select {
	case <-sub.C:
		t.Fatal("disabled gateway delivered a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayErrorsAreSwallowed(t *testing.T) {
	relay := &recordingRelay{err: errors.New("broker down")}
	g := NewGateway(Options{Enabled: true, QueueSize: 4, Relay: relay})
	g.Start()

	g.Publish("orders/FEST", "x")
	g.Publish("orders/FEST", "y")
	require.NoError(t, g.Stop(context.Background()))
	assert.Equal(t, 2, relay.count())
}

func TestSlowSubscriberMissesMessages(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("t")

	hub.Deliver("t", []byte("a"))
	hub.Deliver("t", []byte("b"))

	assert.Equal(t, int64(1), sub.Dropped())
	assert.Equal(t, []byte("a"), <-sub.C)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("t"))
	_, open := <-sub.C
	assert.False(t, open)
}
