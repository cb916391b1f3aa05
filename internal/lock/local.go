package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Local implements Locker with one buffered channel per key. ttl is ignored:
// a holder in the same process cannot vanish without releasing.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal builds an in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx ends.
func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (Release, error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-slot })
		return nil
	}, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}
