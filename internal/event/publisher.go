package event

import (
	"context"
	"time"
)

// Store is the append-only persistence behind the publisher.
type Store interface {
	Append(ctx context.Context, e Event) error
}

// Publisher captures structured lifecycle events. It is append-only and uses
// the storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit stamps and persists one event.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return p.store.Append(ctx, e)
}
