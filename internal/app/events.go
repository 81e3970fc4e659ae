package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kbflow/internal/model"
)

// EventPublisher ships journal events off the request path.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Event) error { return nil }

// NopPublisher discards events.
func NopPublisher() EventPublisher { return nopPublisher{} }

type journal struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func newJournal(publisher EventPublisher, logger *zap.Logger) journal {
	if publisher == nil {
		publisher = NopPublisher()
	}
	return journal{publisher: publisher, logger: logger}
}

// record publishes best-effort; a broken event bus never fails an orchestration action.
func (j journal) record(ctx context.Context, event model.Event) {
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := j.publisher.Publish(ctx, event); err != nil {
		j.logger.Warn("publish event failed",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// EventStore persists events synchronously.
type EventStore interface {
	Create(ctx context.Context, event *model.Event) error
}

type storePublisher struct {
	store EventStore
}

func (p storePublisher) Publish(ctx context.Context, event model.Event) error {
	return p.store.Create(ctx, &event)
}

// StorePublisher writes events straight to the store when no broker is configured.
func StorePublisher(store EventStore) EventPublisher {
	return storePublisher{store: store}
}
