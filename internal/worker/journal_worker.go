package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"kbflow/internal/model"
	"kbflow/internal/platform/rabbitmq"
)

// EventSink stores a consumed event.
type EventSink interface {
	Create(ctx context.Context, event *model.Event) error
}

// JournalWorker drains the event queue into the journal store.
type JournalWorker struct {
	conn      *amqp.Connection
	sink      EventSink
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJournalWorker(conn *amqp.Connection, sink EventSink, queueName string, logger *zap.Logger) *JournalWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalWorker{
		conn:      conn,
		sink:      sink,
		queueName: queueName,
		logger:    logger.Named("journal"),
	}
}

func (w *JournalWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *JournalWorker) handle(ctx context.Context, d amqp.Delivery) {
	event, err := decodeEvent(d.Body)
	if err != nil {
		w.logger.Warn("decode event failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := w.sink.Create(ctx, event); err != nil {
		w.logger.Warn("persist event failed",
			zap.String("kind", string(event.Kind)),
			zap.String("correlation_id", event.CorrelationID),
			zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// decodeEvent drops any producer-side id so the store assigns its own.
func decodeEvent(body []byte) (*model.Event, error) {
	var event model.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event failed: %w", err)
	}
	if event.Kind == "" {
		return nil, fmt.Errorf("event has no kind")
	}
	event.ID = 0
	return &event, nil
}

func (w *JournalWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
