package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/storage/sqlite"
)

// EventSink is the publish side of the dispatcher, satisfied by the
// JetStream publisher.
type EventSink interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Dispatcher drains the transactional outbox into the event sink.
// Delivery is at-least-once; the sink's MsgId deduplication absorbs the
// replays.
type Dispatcher struct {
	store *sqlite.Store
	sink  EventSink
	log   *zap.Logger

	BatchSize    int
	IdleDelay    time.Duration
	RetryBackoff time.Duration
}

// NewDispatcher creates a dispatcher with the default pacing.
func NewDispatcher(store *sqlite.Store, sink EventSink, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		store:        store,
		sink:         sink,
		log:          log,
		BatchSize:    100,
		IdleDelay:    500 * time.Millisecond,
		RetryBackoff: 10 * time.Second,
	}
}

// Run drains the outbox until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.DrainOnce(ctx)
		if err != nil {
			d.log.Error("dequeue outbox", zap.Error(err))
			d.sleep(ctx, time.Second)
			continue
		}
		if n == 0 {
			d.sleep(ctx, d.IdleDelay)
		}
	}
}

// DrainOnce publishes one batch and reports how many events it
// attempted. Publish failures schedule a retry and do not stop the
// batch.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	messages, err := d.store.DequeueOutbox(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		if err := d.sink.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
			d.log.Warn("publish event",
				zap.Int64("id", msg.ID), zap.String("subject", msg.Subject), zap.Error(err))
			_ = d.store.MarkOutboxRetry(ctx, msg.ID, d.RetryBackoff)
			continue
		}
		if err := d.store.MarkPublished(ctx, msg.ID); err != nil {
			d.log.Warn("mark published", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}
	return len(messages), nil
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
