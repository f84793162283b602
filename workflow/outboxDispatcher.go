package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/notify"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/sirupsen/logrus"
)

// OutboxDispatcher drains lifecycle events written by the ledger and the
// materializer into the notification emitter. Publishing happens after the
// lifecycle transaction commits, so a failing emitter never rolls it back.
type OutboxDispatcher struct {
	Store        repository.Store
	Emitter      notify.Emitter
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Now func() time.Time
}

func NewOutboxDispatcher(store repository.Store, emitter notify.Emitter, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Store:          store,
		Emitter:        emitter,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.Run", "dispatch batch", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many events
// were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.Now()
	claimed, err := d.Store.ClaimEvents(ctx, models.OutboxClaim{
		DispatcherId: d.DispatcherID,
		Now:          now,
		Limit:        d.BatchSize,
		MaxAttempts:  d.MaxAttempts,
		StaleBefore:  now.Add(-d.LockTimeout),
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range claimed {
		msgID, pubErr := d.Emitter.Emit(ctx, ev.Message())
		if pubErr != nil {
			d.markPublishFailed(ctx, ev, pubErr)
			continue
		}
		if err := d.Store.MarkEventPublished(ctx, ev.ID, msgID, d.Now()); err != nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.DispatchOnce", "mark published", ev.EventId, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) backoffFor(attempt int) time.Duration {
	wait := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait > d.MaxBackoff {
			return d.MaxBackoff
		}
	}
	return wait
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, ev *models.LifecycleEvent, pubErr error) {
	msg := pubErr.Error()
	fields := logrus.Fields{
		"field":      "OutboxDispatcher",
		"event_id":   ev.EventId,
		"event_type": ev.Type,
		"record_id":  ev.ID,
		"attempt":    ev.PublishAttempts,
	}

	// Terminal after MaxAttempts (DLQ equivalent).
	if d.MaxAttempts > 0 && ev.PublishAttempts >= d.MaxAttempts {
		if err := d.Store.MarkEventFailed(ctx, ev.ID, msg, nil); err != nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.markPublishFailed", "mark dead", ev.EventId, err)
		}
		d.Logger.WithFields(fields).Error("event publish moved to DEAD after max attempts: " + msg)
		return
	}

	next := d.Now().Add(d.backoffFor(ev.PublishAttempts))
	if err := d.Store.MarkEventFailed(ctx, ev.ID, msg, &next); err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher.markPublishFailed", "mark failed", ev.EventId, err)
	}
	fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	d.Logger.WithFields(fields).Warn(fmt.Sprintf("event publish failed: %v", pubErr))
}
