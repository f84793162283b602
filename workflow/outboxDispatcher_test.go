package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus/hooks/test"
)

type recordingEmitter struct {
	mu   sync.Mutex
	err  error
	sent []models.EventMessage
}

func (e *recordingEmitter) Emit(ctx context.Context, msg models.EventMessage) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.sent = append(e.sent, msg)
	return "msg-" + msg.EventId, nil
}

func newDispatcher(h *harness, emitter *recordingEmitter) *OutboxDispatcher {
	logger, _ := test.NewNullLogger()
	d := NewOutboxDispatcher(h.store, emitter, logger)
	d.Now = h.clock.Now
	d.MaxAttempts = 3
	return d
}

func TestDispatcherPublishesCommittedEvents(t *testing.T) {
	h := newActiveHarness(t)
	inv := h.invite(t, "P1", "W1")
	h.accept(t, inv, workerW1)

	emitter := &recordingEmitter{}
	sent, err := newDispatcher(h, emitter).DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	// invitation.created, invitation.responded, job.assigned
	if sent != 3 || len(emitter.sent) != 3 {
		t.Fatalf("expected 3 events sent, got %d (%d recorded)", sent, len(emitter.sent))
	}

	sent, err = newDispatcher(h, emitter).DispatchOnce(context.Background())
	if err != nil || sent != 0 {
		t.Fatalf("sent events must not be claimed again, got %d, %v", sent, err)
	}

	events, _ := h.store.ListEvents(context.Background(), models.EntityInvitation, inv.ID)
	for _, ev := range events {
		if ev.PublishStatus != models.OutboxPublishStatusSent || ev.MessageId == nil {
			t.Fatalf("expected event %s to be SENT, got %+v", ev.EventId, ev)
		}
	}
}

func TestDispatcherFailureNeverRollsBackLifecycle(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	inv := h.invite(t, "P1", "W1")

	emitter := &recordingEmitter{err: errors.New("broker unavailable")}
	d := newDispatcher(h, emitter)

	for attempt := 1; attempt <= d.MaxAttempts; attempt++ {
		if _, err := d.DispatchOnce(ctx); err != nil {
			t.Fatalf("DispatchOnce: %v", err)
		}
		events, _ := h.store.ListEvents(ctx, models.EntityInvitation, inv.ID)
		ev := events[0]
		if ev.PublishAttempts != attempt {
			t.Fatalf("attempt %d: expected %d publish attempts, got %d", attempt, attempt, ev.PublishAttempts)
		}
		want := models.OutboxPublishStatusFailed
		if attempt == d.MaxAttempts {
			want = models.OutboxPublishStatusDead
		}
		if ev.PublishStatus != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, ev.PublishStatus)
		}
		// Let the backoff elapse.
		h.clock.Advance(time.Hour)
	}

	stored, err := h.store.GetInvitation(ctx, inv.ID)
	if err != nil || stored.Status != models.InvitationStatusPending {
		t.Fatalf("invitation must stay committed despite delivery failures, got %+v, %v", stored, err)
	}
	if _, err := h.engine.Invitations.Respond(ctx, inv.ID, workerW1, &models.InvitationResponse{Decision: models.DecisionAccepted}); err != nil {
		t.Fatalf("lifecycle must keep working while the emitter is down: %v", err)
	}
}

func TestDispatcherBackoff(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 10: 5 * time.Second}
	for attempt, want := range cases {
		if got := d.backoffFor(attempt); got != want {
			t.Fatalf("backoffFor(%d) = %s, want %s", attempt, got, want)
		}
	}
}

type fakeLocker struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func TestExpirySweeper(t *testing.T) {
	h := newActiveHarness(t)
	h.invite(t, "P1", "W1")
	logger, _ := test.NewNullLogger()

	busy := &fakeLocker{err: ErrLockNotObtained}
	s := NewExpirySweeper(h.engine.Invitations, busy, time.Minute, logger)
	s.Now = func() time.Time { return h.clock.Now().Add(8 * 24 * time.Hour) }
	n, err := s.SweepOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("sweep without the lock must skip, got %d, %v", n, err)
	}

	free := &fakeLocker{}
	s.Locker = free
	n, err = s.SweepOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d, %v", n, err)
	}
	if free.acquired != 1 || free.released != 1 {
		t.Fatalf("lock must be acquired and released once, got %d/%d", free.acquired, free.released)
	}

	// A broken lock backend still sweeps.
	inv := h.invite(t, "P1", "W1")
	s.Locker = &fakeLocker{err: errors.New("redis: connection refused")}
	res, err := s.Sweep(context.Background())
	if err != nil || res == nil || len(res.Expired) != 1 || res.Expired[0] != inv.ID {
		t.Fatalf("expected %s expired without lock backend, got %+v, %v", inv.ID, res, err)
	}

	s.Locker = busy
	if res, err := s.Sweep(context.Background()); err != nil || res != nil {
		t.Fatalf("a skipped sweep reports no result, got %+v, %v", res, err)
	}
}

func TestStorageOutageSurfacesAsUnavailable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := repository.NewMemoryStore()
	store := repository.NewRetrying(mem, time.Second, 2, logger)
	store.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	engine := NewEngine(store, testResolver(), Options{Logger: logger})

	calls := 0
	mem.Fault = func(op string) error {
		calls++
		return repository.ErrTransient
	}
	_, err := engine.Invitations.Create(context.Background(), companyC1, invitationInput("P1", "W1"))
	expectKind(t, err, utils.KindStorageUnavailable, "")
	if calls != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", calls)
	}

	mem.Fault = nil
	if _, err := engine.Invitations.Create(context.Background(), companyC1, invitationInput("P1", "W1")); err != nil {
		t.Fatalf("Create after recovery: %v", err)
	}
}

func TestExpirySweeperNonPositiveInterval(t *testing.T) {
	h := newActiveHarness(t)
	logger, _ := test.NewNullLogger()

	s := NewExpirySweeper(h.engine.Invitations, nil, 0, logger)
	if s.Interval != DefaultSweepInterval {
		t.Fatalf("expected default interval, got %s", s.Interval)
	}

	s.Interval = -time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
