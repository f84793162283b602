package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/sirupsen/logrus"
)

const expiryLockKey = "lock:invitation-expiry"

var ErrLockNotObtained = errors.New("lock not obtained")

// Locker hands out a cluster wide lock. Acquire returns ErrLockNotObtained
// when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker adapts redislock.
type RedisLocker struct {
	Client *redislock.Client
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.Client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// ExpirySweeper runs InvitationLedger.Expire on an interval. With a Locker
// only one instance sweeps at a time; without one every instance sweeps,
// which is still safe because Expire is idempotent.
type ExpirySweeper struct {
	Ledger   *InvitationLedger
	Locker   Locker
	Interval time.Duration
	Logger   *logrus.Logger
	Now      func() time.Time
}

// DefaultSweepInterval replaces a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

func NewExpirySweeper(ledger *InvitationLedger, locker Locker, interval time.Duration, logger *logrus.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirySweeper{
		Ledger:   ledger,
		Locker:   locker,
		Interval: interval,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(s.Logger, "workflow", "ExpirySweeper.Run", "sweep", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires due invitations and returns how many moved. It returns
// 0 without error when another instance holds the lock.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	res, err := s.Sweep(ctx)
	if err != nil || res == nil {
		return 0, err
	}
	return len(res.Expired), nil
}

// Sweep is SweepOnce returning the expired invitation ids. The result is nil
// when another instance holds the lock.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*ExpireResult, error) {
	if s.Locker != nil {
		ttl := s.Interval
		if ttl < time.Minute {
			ttl = time.Minute
		}
		release, err := s.Locker.Acquire(ctx, expiryLockKey, ttl)
		if errors.Is(err, ErrLockNotObtained) {
			s.Logger.WithFields(logrus.Fields{"field": "ExpirySweeper"}).Debug("another instance is sweeping")
			return nil, nil
		}
		if err != nil {
			// Redis is down: sweep anyway, Expire is safe to run concurrently.
			s.Logger.WithFields(logrus.Fields{"field": "ExpirySweeper"}).Warn("error obtaining redis lock; sweeping without it: " + err.Error())
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.Logger.WithFields(logrus.Fields{"field": "ExpirySweeper"}).Warn("failed to release redis lock: " + err.Error())
				}
			}()
		}
	}

	return s.Ledger.Expire(ctx, s.Now())
}
