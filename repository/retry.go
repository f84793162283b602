package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus"
)

// Retrying bounds every call to the wrapped Store with a per-attempt timeout
// and retries transient failures with exponential backoff. Once retries are
// used up the error surfaces as a StorageUnavailable LifecycleError. Any other
// error is returned on the first attempt.
type Retrying struct {
	next       Store
	timeout    time.Duration
	maxRetries int
	logger     *logrus.Logger

	// NewBackOff builds the schedule for one call. Tests shorten it.
	NewBackOff func() backoff.BackOff
}

func NewRetrying(next Store, timeout time.Duration, maxRetries int, logger *logrus.Logger) *Retrying {
	return &Retrying{
		next:       next,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.Multiplier = 2
			b.MaxInterval = time.Second
			return b
		},
	}
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		// The caller gave up; nothing to retry for.
		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"field":   "storage",
				"op":      op,
				"attempt": attempt,
			}).Warn("transient storage error: " + err.Error())
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.NewBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
	if err == nil {
		return v, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if IsTransient(err) {
		return v, utils.NewStorageUnavailable(err)
	}
	return v, err
}

type none struct{}

func (r *Retrying) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	_, err := retry(ctx, r, "WithinTx", func(ctx context.Context) (none, error) {
		return none{}, r.next.WithinTx(ctx, fn)
	})
	return err
}

func (r *Retrying) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	return retry(ctx, r, "GetInvitation", func(ctx context.Context) (*models.Invitation, error) {
		return r.next.GetInvitation(ctx, id)
	})
}

type listResult[T any] struct {
	items []T
	total int64
}

func (r *Retrying) ListInvitations(ctx context.Context, filter models.InvitationFilter) ([]*models.Invitation, int64, error) {
	res, err := retry(ctx, r, "ListInvitations", func(ctx context.Context) (listResult[*models.Invitation], error) {
		items, total, err := r.next.ListInvitations(ctx, filter)
		return listResult[*models.Invitation]{items, total}, err
	})
	return res.items, res.total, err
}

func (r *Retrying) GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error) {
	return retry(ctx, r, "GetJobRecord", func(ctx context.Context) (*models.JobRecord, error) {
		return r.next.GetJobRecord(ctx, id)
	})
}

func (r *Retrying) ListJobRecords(ctx context.Context, filter models.JobRecordFilter) ([]*models.JobRecord, int64, error) {
	res, err := retry(ctx, r, "ListJobRecords", func(ctx context.Context) (listResult[*models.JobRecord], error) {
		items, total, err := r.next.ListJobRecords(ctx, filter)
		return listResult[*models.JobRecord]{items, total}, err
	})
	return res.items, res.total, err
}

func (r *Retrying) ListEvents(ctx context.Context, entity models.EntityType, id string) ([]*models.LifecycleEvent, error) {
	return retry(ctx, r, "ListEvents", func(ctx context.Context) ([]*models.LifecycleEvent, error) {
		return r.next.ListEvents(ctx, entity, id)
	})
}

func (r *Retrying) ClaimEvents(ctx context.Context, claim models.OutboxClaim) ([]*models.LifecycleEvent, error) {
	return retry(ctx, r, "ClaimEvents", func(ctx context.Context) ([]*models.LifecycleEvent, error) {
		return r.next.ClaimEvents(ctx, claim)
	})
}

func (r *Retrying) MarkEventPublished(ctx context.Context, id int, messageId string, at time.Time) error {
	_, err := retry(ctx, r, "MarkEventPublished", func(ctx context.Context) (none, error) {
		return none{}, r.next.MarkEventPublished(ctx, id, messageId, at)
	})
	return err
}

func (r *Retrying) MarkEventFailed(ctx context.Context, id int, errMsg string, next *time.Time) error {
	_, err := retry(ctx, r, "MarkEventFailed", func(ctx context.Context) (none, error) {
		return none{}, r.next.MarkEventFailed(ctx, id, errMsg, next)
	})
	return err
}
