// Package repository persists invitations, job records, lifecycle events and
// idempotency keys. Every status change goes through a conditional update so
// concurrent callers on the same row cannot both succeed.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shiftcrew/dispatch_backend/models"
)

// ErrDuplicateKey is returned when an insert violates a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrForeignKey is returned when a job record references a missing invitation.
var ErrForeignKey = errors.New("foreign key constraint fails")

// Reader methods return utils.ErrorRecordNotFound for missing rows.
type Reader interface {
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	ListInvitations(ctx context.Context, filter models.InvitationFilter) ([]*models.Invitation, int64, error)
	GetJobRecord(ctx context.Context, id string) (*models.JobRecord, error)
	ListJobRecords(ctx context.Context, filter models.JobRecordFilter) ([]*models.JobRecord, int64, error)
	ListEvents(ctx context.Context, entity models.EntityType, id string) ([]*models.LifecycleEvent, error)
}

// Tx is the transactional view handed to WithinTx callbacks.
type Tx interface {
	Reader

	// LockInvitation and LockJobRecord read the row FOR UPDATE.
	LockInvitation(ctx context.Context, id string) (*models.Invitation, error)
	LockJobRecord(ctx context.Context, id string) (*models.JobRecord, error)

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	FindInvitationByActiveKey(ctx context.Context, activeKey string) (*models.Invitation, error)
	// TransitionInvitation applies change only if the row is still in status
	// from. It reports whether the row was updated.
	TransitionInvitation(ctx context.Context, id string, from models.InvitationStatus, change models.InvitationChange) (bool, error)
	// PendingInvitationsCreatedBefore locks up to limit pending rows created at
	// or before cutoff, skipping rows locked by other transactions.
	PendingInvitationsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invitation, error)

	CreateJobRecord(ctx context.Context, job *models.JobRecord) error
	FindJobRecordByInvitation(ctx context.Context, invitationId string) (*models.JobRecord, error)
	TransitionJobRecord(ctx context.Context, id string, from models.JobRecordStatus, change models.JobRecordChange) (bool, error)

	AppendEvent(ctx context.Context, ev *models.LifecycleEvent) error

	CreateIdempotencyKey(ctx context.Context, key *models.IdempotencyKey) error
	GetIdempotencyKey(ctx context.Context, actorId, operation, key string) (*models.IdempotencyKey, error)
	CompleteIdempotencyKey(ctx context.Context, id int, response string) error
}

type Store interface {
	Reader

	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ClaimEvents marks publishable rows PROCESSING for claim.DispatcherId and
	// returns them. Rows past claim.MaxAttempts are moved to DEAD instead.
	ClaimEvents(ctx context.Context, claim models.OutboxClaim) ([]*models.LifecycleEvent, error)
	MarkEventPublished(ctx context.Context, id int, messageId string, at time.Time) error
	// MarkEventFailed records a publish failure. A nil next moves the row to DEAD.
	MarkEventFailed(ctx context.Context, id int, errMsg string, next *time.Time) error
}
