package models

import "time"

// Publish statuses for LifecycleEvent.PublishStatus (DB values).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxClaim describes which event rows a dispatcher may take.
type OutboxClaim struct {
	DispatcherId string
	Now          time.Time
	Limit        int
	// MaxAttempts moves rows that already used up their attempts to DEAD
	// instead of claiming them. Zero disables the limit.
	MaxAttempts int
	// StaleBefore reclaims PROCESSING rows whose lock is older than this.
	StaleBefore time.Time
}
