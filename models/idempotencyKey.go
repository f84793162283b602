package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

// IdempotencyKey records a client supplied Idempotency-Key for a state changing
// call. The row is written in the same transaction as the transition, so a
// failed call leaves no key behind and can be retried with the same key.
// Unique constraint: (actor_id, operation, idempotency_key).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	ActorId     string            `gorm:"size:64;not null;index:uniq_idem,unique" json:"actor_id"`
	Operation   string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"operation"`
	Key         string            `gorm:"column:idempotency_key;size:255;not null;index:uniq_idem,unique" json:"key"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	// RequestHash is the sha256 of the request body the key was first used with.
	RequestHash string            `gorm:"size:64;not null;default:''" json:"request_hash"`
	Response    *string           `gorm:"type:mediumtext" json:"response"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
