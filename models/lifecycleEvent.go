package models

import (
	"encoding/json"
	"time"
)

// LifecycleEvent is both the audit row for a transition and the outbox record
// the dispatcher publishes. It is written in the same transaction as the
// transition it describes; publishing happens afterwards.
type LifecycleEvent struct {
	ID            int        `gorm:"primary_key" json:"id"`
	EventId       string     `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	Type          EventType  `gorm:"size:40;not null;index" json:"type"`
	EntityType    EntityType `gorm:"size:20;not null" json:"entity_type"`
	InvitationId  *string    `gorm:"size:36;index" json:"invitation_id,omitempty"`
	JobId         *string    `gorm:"size:36;index" json:"job_id,omitempty"`
	ActorId       string     `gorm:"size:64;not null" json:"actor_id"`
	ActorRole     ActorRole  `gorm:"size:20;not null" json:"actor_role"`
	FromStatus    *string    `gorm:"size:20" json:"from_status,omitempty"`
	ToStatus      string     `gorm:"size:20;not null" json:"to_status"`
	CorrelationId *string    `gorm:"size:64" json:"correlation_id,omitempty"`
	Payload       *string    `gorm:"type:text" json:"payload,omitempty"`
	OccurredAt    time.Time  `gorm:"not null" json:"occurred_at"`

	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index:idx_events_publish,priority:1" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_events_publish,priority:2" json:"next_attempt_at,omitempty"`
	LockedAt         *time.Time `json:"-"`
	LockedBy         *string    `gorm:"size:64" json:"-"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	MessageId        *string    `gorm:"size:255" json:"message_id,omitempty"`
}

// EventMessage is the wire form handed to the notification emitter.
type EventMessage struct {
	EventId       string          `json:"event_id"`
	Type          EventType       `json:"type"`
	InvitationId  *string         `json:"invitation_id,omitempty"`
	JobId         *string         `json:"job_id,omitempty"`
	ActorId       string          `json:"actor_id"`
	ActorRole     ActorRole       `json:"actor_role"`
	FromStatus    *string         `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status"`
	CorrelationId *string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func (e LifecycleEvent) Message() EventMessage {
	msg := EventMessage{
		EventId:       e.EventId,
		Type:          e.Type,
		InvitationId:  e.InvitationId,
		JobId:         e.JobId,
		ActorId:       e.ActorId,
		ActorRole:     e.ActorRole,
		FromStatus:    e.FromStatus,
		ToStatus:      e.ToStatus,
		CorrelationId: e.CorrelationId,
		Timestamp:     e.OccurredAt,
	}
	if e.Payload != nil && json.Valid([]byte(*e.Payload)) {
		msg.Payload = json.RawMessage(*e.Payload)
	}
	return msg
}

// Attributes are the Pub/Sub message attributes subscribers filter on.
func (m EventMessage) Attributes() map[string]string {
	attrs := map[string]string{
		"event_id":   m.EventId,
		"event_type": string(m.Type),
		"actor_id":   m.ActorId,
	}
	if m.InvitationId != nil {
		attrs["invitation_id"] = *m.InvitationId
	}
	if m.JobId != nil {
		attrs["job_id"] = *m.JobId
	}
	if m.CorrelationId != nil {
		attrs["correlation_id"] = *m.CorrelationId
	}
	return attrs
}
