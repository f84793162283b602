// Package notify delivers lifecycle events to the notification service.
// Delivery is best effort; the lifecycle transaction never waits on it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/sirupsen/logrus"
)

// Emitter publishes one event and returns the transport's message id.
type Emitter interface {
	Emit(ctx context.Context, msg models.EventMessage) (string, error)
}

// LogEmitter writes events to the log. Used when no broker is configured.
type LogEmitter struct {
	Logger *logrus.Logger
}

func (e *LogEmitter) Emit(_ context.Context, msg models.EventMessage) (string, error) {
	fields := logrus.Fields{
		"field":      "notify",
		"event_id":   msg.EventId,
		"event_type": msg.Type,
		"actor_id":   msg.ActorId,
		"to_status":  msg.ToStatus,
	}
	if msg.InvitationId != nil {
		fields["invitation_id"] = *msg.InvitationId
	}
	if msg.JobId != nil {
		fields["job_id"] = *msg.JobId
	}
	e.Logger.WithFields(fields).Info("lifecycle event")
	return "log-" + uuid.NewString(), nil
}

// PubSubEmitter publishes events as JSON to one topic with ordering by entity.
type PubSubEmitter struct {
	topic *pubsub.Topic
}

func NewPubSubEmitter(topic *pubsub.Topic) *PubSubEmitter {
	topic.EnableMessageOrdering = true
	return &PubSubEmitter{topic: topic}
}

func orderingKey(msg models.EventMessage) string {
	if msg.JobId != nil {
		return "job:" + *msg.JobId
	}
	if msg.InvitationId != nil {
		return "invitation:" + *msg.InvitationId
	}
	return ""
}

func (e *PubSubEmitter) Emit(ctx context.Context, msg models.EventMessage) (string, error) {
	if e.topic == nil {
		return "", errors.New("pubsub topic is nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", msg.EventId, err)
	}
	key := orderingKey(msg)
	res := e.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  msg.Attributes(),
		OrderingKey: key,
	})
	id, err := res.Get(ctx)
	if err != nil {
		// A failed publish pauses the ordering key until resumed.
		if key != "" {
			e.topic.ResumePublish(key)
		}
		return "", err
	}
	return id, nil
}

// Stop flushes pending publishes.
func (e *PubSubEmitter) Stop() {
	if e.topic != nil {
		e.topic.Stop()
	}
}
