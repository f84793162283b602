package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NewPubSubClient initializes a Pub/Sub client with a few retries. It uses
// Application Default Credentials unless CredentialsJSON is provided.
func NewPubSubClient(ctx context.Context, cfg PubSubConfig, logg *logrus.Logger) (*pubsub.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID not set")
	}

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if cfg.CredentialsJSON != "" {
			c, err = pubsub.NewClient(ctx, cfg.ProjectID, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, cfg.ProjectID)
		}
		if err == nil {
			logg.WithFields(logrus.Fields{"field": "pubsub", "project_id": cfg.ProjectID, "attempt": attempt}).Info("pubsub client ready")
			return c, nil
		}
		if attempt >= 5 {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}

		sleep := time.Second * time.Duration(1<<attempt)
		logg.WithFields(logrus.Fields{
			"field":      "pubsub",
			"project_id": cfg.ProjectID,
			"attempt":    attempt,
		}).Warn(fmt.Sprintf("failed to init pubsub client: %v; retrying in %s", err, sleep))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}
