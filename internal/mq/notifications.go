package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"authcore/internal/service"

	"github.com/sirupsen/logrus"
)

const kindAttribute = "kind"

// Publisher is the part of RabbitMQClient NotificationPublisher needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, queue string, handler Handler) error
}

// NotificationPublisher is a service.Mailer that hands notifications to a queue; a
// mail-worker process delivers them.
type NotificationPublisher struct {
	publisher Publisher
	queue     string
}

func NewNotificationPublisher(publisher Publisher, queue string) *NotificationPublisher {
	return &NotificationPublisher{publisher: publisher, queue: queue}
}

func (p *NotificationPublisher) Deliver(ctx context.Context, n service.Notification) error {
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = p.publisher.Publish(ctx, p.queue, data, map[string]string{kindAttribute: string(n.Kind)})
	return err
}

// NotificationHandler decodes queued notifications and delivers them through mailer.
// Payloads that can never be delivered fail permanently and go to the dead-letter queue;
// other mailer errors are retried.
func NotificationHandler(mailer service.Mailer, logger logrus.FieldLogger) Handler {
	return func(ctx context.Context, msg Message) error {
		entry := logger.WithFields(logrus.Fields{"message_id": msg.ID, "attempt": msg.Attempt})
		var n service.Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			entry.WithError(err).Error("undecodable notification")
			return Permanent(err)
		}
		if !n.Kind.Valid() {
			entry.WithField("kind", n.Kind).Error("notification of unknown kind")
			return Permanent(fmt.Errorf("unknown notification kind %q", n.Kind))
		}
		entry = entry.WithFields(logrus.Fields{"kind": n.Kind, "user_id": n.UserID})
		if err := mailer.Deliver(ctx, n); err != nil {
			if errors.Is(err, service.ErrUndeliverable) {
				entry.WithError(err).Error("notification cannot be delivered")
				return Permanent(err)
			}
			entry.WithError(err).Warn("notification delivery failed")
			return err
		}
		return nil
	}
}

// ConsumeNotifications blocks until ctx is cancelled.
func ConsumeNotifications(ctx context.Context, subscriber Subscriber, queue string, mailer service.Mailer, logger logrus.FieldLogger) error {
	err := subscriber.Subscribe(ctx, queue, NotificationHandler(mailer, logger))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
