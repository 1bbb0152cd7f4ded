package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogMailer stands in for a real mailer in development. Tokens are never logged.
type LogMailer struct {
	Logger logrus.FieldLogger
}

func (m LogMailer) Deliver(_ context.Context, n Notification) error {
	m.Logger.WithFields(logrus.Fields{
		"kind":    n.Kind,
		"user_id": n.UserID,
		"email":   n.Email,
	}).Info("notification")
	return nil
}
