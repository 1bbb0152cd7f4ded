package service

import (
	"context"
	"sync"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type NotificationKind string

const (
	NotifyConfirmationInstructions  NotificationKind = "confirmation_instructions"
	NotifyResetPasswordInstructions NotificationKind = "reset_password_instructions"
	NotifyPasswordChange            NotificationKind = "password_change"
	NotifyAccountLocked             NotificationKind = "account_locked"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyConfirmationInstructions, NotifyResetPasswordInstructions, NotifyPasswordChange, NotifyAccountLocked:
		return true
	}
	return false
}

// Notification is the fixed payload handed to the mail collaborator. Token is set only for
// confirmation and reset instructions; ExpiresAt is the token expiry or the end of a lockout.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	UserID    uuid.UUID        `json:"user_id"`
	Email     string           `json:"email"`
	Locale    string           `json:"locale,omitempty"`
	Token     string           `json:"token,omitempty"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"`
}

func ConfirmationInstructions(user *entity.User, token string, expiresAt time.Time) Notification {
	n := newNotification(NotifyConfirmationInstructions, user)
	n.Token = token
	n.ExpiresAt = expiresAt
	return n
}

func ResetPasswordInstructions(user *entity.User, token string, expiresAt time.Time) Notification {
	n := newNotification(NotifyResetPasswordInstructions, user)
	n.Token = token
	n.ExpiresAt = expiresAt
	return n
}

func PasswordChange(user *entity.User) Notification {
	return newNotification(NotifyPasswordChange, user)
}

func AccountLocked(user *entity.User, until time.Time) Notification {
	n := newNotification(NotifyAccountLocked, user)
	n.ExpiresAt = until
	return n
}

func newNotification(kind NotificationKind, user *entity.User) Notification {
	n := Notification{Kind: kind, UserID: user.ID, Email: user.Email}
	if user.Locale != nil {
		n.Locale = *user.Locale
	}
	return n
}

// Notifier accepts notifications without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Mailer delivers one notification. Implementations may block on the network.
type Mailer interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher is a Notifier backed by a bounded queue and a pool of workers calling Mailer.
// Delivery failures are logged and never reach the code that triggered the notification.
type Dispatcher struct {
	mailer  Mailer
	logger  logrus.FieldLogger
	timeout time.Duration
	queue   chan Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(mailer Mailer, logger logrus.FieldLogger, size int) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		mailer:  mailer,
		logger:  logger,
		timeout: 15 * time.Second,
		queue:   make(chan Notification, size),
	}
}

func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) Notify(_ context.Context, n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry := d.logger.WithFields(logrus.Fields{"kind": n.Kind, "user_id": n.UserID})
	if d.closed {
		entry.Warn("notification dropped: dispatcher closed")
		return
	}
	select {
	case d.queue <- n:
	default:
		entry.Warn("notification dropped: queue full")
	}
}

// Close stops accepting notifications and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.mailer.Deliver(ctx, n)
		cancel()
		entry := d.logger.WithFields(logrus.Fields{"kind": n.Kind, "user_id": n.UserID})
		if err != nil {
			entry.WithError(err).Warn("notification delivery failed")
			continue
		}
		entry.Debug("notification delivered")
	}
}
