package notify

import (
	"context"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// InAppSink stores notifications shown inside the application.
type InAppSink interface {
	Create(ctx context.Context, userID, typ, title, message string, severity model.Severity, category string) error
}

// Publisher pushes real-time events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	PublishToUser(ctx context.Context, userID, queue string, payload any) error
}

// EmailSender delivers an HTML email. Transport failures are returned.
type EmailSender interface {
	Send(ctx context.Context, address, subject, htmlBody string) error
}

// SMSSender delivers a templated text message and reports success.
type SMSSender interface {
	SendTemplated(ctx context.Context, phoneNumber, templateKey string, variables map[string]string) bool
}

// Notifier mirrors alerts to an operations channel such as Slack.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert *model.Alert) error
}

// NotificationStore is the persistence behind StoreSink.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// StoreSink writes in-app notifications to the store.
type StoreSink struct {
	store NotificationStore
}

// NewStoreSink creates an in-app sink over store.
func NewStoreSink(store NotificationStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Create(ctx context.Context, userID, typ, title, message string, severity model.Severity, category string) error {
	return s.store.CreateNotification(ctx, &model.Notification{
		UserID:   userID,
		Type:     typ,
		Title:    title,
		Message:  message,
		Severity: severity,
		Category: category,
	})
}
