package storage

import (
	"context"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// Storage defines the persistence layer for alerts and the records the
// alerting engine reads.
type Storage interface {
	// CreateAlert inserts an alert with its initial history. It fails with
	// model.ErrDuplicate when another non-terminal alert holds the same scope key.
	CreateAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert retrieves an alert and its full action history.
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// FindOpenAlert returns the non-terminal alert holding scopeKey.
	FindOpenAlert(ctx context.Context, scopeKey string) (*model.Alert, error)

	// UpdateAlert saves the alert if its version still matches the stored
	// one, then appends the given actions to its history.
	UpdateAlert(ctx context.Context, alert *model.Alert, appended ...model.AlertAction) error

	// DeleteOpenAlert removes an alert only while it is non-terminal.
	DeleteOpenAlert(ctx context.Context, id string) (bool, error)

	// QueryAlerts lists alerts matching the filter, newest detection first.
	// Action history is not loaded.
	QueryAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// AlertHistory returns the audit trail of an alert in append order.
	AlertHistory(ctx context.Context, id string) ([]model.AlertAction, error)

	// AlertStats counts alerts matching the filter by status and severity.
	AlertStats(ctx context.Context, filter model.AlertFilter) (*model.AlertStats, error)

	// SetThreshold creates or updates a threshold keyed by KPI and scope.
	SetThreshold(ctx context.Context, threshold *model.Threshold) error

	// GetThreshold retrieves the threshold for an exact KPI and scope.
	GetThreshold(ctx context.Context, kpiName, dimension, dimensionValue string) (*model.Threshold, error)

	// ListThresholds returns all configured thresholds.
	ListThresholds(ctx context.Context) ([]model.Threshold, error)

	// UpsertInvoice stores a snapshot of a billing record.
	UpsertInvoice(ctx context.Context, invoice *model.Invoice) error

	// ListInvoices returns invoices in any of the given statuses, or all of
	// them when none is given.
	ListInvoices(ctx context.Context, statuses ...model.InvoiceStatus) ([]model.Invoice, error)

	// UpsertUser stores a directory entry.
	UpsertUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a directory entry by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListUsersByRole returns users holding the role, ordered by username.
	ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error)

	// CreateNotification persists an in-app notification.
	CreateNotification(ctx context.Context, n *model.Notification) error

	// ListNotifications returns a user's in-app notifications, newest first.
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)

	// Close releases resources.
	Close() error
}
