package lifecycle

import (
	"context"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// RecentWindow bounds RecentlyResolved.
const RecentWindow = 7 * 24 * time.Hour

// PendingDecision lists invoice alerts still waiting for a decision-maker.
func (m *Manager) PendingDecision(ctx context.Context) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, model.AlertFilter{
		Statuses: []model.AlertStatus{model.AlertPendingDecision},
		KpiNames: []string{model.KindPendingInvoice, model.KindOverdueInvoice},
	})
}

// Active lists the open alerts addressed to userID.
func (m *Manager) Active(ctx context.Context, userID string) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, model.AlertFilter{
		Recipient: userID,
		Statuses:  model.OpenStatuses(),
	})
}

// RecentlyResolved lists alerts addressed to userID resolved in the last week.
func (m *Manager) RecentlyResolved(ctx context.Context, userID string) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, model.AlertFilter{
		Recipient:     userID,
		Statuses:      []model.AlertStatus{model.AlertResolved},
		ResolvedAfter: m.now().Add(-RecentWindow),
	})
}

// Archived lists the archived alerts addressed to userID.
func (m *Manager) Archived(ctx context.Context, userID string) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, model.AlertFilter{
		Recipient: userID,
		Statuses:  []model.AlertStatus{model.AlertArchived},
	})
}

// History returns an alert's audit trail.
func (m *Manager) History(ctx context.Context, id string) ([]model.AlertAction, error) {
	if _, err := m.store.GetAlert(ctx, id); err != nil {
		return nil, err
	}
	return m.store.AlertHistory(ctx, id)
}

// Statistics counts the alerts addressed to userID, or all alerts when
// userID is empty.
func (m *Manager) Statistics(ctx context.Context, userID string) (*model.AlertStats, error) {
	return m.store.AlertStats(ctx, model.AlertFilter{Recipient: userID})
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, id string) (*model.Alert, error) {
	return m.store.GetAlert(ctx, id)
}

// Search lists the alerts matching filter.
func (m *Manager) Search(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, filter)
}
