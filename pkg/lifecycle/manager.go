package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
)

// UpdatesTopic is where alert changes are broadcast, and the name of each
// recipient's private queue.
const UpdatesTopic = "alert-updates"

// Publisher pushes real-time events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	PublishToUser(ctx context.Context, userID, queue string, payload any) error
}

// Observer is told about every applied transition.
type Observer interface {
	ObserveTransition(action model.ActionType)
}

// Event is the real-time payload sent after a transition.
type Event struct {
	Type   string       `json:"type"`
	Action string       `json:"action"`
	Alert  *model.Alert `json:"alert"`
}

// Resolution carries what the resolver reports.
type Resolution struct {
	Comment      string `json:"comment"`
	ActionsTaken string `json:"actions_taken"`
}

// Manager applies validated workflow transitions to alerts.
type Manager struct {
	store     storage.Storage
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a lifecycle manager. publisher may be nil.
func NewManager(store storage.Storage, publisher Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers the transition observer.
func (m *Manager) SetObserver(o Observer) { m.observer = o }

// SetClock overrides the manager's notion of now.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Create stores a new alert in PENDING_DECISION with its CREATED entry.
func (m *Manager) Create(ctx context.Context, alert *model.Alert, actorID string) (*model.Alert, error) {
	now := m.now()
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Dimension == "" {
		alert.Dimension = model.DimensionGlobal
	}
	if alert.Status == "" {
		alert.Status = model.StatusWatch
	}
	if alert.Severity == "" {
		alert.Severity = alert.Status.Severity()
	}
	alert.AlertStatus = model.AlertPendingDecision
	alert.DetectedAt = now
	alert.ActionHistory = []model.AlertAction{{
		Type:        model.ActionCreated,
		ActorID:     actorID,
		ActorName:   m.actorName(ctx, actorID),
		Comment:     "Alert created",
		NewStatus:   model.AlertPendingDecision,
		PerformedAt: now,
	}}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	m.afterTransition(ctx, alert, model.ActionCreated)
	return alert, nil
}

// SendToProjectManager hands a pending alert over to the project managers.
func (m *Manager) SendToProjectManager(ctx context.Context, id, actorID, comment string) (*model.Alert, error) {
	return m.transition(ctx, id, actorID, model.ActionSentToPM, comment,
		requireStatus("send to project manager", model.AlertPendingDecision),
		func(a *model.Alert, now time.Time, _ string) {
			a.AlertStatus = model.AlertSentToPM
			a.NotificationSent = true
			a.NotificationSentAt = &now
		})
}

// MarkInProgress records that someone is working on the alert.
func (m *Manager) MarkInProgress(ctx context.Context, id, actorID, comment string) (*model.Alert, error) {
	return m.transition(ctx, id, actorID, model.ActionInProgress, comment, nil,
		func(a *model.Alert, _ time.Time, _ string) {
			a.AlertStatus = model.AlertInProgress
		})
}

// Acknowledge records that the alert was seen, normally after SENT_TO_PM.
func (m *Manager) Acknowledge(ctx context.Context, id, actorID, comment string) (*model.Alert, error) {
	return m.transition(ctx, id, actorID, model.ActionAcknowledged, comment, nil,
		func(a *model.Alert, now time.Time, _ string) {
			a.AlertStatus = model.AlertAcknowledged
			a.AcknowledgedAt = &now
		})
}

// Resolve closes the alert with the resolver's report.
func (m *Manager) Resolve(ctx context.Context, id, actorID string, res Resolution) (*model.Alert, error) {
	return m.transition(ctx, id, actorID, model.ActionResolved, res.Comment, nil,
		func(a *model.Alert, now time.Time, actorName string) {
			a.AlertStatus = model.AlertResolved
			a.ResolvedAt = &now
			a.ResolvedBy = actorID
			a.ResolvedByName = actorName
			a.ResolutionComment = res.Comment
			a.ActionsTaken = res.ActionsTaken
		})
}

// Archive moves a resolved alert to the archive.
func (m *Manager) Archive(ctx context.Context, id, actorID string) (*model.Alert, error) {
	return m.transition(ctx, id, actorID, model.ActionArchived, "Alert archived",
		requireStatus("archive", model.AlertResolved),
		func(a *model.Alert, now time.Time, _ string) {
			a.AlertStatus = model.AlertArchived
			a.ArchivedAt = &now
			a.ArchivedBy = actorID
		})
}

// AddComment appends a comment without changing the workflow state.
func (m *Manager) AddComment(ctx context.Context, id, actorID, comment string) (*model.Alert, error) {
	if comment == "" {
		return nil, fmt.Errorf("add comment: empty comment")
	}
	return m.transition(ctx, id, actorID, model.ActionCommented, comment, nil,
		func(*model.Alert, time.Time, string) {})
}

// AutoArchiveOld archives every alert resolved more than olderThan ago and
// returns how many were archived. Failures are logged and skipped.
func (m *Manager) AutoArchiveOld(ctx context.Context, olderThan time.Duration) (int, error) {
	alerts, err := m.store.QueryAlerts(ctx, model.AlertFilter{
		Statuses:       []model.AlertStatus{model.AlertResolved},
		ResolvedBefore: m.now().Add(-olderThan),
	})
	if err != nil {
		return 0, fmt.Errorf("query resolved alerts: %w", err)
	}

	archived := 0
	for _, a := range alerts {
		if _, err := m.Archive(ctx, a.ID, model.SystemActor); err != nil {
			m.logger.Error("auto-archive alert", "alert_id", a.ID, "error", err)
			continue
		}
		archived++
	}
	if archived > 0 {
		m.logger.Info("archived old alerts", "count", archived)
	}
	return archived, nil
}

type applyFunc func(a *model.Alert, now time.Time, actorName string)

func requireStatus(op string, want model.AlertStatus) func(*model.Alert) error {
	return func(a *model.Alert) error {
		if a.AlertStatus != want {
			return &model.TransitionError{Op: op, Want: want, Got: a.AlertStatus}
		}
		return nil
	}
}

// transition loads the alert, checks the guard, applies the change and saves
// it together with exactly one new history entry.
func (m *Manager) transition(ctx context.Context, id, actorID string, action model.ActionType, comment string, guard func(*model.Alert) error, apply applyFunc) (*model.Alert, error) {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(alert); err != nil {
			return nil, err
		}
	}

	now := m.now()
	actorName := m.actorName(ctx, actorID)
	previous := alert.AlertStatus
	apply(alert, now, actorName)

	entry := model.AlertAction{
		Type:           action,
		ActorID:        actorID,
		ActorName:      actorName,
		Comment:        comment,
		PreviousStatus: previous,
		NewStatus:      alert.AlertStatus,
		PerformedAt:    now,
	}
	if err := m.store.UpdateAlert(ctx, alert, entry); err != nil {
		return nil, fmt.Errorf("%s alert %s: %w", action, id, err)
	}

	m.logger.Info("alert transition",
		"alert_id", id,
		"action", action,
		"from", previous,
		"to", alert.AlertStatus,
		"actor", actorID,
	)
	m.afterTransition(ctx, alert, action)
	return alert, nil
}

func (m *Manager) afterTransition(ctx context.Context, alert *model.Alert, action model.ActionType) {
	if m.observer != nil {
		m.observer.ObserveTransition(action)
	}
	if m.publisher == nil {
		return
	}
	ev := Event{Type: "ALERT_UPDATED", Action: string(action), Alert: alert}
	if err := m.publisher.Publish(ctx, UpdatesTopic, ev); err != nil {
		m.logger.Warn("publish alert update", "alert_id", alert.ID, "error", err)
	}
	for _, userID := range alert.Recipients {
		if err := m.publisher.PublishToUser(ctx, userID, UpdatesTopic, ev); err != nil {
			m.logger.Warn("publish alert update to user", "alert_id", alert.ID, "user", userID, "error", err)
		}
	}
}

// actorName resolves a display name, falling back to the raw id.
func (m *Manager) actorName(ctx context.Context, actorID string) string {
	if actorID == "" || actorID == model.SystemActor {
		return model.SystemActorName
	}
	user, err := m.store.GetUser(ctx, actorID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			m.logger.Warn("resolve actor name", "actor", actorID, "error", err)
		}
		return actorID
	}
	return user.DisplayName()
}
