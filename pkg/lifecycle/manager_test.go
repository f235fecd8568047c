package lifecycle_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/lifecycle"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	user, topic string
	payload     any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, payload: payload})
	return p.err
}

func (p *fakePublisher) PublishToUser(_ context.Context, userID, queue string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{user: userID, topic: queue, payload: payload})
	return p.err
}

func newTestManager(t *testing.T) (*lifecycle.Manager, storage.Storage, *fakePublisher) {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertUser(context.Background(), &model.User{
		ID: "dm-1", Username: "amira", FullName: "Amira Ben Salah", Roles: []model.Role{model.RoleDecisionMaker},
	}))

	pub := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return lifecycle.NewManager(store, pub, logger), store, pub
}

func newAlert(t *testing.T, m *lifecycle.Manager) *model.Alert {
	t.Helper()
	a, err := m.Create(context.Background(), &model.Alert{
		KpiName:          model.KindOverdueInvoice,
		Dimension:        model.DimensionInvoice,
		DimensionValue:   "F-1",
		RelatedInvoiceID: "inv-1",
		Severity:         model.SeverityMedium,
		Status:           model.StatusAbnormal,
		Message:          "Invoice F-1 is 35 days overdue",
		Recipients:       []string{"dm-1", "pm-1"},
	}, model.SystemActor)
	require.NoError(t, err)
	return a
}

func TestManager_Create(t *testing.T) {
	m, store, pub := newTestManager(t)
	a := newAlert(t, m)

	got, err := store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertPendingDecision, got.AlertStatus)
	require.Len(t, got.ActionHistory, 1)
	assert.Equal(t, model.ActionCreated, got.ActionHistory[0].Type)
	assert.Equal(t, model.SystemActorName, got.ActionHistory[0].ActorName)

	// One broadcast plus one private event per recipient.
	assert.Len(t, pub.sent, 3)
}

func TestManager_FullWorkflow(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	a := newAlert(t, m)

	got, err := m.SendToProjectManager(ctx, a.ID, "dm-1", "please follow up")
	require.NoError(t, err)
	assert.Equal(t, model.AlertSentToPM, got.AlertStatus)
	assert.True(t, got.NotificationSent)
	assert.NotNil(t, got.NotificationSentAt)

	got, err = m.Acknowledge(ctx, a.ID, "pm-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.AlertAcknowledged, got.AlertStatus)
	assert.NotNil(t, got.AcknowledgedAt)

	got, err = m.MarkInProgress(ctx, a.ID, "pm-1", "calling the client")
	require.NoError(t, err)
	assert.Equal(t, model.AlertInProgress, got.AlertStatus)

	got, err = m.Resolve(ctx, a.ID, "dm-1", lifecycle.Resolution{Comment: "paid", ActionsTaken: "phone call"})
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.AlertStatus)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "dm-1", got.ResolvedBy)
	assert.Equal(t, "Amira Ben Salah", got.ResolvedByName)
	assert.Equal(t, "paid", got.ResolutionComment)
	assert.Equal(t, "phone call", got.ActionsTaken)

	got, err = m.Archive(ctx, a.ID, "dm-1")
	require.NoError(t, err)
	assert.Equal(t, model.AlertArchived, got.AlertStatus)
	assert.Equal(t, "dm-1", got.ArchivedBy)

	history, err := m.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 6)
	wantTypes := []model.ActionType{
		model.ActionCreated, model.ActionSentToPM, model.ActionAcknowledged,
		model.ActionInProgress, model.ActionResolved, model.ActionArchived,
	}
	for i, act := range history {
		assert.Equal(t, wantTypes[i], act.Type)
		assert.Equal(t, i+1, act.Seq)
	}
	assert.Equal(t, model.AlertInProgress, history[4].PreviousStatus)
	assert.Equal(t, model.AlertResolved, history[4].NewStatus)
	assert.Equal(t, "please follow up", history[1].Comment)

	stored, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, history, stored.ActionHistory)
}

func TestManager_ArchiveRequiresResolved(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	a := newAlert(t, m)

	before, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)

	_, err = m.Archive(ctx, a.ID, "dm-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	var te *model.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.AlertResolved, te.Want)
	assert.Equal(t, model.AlertPendingDecision, te.Got)

	after, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestManager_SendRequiresPendingDecision(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	a := newAlert(t, m)

	_, err := m.SendToProjectManager(ctx, a.ID, "dm-1", "")
	require.NoError(t, err)
	_, err = m.SendToProjectManager(ctx, a.ID, "dm-1", "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestManager_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "missing", "dm-1", lifecycle.Resolution{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.AddComment(ctx, "missing", "dm-1", "hello")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = m.History(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestManager_AddComment(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	a := newAlert(t, m)

	got, err := m.AddComment(ctx, a.ID, "unknown-user", "looking into it")
	require.NoError(t, err)
	assert.Equal(t, model.AlertPendingDecision, got.AlertStatus)
	require.Len(t, got.ActionHistory, 2)
	last := got.ActionHistory[1]
	assert.Equal(t, model.ActionCommented, last.Type)
	assert.Equal(t, "unknown-user", last.ActorName)
	assert.Equal(t, model.AlertPendingDecision, last.PreviousStatus)
	assert.Equal(t, model.AlertPendingDecision, last.NewStatus)

	_, err = m.AddComment(ctx, a.ID, "dm-1", "")
	assert.Error(t, err)
}

func TestManager_StaleWriteConflicts(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	a := newAlert(t, m)

	stale, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)

	_, err = m.MarkInProgress(ctx, a.ID, "dm-1", "")
	require.NoError(t, err)

	stale.AlertStatus = model.AlertResolved
	err = store.UpdateAlert(ctx, stale)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestManager_AutoArchiveOld(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	old := newAlert(t, m)
	m.SetClock(func() time.Time { return time.Now().UTC().Add(-40 * 24 * time.Hour) })
	_, err := m.Resolve(ctx, old.ID, "dm-1", lifecycle.Resolution{Comment: "done"})
	require.NoError(t, err)
	m.SetClock(func() time.Time { return time.Now().UTC() })

	fresh, err := m.Create(ctx, &model.Alert{KpiName: "TAUX_RETARD", Recipients: []string{"dm-1"}}, "dm-1")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, fresh.ID, "dm-1", lifecycle.Resolution{})
	require.NoError(t, err)

	n, err := m.AutoArchiveOld(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetAlert(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertArchived, got.AlertStatus)
	assert.Equal(t, model.SystemActor, got.ArchivedBy)

	got, err = store.GetAlert(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.AlertStatus)

	n, err = m.AutoArchiveOld(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Queries(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	pending := newAlert(t, m)
	resolved, err := m.Create(ctx, &model.Alert{
		KpiName: model.KindPendingInvoice, RelatedInvoiceID: "inv-2", Recipients: []string{"dm-1"},
	}, model.SystemActor)
	require.NoError(t, err)
	_, err = m.Resolve(ctx, resolved.ID, "dm-1", lifecycle.Resolution{})
	require.NoError(t, err)

	list, err := m.PendingDecision(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)

	list, err = m.Active(ctx, "pm-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = m.Active(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = m.RecentlyResolved(ctx, "dm-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, resolved.ID, list[0].ID)

	list, err = m.Archived(ctx, "dm-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	stats, err := m.Statistics(ctx, "dm-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.AlertResolved])
	assert.Equal(t, 1, stats.ByStatus[model.AlertPendingDecision])
}

func TestManager_PublishFailureDoesNotFailTransition(t *testing.T) {
	m, _, pub := newTestManager(t)
	a := newAlert(t, m)
	pub.err = errors.New("broker down")

	_, err := m.MarkInProgress(context.Background(), a.ID, "dm-1", "")
	assert.NoError(t, err)
}
