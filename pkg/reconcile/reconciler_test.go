package reconcile_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newReconciler(t *testing.T, store storage.Storage, opts reconcile.Options, at time.Time) (*reconcile.Reconciler, *clock) {
	t.Helper()
	reg := thresholds.NewRegistry(nil)
	for _, th := range thresholds.Defaults() {
		reg.Register(th)
	}
	r := reconcile.New(store, reg, opts, testLogger())
	c := &clock{t: at}
	r.SetClock(c.now)
	return r, c
}

func overdueInvoice(id string, due time.Time) *model.Invoice {
	return &model.Invoice{
		ID:        id,
		Number:    "N-" + id,
		Reference: "REF-" + id,
		ClientID:  "client-1",
		Amount:    1200,
		Status:    model.InvoiceOverdue,
		IssueDate: due.AddDate(0, -1, 0),
		DueDate:   due,
	}
}

func TestReconciler_OverdueLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := overdueInvoice("INV-1", date(2025, 1, 1))
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	r, c := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.New, 1)

	first, err := store.FindOpenAlert(ctx, "FACTURE_OVERDUE:INV-1")
	require.NoError(t, err)
	assert.Equal(t, model.SeverityLow, first.Severity)
	assert.Equal(t, 19.0, first.CurrentValue)
	assert.Equal(t, model.AlertPendingDecision, first.AlertStatus)
	assert.Equal(t, model.StatusAbnormal, first.Status)
	assert.Equal(t, "INV-1", first.RelatedInvoiceID)
	assert.Equal(t, "N-INV-1", first.DimensionValue)
	assert.Equal(t, "19", first.Metadata["daysOverdue"])

	c.set(date(2025, 2, 5))
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Updated)

	second, err := store.GetAlert(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeverityMedium, second.Severity)
	assert.Equal(t, 35.0, second.CurrentValue)
	assert.Contains(t, second.Message, "35 days overdue")
	assert.Len(t, second.ActionHistory, 1, "a refresh is not a workflow action")

	inv.Status = model.InvoicePaid
	paid := date(2025, 2, 10)
	inv.PaidAt = &paid
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	c.set(date(2025, 2, 10))
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	_, err = store.GetAlert(ctx, first.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReconciler_OverdueSeveritySteps(t *testing.T) {
	now := date(2025, 6, 1)
	cases := []struct {
		days int
		want model.Severity
	}{
		{0, model.SeverityLow},
		{30, model.SeverityLow},
		{31, model.SeverityMedium},
		{60, model.SeverityMedium},
		{61, model.SeverityHigh},
		{400, model.SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reconcile.OverdueSeverity(tc.days), "days=%d", tc.days)
	}

	store := newTestStore(t)
	ctx := context.Background()
	for i, tc := range cases {
		id := string(rune('A' + i))
		require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice(id, now.AddDate(0, 0, -tc.days))))
	}
	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	for i, tc := range cases {
		a, err := store.FindOpenAlert(ctx, "FACTURE_OVERDUE:"+string(rune('A'+i)))
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Severity, "days=%d", tc.days)
	}
}

func TestReconciler_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("INV-1", date(2025, 1, 1))))
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("INV-2", date(2024, 10, 1))))

	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))
	_, err := r.Run(ctx)
	require.NoError(t, err)

	before, err := store.QueryAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, before, 2)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 2, res.Unchanged)

	after, err := store.QueryAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReconciler_LeavesTerminalAlertsAlone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	inv := overdueInvoice("INV-1", date(2025, 1, 1))
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))
	_, err := r.Run(ctx)
	require.NoError(t, err)

	a, err := store.FindOpenAlert(ctx, "FACTURE_OVERDUE:INV-1")
	require.NoError(t, err)
	resolvedAt := date(2025, 1, 21)
	a.AlertStatus = model.AlertResolved
	a.ResolvedAt = &resolvedAt
	require.NoError(t, store.UpdateAlert(ctx, a))

	inv.Status = model.InvoicePaid
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	got, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.AlertStatus)
}

func TestReconciler_PendingIsAccretive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := &model.Invoice{
		ID:        "P-1",
		Number:    "F-2025-001",
		Reference: "REF-P1",
		Amount:    25000,
		Status:    model.InvoicePending,
		IssueDate: date(2025, 1, 1),
		DueDate:   date(2025, 2, 1),
		CreatedBy: "sales-1",
	}
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	r, _ := newReconciler(t, store, reconcile.Options{Pending: true}, date(2025, 1, 5))
	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	a, err := store.FindOpenAlert(ctx, "FACTURE_PENDING:P-1")
	require.NoError(t, err)
	assert.Equal(t, model.SeverityMedium, a.Severity)
	assert.Equal(t, model.StatusWatch, a.Status)
	assert.Equal(t, 25000.0, a.CurrentValue)
	assert.Equal(t, "4", a.Metadata["daysOld"])
	assert.Equal(t, "sales-1", a.Metadata["createdBy"])
	assert.Equal(t, "2025-02-01", a.Metadata["dueDate"])

	inv.Status = model.InvoicePaid
	require.NoError(t, store.UpsertInvoice(ctx, inv))
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	_, err = store.FindOpenAlert(ctx, "FACTURE_PENDING:P-1")
	assert.NoError(t, err)
}

func TestReconciler_PrunePending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := &model.Invoice{ID: "P-1", Amount: 100, Status: model.InvoicePending, IssueDate: date(2025, 1, 1)}
	require.NoError(t, store.UpsertInvoice(ctx, inv))

	r, _ := newReconciler(t, store, reconcile.Options{Pending: true, PrunePending: true}, date(2025, 1, 2))
	_, err := r.Run(ctx)
	require.NoError(t, err)

	inv.Status = model.InvoiceOverdue
	require.NoError(t, store.UpsertInvoice(ctx, inv))
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
}

func TestPendingSeverity(t *testing.T) {
	assert.Equal(t, model.SeverityHigh, reconcile.PendingSeverity(50001, 0))
	assert.Equal(t, model.SeverityHigh, reconcile.PendingSeverity(10, 31))
	assert.Equal(t, model.SeverityMedium, reconcile.PendingSeverity(20001, 0))
	assert.Equal(t, model.SeverityMedium, reconcile.PendingSeverity(10, 15))
	assert.Equal(t, model.SeverityLow, reconcile.PendingSeverity(20000, 14))
}

func TestReconciler_RateKPIs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := date(2025, 3, 1)

	var invoices []*model.Invoice
	for i := 0; i < 8; i++ {
		paidAt := date(2025, 1, 11)
		invoices = append(invoices, &model.Invoice{
			ID: "PAID-" + string(rune('A'+i)), Amount: 1000, Status: model.InvoicePaid,
			IssueDate: date(2025, 1, 1), DueDate: date(2025, 1, 31), PaidAt: &paidAt,
		})
	}
	invoices = append(invoices,
		overdueInvoice("LATE-1", date(2025, 2, 1)),
		overdueInvoice("LATE-2", date(2025, 2, 1)),
	)
	for _, inv := range invoices {
		require.NoError(t, store.UpsertInvoice(ctx, inv))
	}

	r, _ := newReconciler(t, store, reconcile.Options{RateKPIs: true}, now)
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	a, err := store.FindOpenAlert(ctx, "TAUX_RETARD:GLOBAL:")
	require.NoError(t, err)
	assert.Equal(t, 20.0, a.CurrentValue)
	assert.Equal(t, 15.0, a.ThresholdValue)
	assert.Equal(t, model.StatusAbnormal, a.Status)
	assert.Equal(t, model.SeverityHigh, a.Severity)
	assert.Contains(t, a.Message, "above the critical threshold")

	for _, id := range []string{"LATE-1", "LATE-2"} {
		inv := overdueInvoice(id, date(2025, 2, 1))
		inv.Status = model.InvoicePaid
		paidAt := date(2025, 2, 20)
		inv.PaidAt = &paidAt
		require.NoError(t, store.UpsertInvoice(ctx, inv))
	}
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Created)
}

func TestReconciler_RateKPIsFollowStoredThresholds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		paidAt := date(2025, 1, 11)
		require.NoError(t, store.UpsertInvoice(ctx, &model.Invoice{
			ID: "PAID-" + string(rune('A'+i)), Amount: 1000, Status: model.InvoicePaid,
			IssueDate: date(2025, 1, 1), DueDate: date(2025, 1, 31), PaidAt: &paidAt,
		}))
	}
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("LATE-1", date(2025, 2, 1))))
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("LATE-2", date(2025, 2, 1))))

	serving := thresholds.NewRegistry(store)
	_, err := serving.Seed(ctx, thresholds.Defaults())
	require.NoError(t, err)
	r := reconcile.New(store, serving, reconcile.Options{RateKPIs: true}, testLogger())
	r.SetClock(func() time.Time { return date(2025, 3, 1) })

	_, err = r.Run(ctx)
	require.NoError(t, err)
	_, err = store.FindOpenAlert(ctx, "TAUX_RETARD:GLOBAL:")
	require.NoError(t, err)

	// Another process disables the KPI through its own registry.
	other := thresholds.NewRegistry(store)
	require.NoError(t, other.Reload(ctx))
	th, ok := other.Lookup(thresholds.KpiLateRate, model.DimensionGlobal, "")
	require.True(t, ok)
	th.Enabled = false
	require.NoError(t, other.Apply(ctx, []model.Threshold{th}))

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	_, err = store.FindOpenAlert(ctx, "TAUX_RETARD:GLOBAL:")
	assert.ErrorIs(t, err, model.ErrNotFound)

	stored, ok := serving.Lookup(thresholds.KpiLateRate, model.DimensionGlobal, "")
	require.True(t, ok)
	assert.False(t, stored.Enabled)
}

func TestComputeKPIs(t *testing.T) {
	assert.Empty(t, reconcile.ComputeKPIs(nil, time.Now()))

	paidAt := date(2025, 1, 21)
	values := reconcile.ComputeKPIs([]model.Invoice{
		{ID: "1", Amount: 100, Status: model.InvoicePaid, IssueDate: date(2025, 1, 1), PaidAt: &paidAt},
		{ID: "2", Amount: 300, Status: model.InvoicePending, DueDate: date(2025, 6, 1)},
		{ID: "3", Amount: 500, Status: model.InvoiceOverdue},
		{ID: "4", Amount: 900, Status: model.InvoiceCancelled},
	}, date(2025, 2, 1))

	byName := map[string]float64{}
	for _, v := range values {
		byName[v.KpiName] = v.Value
	}
	assert.InDelta(t, 33.3, byName[thresholds.KpiLateRate], 0.001)
	assert.InDelta(t, 800.0, byName[thresholds.KpiUnpaidAmount], 0.001)
	assert.InDelta(t, 33.3, byName[thresholds.KpiSettlementRate], 0.001)
	assert.InDelta(t, 20.0, byName[thresholds.KpiPaymentDelay], 0.001)
}

// blockingStore parks the first invoice listing until released.
type blockingStore struct {
	storage.Storage
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) ListInvoices(ctx context.Context, statuses ...model.InvoiceStatus) ([]model.Invoice, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Storage.ListInvoices(ctx, statuses...)
}

func TestReconciler_SingleFlight(t *testing.T) {
	store := &blockingStore{
		Storage: newTestStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctx := context.Background()
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("INV-1", date(2025, 1, 1))))

	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))

	done := make(chan reconcile.Result)
	go func() {
		res, err := r.Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()
	<-store.entered

	skipped, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)
	assert.Zero(t, skipped.Created)

	close(store.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Created)

	alerts, err := store.QueryAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

type recordingObserver struct {
	runs []reconcile.Result
}

func (o *recordingObserver) ObserveReconcile(res reconcile.Result, _ time.Duration, _ error) {
	o.runs = append(o.runs, res)
}

func TestReconciler_Observer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("INV-1", date(2025, 1, 1))))

	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))
	obs := &recordingObserver{}
	r.SetObserver(obs)

	_, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, obs.runs, 1)
	assert.Equal(t, 1, obs.runs[0].Created)
}
