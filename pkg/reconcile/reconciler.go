package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
)

// Options selects the passes a reconciliation runs.
type Options struct {
	Overdue  bool
	Pending  bool
	RateKPIs bool
	// PrunePending deletes open pending-invoice alerts whose invoice has
	// left PENDING. Without it the pending pass only creates and updates.
	PrunePending bool
}

// Result counts what one reconciliation changed.
type Result struct {
	Skipped   bool `json:"skipped,omitempty"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Deleted   int  `json:"deleted"`
	Unchanged int  `json:"unchanged"`
	Failed    int  `json:"failed"`

	// New holds the alerts created during the run.
	New []*model.Alert `json:"-"`
}

func (r *Result) add(o Result) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Deleted += o.Deleted
	r.Unchanged += o.Unchanged
	r.Failed += o.Failed
	r.New = append(r.New, o.New...)
}

// Observer is told about every finished run.
type Observer interface {
	ObserveReconcile(res Result, elapsed time.Duration, err error)
}

// Reconciler makes the alert store reflect the current invoice set.
type Reconciler struct {
	store    storage.Storage
	registry *thresholds.Registry
	opts     Options
	logger   *slog.Logger

	locker   Locker
	observer Observer
	now      func() time.Time

	running atomic.Bool
}

// New creates a reconciler.
func New(store storage.Storage, registry *thresholds.Registry, opts Options, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker adds a cross-process lock taken around every run.
func (r *Reconciler) SetLocker(l Locker) { r.locker = l }

// SetObserver registers the run observer.
func (r *Reconciler) SetObserver(o Observer) { r.observer = o }

// SetClock overrides the reconciler's notion of now.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run executes one reconciliation pass. When a pass is already running in
// this process, or another process holds the lock, it returns an empty
// skipped result at once.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("reconciliation already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer r.running.Store(false)

	if r.locker != nil {
		unlock, acquired, err := r.locker.TryLock(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !acquired {
			r.logger.Debug("reconcile lock held elsewhere, skipping")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release reconcile lock", "error", err)
			}
		}()
	}

	start := time.Now()
	res, err := r.run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Error("reconciliation aborted", "error", err, "created", res.Created, "deleted", res.Deleted)
	} else {
		r.logger.Info("reconciliation finished",
			"created", res.Created,
			"updated", res.Updated,
			"deleted", res.Deleted,
			"unchanged", res.Unchanged,
			"failed", res.Failed,
			"elapsed", elapsed,
		)
	}
	if r.observer != nil {
		r.observer.ObserveReconcile(res, elapsed, err)
	}
	return res, err
}

func (r *Reconciler) run(ctx context.Context) (Result, error) {
	var total Result
	now := r.now()

	passes := []struct {
		name    string
		enabled bool
		fn      func(context.Context, time.Time) (Result, error)
	}{
		{"overdue", r.opts.Overdue, r.reconcileOverdue},
		{"pending", r.opts.Pending, r.reconcilePending},
		{"rates", r.opts.RateKPIs, r.reconcileRates},
	}
	for _, p := range passes {
		if !p.enabled {
			continue
		}
		res, err := p.fn(ctx, now)
		total.add(res)
		if err != nil {
			return total, fmt.Errorf("%s pass: %w", p.name, err)
		}
	}
	return total, nil
}

// reconcileOverdue keeps exactly one open alert per OVERDUE invoice.
func (r *Reconciler) reconcileOverdue(ctx context.Context, now time.Time) (Result, error) {
	invoices, err := r.store.ListInvoices(ctx, model.InvoiceOverdue)
	if err != nil {
		return Result{}, fmt.Errorf("list overdue invoices: %w", err)
	}
	fresh := make([]*model.Alert, 0, len(invoices))
	for _, inv := range invoices {
		fresh = append(fresh, overdueAlert(inv, now))
	}
	return r.sync(ctx, model.KindOverdueInvoice, fresh, true)
}

// reconcilePending keeps an open alert per PENDING invoice.
func (r *Reconciler) reconcilePending(ctx context.Context, now time.Time) (Result, error) {
	invoices, err := r.store.ListInvoices(ctx, model.InvoicePending)
	if err != nil {
		return Result{}, fmt.Errorf("list pending invoices: %w", err)
	}
	fresh := make([]*model.Alert, 0, len(invoices))
	for _, inv := range invoices {
		fresh = append(fresh, pendingAlert(inv, now))
	}
	return r.sync(ctx, model.KindPendingInvoice, fresh, r.opts.PrunePending)
}

// sync brings the open alerts of one kind in line with the desired set.
// With prune set, open alerts whose scope is absent from the set are deleted.
func (r *Reconciler) sync(ctx context.Context, kind string, desired []*model.Alert, prune bool) (Result, error) {
	var res Result

	if prune {
		open, err := r.store.QueryAlerts(ctx, model.AlertFilter{
			KpiNames: []string{kind},
			Statuses: model.OpenStatuses(),
		})
		if err != nil {
			return res, fmt.Errorf("query open %s alerts: %w", kind, err)
		}
		keep := make(map[string]bool, len(desired))
		for _, a := range desired {
			keep[a.ScopeKey()] = true
		}
		for i := range open {
			if keep[open[i].ScopeKey()] {
				continue
			}
			r.remove(ctx, &open[i], &res)
		}
	}

	for _, a := range desired {
		if err := r.upsert(ctx, a, &res); err != nil {
			res.Failed++
			r.logger.Error("reconcile alert", "kpi", a.KpiName, "scope", a.ScopeKey(), "error", err)
		}
	}
	return res, nil
}

func (r *Reconciler) remove(ctx context.Context, a *model.Alert, res *Result) {
	deleted, err := r.store.DeleteOpenAlert(ctx, a.ID)
	if err != nil {
		res.Failed++
		r.logger.Error("delete stale alert", "alert_id", a.ID, "scope", a.ScopeKey(), "error", err)
		return
	}
	if deleted {
		res.Deleted++
		r.logger.Info("alert condition cleared", "alert_id", a.ID, "scope", a.ScopeKey())
	}
}

// upsert creates the alert or refreshes the open alert holding its scope.
func (r *Reconciler) upsert(ctx context.Context, fresh *model.Alert, res *Result) error {
	existing, err := r.store.FindOpenAlert(ctx, fresh.ScopeKey())
	if errors.Is(err, model.ErrNotFound) {
		err = r.create(ctx, fresh)
		if err == nil {
			res.Created++
			res.New = append(res.New, fresh)
			return nil
		}
		if !errors.Is(err, model.ErrDuplicate) {
			return err
		}
		// Another writer created it first; refresh theirs.
		existing, err = r.store.FindOpenAlert(ctx, fresh.ScopeKey())
	}
	if err != nil {
		return err
	}

	if existing.SameReading(fresh) {
		res.Unchanged++
		return nil
	}
	existing.Severity = fresh.Severity
	existing.Status = fresh.Status
	existing.CurrentValue = fresh.CurrentValue
	existing.ThresholdValue = fresh.ThresholdValue
	existing.Message = fresh.Message
	existing.Recommendation = fresh.Recommendation
	existing.DimensionValue = fresh.DimensionValue
	existing.RelatedConventionID = fresh.RelatedConventionID
	existing.Metadata = fresh.Metadata
	if err := r.store.UpdateAlert(ctx, existing); err != nil {
		return fmt.Errorf("refresh alert %s: %w", existing.ID, err)
	}
	res.Updated++
	return nil
}

func (r *Reconciler) create(ctx context.Context, a *model.Alert) error {
	now := r.now()
	a.ID = uuid.New().String()
	a.AlertStatus = model.AlertPendingDecision
	a.DetectedAt = now
	a.CreatedAt = now
	a.UpdatedAt = now
	a.ActionHistory = []model.AlertAction{{
		Type:        model.ActionCreated,
		ActorID:     model.SystemActor,
		ActorName:   model.SystemActorName,
		Comment:     "Alert detected automatically",
		NewStatus:   model.AlertPendingDecision,
		PerformedAt: now,
	}}
	return r.store.CreateAlert(ctx, a)
}
