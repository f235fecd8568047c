package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
)

// KPIValue is one computed business metric.
type KPIValue struct {
	KpiName string  `json:"kpi_name"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Detail  string  `json:"detail"`
}

// ComputeKPIs derives the GLOBAL invoice metrics. Metrics without any
// underlying data are omitted. Cancelled invoices are ignored.
func ComputeKPIs(invoices []model.Invoice, now time.Time) []KPIValue {
	var (
		total, late, paid, timed int
		unpaid, delaySum         float64
	)
	for _, inv := range invoices {
		if inv.Status == model.InvoiceCancelled {
			continue
		}
		total++
		switch inv.Status {
		case model.InvoicePaid:
			paid++
			if inv.PaidAt != nil && !inv.Issued().IsZero() {
				delaySum += float64(model.DaysBetween(inv.Issued(), *inv.PaidAt))
				timed++
			}
		case model.InvoiceDraft, model.InvoicePending, model.InvoiceOverdue:
			unpaid += inv.Amount
			if inv.Status == model.InvoiceOverdue || (!inv.DueDate.IsZero() && model.DaysBetween(inv.DueDate, now) > 0) {
				late++
			}
		}
	}

	if total == 0 {
		return nil
	}
	out := []KPIValue{
		{
			KpiName: thresholds.KpiLateRate,
			Value:   round1(float64(late) * 100 / float64(total)),
			Unit:    "%",
			Detail:  fmt.Sprintf("%d of %d invoices overdue", late, total),
		},
		{
			KpiName: thresholds.KpiUnpaidAmount,
			Value:   round1(unpaid),
			Unit:    "TND",
			Detail:  fmt.Sprintf("%d of %d invoices unpaid", total-paid, total),
		},
		{
			KpiName: thresholds.KpiSettlementRate,
			Value:   round1(float64(paid) * 100 / float64(total)),
			Unit:    "%",
			Detail:  fmt.Sprintf("%d of %d invoices paid", paid, total),
		},
	}
	if timed > 0 {
		out = append(out, KPIValue{
			KpiName: thresholds.KpiPaymentDelay,
			Value:   round1(delaySum / float64(timed)),
			Unit:    "days",
			Detail:  fmt.Sprintf("based on %d paid invoices", timed),
		})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// reconcileRates evaluates each KPI against its threshold. A breach keeps one
// open alert per KPI; a healthy or unmeasurable KPI has its open alert removed.
func (r *Reconciler) reconcileRates(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	// Pick up thresholds changed by other processes.
	if err := r.registry.Reload(ctx); err != nil {
		return res, err
	}

	invoices, err := r.store.ListInvoices(ctx)
	if err != nil {
		return res, fmt.Errorf("list invoices: %w", err)
	}
	values := make(map[string]KPIValue)
	for _, v := range ComputeKPIs(invoices, now) {
		values[v.KpiName] = v
	}

	for _, kpi := range []string{thresholds.KpiLateRate, thresholds.KpiUnpaidAmount, thresholds.KpiSettlementRate, thresholds.KpiPaymentDelay} {
		probe := &model.Alert{KpiName: kpi, Dimension: model.DimensionGlobal}

		v, measured := values[kpi]
		var eval thresholds.Evaluation
		var th model.Threshold
		if measured {
			var ok bool
			th, ok = r.registry.Lookup(kpi, model.DimensionGlobal, "")
			if ok {
				eval = thresholds.Evaluate(&th, v.Value)
			} else {
				eval = thresholds.Evaluate(nil, v.Value)
			}
		}

		if !measured || eval.Status == model.StatusHealthy {
			existing, err := r.store.FindOpenAlert(ctx, probe.ScopeKey())
			switch {
			case err == nil:
				r.remove(ctx, existing, &res)
			case !errors.Is(err, model.ErrNotFound):
				res.Failed++
				r.logger.Error("find kpi alert", "kpi", kpi, "error", err)
			}
			continue
		}

		unit := th.Unit
		if unit == "" {
			unit = v.Unit
		}
		alert := &model.Alert{
			KpiName:        kpi,
			Dimension:      model.DimensionGlobal,
			CurrentValue:   v.Value,
			ThresholdValue: eval.Level,
			Severity:       eval.Severity,
			Status:         eval.Status,
			Message:        eval.Message(thresholds.Label(kpi), v.Value, unit),
			Recommendation: thresholds.Recommendation(kpi),
			Metadata: map[string]string{
				"detail": v.Detail,
				"unit":   unit,
			},
		}
		if err := r.upsert(ctx, alert, &res); err != nil {
			res.Failed++
			r.logger.Error("reconcile kpi alert", "kpi", kpi, "value", v.Value, "error", err)
		}
	}
	return res, nil
}
