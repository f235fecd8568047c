package thresholds

import "github.com/ogulcanaydogan/kpi-sentinel/pkg/model"

// KPI names computed from the invoice set.
const (
	KpiLateRate       = "TAUX_RETARD"
	KpiUnpaidAmount   = "MONTANT_IMPAYE"
	KpiSettlementRate = "TAUX_REGULARISATION"
	KpiPaymentDelay   = "DELAI_PAIEMENT"
)

// Defaults is the threshold set installed on an empty registry.
func Defaults() []model.Threshold {
	return []model.Threshold{
		{KpiName: KpiLateRate, Dimension: model.DimensionGlobal, Low: 10, High: 15, Unit: "%",
			Description: "Share of invoices past their due date", Enabled: true},
		{KpiName: KpiUnpaidAmount, Dimension: model.DimensionGlobal, Low: 20000, High: 30000, Unit: "TND",
			Description: "Total amount of issued invoices not yet paid", Enabled: true},
		{KpiName: KpiSettlementRate, Dimension: model.DimensionGlobal, Low: 70, High: 60, Unit: "%",
			Description: "Share of invoices settled", Enabled: true},
		{KpiName: KpiPaymentDelay, Dimension: model.DimensionGlobal, Low: 30, High: 45, Unit: "days",
			Description: "Mean days between issue and payment", Enabled: true},
	}
}

// Label is the display name of a KPI.
func Label(kpiName string) string {
	switch kpiName {
	case KpiLateRate:
		return "Late payment rate"
	case KpiUnpaidAmount:
		return "Unpaid amount"
	case KpiSettlementRate:
		return "Settlement rate"
	case KpiPaymentDelay:
		return "Average payment delay"
	}
	return kpiName
}

// Recommendation is the standing advice attached to a KPI breach.
func Recommendation(kpiName string) string {
	switch kpiName {
	case KpiLateRate:
		return "Contact the clients holding overdue invoices now and analyse the causes of the delays."
	case KpiUnpaidAmount:
		return "Prioritise debt collection and send payment reminders."
	case KpiSettlementRate:
		return "Speed up the settlement process and identify what is blocking it."
	case KpiPaymentDelay:
		return "Negotiate shorter payment terms with clients."
	}
	return "Analyse the situation and put a corrective action plan in place."
}
