package reconcile

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

const dateLayout = "2006-01-02"

// OverdueSeverity grades an overdue invoice by how late it is.
func OverdueSeverity(daysOverdue int) model.Severity {
	switch {
	case daysOverdue > 60:
		return model.SeverityHigh
	case daysOverdue > 30:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// PendingSeverity grades an unvalidated invoice by amount and age.
func PendingSeverity(amount float64, daysOld int) model.Severity {
	switch {
	case amount > 50000 || daysOld > 30:
		return model.SeverityHigh
	case amount > 20000 || daysOld > 14:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func overdueAlert(inv model.Invoice, now time.Time) *model.Alert {
	days := max(model.DaysBetween(inv.DueDate, now), 0)

	meta := invoiceMetadata(inv)
	meta["daysOverdue"] = strconv.Itoa(days)

	return &model.Alert{
		KpiName:             model.KindOverdueInvoice,
		Dimension:           model.DimensionInvoice,
		DimensionValue:      inv.Label(),
		CurrentValue:        float64(days),
		ThresholdValue:      0,
		Severity:            OverdueSeverity(days),
		Status:              model.StatusAbnormal,
		Message:             fmt.Sprintf("Invoice %s is %d days overdue - Amount: %.2f TND - Client: %s", inv.Label(), days, inv.Amount, orNA(inv.ClientID)),
		Recommendation:      overdueRecommendation(days),
		RelatedInvoiceID:    inv.ID,
		RelatedConventionID: inv.ConventionID,
		Metadata:            meta,
	}
}

func overdueRecommendation(days int) string {
	switch {
	case days > 60:
		return fmt.Sprintf("URGENT: invoice %d days overdue. Recommended actions:\n"+
			"1. Contact the client immediately\n"+
			"2. Send a formal notice if needed\n"+
			"3. Consider a debt recovery procedure\n"+
			"4. Hold new orders", days)
	case days > 30:
		return fmt.Sprintf("Invoice %d days overdue. Recommended actions:\n"+
			"1. Call the client\n"+
			"2. Send a formal reminder by email\n"+
			"3. Offer a payment schedule\n"+
			"4. Follow up daily", days)
	default:
		return fmt.Sprintf("Invoice %d days overdue. Recommended actions:\n"+
			"1. Send the client a friendly reminder\n"+
			"2. Check whether payment is under way\n"+
			"3. Confirm the bank details\n"+
			"4. Plan a follow-up in 7 days", days)
	}
}

const pendingRecommendation = "Recommended actions:\n" +
	"1. Check the invoice status with the sales contact\n" +
	"2. Ask the client to confirm receipt\n" +
	"3. Send a reminder if needed\n" +
	"4. Delegate follow-up to the project manager"

func pendingAlert(inv model.Invoice, now time.Time) *model.Alert {
	days := max(model.DaysBetween(inv.Issued(), now), 0)

	meta := invoiceMetadata(inv)
	meta["daysOld"] = strconv.Itoa(days)

	return &model.Alert{
		KpiName:        model.KindPendingInvoice,
		Dimension:      model.DimensionInvoice,
		DimensionValue: inv.Label(),
		CurrentValue:   inv.Amount,
		ThresholdValue: 0,
		Severity:       PendingSeverity(inv.Amount, days),
		Status:         model.StatusWatch,
		Message: fmt.Sprintf("Pending invoice: %s\nAmount: %.2f TND\nClient: %s\nEmail: %s\nIssued: %s\nDue: %s\nAge: %d days",
			orNA(inv.Reference), inv.Amount, orNA(inv.ClientID), orNA(inv.ClientEmail),
			formatDate(inv.IssueDate), formatDate(inv.DueDate), days),
		Recommendation:      pendingRecommendation,
		RelatedInvoiceID:    inv.ID,
		RelatedConventionID: inv.ConventionID,
		Metadata:            meta,
	}
}

// invoiceMetadata snapshots the source fields shown next to an alert.
func invoiceMetadata(inv model.Invoice) map[string]string {
	meta := map[string]string{
		"invoiceId": inv.ID,
		"amount":    strconv.FormatFloat(inv.Amount, 'f', 2, 64),
		"status":    string(inv.Status),
	}
	for k, v := range map[string]string{
		"invoiceNumber": inv.Number,
		"reference":     inv.Reference,
		"clientId":      inv.ClientID,
		"clientEmail":   inv.ClientEmail,
		"createdBy":     inv.CreatedBy,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	if !inv.DueDate.IsZero() {
		meta["dueDate"] = inv.DueDate.Format(dateLayout)
	}
	if !inv.IssueDate.IsZero() {
		meta["issueDate"] = inv.IssueDate.Format(dateLayout)
	}
	return meta
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(dateLayout)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
