package model

import (
	"slices"
	"time"
)

// Alert is one detected anomaly instance and its workflow state.
type Alert struct {
	ID             string `json:"id"`
	KpiName        string `json:"kpi_name"`
	Dimension      string `json:"dimension"`
	DimensionValue string `json:"dimension_value"`

	CurrentValue   float64      `json:"current_value"`
	ThresholdValue float64      `json:"threshold_value"`
	Severity       Severity     `json:"severity"`
	Status         HealthStatus `json:"status"`
	AlertStatus    AlertStatus  `json:"alert_status"`

	Message        string `json:"message"`
	Recommendation string `json:"recommendation,omitempty"`

	RelatedInvoiceID    string            `json:"related_invoice_id,omitempty"`
	RelatedConventionID string            `json:"related_convention_id,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`

	Recipients           []string   `json:"recipients,omitempty"`
	NotificationSent     bool       `json:"notification_sent"`
	NotificationSentAt   *time.Time `json:"notification_sent_at,omitempty"`
	NotificationChannels []Channel  `json:"notification_channels,omitempty"`

	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	ResolvedByName    string     `json:"resolved_by_name,omitempty"`
	ResolutionComment string     `json:"resolution_comment,omitempty"`
	ActionsTaken      string     `json:"actions_taken,omitempty"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`
	ArchivedBy        string     `json:"archived_by,omitempty"`

	ActionHistory []AlertAction `json:"action_history,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    int64     `json:"version"`
}

// AlertAction is one immutable audit-trail entry.
type AlertAction struct {
	Seq            int         `json:"seq"`
	Type           ActionType  `json:"action_type"`
	ActorID        string      `json:"actor_id"`
	ActorName      string      `json:"actor_name"`
	Comment        string      `json:"comment,omitempty"`
	PreviousStatus AlertStatus `json:"previous_status,omitempty"`
	NewStatus      AlertStatus `json:"new_status"`
	PerformedAt    time.Time   `json:"performed_at"`
}

// ScopeKey identifies the condition an alert tracks. At most one non-terminal
// alert may exist per key.
func (a *Alert) ScopeKey() string {
	if a.RelatedInvoiceID != "" {
		return a.KpiName + ":" + a.RelatedInvoiceID
	}
	return a.KpiName + ":" + a.Dimension + ":" + a.DimensionValue
}

// HasRecipient reports whether userID is among the resolved recipients.
func (a *Alert) HasRecipient(userID string) bool {
	return slices.Contains(a.Recipients, userID)
}

// SameReading reports whether the reconciler-owned fields of two alerts match.
func (a *Alert) SameReading(b *Alert) bool {
	if a.Severity != b.Severity || a.Status != b.Status ||
		a.CurrentValue != b.CurrentValue || a.ThresholdValue != b.ThresholdValue ||
		a.Message != b.Message || a.Recommendation != b.Recommendation ||
		a.DimensionValue != b.DimensionValue || a.RelatedConventionID != b.RelatedConventionID {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if bv, ok := b.Metadata[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// AlertFilter selects alerts from the store. Zero-valued fields are ignored.
type AlertFilter struct {
	Statuses         []AlertStatus `json:"statuses,omitempty"`
	KpiNames         []string      `json:"kpi_names,omitempty"`
	Dimension        string        `json:"dimension,omitempty"`
	RelatedInvoiceID string        `json:"related_invoice_id,omitempty"`
	Recipient        string        `json:"recipient,omitempty"`
	Severity         Severity      `json:"severity,omitempty"`
	ResolvedBefore   time.Time     `json:"resolved_before,omitempty"`
	ResolvedAfter    time.Time     `json:"resolved_after,omitempty"`
	Limit            int           `json:"limit,omitempty"`
}

// AlertStats summarizes a set of alerts.
type AlertStats struct {
	Total      int                 `json:"total"`
	ByStatus   map[AlertStatus]int `json:"by_status"`
	BySeverity map[Severity]int    `json:"by_severity"`
}
