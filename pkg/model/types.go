package model

import (
	"fmt"
	"time"
)

// Severity is the urgency of an alert, independent of its workflow state.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from 0 (LOW) to 3 (CRITICAL). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether s is as urgent as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank() && s.Rank() >= 0
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity validates a severity string.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// HealthStatus is the business reading of a metric.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "SAIN"
	StatusWatch    HealthStatus = "A_SURVEILLER"
	StatusAbnormal HealthStatus = "ANORMAL"
)

// Severity maps a health reading onto the severity used for notifications.
func (h HealthStatus) Severity() Severity {
	switch h {
	case StatusAbnormal:
		return SeverityHigh
	case StatusWatch:
		return SeverityMedium
	case StatusHealthy:
		return SeverityLow
	}
	return SeverityLow
}

func (h HealthStatus) Valid() bool {
	switch h {
	case StatusHealthy, StatusWatch, StatusAbnormal:
		return true
	}
	return false
}

// AlertStatus is the position of an alert in its human workflow.
type AlertStatus string

const (
	AlertPendingDecision AlertStatus = "PENDING_DECISION"
	AlertSentToPM        AlertStatus = "SENT_TO_PM"
	AlertAcknowledged    AlertStatus = "ACKNOWLEDGED"
	AlertInProgress      AlertStatus = "IN_PROGRESS"
	AlertResolved        AlertStatus = "RESOLVED"
	AlertArchived        AlertStatus = "ARCHIVED"
)

// IsTerminal reports whether the alert has left the reconciler's control.
func (s AlertStatus) IsTerminal() bool {
	switch s {
	case AlertResolved, AlertArchived:
		return true
	case AlertPendingDecision, AlertSentToPM, AlertAcknowledged, AlertInProgress:
		return false
	}
	return false
}

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertPendingDecision, AlertSentToPM, AlertAcknowledged, AlertInProgress, AlertResolved, AlertArchived:
		return true
	}
	return false
}

// ParseAlertStatus validates an alert status string.
func ParseAlertStatus(v string) (AlertStatus, error) {
	s := AlertStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown alert status %q", v)
	}
	return s, nil
}

// OpenStatuses lists the non-terminal workflow states.
func OpenStatuses() []AlertStatus {
	return []AlertStatus{AlertPendingDecision, AlertSentToPM, AlertAcknowledged, AlertInProgress}
}

// AllStatuses lists every workflow state in lifecycle order.
func AllStatuses() []AlertStatus {
	return []AlertStatus{AlertPendingDecision, AlertSentToPM, AlertAcknowledged, AlertInProgress, AlertResolved, AlertArchived}
}

// ActionType identifies an entry in an alert's audit trail.
type ActionType string

const (
	ActionCreated      ActionType = "CREATED"
	ActionSentToPM     ActionType = "SENT_TO_PM"
	ActionAcknowledged ActionType = "ACKNOWLEDGED"
	ActionInProgress   ActionType = "IN_PROGRESS"
	ActionResolved     ActionType = "RESOLVED"
	ActionArchived     ActionType = "ARCHIVED"
	ActionCommented    ActionType = "COMMENTED"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Role is a business role held by a user.
type Role string

const (
	RoleDecisionMaker  Role = "DECISION_MAKER"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleAdmin          Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleDecisionMaker || r == RoleProjectManager || r == RoleAdmin
}

// Well-known alert kinds and dimensions.
const (
	KindOverdueInvoice = "FACTURE_OVERDUE"
	KindPendingInvoice = "FACTURE_PENDING"

	DimensionGlobal  = "GLOBAL"
	DimensionInvoice = "INVOICE"

	SystemActor     = "system"
	SystemActorName = "System"
)

// Threshold configures warning and critical levels for a KPI in a scope.
type Threshold struct {
	ID             string    `json:"id" yaml:"-"`
	KpiName        string    `json:"kpi_name" yaml:"kpi_name"`
	Dimension      string    `json:"dimension" yaml:"dimension"`
	DimensionValue string    `json:"dimension_value,omitempty" yaml:"dimension_value"`
	Low            float64   `json:"low_threshold" yaml:"low"`
	High           float64   `json:"high_threshold" yaml:"high"`
	Unit           string    `json:"unit,omitempty" yaml:"unit"`
	Description    string    `json:"description,omitempty" yaml:"description"`
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// HigherIsBetter is derived from the ordering of the two levels: when the
// critical level sits below the warning level, falling values are the problem.
func (t Threshold) HigherIsBetter() bool {
	return t.High < t.Low
}

// InvoiceStatus is the state of an invoice in the billing collaborator.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoicePending, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// Invoice is the read-only view of a billing record.
type Invoice struct {
	ID           string        `json:"id" yaml:"id"`
	Number       string        `json:"invoice_number" yaml:"invoice_number"`
	Reference    string        `json:"reference,omitempty" yaml:"reference"`
	ClientID     string        `json:"client_id,omitempty" yaml:"client_id"`
	ClientEmail  string        `json:"client_email,omitempty" yaml:"client_email"`
	ConventionID string        `json:"convention_id,omitempty" yaml:"convention_id"`
	Amount       float64       `json:"amount" yaml:"amount"`
	Status       InvoiceStatus `json:"status" yaml:"status"`
	IssueDate    time.Time     `json:"issue_date" yaml:"issue_date"`
	DueDate      time.Time     `json:"due_date" yaml:"due_date"`
	PaidAt       *time.Time    `json:"paid_at,omitempty" yaml:"paid_at"`
	CreatedBy    string        `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
}

// Label is the human identifier of the invoice.
func (i Invoice) Label() string {
	if i.Number != "" {
		return i.Number
	}
	return i.ID
}

// Issued returns the issue date, falling back to the creation time.
func (i Invoice) Issued() time.Time {
	if !i.IssueDate.IsZero() {
		return i.IssueDate
	}
	return i.CreatedAt
}

// User is a directory entry for a potential recipient or actor.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	FullName string `json:"full_name,omitempty" yaml:"full_name"`
	Email    string `json:"email,omitempty" yaml:"email"`
	Phone    string `json:"phone,omitempty" yaml:"phone"`
	Roles    []Role `json:"roles" yaml:"roles"`
}

func (u User) HasRole(r Role) bool {
	for _, role := range u.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// DisplayName prefers the full name over the login.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Category  string    `json:"category"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// DaysBetween counts calendar days from a to b in UTC. It is negative when b
// precedes a.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
