package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// NewAlertsTopic carries freshly dispatched alerts, both as a broadcast and
// on each recipient's private queue.
const NewAlertsTopic = "kpi-alerts"

const (
	notificationType     = "KPI_ALERT"
	notificationCategory = "ALERT"
	smsMessageLimit      = 100
)

// AlertStore is the persistence the dispatcher needs.
type AlertStore interface {
	Directory
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	UpdateAlert(ctx context.Context, alert *model.Alert, appended ...model.AlertAction) error
}

// Channels bundles the delivery collaborators. A nil channel is skipped.
type Channels struct {
	InApp InAppSink
	Push  Publisher
	Email EmailSender
	SMS   SMSSender
	Ops   []Notifier
}

// Config switches the optional channels.
type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	SMSTemplate  string
}

// Observer is told about every delivery attempt.
type Observer interface {
	ObserveDelivery(channel string, ok bool)
}

// Report describes one dispatch.
type Report struct {
	Recipients []string              `json:"recipients"`
	Attempted  map[model.Channel]int `json:"attempted"`
	Delivered  map[model.Channel]int `json:"delivered"`
}

// Channels lists the channels with at least one successful delivery.
func (r *Report) Channels() []model.Channel {
	var out []model.Channel
	for _, ch := range []model.Channel{model.ChannelInApp, model.ChannelPush, model.ChannelEmail, model.ChannelSMS} {
		if r.Delivered[ch] > 0 {
			out = append(out, ch)
		}
	}
	return out
}

// Dispatcher fans an alert out to its recipients over every channel.
type Dispatcher struct {
	store    AlertStore
	channels Channels
	cfg      Config
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store AlertStore, channels Channels, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.SMSTemplate == "" {
		cfg.SMSTemplate = "kpi_alert"
	}
	return &Dispatcher{
		store:    store,
		channels: channels,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers the delivery observer.
func (d *Dispatcher) SetObserver(o Observer) { d.observer = o }

// SetClock overrides the dispatcher's notion of now.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Dispatch resolves the recipients of alert, delivers it on every eligible
// channel and persists the notification bookkeeping. A failing delivery never
// stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert) (*Report, error) {
	users, err := ResolveRecipients(ctx, d.store, alert.Severity)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	report := &Report{
		Attempted: make(map[model.Channel]int),
		Delivered: make(map[model.Channel]int),
	}
	for _, u := range users {
		report.Recipients = append(report.Recipients, u.ID)
	}

	d.deliverInApp(ctx, alert, users, report)
	d.deliverPush(ctx, alert, report)
	if d.emailEligible(alert.Severity) {
		d.deliverEmail(ctx, alert, users, report)
	}
	if d.smsEligible(alert.Severity) {
		d.deliverSMS(ctx, alert, users, report)
	}
	if alert.Severity.AtLeast(model.SeverityMedium) {
		d.mirror(ctx, alert)
	}

	if err := d.record(ctx, alert, report); err != nil {
		return report, err
	}

	d.logger.Info("alert dispatched",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"recipients", len(report.Recipients),
		"channels", report.Channels(),
	)
	return report, nil
}

func (d *Dispatcher) emailEligible(s model.Severity) bool {
	return d.cfg.EmailEnabled && d.channels.Email != nil &&
		(s == model.SeverityMedium || s == model.SeverityHigh)
}

func (d *Dispatcher) smsEligible(s model.Severity) bool {
	return d.cfg.SMSEnabled && d.channels.SMS != nil &&
		(s == model.SeverityHigh || s == model.SeverityCritical)
}

func (d *Dispatcher) deliverInApp(ctx context.Context, alert *model.Alert, users []model.User, report *Report) {
	if d.channels.InApp == nil {
		return
	}
	title := fmt.Sprintf("KPI alert: %s", alert.KpiName)
	for _, u := range users {
		err := d.channels.InApp.Create(ctx, u.ID, notificationType, title, alert.Message, alert.Severity, notificationCategory)
		d.outcome(report, model.ChannelInApp, err == nil, "user", u.ID, "error", err)
	}
}

func (d *Dispatcher) deliverPush(ctx context.Context, alert *model.Alert, report *Report) {
	if d.channels.Push == nil {
		return
	}
	payload := map[string]any{"type": "NEW_ALERT", "alert": alert}

	err := d.channels.Push.Publish(ctx, NewAlertsTopic, payload)
	d.outcome(report, model.ChannelPush, err == nil, "topic", NewAlertsTopic, "error", err)

	for _, userID := range report.Recipients {
		err := d.channels.Push.PublishToUser(ctx, userID, NewAlertsTopic, payload)
		d.outcome(report, model.ChannelPush, err == nil, "user", userID, "error", err)
	}
}

func (d *Dispatcher) deliverEmail(ctx context.Context, alert *model.Alert, users []model.User, report *Report) {
	subject := EmailSubject(alert)
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		body, err := renderEmail(alert, u)
		if err == nil {
			err = d.channels.Email.Send(ctx, u.Email, subject, body)
		}
		d.outcome(report, model.ChannelEmail, err == nil, "user", u.ID, "error", err)
	}
}

func (d *Dispatcher) deliverSMS(ctx context.Context, alert *model.Alert, users []model.User, report *Report) {
	vars := SMSVariables(alert)
	for _, u := range users {
		if u.Phone == "" {
			continue
		}
		ok := d.channels.SMS.SendTemplated(ctx, u.Phone, d.cfg.SMSTemplate, vars)
		d.outcome(report, model.ChannelSMS, ok, "user", u.ID)
	}
}

// mirror copies the alert once to each operations notifier.
func (d *Dispatcher) mirror(ctx context.Context, alert *model.Alert) {
	for _, n := range d.channels.Ops {
		err := n.Send(ctx, alert)
		if d.observer != nil {
			d.observer.ObserveDelivery(n.Name(), err == nil)
		}
		if err != nil {
			d.logger.Error("send alert failed",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) outcome(report *Report, ch model.Channel, ok bool, attrs ...any) {
	report.Attempted[ch]++
	if ok {
		report.Delivered[ch]++
	} else {
		d.logger.Error("notification delivery failed", append([]any{"channel", ch}, attrs...)...)
	}
	if d.observer != nil {
		d.observer.ObserveDelivery(string(ch), ok)
	}
}

// record persists recipients and delivery bookkeeping, re-reading the alert
// once if a concurrent edit won the race.
func (d *Dispatcher) record(ctx context.Context, alert *model.Alert, report *Report) error {
	now := d.now()
	apply := func(a *model.Alert) {
		a.Recipients = report.Recipients
		a.NotificationChannels = report.Channels()
		a.NotificationSent = len(a.NotificationChannels) > 0
		if a.NotificationSent {
			a.NotificationSentAt = &now
		}
	}

	apply(alert)
	err := d.store.UpdateAlert(ctx, alert)
	if errors.Is(err, model.ErrConflict) {
		fresh, getErr := d.store.GetAlert(ctx, alert.ID)
		if getErr != nil {
			return fmt.Errorf("reload alert %s: %w", alert.ID, getErr)
		}
		apply(fresh)
		if err = d.store.UpdateAlert(ctx, fresh); err == nil {
			*alert = *fresh
		}
	}
	if err != nil {
		return fmt.Errorf("record dispatch of alert %s: %w", alert.ID, err)
	}
	return nil
}

// EmailSubject is the subject line of an alert email.
func EmailSubject(alert *model.Alert) string {
	return fmt.Sprintf("[%s] Alerte KPI - %s (%s)", alert.Severity, alert.DimensionValue, alert.KpiName)
}

// SMSVariables fills the kpi_alert template.
func SMSVariables(alert *model.Alert) map[string]string {
	return map[string]string{
		"kpiName":      alert.KpiName,
		"currentValue": fmt.Sprintf("%.2f", alert.CurrentValue),
		"message":      truncate(alert.Message, smsMessageLimit),
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
