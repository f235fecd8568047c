package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert *model.Alert) error {
	scope := alert.Dimension
	if alert.DimensionValue != "" {
		scope += " " + alert.DimensionValue
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color: severityColor(alert.Severity),
				Title: fmt.Sprintf("KPI Sentinel: %s %s", alert.Severity, alert.KpiName),
				Text:  alert.Message,
				Fields: []slackField{
					{Title: "Scope", Value: scope, Short: true},
					{Title: "Status", Value: string(alert.Status), Short: true},
					{Title: "Current Value", Value: fmt.Sprintf("%.2f", alert.CurrentValue), Short: true},
					{Title: "Threshold", Value: fmt.Sprintf("%.2f", alert.ThresholdValue), Short: true},
					{Title: "Workflow", Value: string(alert.AlertStatus), Short: true},
					{Title: "Recipients", Value: fmt.Sprintf("%d", len(alert.Recipients)), Short: true},
				},
				Footer: "KPI Sentinel",
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
