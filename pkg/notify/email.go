package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2 style="color: {{.Color}};">{{.Alert.Severity}} - {{.Alert.KpiName}}</h2>
  <p>Hello {{.Recipient}},</p>
  <p>{{.Alert.Message}}</p>
  <table cellpadding="4">
    <tr><td><b>Scope</b></td><td>{{.Alert.Dimension}} {{.Alert.DimensionValue}}</td></tr>
    <tr><td><b>Current value</b></td><td>{{printf "%.2f" .Alert.CurrentValue}}</td></tr>
    <tr><td><b>Threshold</b></td><td>{{printf "%.2f" .Alert.ThresholdValue}}</td></tr>
    <tr><td><b>Detected</b></td><td>{{.Alert.DetectedAt.Format "2006-01-02 15:04"}} UTC</td></tr>
  </table>
  {{if .Alert.Recommendation}}<h3>Recommendation</h3>
  <pre style="font-family: inherit;">{{.Alert.Recommendation}}</pre>{{end}}
</body>
</html>
`))

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "#cc0000"
	case model.SeverityHigh:
		return "#ff0000"
	case model.SeverityMedium:
		return "#ff9900"
	}
	return "#36a64f"
}

func renderEmail(alert *model.Alert, to model.User) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Alert     *model.Alert
		Recipient string
		Color     string
	}{alert, to.DisplayName(), severityColor(alert.Severity)})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends HTML mail through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, address, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(address, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("email header contains a line break")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", address)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{address}, msg.Bytes()); err != nil {
		return fmt.Errorf("send email to %s: %w", address, err)
	}
	return nil
}
