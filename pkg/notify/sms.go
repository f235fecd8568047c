package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// SMSGatewayConfig configures the HTTP SMS gateway.
type SMSGatewayConfig struct {
	BaseURL string
	APIKey  string
	Secret  string
	Sender  string
	Timeout time.Duration
}

// SMSGateway sends templated messages through an HTTP SMS provider.
type SMSGateway struct {
	client *resty.Client
	sender string
	secret string
	logger *slog.Logger
}

// NewSMSGateway creates a gateway client. If a secret is configured, request
// bodies are signed with HMAC-SHA256.
func NewSMSGateway(cfg SMSGatewayConfig, logger *slog.Logger) *SMSGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "KPI-Sentinel/1.0")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &SMSGateway{
		client: client,
		sender: cfg.Sender,
		secret: cfg.Secret,
		logger: logger,
	}
}

type smsRequest struct {
	To        string            `json:"to"`
	From      string            `json:"from,omitempty"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (g *SMSGateway) SendTemplated(ctx context.Context, phoneNumber, templateKey string, variables map[string]string) bool {
	body, err := json.Marshal(smsRequest{
		To:        phoneNumber,
		From:      g.sender,
		Template:  templateKey,
		Variables: variables,
	})
	if err != nil {
		g.logger.Error("marshal sms request", "error", err)
		return false
	}

	req := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&smsResponse{})
	if g.secret != "" {
		req.SetHeader("X-Signature-256", "sha256="+computeHMAC(body, []byte(g.secret)))
	}

	resp, err := req.Post("/messages")
	if err != nil {
		g.logger.Error("send sms", "to", maskPhone(phoneNumber), "error", err)
		return false
	}
	if resp.IsError() {
		g.logger.Error("sms gateway rejected message", "to", maskPhone(phoneNumber), "status", resp.StatusCode())
		return false
	}
	if result, ok := resp.Result().(*smsResponse); ok && result.Status == "failed" {
		g.logger.Error("sms gateway reported failure", "to", maskPhone(phoneNumber), "id", result.ID)
		return false
	}
	return true
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return "****" + p[len(p)-4:]
}
