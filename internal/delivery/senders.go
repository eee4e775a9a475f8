package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/config"
)

// Sender delivers one alert to one recipient over a single channel.
type Sender interface {
	Send(ctx context.Context, alert *models.IntelligentAlert, recipient string) error
}

const senderTimeout = 15 * time.Second

// EmailSender delivers over SMTP. Every exchange runs under a hard
// deadline so a silent SMTP host cannot stall the dispatch loop.
type EmailSender struct {
	cfg     config.EmailConfig
	timeout time.Duration
}

func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, timeout: senderTimeout}
}

func (s *EmailSender) Send(ctx context.Context, alert *models.IntelligentAlert, recipient string) error {
	if !strings.Contains(recipient, "@") {
		return fmt.Errorf("invalid email address: %s", recipient)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Priority)), alert.Title)
	var body strings.Builder
	body.WriteString(alert.Message)
	if len(alert.Insights) > 0 {
		body.WriteString("\n\nInsights:\n")
		for _, insight := range alert.Insights {
			body.WriteString("- " + insight + "\n")
		}
	}

	msg := []byte(fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		recipient, s.cfg.From, subject, body.String()))

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP host %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set SMTP deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open SMTP session with %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("failed to start TLS with %s: %w", addr, err)
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("failed to authenticate with %s: %w", addr, err)
			}
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	return client.Quit()
}

// SMSSender delivers through the Twilio messages API.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSSender(cfg config.SMSConfig) *SMSSender {
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: senderTimeout},
	}
}

func (s *SMSSender) Send(ctx context.Context, alert *models.IntelligentAlert, recipient string) error {
	if !strings.HasPrefix(recipient, "+") {
		return fmt.Errorf("invalid phone number: %s", recipient)
	}
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" || s.cfg.FromNumber == "" {
		return fmt.Errorf("SMS channel not configured")
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.cfg.AccountSID)
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", fmt.Sprintf("%s: %s", alert.Title, alert.Message))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", recipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("SMS API returned status %d for %s", resp.StatusCode, recipient)
	}
	return nil
}

// SlackSender posts to an incoming-webhook URL. The recipient is informational
// only; Slack routing is fixed by the webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSender(cfg config.SlackConfig) *SlackSender {
	return &SlackSender{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

func (s *SlackSender) Send(ctx context.Context, alert *models.IntelligentAlert, _ string) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack channel not configured")
	}

	payload := map[string]string{
		"text": fmt.Sprintf("*[%s] %s*\n%s", strings.ToUpper(string(alert.Priority)), alert.Title, alert.Message),
	}
	return postJSON(ctx, s.client, s.webhookURL, payload)
}

// WebhookSender posts the full alert document to a configured endpoint. When
// the recipient is itself a URL it overrides the configured default, which is
// how security alerts reach per-team receivers.
type WebhookSender struct {
	defaultURL string
	client     *http.Client
}

func NewWebhookSender(cfg config.WebhookConfig) *WebhookSender {
	timeout := senderTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &WebhookSender{
		defaultURL: cfg.URL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSender) Send(ctx context.Context, alert *models.IntelligentAlert, recipient string) error {
	endpoint := s.defaultURL
	if strings.HasPrefix(recipient, "http://") || strings.HasPrefix(recipient, "https://") {
		endpoint = recipient
	}
	if endpoint == "" {
		return fmt.Errorf("webhook channel not configured")
	}

	payload := map[string]interface{}{
		"id":         alert.ID,
		"category":   alert.Category,
		"priority":   alert.Priority,
		"title":      alert.Title,
		"message":    alert.Message,
		"insights":   alert.Insights,
		"context":    alert.Context,
		"created_at": alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, s.client, endpoint, payload)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}
