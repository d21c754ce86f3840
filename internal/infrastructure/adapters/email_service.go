package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/infrastructure/config"
)

const (
	resendAPIBaseURL        = "https://api.resend.com"
	resendSandboxFromSender = "onboarding@resend.dev"
	sendTimeout             = 30 * time.Second
)

// Email is one outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailService delivers mail through the configured provider.
type EmailService struct {
	logger     *zap.Logger
	config     config.EmailConfig
	provider   string
	sendgrid   *sendgrid.Client
	httpClient *http.Client
}

// NewEmailService validates the provider settings and builds its client.
func NewEmailService(logger *zap.Logger, cfg config.EmailConfig) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	svc := &EmailService{logger: logger, config: cfg, provider: provider}

	switch provider {
	case "sendgrid":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		svc.sendgrid = sendgrid.NewSendClient(cfg.APIKey)
	case "resend":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("resend api key is required")
		}
		svc.httpClient = &http.Client{Timeout: sendTimeout}
	case "mailpit", "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp host is required for %s provider", provider)
		}
		if svc.config.SMTPPort == 0 {
			svc.config.SMTPPort = 1025
		}
	case "":
		return nil, fmt.Errorf("email provider is required")
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}

	return svc, nil
}

// SendHTML sends an HTML message with an optional plain text part.
func (e *EmailService) SendHTML(ctx context.Context, msg Email) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var err error
	switch e.provider {
	case "sendgrid":
		err = e.sendViaSendgrid(ctx, msg)
	case "resend":
		err = e.sendViaResend(ctx, msg)
	default:
		err = e.sendViaSMTP(msg)
	}
	if err != nil {
		e.logger.Error("Failed to send email",
			zap.String("provider", e.provider),
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return err
	}

	e.logger.Info("Email sent successfully",
		zap.String("provider", e.provider),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

func (e *EmailService) fromHeader(address string) string {
	if strings.TrimSpace(e.config.FromName) == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", e.config.FromName, address)
}

func (e *EmailService) sendViaSendgrid(ctx context.Context, msg Email) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(e.config.FromName, e.config.FromEmail),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		msg.HTML,
	)
	if strings.TrimSpace(e.config.ReplyTo) != "" {
		message.SetReplyTo(mail.NewEmail(e.config.FromName, e.config.ReplyTo))
	}

	response, err := e.sendgrid.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

func (e *EmailService) sendViaResend(ctx context.Context, msg Email) error {
	from := e.fromHeader(e.config.FromEmail)
	// Resend only accepts its sandbox sender outside production
	if isNonProductionEnv(e.config.Environment) && !strings.HasSuffix(strings.ToLower(e.config.FromEmail), "@resend.dev") {
		from = e.fromHeader(resendSandboxFromSender)
	}

	payload := map[string]any{
		"from":    from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	}
	if msg.Text != "" {
		payload["text"] = msg.Text
	}
	if strings.TrimSpace(e.config.ReplyTo) != "" {
		payload["reply_to"] = e.config.ReplyTo
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendAPIBaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("resend email error: status %d, body: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (e *EmailService) sendViaSMTP(msg Email) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.fromHeader(e.config.FromEmail))
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	if e.config.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", e.config.ReplyTo)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	buf.WriteString(msg.HTML)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)

	var auth smtp.Auth
	if e.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.config.SMTPUsername, e.config.SMTPPassword, e.config.SMTPHost)
	}

	if !e.config.SMTPUseTLS {
		if err := smtp.SendMail(addr, auth, e.config.FromEmail, []string{msg.To}, buf.Bytes()); err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	}
	if err := e.sendSMTPWithTLS(addr, auth, msg.To, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func (e *EmailService) sendSMTPWithTLS(addr string, auth smtp.Auth, to string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.config.SMTPHost})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(e.config.FromEmail); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func isNonProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "staging", "test", "testing":
		return true
	default:
		return false
	}
}
