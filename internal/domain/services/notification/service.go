package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/internal/infrastructure/adapters"
)

// EmailSender delivers an HTML email.
type EmailSender interface {
	SendHTML(ctx context.Context, msg adapters.Email) error
}

// Config captures runtime configuration for the notifier
type Config struct {
	AdminEmail  string
	Subject     string
	TokenSymbol string
}

// Service renders cycle summaries and mails them to the administrator.
type Service struct {
	email   EmailSender
	config  Config
	tmpl    *template.Template
	printer *message.Printer
	logger  *zap.Logger
}

// NewService creates a new summary notifier
func NewService(email EmailSender, cfg Config, logger *zap.Logger) *Service {
	if cfg.Subject == "" {
		cfg.Subject = "Withdrawal Process Summary"
	}
	printer := message.NewPrinter(language.English)
	title := cases.Title(language.English)
	funcs := template.FuncMap{
		"count": func(n int) string { return printer.Sprintf("%d", n) },
		"title": title.String,
		"orUnknown": func(s string) string {
			if strings.TrimSpace(s) == "" {
				return "Unknown"
			}
			return s
		},
	}
	return &Service{
		email:   email,
		config:  cfg,
		tmpl:    template.Must(template.New("summary").Funcs(funcs).Parse(summaryTemplate)),
		printer: printer,
		logger:  logger,
	}
}

type summaryView struct {
	*entities.CycleSummary
	NativeSymbol string
}

// Render returns the HTML and plain text bodies of a summary.
func (s *Service) Render(summary *entities.CycleSummary) (string, string, error) {
	if summary.TokenSymbol == "" {
		summary.TokenSymbol = s.config.TokenSymbol
	}
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, summaryView{CycleSummary: summary, NativeSymbol: entities.NativeCurrency}); err != nil {
		return "", "", fmt.Errorf("failed to render summary: %w", err)
	}

	text := s.printer.Sprintf(
		"Withdrawal batch %s completed.\nWallets: %d\nWithdrawn: %s %s (%d succeeded, %d failed)\nFunded: %s %s (%d succeeded, %d failed)\nSkipped: %d\n",
		summary.BatchID,
		summary.TotalWallets,
		summary.TotalTokenAmount.String(), summary.TokenSymbol,
		len(summary.WithdrawSucceeded), len(summary.WithdrawFailed),
		summary.TotalNativeAmount.String(), entities.NativeCurrency,
		len(summary.FundSucceeded), len(summary.FundFailed),
		len(summary.Skipped),
	)
	return buf.String(), text, nil
}

// SendCycleSummary mails the summary to the configured administrator.
func (s *Service) SendCycleSummary(ctx context.Context, summary *entities.CycleSummary) error {
	if strings.TrimSpace(s.config.AdminEmail) == "" {
		s.logger.Warn("No admin email configured, summary not sent", zap.String("batch_id", summary.BatchID))
		return nil
	}

	html, text, err := s.Render(summary)
	if err != nil {
		return err
	}

	if err := s.email.SendHTML(ctx, adapters.Email{
		To:      s.config.AdminEmail,
		Subject: s.config.Subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		return fmt.Errorf("failed to send summary for batch %s: %w", summary.BatchID, err)
	}

	s.logger.Info("Withdrawal summary sent",
		zap.String("batch_id", summary.BatchID),
		zap.String("to", s.config.AdminEmail))
	return nil
}

const summaryTemplate = `<div style="font-family: Arial, sans-serif; color: #333; max-width: 700px; margin: auto;">
  <h2 style="color: #2c3e50;">Withdrawal Process Completed</h2>
  <p style="font-size: 14px; color: #555;">Batch <code>{{.BatchID}}</code> has finished. Below is the summary:</p>

  <h3 style="margin-top: 20px; color: #2c3e50;">Summary</h3>
  <ul style="list-style: none; padding: 0; font-size: 14px;">
    <li><strong>Total Wallets Involved:</strong> {{count .TotalWallets}}</li>
    <li><strong>Total Funds Withdrawn:</strong> {{.TotalTokenAmount}} {{.TokenSymbol}}</li>
    <li><strong>Total {{.NativeSymbol}} Funded:</strong> {{.TotalNativeAmount}} {{.NativeSymbol}}</li>
  </ul>

  <h3 style="margin-top: 20px; color: #2c3e50;">{{title "funding summary"}}</h3>
  <p><strong>Successful:</strong> {{count (len .FundSucceeded)}}</p>
  <ul style="font-size: 13px; color: #444;">
  {{- range .FundSucceeded}}
    <li><strong>Address:</strong> {{.Address}}<br/><strong>Amount:</strong> {{.Amount}} {{$.NativeSymbol}}<br/><strong>Tx:</strong> {{.TxID}}</li>
  {{- end}}
  </ul>
  <p><strong>Failed:</strong> {{count (len .FundFailed)}}</p>
  <ul style="font-size: 13px; color: #b00020;">
  {{- range .FundFailed}}
    <li><strong>Address:</strong> {{.Address}}<br/><strong>Error:</strong> {{orUnknown .Error}}</li>
  {{- end}}
  </ul>

  <h3 style="margin-top: 20px; color: #2c3e50;">{{title "withdrawal summary"}}</h3>
  <p><strong>Successful:</strong> {{count (len .WithdrawSucceeded)}}</p>
  <ul style="font-size: 13px; color: #444;">
  {{- range .WithdrawSucceeded}}
    <li><strong>Address:</strong> {{.Address}}<br/><strong>Amount:</strong> {{.Amount}} {{$.TokenSymbol}}<br/><strong>Tx:</strong> {{.TxID}}</li>
  {{- end}}
  </ul>
  <p><strong>Failed:</strong> {{count (len .WithdrawFailed)}}</p>
  <ul style="font-size: 13px; color: #b00020;">
  {{- range .WithdrawFailed}}
    <li><strong>Address:</strong> {{.Address}}<br/><strong>Error:</strong> {{orUnknown .Error}}</li>
  {{- end}}
  </ul>
  {{- if .Skipped}}

  <h3 style="margin-top: 20px; color: #2c3e50;">Skipped</h3>
  <ul style="font-size: 13px; color: #666;">
  {{- range .Skipped}}
    <li><strong>Address:</strong> {{.Address}}{{if .Error}} ({{.Error}}){{end}}</li>
  {{- end}}
  </ul>
  {{- end}}

  <hr style="margin-top: 30px; border: 0; border-top: 1px solid #ddd;" />
  <p style="font-size: 12px; color: #888; text-align: center;">This is an automated message. Please do not reply directly to this email.</p>
</div>
`
