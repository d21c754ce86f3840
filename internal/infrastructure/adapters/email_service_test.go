package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/infrastructure/config"
)

func TestNewEmailService_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmailConfig
		wantErr string
	}{
		{"missing from", config.EmailConfig{Provider: "smtp", SMTPHost: "localhost"}, "from address"},
		{"missing provider", config.EmailConfig{FromEmail: "ops@example.com"}, "provider is required"},
		{"unknown provider", config.EmailConfig{Provider: "pigeon", FromEmail: "ops@example.com"}, "unsupported"},
		{"sendgrid without key", config.EmailConfig{Provider: "sendgrid", FromEmail: "ops@example.com"}, "sendgrid api key"},
		{"resend without key", config.EmailConfig{Provider: "resend", FromEmail: "ops@example.com"}, "resend api key"},
		{"smtp without host", config.EmailConfig{Provider: "smtp", FromEmail: "ops@example.com"}, "smtp host"},
		{"smtp ok", config.EmailConfig{Provider: "SMTP", FromEmail: "ops@example.com", SMTPHost: "localhost"}, ""},
		{"sendgrid ok", config.EmailConfig{Provider: "sendgrid", FromEmail: "ops@example.com", APIKey: "SG.key"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewEmailService(zap.NewNop(), tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestEmailService_SMTPPortDefault(t *testing.T) {
	svc, err := NewEmailService(zap.NewNop(), config.EmailConfig{Provider: "mailpit", FromEmail: "ops@example.com", SMTPHost: "localhost"})
	assert.NoError(t, err)
	assert.Equal(t, 1025, svc.config.SMTPPort)
}

func TestEmailService_FromHeader(t *testing.T) {
	svc := &EmailService{config: config.EmailConfig{FromName: "Custody"}}
	assert.Equal(t, "Custody <ops@example.com>", svc.fromHeader("ops@example.com"))

	svc.config.FromName = ""
	assert.Equal(t, "ops@example.com", svc.fromHeader("ops@example.com"))
}
