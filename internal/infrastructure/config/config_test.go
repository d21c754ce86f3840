package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SEPOLIA_RPC", "http://localhost:8545")
	t.Setenv("WITHDRAW_WALLET", "0x000000000000000000000000000000000000dEaD")
	t.Setenv("MASTER_KEY", "passphrase")
	t.Setenv("WALLET_XPRIV_ENC", `{"encryptedData":"","iv":"","authTag":""}`)
	t.Setenv("WALLET_XPUB_ENC", `{"encryptedData":"","iv":"","authTag":""}`)
	t.Setenv("WALLET_ENCRYPTION_KEY", "wallet-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", cfg.Chain.TokenAddress)
	assert.Equal(t, int32(6), cfg.Chain.TokenDecimals)
	assert.Equal(t, "0 5/20 * * * *", cfg.Withdrawal.Schedule)
	assert.Equal(t, 5, cfg.Queue.Attempts)
	assert.Equal(t, 5000, cfg.Queue.BackoffMS)
	assert.Equal(t, "Withdrawal Process Summary", cfg.Withdrawal.SummarySubject)
	assert.Contains(t, cfg.Database.URL, "postgres://")
}

func TestLoad_MissingSecretIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		env  string
		key  string
	}{
		{"master passphrase", "MASTER_KEY", "custody.master_passphrase"},
		{"xpriv envelope", "WALLET_XPRIV_ENC", "custody.xpriv_envelope"},
		{"xpub envelope", "WALLET_XPUB_ENC", "custody.xpub_envelope"},
		{"settlement wallet", "WITHDRAW_WALLET", "chain.settlement_address"},
		{"rpc", "SEPOLIA_RPC", "chain.rpc_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.env, "")

			_, err := Load()
			require.Error(t, err)
			assert.True(t, domainerrors.IsConfiguration(err))
			assert.Equal(t, tt.key, domainerrors.GetErrorDetails(err)["key"])
		})
	}
}

func TestLoad_MalformedAddressIsConfigurationError(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
		key   string
	}{
		{"short settlement", "WITHDRAW_WALLET", "0xdead", "chain.settlement_address"},
		{"non hex settlement", "WITHDRAW_WALLET", "0xZZ0000000000000000000000000000000000dEaD", "chain.settlement_address"},
		{"zero settlement", "WITHDRAW_WALLET", "0x0000000000000000000000000000000000000000", "chain.settlement_address"},
		{"short token", "USDC_CONTRACT_SEPOLIA_ADDRESS", "0x1c7D", "chain.token_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.True(t, domainerrors.IsConfiguration(err))
			assert.Equal(t, tt.key, domainerrors.GetErrorDetails(err)["key"])
		})
	}
}

func TestLoad_EnabledScheduleNeedsAdminEmail(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WITHDRAW_CRON_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, domainerrors.IsConfiguration(err))

	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Withdrawal.Enabled)
}
