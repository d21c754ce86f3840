package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	JWT         JWTConfig        `mapstructure:"jwt"`
	Chain       ChainConfig      `mapstructure:"chain"`
	Custody     CustodyConfig    `mapstructure:"custody"`
	Withdrawal  WithdrawalConfig `mapstructure:"withdrawal"`
	Queue       QueueConfig      `mapstructure:"queue"`
	Email       EmailConfig      `mapstructure:"email"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// ChainConfig describes the EVM network, token and settlement addresses.
type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	ChainID           int64  `mapstructure:"chain_id"` // 0 means ask the node
	TokenAddress      string `mapstructure:"token_address"`
	TokenSymbol       string `mapstructure:"token_symbol"`
	TokenDecimals     int32  `mapstructure:"token_decimals"`
	SettlementAddress string `mapstructure:"settlement_address"` // sweep destination
	DepositWallet     string `mapstructure:"deposit_wallet"`     // shown to operators
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	ReceiptTimeout    int    `mapstructure:"receipt_timeout"` // seconds
	ReceiptPoll       int    `mapstructure:"receipt_poll_ms"`
	MaxGasPriceGwei   int64  `mapstructure:"max_gas_price_gwei"`
}

// CustodyConfig holds key material envelopes and the at-rest wallet key.
type CustodyConfig struct {
	MasterPassphrase string `mapstructure:"master_passphrase"`
	XPrivEnvelope    string `mapstructure:"xpriv_envelope"`
	XPubEnvelope     string `mapstructure:"xpub_envelope"`
	WalletKeySecret  string `mapstructure:"wallet_key_secret"`
	RegenCooldown    int    `mapstructure:"regen_cooldown"` // seconds
}

type WithdrawalConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Schedule        string `mapstructure:"schedule"`
	Mode            string `mapstructure:"mode"`
	AddressDelayMS  int    `mapstructure:"address_delay_ms"`
	TransferDelayMS int    `mapstructure:"transfer_delay_ms"`
	AdminEmail      string `mapstructure:"admin_email"`
	SummarySubject  string `mapstructure:"summary_subject"`
}

type QueueConfig struct {
	Name        string `mapstructure:"name"`
	Concurrency int    `mapstructure:"concurrency"`
	Attempts    int    `mapstructure:"attempts"`
	BackoffMS   int    `mapstructure:"backoff_ms"`
	JobTimeout  int    `mapstructure:"job_timeout"` // seconds
	Backend     string `mapstructure:"backend"`     // redis or memory
}

type EmailConfig struct {
	Provider     string `mapstructure:"provider"` // "sendgrid", "resend", "mailpit", "smtp"
	APIKey       string `mapstructure:"api_key"`
	FromEmail    string `mapstructure:"from_email"`
	FromName     string `mapstructure:"from_name"`
	Environment  string `mapstructure:"environment"`
	ReplyTo      string `mapstructure:"reply_to"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	SMTPUseTLS   bool   `mapstructure:"smtp_use_tls"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// ReceiptTimeoutDuration returns the confirmation wait bound.
func (c ChainConfig) ReceiptTimeoutDuration() time.Duration {
	return time.Duration(c.ReceiptTimeout) * time.Second
}

// Backoff returns the fixed retry delay for queued jobs.
func (c QueueConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 100)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "custody_service")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.issuer", "custody_service")

	v.SetDefault("chain.token_address", "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	v.SetDefault("chain.token_symbol", "USDC")
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.requests_per_second", 10)
	v.SetDefault("chain.receipt_timeout", 180)
	v.SetDefault("chain.receipt_poll_ms", 2000)
	v.SetDefault("chain.max_gas_price_gwei", 10)

	v.SetDefault("custody.regen_cooldown", 10)

	v.SetDefault("withdrawal.enabled", false)
	v.SetDefault("withdrawal.schedule", "0 5/20 * * * *")
	v.SetDefault("withdrawal.mode", "queued")
	v.SetDefault("withdrawal.address_delay_ms", 1000)
	v.SetDefault("withdrawal.transfer_delay_ms", 1000)
	v.SetDefault("withdrawal.summary_subject", "Withdrawal Process Summary")

	v.SetDefault("queue.name", "withdraw")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.attempts", 5)
	v.SetDefault("queue.backoff_ms", 5000)
	v.SetDefault("queue.job_timeout", 300)
	v.SetDefault("queue.backend", "redis")

	v.SetDefault("email.provider", "smtp")
	v.SetDefault("email.from_email", "no-reply@custody.local")
	v.SetDefault("email.from_name", "Custody Service")
	v.SetDefault("email.environment", "development")
	v.SetDefault("email.smtp_host", "localhost")
	v.SetDefault("email.smtp_port", 1025)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	envKeys := map[string]string{
		"DATABASE_URL":                  "database.url",
		"REDIS_URL":                     "redis.url",
		"JWT_SECRET":                    "jwt.secret",
		"SEPOLIA_RPC":                   "chain.rpc_url",
		"RPC_URL":                       "chain.rpc_url",
		"USDC_CONTRACT_SEPOLIA_ADDRESS": "chain.token_address",
		"WITHDRAW_WALLET":               "chain.settlement_address",
		"DEPOSIT_WALLET":                "chain.deposit_wallet",
		"MASTER_KEY":                    "custody.master_passphrase",
		"WALLET_XPRIV_ENC":              "custody.xpriv_envelope",
		"WALLET_XPUB_ENC":               "custody.xpub_envelope",
		"WALLET_ENCRYPTION_KEY":         "custody.wallet_key_secret",
		"ADMIN_EMAIL":                   "withdrawal.admin_email",
		"EMAIL_PROVIDER":                "email.provider",
		"EMAIL_API_KEY":                 "email.api_key",
		"EMAIL_FROM_EMAIL":              "email.from_email",
		"EMAIL_FROM_NAME":               "email.from_name",
		"SMTP_HOST":                     "email.smtp_host",
		"SMTP_USERNAME":                 "email.smtp_username",
		"SMTP_PASSWORD":                 "email.smtp_password",
		"OTEL_COLLECTOR_URL":            "tracing.collector_url",
	}
	for env, key := range envKeys {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		v.Set("email.api_key", sendgridKey)
		v.Set("email.provider", "sendgrid")
	}
	if smtpPort := os.Getenv("SMTP_PORT"); smtpPort != "" {
		if p, err := strconv.Atoi(smtpPort); err == nil {
			v.Set("email.smtp_port", p)
		}
	}
	if enabled := os.Getenv("WITHDRAW_CRON_ENABLED"); enabled != "" {
		v.Set("withdrawal.enabled", enabled == "true" || enabled == "1")
	}
}

// validate rejects configurations the process must not start with.
func validate(config *Config) error {
	required := []struct {
		key   string
		value string
		what  string
	}{
		{"jwt.secret", config.JWT.Secret, "JWT secret is required"},
		{"chain.rpc_url", config.Chain.RPCURL, "RPC URL is required"},
		{"chain.token_address", config.Chain.TokenAddress, "token contract address is required"},
		{"chain.settlement_address", config.Chain.SettlementAddress, "settlement wallet address is required"},
		{"custody.master_passphrase", config.Custody.MasterPassphrase, "master key passphrase is required"},
		{"custody.xpriv_envelope", config.Custody.XPrivEnvelope, "encrypted extended private key is required"},
		{"custody.xpub_envelope", config.Custody.XPubEnvelope, "encrypted extended public key is required"},
		{"custody.wallet_key_secret", config.Custody.WalletKeySecret, "wallet encryption key is required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domainerrors.ConfigurationError(r.key, r.what)
		}
	}

	addresses := []struct {
		key   string
		value string
	}{
		{"chain.token_address", config.Chain.TokenAddress},
		{"chain.settlement_address", config.Chain.SettlementAddress},
	}
	for _, a := range addresses {
		value := strings.TrimSpace(a.value)
		if !common.IsHexAddress(value) || common.HexToAddress(value) == (common.Address{}) {
			return domainerrors.ConfigurationError(a.key, fmt.Sprintf("%s is not a valid address: %q", a.key, a.value))
		}
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return domainerrors.ConfigurationError("database", "database configuration is incomplete")
	}

	if config.Withdrawal.Enabled && strings.TrimSpace(config.Withdrawal.AdminEmail) == "" {
		return domainerrors.ConfigurationError("withdrawal.admin_email", "admin email is required when the withdrawal schedule is enabled")
	}

	switch config.Withdrawal.Mode {
	case "synchronous", "queued":
	default:
		return domainerrors.ConfigurationError("withdrawal.mode", "withdrawal mode must be synchronous or queued")
	}

	if config.Queue.Attempts < 1 {
		return domainerrors.ConfigurationError("queue.attempts", "queue attempts must be at least 1")
	}

	return nil
}
