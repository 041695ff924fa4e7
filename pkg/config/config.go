package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath = "TRACERBOT_CONFIG"

	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"

	envNLUURL            = "NLU_URL"
	envRasaURL           = "RASA_URL"
	envNLUTimeoutSeconds = "NLU_TIMEOUT_SECONDS"

	envPersistenceURL   = "PERSISTENCE_URL"
	envPersistenceToken = "PERSISTENCE_TOKEN"
	envLaravelURL       = "LARAVEL_URL"
	envLaravelToken     = "LARAVEL_TOKEN"

	envConcurrency          = "BOT_CONCURRENCY"
	envReminderDelaySeconds = "REMINDER_DELAY_SECONDS"
	envMenuTTLSeconds       = "MENU_TTL_SECONDS"
	envMaxSessions          = "MAX_SESSIONS"
	envSweepIntervalSeconds = "SWEEP_INTERVAL_SECONDS"

	envGatewayHost = "GATEWAY_HOST"
	envGatewayPort = "GATEWAY_PORT"

	// laravelConversationPath is appended to LARAVEL_URL, which names the API base.
	laravelConversationPath = "/data-alumnis"
)

const (
	DefaultNLUURL                = "http://localhost:5005/webhooks/rest/webhook"
	DefaultNLUTimeout            = 15 * time.Second
	DefaultPersistenceTimeout    = 10 * time.Second
	DefaultConcurrency           = 4
	DefaultReminderDelay         = 24 * time.Hour
	DefaultMenuTTL               = 5 * time.Minute
	DefaultMaxSessions           = 1000
	DefaultSweepInterval         = time.Hour
	DefaultErrorMessage          = "⚠️ Terjadi kesalahan, silakan coba lagi."
	DefaultFallbackMessage       = "Maaf, saya belum mengerti. Silakan coba lagi."
	DefaultReminderMessage       = "📬 Sudah lebih dari 24 jam sejak terakhir kali. Mau lanjut tracer study atau butuh bantuan?"
	defaultGatewayHost           = "0.0.0.0"
	defaultGatewayPort           = 18790
	defaultNLUTimeoutSeconds     = int(DefaultNLUTimeout / time.Second)
	defaultPersistTimeoutSeconds = int(DefaultPersistenceTimeout / time.Second)
)

// Config is the root runtime configuration.
type Config struct {
	Channels    ChannelsConfig    `json:"channels" yaml:"channels"`
	NLU         NLUConfig         `json:"nlu" yaml:"nlu"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Dispatcher  DispatcherConfig  `json:"dispatcher" yaml:"dispatcher"`
	Session     SessionConfig     `json:"session" yaml:"session"`
	Messages    MessagesConfig    `json:"messages" yaml:"messages"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string         `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
	Level     string         `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool           `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	Telegram  TelegramAlerts `json:"telegram,omitempty" yaml:"telegram,omitempty"`
}

// TelegramAlerts routes error-level records to an operator chat.
type TelegramAlerts struct {
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID string `json:"chat_id,omitempty" yaml:"chat_id,omitempty" validate:"required_with=Token"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token" validate:"required_if=Enabled true"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// NLUConfig points at the natural-language-understanding REST webhook.
type NLUConfig struct {
	URL                   string `json:"url" yaml:"url" validate:"required,url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" validate:"min=1"`
}

// PersistenceConfig points at the transcript persistence endpoint.
//
// An empty URL disables transcript uploads.
type PersistenceConfig struct {
	URL                   string `json:"url" yaml:"url" validate:"omitempty,url"`
	Token                 string `json:"token" yaml:"token"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds" validate:"min=1"`
}

// DispatcherConfig bounds concurrent chat handling.
type DispatcherConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"min=1"`
}

// SessionConfig controls per-chat state lifetimes.
type SessionConfig struct {
	ReminderDelaySeconds int `json:"reminder_delay_seconds" yaml:"reminder_delay_seconds" validate:"min=1"`
	MenuTTLSeconds       int `json:"menu_ttl_seconds" yaml:"menu_ttl_seconds" validate:"min=1"`
	MaxSessions          int `json:"max_sessions" yaml:"max_sessions" validate:"min=1"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" validate:"min=1"`
}

// MessagesConfig holds the fixed texts the bot sends on its own.
type MessagesConfig struct {
	Error    string `json:"error" yaml:"error"`
	Fallback string `json:"fallback" yaml:"fallback"`
	Reminder string `json:"reminder" yaml:"reminder"`
}

// GatewayConfig configures the status server bind settings.
//
// A negative port disables the status server.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ReminderDelay returns the configured reminder delay.
func (c SessionConfig) ReminderDelay() time.Duration {
	return time.Duration(c.ReminderDelaySeconds) * time.Second
}

// MenuTTL returns how long an offered menu stays selectable.
func (c SessionConfig) MenuTTL() time.Duration {
	return time.Duration(c.MenuTTLSeconds) * time.Second
}

// SweepInterval returns the maintenance sweep period.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// RequestTimeout returns the NLU call timeout.
func (c NLUConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RequestTimeout returns the persistence call timeout.
func (c PersistenceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Default returns a configuration populated with built-in defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads .env, resolves an optional config file, applies defaults
// and environment overrides, then validates the result.
func LoadConfig() (*Config, error) {
	// A missing .env file is the normal case in containers.
	_ = godotenv.Load()

	var cfg Config

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := readConfigFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func readConfigFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}

	return nil
}

// applyDefaults fills every unset field with its built-in default.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NLU.URL) == "" {
		cfg.NLU.URL = DefaultNLUURL
	}
	if cfg.NLU.RequestTimeoutSeconds <= 0 {
		cfg.NLU.RequestTimeoutSeconds = defaultNLUTimeoutSeconds
	}
	if cfg.Persistence.RequestTimeoutSeconds <= 0 {
		cfg.Persistence.RequestTimeoutSeconds = defaultPersistTimeoutSeconds
	}
	if cfg.Dispatcher.Concurrency <= 0 {
		cfg.Dispatcher.Concurrency = DefaultConcurrency
	}
	if cfg.Session.ReminderDelaySeconds <= 0 {
		cfg.Session.ReminderDelaySeconds = int(DefaultReminderDelay / time.Second)
	}
	if cfg.Session.MenuTTLSeconds <= 0 {
		cfg.Session.MenuTTLSeconds = int(DefaultMenuTTL / time.Second)
	}
	if cfg.Session.MaxSessions <= 0 {
		cfg.Session.MaxSessions = DefaultMaxSessions
	}
	if cfg.Session.SweepIntervalSeconds <= 0 {
		cfg.Session.SweepIntervalSeconds = int(DefaultSweepInterval / time.Second)
	}
	if strings.TrimSpace(cfg.Messages.Error) == "" {
		cfg.Messages.Error = DefaultErrorMessage
	}
	if strings.TrimSpace(cfg.Messages.Fallback) == "" {
		cfg.Messages.Fallback = DefaultFallbackMessage
	}
	if strings.TrimSpace(cfg.Messages.Reminder) == "" {
		cfg.Messages.Reminder = DefaultReminderMessage
	}
	if strings.TrimSpace(cfg.Gateway.Host) == "" {
		cfg.Gateway.Host = defaultGatewayHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = defaultGatewayPort
	}
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if value := firstEnv(envNLUURL, envRasaURL); value != "" {
		cfg.NLU.URL = value
	}

	if value := strings.TrimSpace(os.Getenv(envPersistenceURL)); value != "" {
		cfg.Persistence.URL = value
	} else if base := strings.TrimSpace(os.Getenv(envLaravelURL)); base != "" {
		cfg.Persistence.URL = strings.TrimRight(base, "/") + laravelConversationPath
	}

	if value := firstEnv(envPersistenceToken, envLaravelToken); value != "" {
		cfg.Persistence.Token = value
	}

	if value := strings.TrimSpace(os.Getenv(envGatewayHost)); value != "" {
		cfg.Gateway.Host = value
	}

	ints := []struct {
		key    string
		target *int
	}{
		{envNLUTimeoutSeconds, &cfg.NLU.RequestTimeoutSeconds},
		{envConcurrency, &cfg.Dispatcher.Concurrency},
		{envReminderDelaySeconds, &cfg.Session.ReminderDelaySeconds},
		{envMenuTTLSeconds, &cfg.Session.MenuTTLSeconds},
		{envMaxSessions, &cfg.Session.MaxSessions},
		{envSweepIntervalSeconds, &cfg.Session.SweepIntervalSeconds},
		{envGatewayPort, &cfg.Gateway.Port},
	}
	for _, item := range ints {
		raw := strings.TrimSpace(os.Getenv(item.key))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", item.key, err)
		}
		*item.target = value
	}

	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}

	return ""
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is TRACERBOT_CONFIG first, then cwd-local fallback paths. No file
// at all is fine: defaults and environment cover every option.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}

	return "", nil
}
