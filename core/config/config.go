package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/botstarter/core/telegram/callbacks"
)

// TelegramConfig holds bot transport settings.
type TelegramConfig struct {
	Token    string  `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminIDs []int64 `yaml:"admin_ids" envconfig:"TELEGRAM_ADMIN_IDS"`
	RunMode  string  `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// ParseMode is applied to every outgoing text: "MarkdownV2" (default), "Markdown", "HTML" or "none".
	ParseMode string `yaml:"parse_mode" envconfig:"TELEGRAM_PARSE_MODE"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting: "callback", "message".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// CallbacksConfig configures action token packing.
type CallbacksConfig struct {
	Separator string `yaml:"separator" envconfig:"CALLBACK_SEPARATOR"`
}

// TransportConfig configures the timeout retry applied to Telegram calls.
type TransportConfig struct {
	TimeoutSeconds       int `yaml:"timeout_seconds" envconfig:"TRANSPORT_TIMEOUT_SECONDS"`
	RetryIncreaseSeconds int `yaml:"retry_increase_seconds" envconfig:"TRANSPORT_RETRY_INCREASE_SECONDS"`
	RetryPauseMS         int `yaml:"retry_pause_ms" envconfig:"TRANSPORT_RETRY_PAUSE_MS"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
	Path   string `yaml:"path" envconfig:"METRICS_PATH"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

const (
	defaultTransportTimeout = 20
	defaultRetryIncrease    = 20
	defaultRetryPauseMS     = 2000
	defaultMetricsPath      = "/metrics"
	parseModeNone           = "none"
	defaultParseMode        = "MarkdownV2"
	defaultLongPollTimeout  = 10
	maxTransportTimeoutSecs = 300
	maxRetryIncreaseSeconds = 300
)

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Callbacks CallbacksConfig `yaml:"callbacks"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CoreConfig lets Config satisfy carriers that embed it.
func (c *Config) CoreConfig() *Config {
	return c
}

// LoadDotEnv loads variables from the given .env files (".env" when none given).
// Missing files are ignored; variables already present in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto decodes the YAML file at path into out and overlays environment
// variables. It is used by applications that embed Config into their own struct.
func LoadInto(path string, out any) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", out); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	for _, id := range cfg.Telegram.AdminIDs {
		if id <= 0 {
			return fmt.Errorf("telegram.admin_ids must contain positive ids, got %d", id)
		}
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
		if cfg.Telegram.LongPollTimeoutSeconds == 0 {
			cfg.Telegram.LongPollTimeoutSeconds = defaultLongPollTimeout
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	switch strings.ToLower(strings.TrimSpace(cfg.Telegram.ParseMode)) {
	case "":
		cfg.Telegram.ParseMode = defaultParseMode
	case "markdownv2":
		cfg.Telegram.ParseMode = "MarkdownV2"
	case "markdown":
		cfg.Telegram.ParseMode = "Markdown"
	case "html":
		cfg.Telegram.ParseMode = "HTML"
	case parseModeNone:
		cfg.Telegram.ParseMode = ""
	default:
		return fmt.Errorf("invalid telegram.parse_mode %q; allowed: MarkdownV2, Markdown, HTML, none", cfg.Telegram.ParseMode)
	}

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}

	if cfg.Callbacks.Separator == "" {
		cfg.Callbacks.Separator = callbacks.DefaultSeparator
	}
	if err := callbacks.ValidateSeparator(cfg.Callbacks.Separator); err != nil {
		return fmt.Errorf("callbacks.separator: %w", err)
	}

	t := &cfg.Transport
	if t.TimeoutSeconds == 0 {
		t.TimeoutSeconds = defaultTransportTimeout
	}
	if t.RetryIncreaseSeconds == 0 {
		t.RetryIncreaseSeconds = defaultRetryIncrease
	}
	if t.RetryPauseMS == 0 {
		t.RetryPauseMS = defaultRetryPauseMS
	}
	if t.TimeoutSeconds < 0 || t.TimeoutSeconds > maxTransportTimeoutSecs {
		return fmt.Errorf("transport.timeout_seconds must be within 1..%d", maxTransportTimeoutSecs)
	}
	if t.RetryIncreaseSeconds < 0 || t.RetryIncreaseSeconds > maxRetryIncreaseSeconds {
		return fmt.Errorf("transport.retry_increase_seconds must be within 0..%d", maxRetryIncreaseSeconds)
	}
	if t.RetryPauseMS < 0 {
		return fmt.Errorf("transport.retry_pause_ms must be >= 0")
	}

	if cfg.Metrics.Listen != "" && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	return nil
}
