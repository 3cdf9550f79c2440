package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/inboxbot/core/telegram/callbacks"
)

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	// Token is only consulted by the "env" secret backend.
	Token          string `yaml:"token" envconfig:"BOT_TOKEN"`
	SecretName     string `yaml:"secret_name" envconfig:"TELEGRAM_SECRET_NAME"`
	SecretBackend  string `yaml:"secret_backend" envconfig:"TELEGRAM_SECRET_BACKEND"`
	APIURL         string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"TELEGRAM_TIMEOUT_SECONDS"`
	RetryAttempts  int    `yaml:"retry_attempts" envconfig:"TELEGRAM_RETRY_ATTEMPTS"`
	RunMode        string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies the inbound HTTP listener and webhook registration.
type WebhookConfig struct {
	URL         string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen      string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port        int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Path        string `yaml:"path" envconfig:"WEBHOOK_PATH"`
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
	// Register calls setWebhook and setMyCommands on startup.
	Register bool `yaml:"register" envconfig:"WEBHOOK_REGISTER"`
}

// AddressConfig controls generated addresses.
type AddressConfig struct {
	Domain      string `yaml:"domain" envconfig:"COMPANY_DOMAIN"`
	MaxAttempts int    `yaml:"max_attempts" envconfig:"ADDRESS_MAX_ATTEMPTS"`
}

// StoreConfig selects the address table backend.
type StoreConfig struct {
	Driver string `yaml:"driver" envconfig:"STORE_DRIVER"`
	Table  string `yaml:"table" envconfig:"ADDRESS_TABLE"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	Migrate        bool   `yaml:"migrate" envconfig:"DB_MIGRATE"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order" envconfig:"LOG_KEYS_ORDER"`
	DebugSample string `yaml:"debug_sample" envconfig:"LOG_DEBUG_SAMPLE"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	File        string `yaml:"file" envconfig:"LOG_FILE"`
	MaxSizeMB   int    `yaml:"max_size_mb" envconfig:"LOG_MAX_SIZE_MB"`
	MaxBackups  int    `yaml:"max_backups" envconfig:"LOG_MAX_BACKUPS"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook serves updates pushed by Telegram over HTTP.
	RunModeWebhook = "webhook"
	// RunModeLongpoll pulls updates with getUpdates; intended for local development.
	RunModeLongpoll = "longpoll"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	SecretBackendEnv     = "env"
	SecretBackendKeyring = "keyring"
)

// Defaults.
const (
	DefaultTable          = "email_bot_addresses"
	DefaultSecretName     = "/email-bot/telegram"
	DefaultDomain         = "smdelfin-up.me"
	DefaultMaxAttempts    = 3
	DefaultAPIURL         = "https://api.telegram.org"
	DefaultTimeoutSeconds = 10
	DefaultListen         = "0.0.0.0"
	DefaultPort           = 8080
	DefaultWebhookPath    = "/telegram/webhook"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPrefix    = "inboxbot:"
)

// localPartLen matches address.LocalPartLength.
const localPartLen = 10

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Address  AddressConfig  `yaml:"address"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from an optional YAML file, then overlays environment
// variables (including those from a .env file in the working directory).
// An empty path or a missing file means environment-only configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates the combinations that matter at startup.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Store.Table) == "" {
		cfg.Store.Table = DefaultTable
	}
	if strings.TrimSpace(cfg.Telegram.SecretName) == "" {
		cfg.Telegram.SecretName = DefaultSecretName
	}
	cfg.Address.Domain = strings.ToLower(strings.TrimSpace(cfg.Address.Domain))
	if cfg.Address.Domain == "" {
		cfg.Address.Domain = DefaultDomain
	}
	if strings.Contains(cfg.Address.Domain, "@") {
		return fmt.Errorf("address.domain %q must not contain '@'", cfg.Address.Domain)
	}
	// Every generated address must fit in the confirm button's callback data.
	longest := callbacks.ConfirmDeactivate{Email: strings.Repeat("0", localPartLen) + "@" + cfg.Address.Domain}
	if n := len(longest.Data()); n > callbacks.MaxDataLen {
		return fmt.Errorf("address.domain %q is too long: callback data would be %d bytes, limit %d",
			cfg.Address.Domain, n, callbacks.MaxDataLen)
	}
	if cfg.Address.MaxAttempts == 0 {
		cfg.Address.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Address.MaxAttempts < 0 {
		return fmt.Errorf("address.max_attempts must be >= 1")
	}

	if strings.TrimSpace(cfg.Telegram.APIURL) == "" {
		cfg.Telegram.APIURL = DefaultAPIURL
	}
	cfg.Telegram.APIURL = strings.TrimRight(cfg.Telegram.APIURL, "/")
	if cfg.Telegram.TimeoutSeconds == 0 {
		cfg.Telegram.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Telegram.TimeoutSeconds < 0 {
		return fmt.Errorf("telegram.timeout_seconds must be > 0")
	}
	if cfg.Telegram.RetryAttempts < 0 {
		return fmt.Errorf("telegram.retry_attempts must be >= 0")
	}

	sb := strings.ToLower(strings.TrimSpace(cfg.Telegram.SecretBackend))
	if sb == "" {
		sb = SecretBackendEnv
	}
	switch sb {
	case SecretBackendEnv:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram token is required when telegram.secret_backend is 'env'")
		}
	case SecretBackendKeyring:
	default:
		return fmt.Errorf("invalid telegram.secret_backend %q; allowed: env, keyring", cfg.Telegram.SecretBackend)
	}
	cfg.Telegram.SecretBackend = sb

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeWebhook
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			cfg.Webhook.Listen = DefaultListen
		}
		if cfg.Webhook.Port == 0 {
			cfg.Webhook.Port = DefaultPort
		}
		if cfg.Webhook.Port < 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Register && strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when webhook.register is enabled")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	path := strings.TrimSpace(cfg.Webhook.Path)
	if path == "" {
		path = DefaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	cfg.Webhook.Path = path

	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if driver == "" {
		driver = StoreMemory
	}
	switch driver {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when store.driver is 'postgres'")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	case StoreRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			cfg.Redis.Addr = DefaultRedisAddr
		}
		if cfg.Redis.Prefix == "" {
			cfg.Redis.Prefix = DefaultRedisPrefix
		}
	default:
		return fmt.Errorf("invalid store.driver %q; allowed: memory, postgres, redis", cfg.Store.Driver)
	}
	cfg.Store.Driver = driver

	return nil
}
