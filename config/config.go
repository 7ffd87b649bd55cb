package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v2"
)

const (
	TelegramModeWebhook = "webhook"
	TelegramModePolling = "polling"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	S3       S3Config       `yaml:"s3"`
	Github   GithubConfig   `yaml:"github"`
	Telegram TelegramConfig `yaml:"telegram"`
	Bot      BotConfig      `yaml:"bot"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Port         int   `yaml:"port" env:"HTTP_PORT"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES"`
}

type DBConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"` //nolint:gosec // config struct, not hardcoded cred
	DBName   string `yaml:"dbname" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSL_MODE"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR"`
	Password   string        `yaml:"password" env:"REDIS_PASSWORD"` //nolint:gosec // config struct
	DB         int           `yaml:"db" env:"REDIS_DB"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"REDIS_SESSION_TTL"`
}

type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic       string        `yaml:"topic" env:"KAFKA_TOPIC"`
	GroupID     string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	MaxAttempts int           `yaml:"max_attempts" env:"KAFKA_MAX_ATTEMPTS"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"KAFKA_RETRY_DELAY"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Region          string `yaml:"region" env:"S3_REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"` //nolint:gosec // config struct
	Bucket          string `yaml:"bucket" env:"S3_BUCKET"`
}

// GithubConfig authenticates either with a personal token or as a GitHub
// App installation.
type GithubConfig struct {
	Organization   string        `yaml:"organization" env:"GITHUB_ORGANIZATION"`
	Token          string        `yaml:"token" env:"GITHUB_TOKEN"` //nolint:gosec // config struct
	AppID          int64         `yaml:"app_id" env:"GITHUB_APP_ID"`
	InstallationID int64         `yaml:"installation_id" env:"GITHUB_INSTALLATION_ID"`
	PrivateKey     string        `yaml:"private_key" env:"GITHUB_APP_PEM"`
	PrivateKeyPath string        `yaml:"private_key_path" env:"GITHUB_APP_PEM_PATH"`
	WebhookSecret  string        `yaml:"webhook_secret" env:"GITHUB_WEBHOOK_SECRET"`
	BaseURL        string        `yaml:"base_url" env:"GITHUB_BASE_URL"`
	Timeout        time.Duration `yaml:"timeout" env:"GITHUB_TIMEOUT"`
}

func (g GithubConfig) UsesApp() bool {
	return g.Token == "" && g.AppID != 0
}

type TelegramConfig struct {
	Token         string `yaml:"token" env:"TELEGRAM_TOKEN"` //nolint:gosec // config struct
	Mode          string `yaml:"mode" env:"TELEGRAM_MODE"`
	WebhookURL    string `yaml:"webhook_url" env:"TELEGRAM_WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET"`
	PollTimeout   int    `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT"`
	APIEndpoint   string `yaml:"api_endpoint" env:"TELEGRAM_API_ENDPOINT"`
}

type BotConfig struct {
	Debug             bool     `yaml:"debug" env:"BOT_DEBUG"`
	AdminChatID       int64    `yaml:"admin_chat_id" env:"BOT_ADMIN_CHAT_ID"`
	UploadPrefix      string   `yaml:"upload_prefix" env:"BOT_UPLOAD_PREFIX"`
	AllowedExtensions []string `yaml:"allowed_extensions" env:"BOT_ALLOWED_EXTENSIONS" env-separator:","`
	ReviewLimit       int      `yaml:"review_limit" env:"BOT_REVIEW_LIMIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads the YAML file (if any), applies environment overrides and
// defaults, and checks the settings every binary needs.
func Load() (*Config, error) {
	var cfg Config

	path, explicit := getConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // config path from env/flag
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	setDefaults(&cfg)

	if cfg.Github.PrivateKey == "" && cfg.Github.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.Github.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read github app key: %w", err)
		}
		cfg.Github.PrivateKey = string(pem)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func getConfigPath() (string, bool) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path, true
	}

	possiblePaths := []string{
		"config/config.yaml",
		"/etc/homework-bot/config.yaml",
		"./config.yaml",
	}
	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			return path, false
		}
	}
	return "config.yaml", false
}

func setDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 10 << 20
	}

	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 10
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.SessionTTL == 0 {
		cfg.Redis.SessionTTL = 30 * 24 * time.Hour
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "submission-publish"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "homework-bot-publisher"
	}
	if cfg.Kafka.MaxAttempts == 0 {
		cfg.Kafka.MaxAttempts = 5
	}
	if cfg.Kafka.RetryDelay == 0 {
		cfg.Kafka.RetryDelay = 2 * time.Second
	}

	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}

	if cfg.Github.Timeout == 0 {
		cfg.Github.Timeout = 30 * time.Second
	}

	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = TelegramModeWebhook
	}
	if cfg.Telegram.PollTimeout == 0 {
		cfg.Telegram.PollTimeout = 60
	}

	if cfg.Bot.UploadPrefix == "" {
		cfg.Bot.UploadPrefix = "submissions"
	}
	if len(cfg.Bot.AllowedExtensions) == 0 {
		cfg.Bot.AllowedExtensions = []string{".py"}
	}
	if cfg.Bot.ReviewLimit == 0 {
		cfg.Bot.ReviewLimit = 50
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.DBName == "" {
		return fmt.Errorf("database configuration is incomplete")
	}
	return nil
}

// ValidateService checks the settings the bot service needs on top of the
// database.
func (c *Config) ValidateService() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker must be specified")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket must be specified")
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token must be specified")
	}
	switch c.Telegram.Mode {
	case TelegramModeWebhook, TelegramModePolling:
	default:
		return fmt.Errorf("unknown telegram mode %q", c.Telegram.Mode)
	}
	if c.Github.Organization == "" {
		return fmt.Errorf("github organization must be specified")
	}
	if c.Github.Token == "" {
		if c.Github.AppID == 0 || c.Github.InstallationID == 0 || c.Github.PrivateKey == "" {
			return fmt.Errorf("github token or app credentials must be specified")
		}
	}
	return nil
}
