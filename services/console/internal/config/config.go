package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
	Version  string `yaml:"version"`

	EvolutionAPIURL string `yaml:"evolutionApiURL"`
	EvolutionAPIKey string `yaml:"evolutionApiKey"`
	RequestTimeout  string `yaml:"requestTimeout"`
	WebhookTimeout  string `yaml:"webhookTimeout"`
	WebhookToken    string `yaml:"webhookToken"`

	AdminUsername string `yaml:"adminUsername"`
	AdminPassword string `yaml:"adminPassword"`
	SessionSecret string `yaml:"sessionSecret"`
	SessionWindow string `yaml:"sessionWindow"`

	StorageBackend string `yaml:"storageBackend"`
	DatabaseURL    string `yaml:"databaseURL"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	AMQPURL        string `yaml:"amqpURL"`
	AMQPExchange   string `yaml:"amqpExchange"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	MaxMessagesPerInstance  int    `yaml:"maxMessagesPerInstance"`
	MaxMessageHistory       int    `yaml:"maxMessageHistory"`
	BackupInterval          string `yaml:"backupInterval"`
	HealthCheckInterval     string `yaml:"healthCheckInterval"`
	QRRefreshInterval       string `yaml:"qrRefreshInterval"`
	QRMaxAttempts           int    `yaml:"qrMaxAttempts"`
	QRInitialBackoff        string `yaml:"qrInitialBackoff"`
	QRMaxBackoff            string `yaml:"qrMaxBackoff"`
	LoginRateLimitPerMinute int    `yaml:"loginRateLimitPerMinute"`

	TrustedOrigins    []string `yaml:"trustedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to ConfigPath, or CONSOLE_CONFIG).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("CONSOLE_CONFIG"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	strs := map[string]*string{
		"CONSOLE_PORT":             &cfg.Port,
		"CONSOLE_LOG_LEVEL":        &cfg.LogLevel,
		"CONSOLE_LOG_FILE":         &cfg.LogFile,
		"EVOLUTION_API_URL":        &cfg.EvolutionAPIURL,
		"EVOLUTION_API_KEY":        &cfg.EvolutionAPIKey,
		"CONSOLE_WEBHOOK_TOKEN":    &cfg.WebhookToken,
		"CONSOLE_ADMIN_USERNAME":   &cfg.AdminUsername,
		"CONSOLE_ADMIN_PASSWORD":   &cfg.AdminPassword,
		"CONSOLE_SESSION_SECRET":   &cfg.SessionSecret,
		"CONSOLE_STORAGE_BACKEND":  &cfg.StorageBackend,
		"DATABASE_URL":             &cfg.DatabaseURL,
		"REDIS_ADDR":               &cfg.RedisAddr,
		"REDIS_PASSWORD":           &cfg.RedisPassword,
		"AMQP_URL":                 &cfg.AMQPURL,
		"MINIO_ENDPOINT":           &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":         &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":         &cfg.MinioSecretKey,
		"MINIO_BUCKET":             &cfg.MinioBucket,
		"CONSOLE_BACKUP_INTERVAL":  &cfg.BackupInterval,
		"CONSOLE_REQUEST_TIMEOUT":  &cfg.RequestTimeout,
		"CONSOLE_QR_REFRESH_EVERY": &cfg.QRRefreshInterval,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("CONSOLE_MAX_MESSAGES_PER_INSTANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessagesPerInstance = n
		}
	}
	if v := os.Getenv("CONSOLE_MAX_MESSAGE_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessageHistory = n
		}
	}
	if v := os.Getenv("CONSOLE_TRUSTED_ORIGINS"); v != "" {
		cfg.TrustedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CONSOLE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	setDefault := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	setDefault(&cfg.Port, "8080")
	setDefault(&cfg.Version, "1.0.0")
	setDefault(&cfg.RequestTimeout, "10s")
	setDefault(&cfg.WebhookTimeout, "10s")
	setDefault(&cfg.AdminUsername, "admin")
	setDefault(&cfg.AdminPassword, "admin123")
	setDefault(&cfg.SessionWindow, "24h")
	setDefault(&cfg.StorageBackend, "memory")
	setDefault(&cfg.AMQPExchange, "console.notifications")
	setDefault(&cfg.BackupInterval, "5m")
	setDefault(&cfg.HealthCheckInterval, "2m")
	setDefault(&cfg.QRRefreshInterval, "30s")
	setDefault(&cfg.QRInitialBackoff, "2s")
	setDefault(&cfg.QRMaxBackoff, "10s")
	if cfg.MaxMessagesPerInstance == 0 {
		cfg.MaxMessagesPerInstance = 100
	}
	if cfg.MaxMessageHistory == 0 {
		cfg.MaxMessageHistory = 1000
	}
	if cfg.QRMaxAttempts == 0 {
		cfg.QRMaxAttempts = 3
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.EvolutionAPIURL) == "" {
		return errors.New("config: evolutionApiURL is required (set in config.yaml or EVOLUTION_API_URL)")
	}
	if strings.TrimSpace(cfg.EvolutionAPIKey) == "" {
		return errors.New("config: evolutionApiKey is required (set in config.yaml or EVOLUTION_API_KEY)")
	}
	if len(cfg.SessionSecret) < 16 {
		return errors.New("config: sessionSecret must be at least 16 characters (CONSOLE_SESSION_SECRET)")
	}
	switch cfg.StorageBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis storage backend")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (memory, redis or postgres)", cfg.StorageBackend)
	}
	if cfg.MaxMessagesPerInstance < 0 || cfg.MaxMessageHistory < 0 || cfg.QRMaxAttempts < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: limits must be >= 0")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	for name, value := range map[string]string{
		"requestTimeout":      cfg.RequestTimeout,
		"webhookTimeout":      cfg.WebhookTimeout,
		"sessionWindow":       cfg.SessionWindow,
		"backupInterval":      cfg.BackupInterval,
		"healthCheckInterval": cfg.HealthCheckInterval,
		"qrRefreshInterval":   cfg.QRRefreshInterval,
		"qrInitialBackoff":    cfg.QRInitialBackoff,
		"qrMaxBackoff":        cfg.QRMaxBackoff,
	} {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be >= 0", value)
	}
	return dur, nil
}

// MustDuration is ParseDuration for values validateConfig already checked.
func MustDuration(value string) time.Duration {
	dur, _ := ParseDuration(value)
	return dur
}
