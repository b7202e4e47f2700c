// Package config loads service configuration from YAML with
// environment overrides for deploy-time secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTTTLHours int    `yaml:"jwtTTLHours"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	GeminiAPIKey string `yaml:"geminiApiKey"`
	GeminiModel  string `yaml:"geminiModel"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RabbitURL   string `yaml:"rabbitURL"`
	RabbitQueue string `yaml:"rabbitQueue"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`

	WorkerConcurrency int `yaml:"workerConcurrency"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("RABBITMQ_QUEUE"); v != "" {
		cfg.RabbitQueue = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PASSWORD_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PasswordRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return errors.New("config: geminiApiKey is required (set in config.yaml or GOOGLE_API_KEY)")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.SignupRateLimitPerMinute < 0 || cfg.PasswordRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
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
