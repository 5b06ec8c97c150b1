package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                string   `yaml:"port"`
	LogLevel            string   `yaml:"logLevel"`
	DatabaseURL         string   `yaml:"databaseURL"`
	RedisAddr           string   `yaml:"redisAddr"`
	RedisPassword       string   `yaml:"redisPassword"`
	AMQPURL             string   `yaml:"amqpURL"`
	FeedChannel         string   `yaml:"feedChannel"`
	FeedWindow          int      `yaml:"feedWindow"`
	AuthJWKSURL         string   `yaml:"authJwksURL"`
	AuthIssuer          string   `yaml:"authIssuer"`
	AuthAudience        string   `yaml:"authAudience"`
	AuthLeewaySeconds   int      `yaml:"authLeewaySeconds"`
	ModerationPublicKey string   `yaml:"moderationPublicKeyPath"`
	ModerationKeyID     string   `yaml:"moderationKeyId"`
	ModerationIssuers   []string `yaml:"moderationIssuers"`
	SubmitRateLimit     int      `yaml:"submitRateLimit"`
	SubmitRateWindowSec int      `yaml:"submitRateWindowSeconds"`
	TrustedProxies      []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("GUESTBOOK_FEED_CHANNEL"); v != "" {
		cfg.FeedChannel = v
	}
	if v := os.Getenv("GUESTBOOK_FEED_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FeedWindow = n
		}
	}
	if v := os.Getenv("GUESTBOOK_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("GUESTBOOK_MODERATION_PUBLIC_KEY_PATH"); v != "" {
		cfg.ModerationPublicKey = v
	}
	if v := os.Getenv("GUESTBOOK_MODERATION_ISSUERS"); v != "" {
		cfg.ModerationIssuers = splitCSV(v)
	}
	if v := os.Getenv("GUESTBOOK_SUBMIT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitRateLimit = n
		}
	}
	if v := os.Getenv("GUESTBOOK_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.FeedWindow < 0 {
		return errors.New("config: feedWindow must not be negative")
	}
	if cfg.SubmitRateLimit < 0 {
		return errors.New("config: submitRateLimit must not be negative")
	}
	if cfg.SubmitRateLimit > 0 && cfg.SubmitRateWindowSec <= 0 {
		return errors.New("config: submitRateWindowSeconds is required when submitRateLimit is set")
	}
	if cfg.SubmitRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when submitRateLimit is set")
	}
	if cfg.ModerationPublicKey != "" && len(cfg.ModerationIssuers) == 0 {
		return errors.New("config: moderationIssuers is required when moderationPublicKeyPath is set")
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
