package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loyaltypay/crypto"
	"loyaltypay/payments"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the loyalty gateway.
type Config struct {
	ListenAddress     string          `yaml:"listen"`
	DatabasePath      string          `yaml:"database"`
	Node              NodeConfig      `yaml:"node"`
	Merchant          MerchantConfig  `yaml:"merchant"`
	Rewards           RewardsConfig   `yaml:"rewards"`
	Detection         DetectionConfig `yaml:"detection"`
	ReconcileInterval Duration        `yaml:"reconcile_interval"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// NodeConfig points at the loyaltypay node JSON-RPC endpoint.
type NodeConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

// MerchantConfig identifies the merchant this gateway settles for.
type MerchantConfig struct {
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env"`
	Token         string `yaml:"token"`
	Label         string `yaml:"label"`
	Message       string `yaml:"message"`
	Icon          string `yaml:"icon"`
}

// RewardsConfig configures the reward token follow-ups.
type RewardsConfig struct {
	TiersPath            string `yaml:"tiers"`
	CacheSize            int    `yaml:"cache_size"`
	Symbol               string `yaml:"symbol"`
	SellerFeeBasisPoints uint16 `yaml:"seller_fee_bps"`
}

// DetectionConfig bounds payment detection per session.
type DetectionConfig struct {
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

// RateLimitConfig applies per-client request limits to the API.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

const (
	envListen     = "LOYALTY_GATEWAY_LISTEN"
	envDBPath     = "LOYALTY_GATEWAY_DB"
	envNodeURL    = "LOYALTY_GATEWAY_NODE_URL"
	envNodeToken  = "LOYALTY_GATEWAY_NODE_TOKEN"
	envKeystore   = "LOYALTY_GATEWAY_KEYSTORE"
	envToken      = "LOYALTY_GATEWAY_TOKEN"
	envTiers      = "LOYALTY_GATEWAY_TIERS"
	envTimeout    = "LOYALTY_GATEWAY_DETECTION_TIMEOUT"
	envRatePerMin = "LOYALTY_GATEWAY_RATE_PER_MINUTE"
)

// LoadConfig reads configuration from the supplied path and applies
// LOYALTY_GATEWAY_* environment overrides. An empty path uses the
// environment alone.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.ListenAddress, envListen)
	overrideString(&cfg.DatabasePath, envDBPath)
	overrideString(&cfg.Node.URL, envNodeURL)
	overrideString(&cfg.Node.AuthToken, envNodeToken)
	overrideString(&cfg.Merchant.Keystore, envKeystore)
	overrideString(&cfg.Merchant.Token, envToken)
	overrideString(&cfg.Rewards.TiersPath, envTiers)
	if raw := strings.TrimSpace(os.Getenv(envTimeout)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Detection.Timeout.Duration = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv(envRatePerMin)); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
			cfg.RateLimit.RequestsPerMinute = f
		}
	}
}

func overrideString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "loyalty-gateway.db"
	}
	if cfg.Merchant.Label == "" {
		cfg.Merchant.Label = "My Shop"
	}
	if cfg.Merchant.Message == "" {
		cfg.Merchant.Message = "Thanks for your purchase!"
	}
	if cfg.Detection.Timeout.Duration == 0 {
		cfg.Detection.Timeout.Duration = payments.DefaultTimeout
	}
	if cfg.Detection.PollInterval.Duration == 0 {
		cfg.Detection.PollInterval.Duration = payments.DefaultPollInterval
	}
	if cfg.ReconcileInterval.Duration == 0 {
		cfg.ReconcileInterval.Duration = time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Node.URL) == "" {
		return fmt.Errorf("node.url must be configured")
	}
	if strings.TrimSpace(cfg.Merchant.Keystore) == "" {
		return fmt.Errorf("merchant.keystore must be configured")
	}
	if _, err := crypto.DecodeAddress(cfg.Merchant.Token); err != nil {
		return fmt.Errorf("merchant.token: %w", err)
	}
	if strings.TrimSpace(cfg.Rewards.TiersPath) == "" {
		return fmt.Errorf("rewards.tiers must be configured")
	}
	if cfg.Detection.Timeout.Duration < 0 {
		return fmt.Errorf("detection.timeout must be positive")
	}
	return nil
}
