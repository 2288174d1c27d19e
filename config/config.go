package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress             string  `toml:"RPCAddress"`
	DataDir                string  `toml:"DataDir"`
	GenesisFile            string  `toml:"GenesisFile"`
	Environment            string  `toml:"Environment"`
	RPCAuthToken           string  `toml:"RPCAuthToken"`
	RPCTxRateLimit         float64 `toml:"RPCTxRateLimit"`
	RPCTxBurst             int     `toml:"RPCTxBurst"`
	RPCMaxRequestBytes     int64   `toml:"RPCMaxRequestBytes"`
	RPCTrustProxyHeaders   bool    `toml:"RPCTrustProxyHeaders"`
	RPCReadHeaderTimeout   int     `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout         int     `toml:"RPCReadTimeout"`
	RPCWriteTimeout        int     `toml:"RPCWriteTimeout"`
	RPCIdleTimeout         int     `toml:"RPCIdleTimeout"`
	ShutdownTimeoutSeconds int     `toml:"ShutdownTimeoutSeconds"`

	Loyalty Loyalty `toml:"loyalty"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./loyaltypay-data",
		GenesisFile: "",
		Environment: "local",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.RPCTxBurst == 0 && c.RPCTxRateLimit > 0 {
		c.RPCTxBurst = int(c.RPCTxRateLimit) + 1
	}
	if c.RPCReadHeaderTimeout == 0 {
		c.RPCReadHeaderTimeout = 5
	}
	if c.RPCReadTimeout == 0 {
		c.RPCReadTimeout = 15
	}
	if c.RPCWriteTimeout == 0 {
		c.RPCWriteTimeout = 15
	}
	if c.RPCIdleTimeout == 0 {
		c.RPCIdleTimeout = 60
	}
	if c.ShutdownTimeoutSeconds == 0 {
		c.ShutdownTimeoutSeconds = 10
	}
	c.Loyalty.applyDefaults()
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
