package config

import (
	"fmt"
	"strings"
)

func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("rpc: address required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir required")
	}
	if cfg.RPCTxRateLimit < 0 {
		return fmt.Errorf("rpc: tx rate limit < 0")
	}
	if cfg.RPCTxBurst < 0 {
		return fmt.Errorf("rpc: tx burst < 0")
	}
	if cfg.RPCMaxRequestBytes < 0 {
		return fmt.Errorf("rpc: max request bytes < 0")
	}
	for name, v := range map[string]int{
		"read_header_timeout": cfg.RPCReadHeaderTimeout,
		"read_timeout":        cfg.RPCReadTimeout,
		"write_timeout":       cfg.RPCWriteTimeout,
		"idle_timeout":        cfg.RPCIdleTimeout,
		"shutdown_timeout":    cfg.ShutdownTimeoutSeconds,
	} {
		if v < 0 {
			return fmt.Errorf("rpc: %s < 0", name)
		}
	}
	if _, err := cfg.Loyalty.Params(); err != nil {
		return fmt.Errorf("loyalty: %w", err)
	}
	return nil
}
