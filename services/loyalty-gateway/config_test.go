package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loyaltypay/core/genesis"
	"loyaltypay/payments"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	token := genesis.TokenAddress("USDC").String()
	path := writeConfig(t, `
listen: ":9000"
node:
  url: http://127.0.0.1:8080
merchant:
  keystore: merchant.json
  token: `+token+`
rewards:
  tiers: tiers.yaml
detection:
  timeout: 2m
  poll_interval: 2s
reconcile_interval: 30s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 2*time.Minute, cfg.Detection.Timeout.Duration)
	require.Equal(t, 2*time.Second, cfg.Detection.PollInterval.Duration)
	require.Equal(t, 30*time.Second, cfg.ReconcileInterval.Duration)
	require.Equal(t, "My Shop", cfg.Merchant.Label)
	require.Equal(t, "Thanks for your purchase!", cfg.Merchant.Message)
	require.Equal(t, "loyalty-gateway.db", cfg.DatabasePath)
	require.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(envNodeURL, "http://node:8080")
	t.Setenv(envKeystore, "/keys/merchant.json")
	t.Setenv(envToken, genesis.TokenAddress("USDC").String())
	t.Setenv(envTiers, "/etc/tiers.yaml")
	t.Setenv(envTimeout, "45s")
	t.Setenv(envRatePerMin, "30")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "http://node:8080", cfg.Node.URL)
	require.Equal(t, "/keys/merchant.json", cfg.Merchant.Keystore)
	require.Equal(t, 45*time.Second, cfg.Detection.Timeout.Duration)
	require.Equal(t, payments.DefaultPollInterval, cfg.Detection.PollInterval.Duration)
	require.Equal(t, float64(30), cfg.RateLimit.RequestsPerMinute)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	token := genesis.TokenAddress("USDC").String()
	cases := map[string]string{
		"unknown field": "node:\n  url: http://x\nsurprise: true\n",
		"missing node":  "merchant:\n  keystore: k.json\n  token: " + token + "\nrewards:\n  tiers: t.yaml\n",
		"bad token":     "node:\n  url: http://x\nmerchant:\n  keystore: k.json\n  token: nope\nrewards:\n  tiers: t.yaml\n",
		"bad duration":  "node:\n  url: http://x\ndetection:\n  timeout: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
