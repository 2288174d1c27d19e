package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loyaltypay/native/loyalty"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.Loyalty.DefaultThreshold != loyalty.DefaultThreshold {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.DataDir != cfg.DataDir || again.Loyalty != cfg.Loyalty {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadParsesLoyaltySection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "127.0.0.1:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
RPCAuthToken = "secret"
RPCTxRateLimit = 5.5
RPCReadTimeout = 20

[loyalty]
DefaultThreshold = 300
DefaultRefundPercentage = 20
ClosureAuthority = "either"
DepositPerByte = 2
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	params, err := cfg.Loyalty.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	want := loyalty.Params{DefaultThreshold: 300, DefaultRefundPercentage: 20, ClosureAuthority: loyalty.ClosureByEither, DepositPerByte: 2}
	if params != want {
		t.Fatalf("params = %+v, want %+v", params, want)
	}
	server := cfg.RPCServer()
	if server.AuthToken != "secret" || server.TxRateLimit != 5.5 || server.TxBurst != 6 {
		t.Fatalf("unexpected rpc config %+v", server)
	}
	_, read, _, idle := cfg.HTTPTimeouts()
	if read != 20*time.Second || idle != 60*time.Second {
		t.Fatalf("unexpected timeouts read=%s idle=%s", read, idle)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key": "RPCAddress = \":1\"\nDataDir = \"d\"\nValidatorKey = \"abc\"\n",
		"refund":      "RPCAddress = \":1\"\nDataDir = \"d\"\n[loyalty]\nDefaultRefundPercentage = 101\n",
		"authority":   "RPCAddress = \":1\"\nDataDir = \"d\"\n[loyalty]\nClosureAuthority = \"nobody\"\n",
		"rate":        "RPCAddress = \":1\"\nDataDir = \"d\"\nRPCTxRateLimit = -1.0\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error for %s", name)
			}
			if name == "unknown key" && !strings.Contains(err.Error(), "ValidatorKey") {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
