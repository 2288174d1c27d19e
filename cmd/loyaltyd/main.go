package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loyaltypay/config"
	"loyaltypay/core"
	"loyaltypay/core/genesis"
	"loyaltypay/observability/logging"
	telemetry "loyaltypay/observability/otel"
	"loyaltypay/rpc"
	"loyaltypay/storage"
)

const genesisPathEnv = "LOYALTYPAY_GENESIS"

type envLookupFunc func(string) (string, bool)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis spec JSON file (overrides LOYALTYPAY_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("loyaltyd", cfg.Environment)
	if err := run(cfg, *genesisFlag, logger); err != nil {
		logger.Error("loyaltyd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, genesisFlag string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("loyaltyd", cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	params, err := cfg.Loyalty.Params()
	if err != nil {
		return err
	}
	var spec *genesis.GenesisSpec
	if path := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv); path != "" {
		spec, err = genesis.LoadGenesisSpec(path)
		if err != nil {
			return fmt.Errorf("load genesis spec: %w", err)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ledger, err := core.NewLedger(db, spec, params, core.WithLogger(logger))
	if err != nil {
		if errors.Is(err, core.ErrGenesisRequired) {
			return fmt.Errorf("empty data dir %s: supply a genesis spec via --genesis, %s or config", cfg.DataDir, genesisPathEnv)
		}
		return fmt.Errorf("open ledger: %w", err)
	}
	head := ledger.Head()
	logger.Info("ledger ready",
		slog.Uint64("chain_id", ledger.ChainID()),
		slog.Uint64("slot", head.Slot),
		slog.String("closure_authority", string(params.ClosureAuthority)))
	if strings.TrimSpace(cfg.RPCAuthToken) == "" {
		logger.Warn("RPCAuthToken is empty; transaction submission is unauthenticated")
	} else {
		logger.Info("rpc auth enabled", logging.MaskField("rpc_token", cfg.RPCAuthToken))
	}

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPCAddress, err)
	}
	server := rpc.NewServer(ledger, cfg.RPCServer(), logger)

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(listener)
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// resolveGenesisPath picks the genesis spec from the CLI flag, then the
// environment, then the config file. An empty result is only valid for a
// data dir that already holds a ledger.
func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}
