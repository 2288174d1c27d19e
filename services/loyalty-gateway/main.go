package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loyaltypay/crypto"
	"loyaltypay/observability/logging"
	telemetry "loyaltypay/observability/otel"
	"loyaltypay/payments"
	"loyaltypay/rewards"
	"loyaltypay/rpc"
)

const serviceName = "loyalty-gateway"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/loyalty-gateway/config.yaml", "path to loyalty-gateway configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LOYALTYPAY_ENV"))
	logger := logging.Setup(serviceName, env)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	merchantKey, err := crypto.LoadFromKeystoreEnv(cfg.Merchant.Keystore, cfg.Merchant.PassphraseEnv)
	if err != nil {
		return fmt.Errorf("load merchant key: %w", err)
	}
	token, err := crypto.DecodeAddress(cfg.Merchant.Token)
	if err != nil {
		return fmt.Errorf("decode payment token: %w", err)
	}

	var clientOpts []rpc.ClientOption
	if cfg.Node.AuthToken != "" {
		clientOpts = append(clientOpts, rpc.WithAuthToken(cfg.Node.AuthToken))
	}
	api := rpc.NewClient(cfg.Node.URL, clientOpts...)

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	uris, err := rewards.LoadURIStore(cfg.Rewards.TiersPath)
	if err != nil {
		return fmt.Errorf("load tier uris: %w", err)
	}
	signer := rpc.NewSigner(api, merchantKey)
	manager := rewards.NewManager(api, merchantKey, uris, rewards.NewFetcher(cfg.Rewards.CacheSize),
		rewards.WithSigner(signer),
		rewards.WithManagerLogger(logger),
		rewards.WithMintDefaults(cfg.Rewards.Symbol, cfg.Rewards.SellerFeeBasisPoints, nil))
	coordinator := payments.NewCoordinator(api,
		payments.WithPollInterval(cfg.Detection.PollInterval.Duration),
		payments.WithLogger(logger))
	processor := NewProcessor(ProcessorConfig{
		Store:       store,
		API:         api,
		Signer:      signer,
		Coordinator: coordinator,
		Rewards:     manager,
		Timeout:     cfg.Detection.Timeout.Duration,
		Logger:      logger,
	})

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := processor.Resume(stopCtx); err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}
	go processor.RunReconciler(stopCtx, cfg.ReconcileInterval.Duration)

	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stopCtx.Done():
				return
			case <-ticker.C:
				limiter.Sweep(10 * time.Minute)
			}
		}
	}()

	server := NewServer(ServerConfig{
		API:           api,
		Store:         store,
		Processor:     processor,
		Rewards:       manager,
		Token:         token,
		Label:         cfg.Merchant.Label,
		Message:       cfg.Merchant.Message,
		Icon:          cfg.Merchant.Icon,
		Limiter:       limiter,
		Logger:        logger,
		DetectContext: stopCtx,
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("loyalty-gateway listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("merchant", merchantKey.Address().String()),
			slog.String("node", cfg.Node.URL),
			logging.MaskField("keystore", cfg.Merchant.Keystore),
			logging.MaskField("node_token", cfg.Node.AuthToken))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		processor.Wait()
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
