package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flapgate/api"
	"flapgate/config"
	"flapgate/crypto"
	"flapgate/economy"
	"flapgate/ledger"
	"flapgate/observability"
	"flapgate/observability/logging"
	"flapgate/registry"
	"flapgate/store"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FLAPGATE_ENV"))
	logger := logging.Setup("flapgated", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	signer, err := crypto.SignerFromEnv(cfg.BackendKeyEnv)
	if err != nil {
		logger.Error("load backend signer", "error", err)
		os.Exit(1)
	}
	logger.Info("backend signer ready", "address", signer.Address().Hex())

	metrics := observability.Metrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := ledger.Dial(ctx, cfg, signer, logger, metrics)
	if err != nil {
		logger.Error("dial ledger", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	claims, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("open claim store", "error", err)
		os.Exit(1)
	}
	defer claims.Close()

	listings, err := registry.Open(cfg.RegistryPath, gateway, logger, cfg.RegistryInterval.Duration)
	if err != nil {
		logger.Error("open listing registry", "error", err)
		os.Exit(1)
	}
	go listings.Start(ctx)

	engine := economy.NewEngine(gateway, claims, logger, metrics,
		economy.WithFreshness(cfg.ClaimFreshness.Duration),
	)

	srv := api.New(api.Config{
		Economy:  engine,
		Listings: listings,
		Wallet:   gateway,
		ItemIDs:  cfg.GameItemIDs,
		Limits:   cfg.RateLimits,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
