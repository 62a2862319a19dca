package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"veilnet/config"
	"veilnet/core"
	"veilnet/ledger"
	"veilnet/ledger/sqlstore"
	"veilnet/observability/logging"
	"veilnet/observability/otel"
	"veilnet/rpc"
	"veilnet/storage"
)

const envVar = "VEILNET_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	listenFlag := flag.String("listen", "", "Listen address (overrides config ListenAddress)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}
	if *listenFlag != "" {
		cfg.ListenAddress = *listenFlag
	}

	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Env
	}
	logger := logging.Setup("veilnetd", env, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "veilnetd",
			Environment: env,
			Endpoint:    cfg.OTel.Endpoint,
			Insecure:    cfg.OTel.Insecure,
		})
		if err != nil {
			logger.Error("telemetry init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("open ledger store", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := core.NewEngine(store, cfg.Policy(), logger)

	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		logger.Error("load genesis", "path", cfg.GenesisFile, "err", err)
		os.Exit(1)
	}
	if err := genesis.Apply(ctx, engine, store); err != nil {
		logger.Error("apply genesis", "err", err)
		os.Exit(1)
	}

	server := rpc.NewServer(engine, rpc.ServerConfig{
		RateLimit: cfg.RateLimit,
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName, "backend", cfg.Backend)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}
}

func openStore(cfg *config.Config) (ledger.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "sqlite":
		return sqlstore.Open(filepath.Join(cfg.DataDir, "veilnet.db"))
	case "leveldb":
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, err
		}
		return ledger.NewKV(db), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
