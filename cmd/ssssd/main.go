// Command ssssd runs the SSSS node daemon: it loads configuration,
// constructs the configured storage backend, the rotating ephemeral
// keypair provider, the policy verifier registry, one ChainProvider per
// configured chain, and serves the resulting API over HTTP until
// SIGINT/SIGTERM. Grounded on the teacher's cmd/caesar/main.go (config
// load, signal.NotifyContext shutdown) generalized with the actual
// construction graph spec.md §4.F requires.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"

	"github.com/escrin/ssss-node/internal/api"
	"github.com/escrin/ssss-node/internal/chain"
	"github.com/escrin/ssss-node/internal/config"
	"github.com/escrin/ssss-node/internal/keypair"
	"github.com/escrin/ssss-node/internal/store"
	"github.com/escrin/ssss-node/internal/types"
	"github.com/escrin/ssss-node/internal/verify"
)

func main() {
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssssd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := newBackend(ctx, cfg.Store)
	if err != nil {
		log.Error("construct storage backend", "error", err)
		os.Exit(1)
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	kps, err := keypair.NewProvider(cfg.Keys.Lifetime(), cfg.Keys.SwapWindow())
	if err != nil {
		log.Error("construct keypair provider", "error", err)
		os.Exit(1)
	}

	verifiers := map[string]verify.Verifier{}
	if cfg.Verify.NitroRootCertPath != "" {
		rootDER, err := os.ReadFile(cfg.Verify.NitroRootCertPath)
		if err != nil {
			log.Error("read nitro root certificate", "error", err)
			os.Exit(1)
		}
		nitro, err := verify.NewNitro(rootDER)
		if err != nil {
			log.Error("construct nitro verifier", "error", err)
			os.Exit(1)
		}
		verifiers["nitro"] = nitro
	}
	if cfg.Verify.EnableMock {
		log.Warn("mock attestation verifier enabled — do not use in production")
		verifiers["mock"] = verify.Mock{}
	}
	registry := verify.NewRegistry(verifiers)

	chains := map[types.ChainID]api.ChainProvider{}
	for _, cc := range cfg.Chains {
		c, err := chain.New(ctx, cc.ChainID, cc.Gateways, cc.Registry, cc.Permitter)
		if err != nil {
			log.Error("construct chain provider", "chain", cc.ChainID, "error", err)
			os.Exit(1)
		}
		chains[types.ChainID(cc.ChainID)] = c
	}

	srv := api.New(backend, kps, registry, chains, cfg.Host, log)

	httpSrv := &http.Server{
		Addr:         cfg.Bind,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ssssd listening", "bind", cfg.Bind, "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("ssssd shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		log.Error("ssssd server error", "error", err)
		os.Exit(1)
	}
}

// newBackend constructs the store.Backend named by cfg.Kind.
func newBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Kind {
	case "", "memory":
		return store.NewMemory()
	case "local":
		return store.OpenLocal(cfg.BoltPath)
	case "cloud":
		return store.NewCloud(ctx, cfg.AWSRegion, cfg.LocalStackEndpoint, cfg.DynamoDBTablePrefix, cfg.KMSKeyID)
	default:
		return nil, fmt.Errorf("ssssd: unknown store kind %q", cfg.Kind)
	}
}

// newLogger builds the process-wide slog.Logger: JSON in production
// (machine-parseable for log aggregation), text in development
// (human-readable at a terminal), the same env-gated handler choice
// the teacher's observability stack follows.
func newLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
