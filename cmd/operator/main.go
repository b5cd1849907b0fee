// Package main is the operator runtime's entry point: load configuration,
// open storage, wire the Dispatcher, dial the configured chains, start
// serving metrics, and run until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/wavs-network/operator/internal/aggregator"
	"github.com/wavs-network/operator/internal/config"
	"github.com/wavs-network/operator/internal/dispatcher"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/metrics"
	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/types"
)

func main() {
	logger := logging.NewFromEnv("operator")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}

	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		logger.WithError(err).Fatal("open storage")
	}
	defer store.Close()

	if err := metrics.Register(nil); err != nil {
		logger.WithError(err).Fatal("register metrics")
	}

	// cosmosSigner is left nil: this deployment has no CosmWasm-execute
	// signing backend wired yet (see DESIGN.md's submission manager Open
	// Question entry); any Cosmos direct-submit workflow registered against
	// it will fail at submit time rather than at startup.
	d, err := dispatcher.New(cfg, store, nil, aggregator.NoopTransport{})
	if err != nil {
		logger.WithError(err).Fatal("wire dispatcher")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registerChains(ctx, d, cfg.Chains); err != nil {
		logger.WithError(err).Fatal("register configured chains")
	}

	if err := d.Start(ctx); err != nil {
		logger.WithError(err).Fatal("start dispatcher")
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	logger.WithFields(map[string]interface{}{"metrics_addr": cfg.MetricsAddr}).Info("operator runtime started")

	<-ctx.Done()
	logger.Info("shutdown signal received, draining subsystems")

	drained := make(chan struct{})
	go func() { d.Stop(); close(drained) }()

	select {
	case <-drained:
		logger.Info("operator runtime stopped")
	case <-time.After(time.Duration(cfg.GraceShutdownSeconds) * time.Second):
		logger.Warn("shutdown grace period exceeded, exiting with subsystems still draining")
	}
}

// registerChains dials every chain in entries and registers it with the
// Dispatcher, inferring EVM vs Cosmos from the chain key's namespace.
func registerChains(ctx context.Context, d *dispatcher.Dispatcher, entries []config.ChainEntry) error {
	for _, entry := range entries {
		key, err := types.ParseChainKey(entry.Key)
		if err != nil {
			return err
		}
		switch key.Namespace {
		case types.NamespaceEVM:
			if err := d.RegisterEvmChain(ctx, key, entry.RPCURL, entry.WSURL, entry.ChainID); err != nil {
				return err
			}
		case types.NamespaceCosmos:
			if err := d.RegisterCosmosChain(ctx, key, entry.RPCURL, entry.StartHeight); err != nil {
				return err
			}
		}
	}
	return nil
}
