package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	_ "github.com/joho/godotenv/autoload"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/config"
	"github.com/coldbell/dex/settlement/internal/cranker"
	"github.com/coldbell/dex/settlement/internal/dex"
	"github.com/coldbell/dex/settlement/internal/journal"
	"github.com/coldbell/dex/settlement/internal/ledger"
	"github.com/coldbell/dex/settlement/internal/logging"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadCrankConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("dex-crank", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, cfg, logger)
	stop()

	if closeErr := closeLogger(); closeErr != nil {
		bootstrapLogger.Error("failed to close logger", "err", closeErr)
	}
	if runErr != nil {
		bootstrapLogger.Error("dex-crank exited with error", "err", runErr)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.CrankConfig, logger *slog.Logger) error {
	policy, err := dex.PolicyFromConfig(cfg.Policy)
	if err != nil {
		return err
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return fmt.Errorf("load keypair %q: %w", cfg.KeypairPath, err)
	}

	store, err := ledger.OpenPebbleStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger %q: %w", cfg.DataDir, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("failed to close ledger", "err", closeErr)
		}
	}()

	bank, err := ledger.NewBank(store, logger.With("component", "bank"))
	if err != nil {
		return err
	}
	if err := bank.Register(aaob.New(cfg.AaobProgramID)); err != nil {
		return err
	}
	if err := bank.Register(dex.New(cfg.DexProgramID, policy)); err != nil {
		return err
	}

	var j cranker.Journal
	if cfg.JournalDSN != "" {
		js, err := journal.Open(ctx, cfg.JournalDSN)
		if err != nil {
			return err
		}
		defer js.Close()
		j = js
	}

	return cranker.New(cfg, bank, signer, j, logger.With("component", "cranker")).Run(ctx)
}
