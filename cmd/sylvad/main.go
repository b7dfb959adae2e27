// Command sylvad runs a repository node as a long-lived daemon: it starts
// the storage core, periodically replays journal records from other cluster
// members, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sylva "github.com/sylvadb/sylva"
	"github.com/sylvadb/sylva/pkg/logging"
)

const (
	logKeyConfig   = "config"
	logKeyDataPath = "dataPath"
	logKeySignal   = "signal"
	logKeyError    = "error"
	logKeyApplied  = "applied"
)

func main() {
	cfg := parseFlags()

	logLevel := slog.LevelInfo
	if cfg.debug {
		logLevel = slog.LevelDebug
	}
	logger := logging.NewConsoleLogger(logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "daemon error", logKeyError, err)
		os.Exit(1)
	}
}

// daemonConfig holds the parsed command line configuration.
type daemonConfig struct {
	configPath     string
	dataPath       string
	replayInterval time.Duration
	debug          bool
}

func parseFlags() daemonConfig {
	var cfg daemonConfig
	flag.StringVar(&cfg.configPath, "config", "", "path to the YAML config file")
	flag.StringVar(&cfg.dataPath, "data", "", "data directory (used when no config file is given)")
	flag.DurationVar(&cfg.replayInterval, "replay-interval", 5*time.Second,
		"how often to replay journal records from other cluster members")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg daemonConfig, logger *slog.Logger) error {
	var repoCfg sylva.Config
	switch {
	case cfg.configPath != "":
		var err error
		repoCfg, err = sylva.LoadConfig(cfg.configPath)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "configuration loaded", logKeyConfig, cfg.configPath)
	case cfg.dataPath != "":
		repoCfg = sylva.Config{Path: cfg.dataPath}
	default:
		return fmt.Errorf("either -config or -data must be given")
	}
	repoCfg.Logger = logger

	repo, err := sylva.New(repoCfg)
	if err != nil {
		return err
	}
	if err := repo.Start(ctx); err != nil {
		return err
	}
	logger.InfoContext(ctx, "repository started", logKeyDataPath, repoCfg.Path)

	if repo.Journal() != nil {
		go replayLoop(ctx, repo, cfg.replayInterval, logger)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return repo.Close(shutdownCtx)
}

// replayLoop periodically pulls journal records other members produced.
func replayLoop(ctx context.Context, repo *sylva.Repository, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			applied, err := repo.Replay(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "journal replay failed", logKeyError, err)
				continue
			}
			if applied > 0 {
				logger.InfoContext(ctx, "journal records replayed", logKeyApplied, applied)
			}
		}
	}
}
