package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/fwup/internal/api"
	"github.com/mattjoyce/fwup/internal/config"
	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/firewall"
	"github.com/mattjoyce/fwup/internal/lock"
	"github.com/mattjoyce/fwup/internal/log"
	"github.com/mattjoyce/fwup/internal/reactor"
	"github.com/mattjoyce/fwup/internal/state"
	"github.com/mattjoyce/fwup/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// resolveConfigPath returns the --config value or the discovered default.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfig()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	fingerprint, _ := config.Fingerprint(path)
	logger.Info("fwup starting", "version", version, "config", path, "fingerprint", fingerprint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logger.Error("fwup failed", "error", err)
		return 1
	}
	logger.Info("fwup stopped")
	return 0
}

// serve runs the daemon until ctx is cancelled or a component fails.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")

	pidLock, err := lock.AcquirePIDLock(cfg.LockFile())
	if err != nil {
		return fmt.Errorf("acquire pid lock %s: %w", cfg.LockFile(), err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := state.NewStore(db)
	for _, set := range cfg.Sets {
		created, err := store.PutSet(ctx, set)
		switch {
		case errors.Is(err, state.ErrSetExists):
			logger.Warn("configured set differs from stored definition, keeping stored", "ipset", set.Name)
		case err != nil:
			return fmt.Errorf("seed set %s: %w", set.Name, err)
		case created:
			logger.Info("seeded set from config", "ipset", set.Name, "type", set.Type, "family", set.Family)
		}
	}

	hub := events.NewHub(256)
	loop := reactor.New(reactor.WithLogger(log.WithComponent("reactor")))
	fw := firewall.New(loop, store,
		firewall.WithPublisher(hub),
		firewall.WithQueueConfig(cfg.Interpreter.QueueConfig()),
	)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("initial resync: %w", err)
	}

	errCh := make(chan error, 1)
	apiCtx, stopAPI := context.WithCancel(ctx)
	defer stopAPI()
	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen:  cfg.API.Listen,
			APIKey:  cfg.API.Auth.APIKey,
			Version: version,
		}, fw, hub, log.WithComponent("api"))
		go func() {
			if err := srv.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("fwup running (press Ctrl+C to stop)")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		runErr = err
	case err := <-loopDone:
		return fmt.Errorf("reactor stopped: %w", err)
	}

	stopAPI()

	// Close the interpreter so the batch it holds is committed.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fw.Flush(flushCtx); err != nil {
		logger.Warn("final flush failed", "error", err)
	}
	stopLoop()
	<-loopDone
	return runErr
}
