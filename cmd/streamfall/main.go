package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/streamfall/streamfall/internal/api"
	"github.com/streamfall/streamfall/internal/auth"
	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/content"
	"github.com/streamfall/streamfall/internal/database"
	"github.com/streamfall/streamfall/internal/downloader"
	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/hashcache"
	"github.com/streamfall/streamfall/internal/indexer"
	"github.com/streamfall/streamfall/internal/logger"
	"github.com/streamfall/streamfall/internal/runner"
	"github.com/streamfall/streamfall/internal/scheduler"
	"github.com/streamfall/streamfall/internal/scheduler/tasks"
	"github.com/streamfall/streamfall/internal/scrapers"
	"github.com/streamfall/streamfall/internal/startup"
	"github.com/streamfall/streamfall/internal/statemachine"
	"github.com/streamfall/streamfall/internal/store"
	"github.com/streamfall/streamfall/internal/symlinker"
	"github.com/streamfall/streamfall/internal/updater"
	"github.com/streamfall/streamfall/internal/watcher"
	"github.com/streamfall/streamfall/internal/websocket"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Saving settings through the API requests a restart; serve tears the
	// whole stack down and the loop brings it back up on the new config.
	for serve(*configPath) {
	}
}

// serve boots the full pipeline and blocks until a shutdown signal or a
// restart request. It reports whether the caller should boot again.
func serve(configPath string) bool {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamfall: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting Streamfall")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(db.Conn(), log.Logger)

	hashes, err := hashcache.New(ctx, db.Conn(), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load hash cache")
	}

	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	// Buffered log entries start streaming to clients from here on.
	log.SetBroadcastHub(hub)

	bus := events.NewBus(st, log.Logger, hub)
	pools := events.NewPools(log.Logger)
	machine := statemachine.New(cfg)
	pipeline := runner.New(st, bus, pools, machine, hub, log.Logger)

	symlinkSvc := symlinker.NewService(cfg.Symlink, hashes, log.Logger)
	pipeline.RegisterService(events.ServiceIndexer, indexer.NewService(cfg.Indexer.Trakt, log.Logger))
	pipeline.RegisterService(events.ServiceScraping, scrapers.NewService(cfg, hashes, log.Logger))
	pipeline.RegisterService(events.ServiceDownloader, downloader.NewService(cfg, hashes, log.Logger))
	pipeline.RegisterService(events.ServiceSymlinker, symlinkSvc)
	pipeline.RegisterService(events.ServiceUpdater, updater.NewService(cfg.Updaters, log.Logger))

	// Validation probes upstream APIs, so give the network time to come up
	// after boot. Credential failures are not retried; the pipeline then
	// idles until settings change and trigger a restart.
	err = startup.WithRetry(ctx, "service validation", startup.DefaultRetryConfig(), func() error {
		if pipeline.ValidateServices(ctx) {
			return nil
		}
		for _, status := range pipeline.ServiceStatuses() {
			if status.Enabled && !status.Initialized && status.Error != "" {
				return errors.New(status.Error)
			}
		}
		return errors.New("no working scraper or downloader")
	}, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline is not ready; items will queue until settings are fixed")
	}

	go func() {
		if err := pipeline.Run(ctx); err != nil {
			log.Error().Err(err).Msg("pipeline loop stopped")
		}
	}()

	if cfg.Symlink.LibraryPath != "" {
		if err := pipeline.Reconcile(ctx, symlinkSvc, reconcileWorkers(cfg.Symlink.MaxWorkers)); err != nil {
			log.Error().Err(err).Msg("library reconciliation failed")
		}
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := tasks.RegisterRetrySweepTask(sched, st, bus, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register retry sweep")
	}
	if err := tasks.RegisterMaintenanceTask(sched, db, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register database maintenance")
	}
	if err := tasks.RegisterLogCleanupTask(sched, cfg.Logging, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register log cleanup")
	}
	if err := tasks.RegisterRepairSweepTask(sched, cfg.Symlink, symlinkSvc, pipeline.Remove, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register repair sweep")
	}

	sources := content.Sources(cfg, st, log.Logger)
	polled := tasks.RegisterContentPollTasks(ctx, sched, sources, pipeline.Submit, log.Logger)
	log.Info().Int("sources", polled).Msg("content sources scheduled")

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	var watch *watcher.Service
	if cfg.Symlink.LibraryPath != "" {
		watch, err = watcher.NewService(cfg.Symlink.LibraryPath, pipeline.Remove, log.Logger)
		if err == nil {
			err = watch.Start()
		}
		if err != nil {
			log.Warn().Err(err).Msg("deletion watcher unavailable; removed library entries will linger until the repair sweep")
			watch = nil
		}
	}

	authSvc, err := auth.NewService(cfg.Auth, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	server := api.NewServer(cfg, api.Deps{
		Store:      st,
		Bus:        bus,
		Runner:     pipeline,
		Scheduler:  sched,
		Hub:        hub,
		Logs:       log,
		Auth:       authSvc,
		ConfigPath: configPath,
	}, log.Logger)

	restartChan := make(chan struct{}, 1)
	server.SetOnSettingsSaved(func(*config.Config) {
		select {
		case restartChan <- struct{}{}:
		default:
		}
	})

	configuredPort := cfg.Server.Port
	actualPort, err := config.FindAvailablePort(cfg.Server.Port, 10)
	if err != nil {
		log.Fatal().Err(err).Int("configuredPort", configuredPort).Msg("failed to find available port")
	}
	if actualPort != configuredPort {
		log.Warn().
			Int("configuredPort", configuredPort).
			Int("actualPort", actualPort).
			Msg("configured port in use, using alternative port")
		cfg.Server.Port = actualPort
	}

	go func() {
		addr := cfg.Server.Address()
		log.Info().Str("address", addr).Msg("HTTP server listening")
		if err := server.Start(addr); err != nil {
			log.Info().Msg("server stopped")
		}
	}()

	shouldRestart := false
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("received shutdown signal")
	case <-restartChan:
		log.Info().Msg("settings changed, restarting services")
		shouldRestart = true
	}
	signal.Stop(sigChan)

	// Stop feeding work first, then cut the HTTP surface, then the pipeline.
	// In-flight service passes are cancelled rather than drained; the retry
	// sweep re-admits whatever they were working on at the next boot.
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	if watch != nil {
		if err := watch.Stop(); err != nil {
			log.Error().Err(err).Msg("watcher shutdown error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	bus.Close()

	log.Info().Msg("server stopped")
	return shouldRestart
}

// reconcileWorkers sizes the boot library scan. The symlink pool default of
// one is deliberately conservative for steady-state linking; the scan walks
// thousands of existing entries, so it defaults wider.
func reconcileWorkers(configured int) int {
	if raw := os.Getenv("SYMLINK_MAX_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	if configured > 0 {
		return configured
	}
	return 4
}
