// Command server runs the brokersync service: the daily settlement sync,
// its scheduler, and the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/clients/iifl"
	"github.com/smehta/brokersync/internal/config"
	"github.com/smehta/brokersync/internal/database"
	"github.com/smehta/brokersync/internal/modules/analytics"
	"github.com/smehta/brokersync/internal/modules/credentials"
	"github.com/smehta/brokersync/internal/modules/holdings"
	"github.com/smehta/brokersync/internal/modules/runs"
	syncmod "github.com/smehta/brokersync/internal/modules/sync"
	"github.com/smehta/brokersync/internal/reliability"
	"github.com/smehta/brokersync/internal/scheduler"
	"github.com/smehta/brokersync/internal/server"
	"github.com/smehta/brokersync/pkg/logger"
)

const snapshotRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting brokersync")

	// Root context for all run work. Cancelled on shutdown so in-flight
	// tasks and their backoff waits abort instead of running out the clock.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Databases
	ledgerDB := mustOpenDB(log, database.Config{
		Path: cfg.DatabasePath("ledger"), Profile: database.ProfileLedger, Name: "ledger",
	}, runs.Schema)
	defer ledgerDB.Close()

	accountsDB := mustOpenDB(log, database.Config{
		Path: cfg.DatabasePath("accounts"), Profile: database.ProfileStandard, Name: "accounts",
	}, credentials.Schema)
	defer accountsDB.Close()

	portfolioDB := mustOpenDB(log, database.Config{
		Path: cfg.DatabasePath("portfolio"), Profile: database.ProfileStandard, Name: "portfolio",
	}, holdings.Schema)
	defer portfolioDB.Close()

	cacheDB := mustOpenDB(log, database.Config{
		Path: cfg.DatabasePath("cache"), Profile: database.ProfileCache, Name: "cache",
	}, holdings.CacheSchema)
	defer cacheDB.Close()

	// Repositories
	var credentialKey []byte
	if cfg.CredentialKey != "" {
		credentialKey = []byte(cfg.CredentialKey)
	} else {
		log.Warn().Msg("CREDENTIAL_ENCRYPTION_KEY not set, credential store disabled")
	}
	credRepo, err := credentials.NewRepository(accountsDB.Conn(), credentialKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create credential repository")
	}
	runRepo := runs.NewRepository(ledgerDB.Conn(), log)
	holdingsRepo := holdings.NewRepository(portfolioDB.Conn(), log)
	snapshotCache := holdings.NewSnapshotCache(cacheDB.Conn(), log)

	// Broker client with the configured retry policy
	policy := iifl.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  2,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      0.2,
	}
	broker := iifl.NewClient(cfg.BrokerBaseURL, cfg.BrokerSource, policy, log)

	// Sync pipeline
	metrics := server.NewMetrics()
	ops := []syncmod.AccountOperation{
		syncmod.NewHoldingsSyncOperation(broker, holdingsRepo, snapshotCache, log),
		syncmod.NewOrderBookAuditOperation(broker, snapshotCache, log),
	}
	task := syncmod.NewTask(credRepo, broker, ops, log)
	orchestrator := syncmod.NewOrchestrator(credRepo, runRepo, task, cfg.WorkerPoolSize, log).
		WithMetrics(metrics)

	loc, err := time.LoadLocation(cfg.SyncTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.SyncTimezone).Msg("Invalid sync timezone")
	}

	// Scheduled jobs
	sched := scheduler.New(rootCtx, loc, log)
	syncJob := scheduler.NewDailySyncJob(orchestrator.RunDaily, loc, cfg.SyncTimeout, log)
	if err := sched.Register(cfg.SyncSchedule, syncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily sync job")
	}
	pruneJob := scheduler.NewSnapshotPruneJob(snapshotCache, snapshotRetention, log)
	if err := sched.Register("0 15 3 * * *", pruneJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register snapshot prune job")
	}

	allDBs := []*database.DB{ledgerDB, accountsDB, portfolioDB, cacheDB}
	if cfg.Backup.Enabled {
		s3, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup storage client")
		}
		backupables := make([]reliability.Backupable, len(allDBs))
		for i, db := range allDBs {
			backupables[i] = db
		}
		backupSvc := reliability.NewBackupService(s3, backupables, cfg.Backup.RetentionDays, log)
		if err := sched.Register(cfg.Backup.Schedule, scheduler.NewBackupJob(backupSvc, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	sched.Start()

	// HTTP API
	srv := server.New(cfg.Port, server.Deps{
		RunReader:      runRepo,
		SyncRunner:     orchestrator,
		HoldingsReader: holdingsRepo,
		Returns:        analytics.NewService(holdingsRepo, log),
		Health:         reliability.NewHealthChecker(allDBs, cfg.DataDir, log),
		Metrics:        metrics,
		Location:       loc,
		SyncTimeout:    cfg.SyncTimeout,
		BaseContext:    rootCtx,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server exited")
		}
	}

	// Abort any in-flight run first, then wait for the jobs to join.
	cancelRoot()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}

func mustOpenDB(log zerolog.Logger, cfg database.Config, schema string) *database.DB {
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to open database")
	}
	if err := db.InitSchema(schema); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Name).Msg("Failed to initialize schema")
	}
	log.Info().Str("database", cfg.Name).Str("path", db.Path()).Msg("Database ready")
	return db
}
