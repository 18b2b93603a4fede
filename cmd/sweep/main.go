// Command sweep runs one full retention sweep against the configured
// database and exits. Intended for cron-style scheduling where the long-
// running server's built-in sweeper is disabled.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chronicle/internal/audit"
	auditmetrics "chronicle/internal/audit/metrics"
	auditpostgres "chronicle/internal/audit/store/postgres"
	"chronicle/internal/capture"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/postgres"
	"chronicle/internal/platform/redis"
	"chronicle/internal/records"
	recordspostgres "chronicle/internal/records/postgres"
	"chronicle/internal/retention/lock"
	retentionmetrics "chronicle/internal/retention/metrics"
	retentionpostgres "chronicle/internal/retention/store/postgres"
	"chronicle/internal/retention/sweeper"
)

func main() {
	entityType := flag.String("entity", "", "sweep only this entity type")
	flag.Parse()

	if err := run(*entityType); err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(entityType string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("DATABASE_DSN is required for one-shot sweeps")
	}
	defer db.Close()

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditSvc := audit.NewService(auditpostgres.New(db),
		audit.WithLogger(log),
		audit.WithMetrics(auditmetrics.New()),
	)
	hook := capture.New(auditSvc, capture.WithLogger(log))

	defs := records.NewRegistry()
	for _, e := range cfg.Entities {
		defs.Register(records.Definition{
			EntityType:        e.Name,
			IDField:           e.IDField,
			IdentifyingFields: e.IdentifyingFields,
		})
	}
	recordsSvc := records.NewService(recordspostgres.New(db), defs, hook,
		records.WithLogger(log), records.WithDB(db))

	var locks lock.Manager = lock.NewInProcess()
	if redisClient != nil {
		locks = lock.NewRedis(redisClient.Client)
	}

	sweep := sweeper.New(
		retentionpostgres.NewPolicyStore(db),
		retentionpostgres.NewLedgerStore(db),
		recordsSvc,
		auditSvc,
		locks,
		sweeper.Config{
			Budget:      cfg.Retention.SweepBudget,
			BatchSize:   cfg.Retention.BatchSize,
			Concurrency: cfg.Retention.Concurrency,
			LockTTL:     cfg.Retention.LockTTL,
		},
		sweeper.WithLogger(log),
		sweeper.WithMetrics(retentionmetrics.New()),
	)

	var results []sweeper.Result
	if entityType != "" {
		result, err := sweep.SweepOne(ctx, entityType)
		if err != nil {
			return err
		}
		results = append(results, result)
	} else {
		results, err = sweep.SweepAll(ctx)
		if err != nil {
			return err
		}
	}

	failed := false
	for _, r := range results {
		log.Info("sweep result",
			"entity_type", r.EntityType,
			"action", r.Action,
			"affected", r.Affected,
			"failed", r.Failed,
			"skipped", r.Skipped,
			"error", r.Error,
		)
		if r.Error != "" {
			failed = true
		}
	}
	if failed {
		return errors.New("one or more sweeps failed")
	}
	return nil
}
