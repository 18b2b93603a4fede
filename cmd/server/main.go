// Command server runs the change-capture and retention engine: the monitored
// record API, the audit trail, the retention sweeper, and the compliance
// endpoints, all behind one HTTP listener.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit"
	audithandler "chronicle/internal/audit/handler"
	auditmetrics "chronicle/internal/audit/metrics"
	"chronicle/internal/audit/outbox"
	auditmemory "chronicle/internal/audit/store/memory"
	auditpostgres "chronicle/internal/audit/store/postgres"
	"chronicle/internal/auth"
	"chronicle/internal/capture"
	"chronicle/internal/compliance"
	compliancehandler "chronicle/internal/compliance/handler"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/httpserver"
	"chronicle/internal/platform/kafka"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/postgres"
	"chronicle/internal/platform/redis"
	"chronicle/internal/records"
	recordshandler "chronicle/internal/records/handler"
	recordsmemory "chronicle/internal/records/memory"
	recordspostgres "chronicle/internal/records/postgres"
	"chronicle/internal/retention"
	retentionhandler "chronicle/internal/retention/handler"
	"chronicle/internal/retention/lock"
	retentionmetrics "chronicle/internal/retention/metrics"
	retentionmemory "chronicle/internal/retention/store/memory"
	retentionpostgres "chronicle/internal/retention/store/postgres"
	"chronicle/internal/retention/sweeper"
	httptransport "chronicle/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backing stores. Postgres, Redis and Kafka are all optional; absent
	// configuration falls back to in-process equivalents.
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, err := kafka.New(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		if err := publisher.EnsureTopic(ctx, 3); err != nil {
			return err
		}
	}

	// Audit trail and capture hook.
	var auditStore audit.Store
	if db != nil {
		auditStore = auditpostgres.New(db)
	} else {
		auditStore = auditmemory.New()
	}
	auditSvc := audit.NewService(auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(auditmetrics.New()),
	)
	hook := capture.New(auditSvc, capture.WithLogger(log))

	// Monitored records.
	defs := records.NewRegistry()
	for _, def := range entityDefinitions(cfg) {
		defs.Register(def)
	}
	var recordStore records.Store
	if db != nil {
		recordStore = recordspostgres.New(db)
	} else {
		recordStore = recordsmemory.New()
	}
	recordsOpts := []records.Option{records.WithLogger(log)}
	if db != nil {
		recordsOpts = append(recordsOpts, records.WithDB(db))
	}
	recordsSvc := records.NewService(recordStore, defs, hook, recordsOpts...)

	// Retention.
	var (
		policyStore retention.PolicyStore
		ledgerStore retention.LedgerStore
	)
	if db != nil {
		policyStore = retentionpostgres.NewPolicyStore(db)
		ledgerStore = retentionpostgres.NewLedgerStore(db)
	} else {
		policyStore = retentionmemory.NewPolicyStore()
		ledgerStore = retentionmemory.NewLedgerStore()
	}
	registry := retention.NewRegistry(policyStore, ledgerStore, retention.WithLogger(log))

	var locks lock.Manager = lock.NewInProcess()
	if redisClient != nil {
		locks = lock.NewRedis(redisClient.Client)
	}
	sweep := sweeper.New(policyStore, ledgerStore, recordsSvc, auditSvc, locks,
		sweeper.Config{
			Interval:    cfg.Retention.SweepInterval,
			Budget:      cfg.Retention.SweepBudget,
			BatchSize:   cfg.Retention.BatchSize,
			Concurrency: cfg.Retention.Concurrency,
			LockTTL:     cfg.Retention.LockTTL,
		},
		sweeper.WithLogger(log),
		sweeper.WithMetrics(retentionmetrics.New()),
	)

	// Compliance.
	complianceSvc := compliance.NewService(recordsSvc, auditSvc, hook, ledgerStore,
		compliance.WithLogger(log))

	// HTTP surface.
	validator := auth.NewTokenService(cfg.Auth.JWTSigningKey)
	router := httptransport.NewRouter(httptransport.Deps{
		Public: []httptransport.Registrar{
			audithandler.New(auditSvc, log),
		},
		Authed: []httptransport.Registrar{
			recordshandler.New(recordsSvc, log),
		},
		Admin: []httptransport.Registrar{
			retentionhandler.New(registry, sweep, log),
			compliancehandler.New(complianceSvc, log),
		},
		Validator:      validator,
		AdminTokenHash: cfg.Auth.AdminTokenHash,
		Logger:         log,
		Health: func() error {
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(ctx)
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Server, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting chronicle", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweep.Run(ctx)
		return nil
	})
	if db != nil && publisher != nil {
		relay := outbox.New(db, publisher, log, cfg.Kafka.RelayInterval, cfg.Kafka.RelayBatch)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// entityDefinitions maps configured entity types into registry definitions,
// falling back to a single generic entity so a bare config still serves.
func entityDefinitions(cfg *config.Config) []records.Definition {
	if len(cfg.Entities) == 0 {
		return []records.Definition{{EntityType: "documents"}}
	}
	defs := make([]records.Definition, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		defs = append(defs, records.Definition{
			EntityType:        e.Name,
			IDField:           e.IDField,
			IdentifyingFields: e.IdentifyingFields,
		})
	}
	return defs
}
