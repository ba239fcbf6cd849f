package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/benefit"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/events"
	"ambassador-ledger/internal/features"
	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/metrics"
	"ambassador-ledger/internal/service"
	"ambassador-ledger/internal/storage"
	"ambassador-ledger/internal/transfer"
)

// app holds the wired ledger core shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	flags    *features.Manager
	events   *events.Manager
	metrics  *metrics.Metrics
	service  *service.Service
	transfer *transfer.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, registry prometheus.Registerer) (*app, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	seeded, err := db.SeedSlabs(ctx, benefit.DefaultSlabs())
	if err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to seed benefit slabs: %w", err)
	}
	if seeded {
		log.Info("seeded default benefit slabs")
	}

	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	flags := features.NewDefaultManager(cfg.Ledger.BenefitNotifications)
	bus := events.NewManager(true, log)
	bus.Subscribe(events.EventBenefitChanged, events.BenefitNotifier(db, flags))

	m := metrics.New(registry)
	policy := authz.DefaultPolicy()
	recorder := audit.NewRecorder(db, log)

	svc, err := service.NewService(ctx, service.Deps{
		DB:         db,
		Authorizer: policy,
		Audit:      recorder,
		Events:     bus,
		Metrics:    m,
		Logger:     log,
	}, opts)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	orch := transfer.New(transfer.Deps{
		DB:           db,
		Authorizer:   policy,
		Audit:        recorder,
		Events:       bus,
		Metrics:      m,
		Logger:       log,
		AfterRestore: svc.ReloadSlabs,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		flags:    flags,
		events:   bus,
		metrics:  m,
		service:  svc,
		transfer: orch,
	}, nil
}

// snapshotStore selects S3 when a bucket is configured.
func (a *app) snapshotStore(ctx context.Context) (storage.SnapshotStore, error) {
	if a.cfg.Backup.Bucket != "" {
		return storage.NewS3(ctx, a.cfg.Backup.Region, a.cfg.Backup.Bucket, a.cfg.Backup.Prefix)
	}
	return storage.NewLocal(a.cfg.Backup.Dir)
}

func (a *app) Close() {
	a.events.Shutdown()
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close database")
	}
	a.log.Close()
}
