package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

var errPostgresDSNRequired = errors.New("postgres dsn is required for postgres storage driver")

// runtimeDependencies содержит хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	catalog         domain.CatalogRepository
	ledger          domain.OrderLedger
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		return initMemoryDependencies(ctx, cfg, logger)
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMemoryDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	catalog := memory.NewCatalogRepository()
	outboxRepo := memory.NewOutboxRepository()

	if cfg.SeedDemoCatalog {
		err := seedDemoCatalog(ctx, catalogSeeder{
			putShop:    func(_ context.Context, shop domain.Shop) error { return catalog.PutShop(shop) },
			putProduct: func(_ context.Context, product domain.Product) error { return catalog.PutProduct(product) },
		})
		if err != nil {
			return nil, err
		}
		logger.WithField("products", len(demoProducts)).Info("demo catalog seeded")
	}

	return &runtimeDependencies{
		catalog:         catalog,
		ledger:          memory.NewOrderLedger(outboxRepo),
		outboxRepo:      outboxRepo,
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker: healthcheck.NewSimpleChecker("memory", func(context.Context) error {
			return nil
		}),
	}, nil
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errPostgresDSNRequired
	}

	store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(cfg.PostgresMaxConns))
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		version, applied, err := store.MigrationStatus(ctx)
		if err == nil {
			logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres schema is up to date")
		}
	}

	catalog := postgres.NewCatalogRepository(store)
	if cfg.SeedDemoCatalog {
		if err := seedDemoCatalog(ctx, catalogSeeder{
			putShop:    catalog.UpsertShop,
			putProduct: catalog.UpsertProduct,
		}); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.WithField("products", len(demoProducts)).Info("demo catalog upserted")
	}

	return &runtimeDependencies{
		catalog:         catalog,
		ledger:          postgres.NewOrderLedger(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewSimpleChecker("postgres", store.Ping),
		closeFn:         store.Close,
	}, nil
}
