package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// repositories — набор репозиториев, который собирает initStorage.
type repositories struct {
	orders        domain.OrderRepository
	cancellations domain.CancellationRepository
	returns       domain.ReturnRepository
	cases         domain.CaseRepository

	// store не nil только для postgres-драйвера.
	store *postgres.Store
}

// initStorage создаёт репозитории по выбранному драйверу.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (repositories, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		cancellations := memory.NewCancellationRepository()
		return repositories{
			orders:        memory.NewOrderRepositoryWithCancellations(cancellations),
			cancellations: cancellations,
			returns:       memory.NewReturnRepository(),
			cases:         memory.NewCaseRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return repositories{}, fmt.Errorf("postgres driver requires DATABASE_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return repositories{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return repositories{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.Info("using postgres storage")
		return repositories{
			orders:        postgres.NewOrderRepository(store),
			cancellations: postgres.NewCancellationRepository(store),
			returns:       postgres.NewReturnRepository(store),
			cases:         postgres.NewCaseRepository(store),
			store:         store,
		}, nil

	default:
		return repositories{}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
