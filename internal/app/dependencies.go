package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/service/account"
	"github.com/vladislavdragonenkov/retail-core/internal/service/cart"
	"github.com/vladislavdragonenkov/retail-core/internal/service/pending"
	"github.com/vladislavdragonenkov/retail-core/internal/service/promo"
	"github.com/vladislavdragonenkov/retail-core/internal/service/shipment"
	"github.com/vladislavdragonenkov/retail-core/internal/service/stock"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/memory"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/postgres"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/redisx"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders    domain.OrderRepository
	Stocks    domain.StockRepository
	Promos    domain.PromotionRepository
	Shipments domain.ShipmentRepository
	Shippers  domain.ShipperRepository
	Actions   domain.PendingActionRepository
	Steps     domain.SagaStepRepository
	Outbox    domain.OutboxRepository

	StockLedger domain.StockService
	Promotions  domain.PromotionService
	Registrar   domain.ShipmentService
	Accounts    domain.AccountService
	Carts       domain.CartService
	Queue       *pending.Queue

	StatusCache *redisx.StatusCache

	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies собирает зависимости согласно конфигурации. Для
// StorageDriverPostgres открывает пул соединений и, если включено,
// накатывает миграции. NOTE: account и cart сервисы пока моки; в
// production их заменяют клиенты внешних сервисов.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Stocks = postgres.NewStockRepository(store)
		deps.Promos = postgres.NewPromotionRepository(store)
		deps.Shipments = postgres.NewShipmentRepository(store)
		deps.Shippers = postgres.NewShipperRepository(store)
		deps.Actions = postgres.NewPendingActionRepository(store)
		deps.Steps = postgres.NewSagaStepRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		logger.Info("postgres storage initialized")
	case StorageDriverMemory:
		deps.Orders = memory.NewOrderRepository()
		deps.Stocks = memory.NewStockRepository()
		deps.Promos = memory.NewPromotionRepository()
		deps.Shipments = memory.NewShipmentRepository()
		deps.Shippers = memory.NewShipperRepository(deps.Shipments)
		deps.Actions = memory.NewPendingActionRepository()
		deps.Steps = memory.NewSagaStepRepository()
		deps.Outbox = memory.NewOutboxRepository()
		logger.Info("in-memory storage initialized")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	deps.StockLedger = stock.NewLedger(deps.Stocks, logger.WithField("component", "stock"))
	deps.Promotions = promo.NewValidator(deps.Promos, logger.WithField("component", "promo"))
	deps.Registrar = shipment.NewRegistrar(deps.Shipments, logger.WithField("component", "shipment"))
	deps.Accounts = account.NewMockService()
	deps.Carts = cart.NewMockService()
	deps.Queue = pending.NewQueue(deps.Actions, logger.WithField("component", "pending"))

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		deps.StatusCache = redisx.NewStatusCache(rdb, logger.WithField("component", "status-cache"))
		logger.WithField("addr", cfg.RedisAddr).Info("redis status cache initialized")
	}

	return deps, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
