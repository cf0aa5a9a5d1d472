package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/allocation"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/cod"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

const defaultCoverageTTL = 10 * time.Minute

// AuditRecorder is satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyRecorder is satisfied by shared.IdempotencyStore.
type IdempotencyRecorder interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Stores groups the persistence ports behind the services.
type Stores struct {
	Inventory   inventory.RepositoryPort
	Allocations allocation.RepositoryPort
	Orders      allocation.OrderReader
	COD         cod.RepositoryPort
	Warehouses  warehouses.Repository
	Audit       AuditRecorder
	Idempotency IdempotencyRecorder
}

// PostgresStores wires every store to the pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Inventory:   inventory.NewRepository(pool),
		Allocations: allocation.NewRepository(pool),
		Orders:      orders.NewRepository(pool),
		COD:         cod.NewRepository(pool),
		Warehouses:  warehouses.NewRepository(pool),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
	}
}

// MemoryStores wires in-process stores sharing one lot and order state.
func MemoryStores(orderStore *orders.MemoryStore, warehouseRepo *warehouses.MemoryRepository) Stores {
	inv := inventory.NewMemoryStore()
	return Stores{
		Inventory:   inv,
		Allocations: allocation.NewMemoryStore(inv, orderStore),
		Orders:      orderStore,
		COD:         cod.NewMemoryStore(),
		Warehouses:  warehouseRepo,
	}
}

// Services holds the domain services built from Stores.
type Services struct {
	Inventory  *inventory.Service
	Allocation *allocation.Service
	COD        *cod.Service
	Warehouses *warehouses.Service
}

// ServiceDeps carries the collaborators shared across services.
type ServiceDeps struct {
	Stores  Stores
	Redis   *redis.Client
	Config  *Config
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewServices builds the domain services.
func NewServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var coverage *cache.JSONCache
	if deps.Redis != nil {
		ttl := defaultCoverageTTL
		if deps.Config != nil && deps.Config.CoverageCacheTTL > 0 {
			ttl = deps.Config.CoverageCacheTTL
		}
		coverage = cache.NewJSONCache(deps.Redis, "fulfillment:warehouses", ttl)
	}
	fulfillment := deps.Metrics.Fulfillment()
	stores := deps.Stores

	invCfg := inventory.ServiceConfig{Metrics: fulfillment, Logger: logger.With(slog.String("component", "inventory"))}
	allocCfg := allocation.ServiceConfig{Metrics: fulfillment, Logger: logger.With(slog.String("component", "allocation"))}
	codCfg := cod.ServiceConfig{Metrics: fulfillment, Logger: logger.With(slog.String("component", "cod"))}
	if stores.Audit != nil {
		invCfg.Audit = stores.Audit
		allocCfg.Audit = stores.Audit
		codCfg.Audit = stores.Audit
	}
	if stores.Idempotency != nil {
		invCfg.Idempotency = stores.Idempotency
		allocCfg.Idempotency = stores.Idempotency
	}

	warehouseSvc := warehouses.NewService(stores.Warehouses, coverage, logger.With(slog.String("component", "warehouses")))
	allocCfg.Suggester = warehouseSvc

	return &Services{
		Inventory:  inventory.NewService(stores.Inventory, invCfg),
		Allocation: allocation.NewService(stores.Allocations, stores.Orders, allocCfg),
		COD:        cod.NewService(stores.COD, stores.Orders, codCfg),
		Warehouses: warehouseSvc,
	}
}
