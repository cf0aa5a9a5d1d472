package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/allocation"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/cod"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	AllocationHandler *allocation.Handler
	WarehouseHandler  *warehouses.Handler
	CODHandler        *cod.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// HandlersFor builds the domain handlers for a set of services.
func HandlersFor(params RouterParams, services *Services) RouterParams {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params.InventoryHandler = inventory.NewHandler(logger, services.Inventory)
	params.AllocationHandler = allocation.NewHandler(logger, services.Allocation)
	params.WarehouseHandler = warehouses.NewHandler(logger, services.Warehouses)
	params.CODHandler = cod.NewHandler(logger, services.COD)
	return params
}

// NewRouter constructs the chi.Router with fulfillment defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	if params.AllocationHandler != nil {
		r.Route("/allocations", params.AllocationHandler.MountRoutes)
	}
	if params.WarehouseHandler != nil {
		r.Route("/warehouses", params.WarehouseHandler.MountRoutes)
	}
	if params.CODHandler != nil {
		r.Route("/cod", params.CODHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})

	return r
}
