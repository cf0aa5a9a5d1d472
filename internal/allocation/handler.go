package allocation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler exposes the allocation engine over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/reverse", h.reverse)
	r.Get("/items/{itemID}", h.itemState)
	r.Post("/items/{itemID}", h.allocateItem)
	r.Put("/items/{itemID}/quantity", h.syncQuantity)
	r.Post("/orders/{orderID}", h.allocateOrder)
	r.Post("/orders/{orderID}/materialize", h.materialize)
}

var errorMappings = append([]httpx.Mapping{
	{Err: ErrAllocationNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: orders.ErrOrderNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: orders.ErrItemNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrQuantityConflict, Status: http.StatusConflict, Title: "Quantity Conflict"},
	{Err: ErrExceedsRequirement, Status: http.StatusConflict, Title: "Quantity Conflict"},
	{Err: ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
	{Err: ErrRebindRequiresReversal, Status: http.StatusConflict, Title: "Reversal Required"},
	{Err: ErrWarehouseRequired, Status: http.StatusUnprocessableEntity, Title: "Warehouse Required"},
	{Err: ErrInvalidStatus, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrInvalidUpdate, Status: http.StatusBadRequest, Title: "Validation Failed"},
}, inventory.ErrorMappings...)

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, inventory.ErrLedgerInconsistent) {
		h.logger.ErrorContext(r.Context(), "allocation ledger inconsistent", slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Status: Status(q.Get("status")), OrderID: q.Get("order_id")}
	if raw := q.Get("order_item_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order_item_id")
			return
		}
		filter.OrderItemID = id
	}
	rows, err := h.service.ListAllocations(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.GetAllocation(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var input UpdateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.UpdateAllocation(r.Context(), id, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.ReverseAllocation(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) itemState(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	state, err := h.service.ItemState(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) allocateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var input AllocateItemInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		h.respondError(w, r, err)
		return
	}
	key, err := shared.ParseIdempotencyKey(r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	input.OrderItemID = itemID
	input.IdempotencyKey = key
	input.ActorID = shared.ActorFromContext(r.Context())
	state, err := h.service.AllocateItem(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if state.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, state)
}

func (h *Handler) syncQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var input SyncQuantityInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	state, err := h.service.SyncItemQuantity(r.Context(), itemID, input.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) allocateOrder(w http.ResponseWriter, r *http.Request) {
	var input AllocateOrderInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, &input); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	key, err := shared.ParseIdempotencyKey(r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	input.OrderID = chi.URLParam(r, "orderID")
	input.IdempotencyKey = key
	input.ActorID = shared.ActorFromContext(r.Context())
	result, err := h.service.AllocateOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.MaterializeOrder(r.Context(), chi.URLParam(r, "orderID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}
