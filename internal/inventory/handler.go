package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Post("/", h.createTransaction)
		r.Get("/{id}", h.getTransaction)
		r.Delete("/{id}", h.deleteTransaction)
	})
	r.Get("/products/{productID}/stock", h.productStock)
	r.Get("/lots", h.listLots)
	r.Get("/lots/candidates", h.candidateLots)
	r.Get("/lots/export", h.exportLots)
	r.Get("/summary", h.stockSummary)
}

// ErrorMappings translates inventory errors to problem responses.
var ErrorMappings = []httpx.Mapping{
	{Err: ErrInsufficientStock, Status: http.StatusConflict, Title: "Insufficient Stock"},
	{Err: ErrLotNotFound, Status: http.StatusNotFound, Title: "Lot Not Found"},
	{Err: ErrInvalidLot, Status: http.StatusUnprocessableEntity, Title: "Invalid Lot"},
	{Err: ErrDocumentReversal, Status: http.StatusConflict, Title: "Document Reversal Failure"},
	{Err: ErrLedgerInconsistent, Status: http.StatusInternalServerError, Title: "Ledger Inconsistent"},
	{Err: ErrTransactionNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrNotDeletable, Status: http.StatusConflict, Title: "Not Deletable"},
	{Err: ErrAdjustmentCeiling, Status: http.StatusUnprocessableEntity, Title: "Adjustment Exceeds Received"},
	{Err: ErrLotConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Err: ErrInvalidQuantity, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrInvalidUnitCost, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrInvalidTransactionType, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrEmptyItems, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrLotRequired, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrInvalidFilter, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Err: shared.ErrIdempotencyKeyInvalid, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrLedgerInconsistent) {
		h.logger.ErrorContext(r.Context(), "inventory ledger inconsistent", slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorMappings...)
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var input CreateTransactionInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		h.respondError(w, r, err)
		return
	}
	key, err := shared.ParseIdempotencyKey(r.Header.Get(shared.IdempotencyHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	input.IdempotencyKey = key
	input.ActorID = shared.ActorFromContext(r.Context())
	doc, err := h.service.CreateStockTransaction(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{
		Type:   TransactionType(q.Get("type")),
		Search: q.Get("search"),
	}
	var err error
	if filter.Month, err = optionalInt(q.Get("month")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: month", ErrInvalidFilter))
		return
	}
	if filter.Year, err = optionalInt(q.Get("year")); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: year", ErrInvalidFilter))
		return
	}
	filter.Page, _ = optionalInt(q.Get("page"))
	filter.PerPage, _ = optionalInt(q.Get("per_page"))
	page, err := h.service.ListStockTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.service.GetStockTransaction(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.service.DeleteStockTransaction(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) productStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	total, err := h.service.GetProductTotalStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "total_stock": total})
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	filter, err := lotFilterFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	lots, err := h.service.ListProductLots(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lots})
}

func (h *Handler) candidateLots(w http.ResponseWriter, r *http.Request) {
	filter, err := lotFilterFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	lots, err := h.service.CandidateLots(r.Context(), filter.ProductID, filter.WarehouseID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": lots, "available": AvailableQuantity(lots)})
}

func (h *Handler) stockSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := lotFilterFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	rows, err := h.service.StockSummary(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) exportLots(w http.ResponseWriter, r *http.Request) {
	filter, err := lotFilterFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if filter.ProductID <= 0 {
		h.respondError(w, r, fmt.Errorf("%w: product_id required", ErrInvalidFilter))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=lots-%d.xlsx", filter.ProductID))
	if err := h.service.ExportLots(r.Context(), filter, w); err != nil {
		h.logger.ErrorContext(r.Context(), "export lots", slog.Any("error", err))
		h.respondError(w, r, err)
	}
}

func lotFilterFromQuery(r *http.Request) (LotFilter, error) {
	q := r.URL.Query()
	productID, err := optionalInt64(q.Get("product_id"))
	if err != nil {
		return LotFilter{}, fmt.Errorf("%w: product_id", ErrInvalidFilter)
	}
	warehouseID, err := optionalInt64(q.Get("warehouse_id"))
	if err != nil {
		return LotFilter{}, fmt.Errorf("%w: warehouse_id", ErrInvalidFilter)
	}
	return LotFilter{ProductID: productID, WarehouseID: warehouseID}, nil
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func optionalInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
