package cod

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Handler exposes COD box reconciliation over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers COD routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/divide", h.divide)
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/boxes", h.boxes)
		r.Put("/boxes", h.declare)
		r.Post("/split", h.split)
		r.Get("/validate", h.validate)
		r.Post("/upsell", h.upsell)
	})
}

var errorMappings = []httpx.Mapping{
	{Err: ErrCodMismatch, Status: http.StatusUnprocessableEntity, Title: "COD Mismatch"},
	{Err: ErrNotCOD, Status: http.StatusConflict, Title: "Not COD"},
	{Err: ErrNothingToCollect, Status: http.StatusUnprocessableEntity, Title: "Nothing To Collect"},
	{Err: ErrInvalidBoxCount, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrNoItems, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrItemAlreadyBoxed, Status: http.StatusConflict, Title: "Already Boxed"},
	{Err: orders.ErrOrderNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: orders.ErrItemNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, err, errorMappings...)
}

func (h *Handler) divide(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	total, err := decimal.NewFromString(q.Get("total"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid total")
		return
	}
	n, err := strconv.Atoi(q.Get("boxes"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid boxes")
		return
	}
	amounts, err := DivideEqually(n, total)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"amounts": amounts})
}

func (h *Handler) boxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := h.service.Boxes(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": boxes})
}

func (h *Handler) declare(w http.ResponseWriter, r *http.Request) {
	var input DeclareInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		h.respondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	boxes, err := h.service.DeclareBoxes(r.Context(), chi.URLParam(r, "orderID"), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": boxes})
}

func (h *Handler) split(w http.ResponseWriter, r *http.Request) {
	var input SplitInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		h.respondError(w, err)
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	boxes, err := h.service.SplitEqually(r.Context(), chi.URLParam(r, "orderID"), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": boxes})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	res, err := h.service.Validate(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !res.Valid {
		h.logger.InfoContext(r.Context(), "cod boxes out of balance",
			slog.String("order_id", orderID), slog.String("difference", res.Difference.StringFixed(2)))
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) upsell(w http.ResponseWriter, r *http.Request) {
	var input UpsellInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		h.respondError(w, err)
		return
	}
	input.OrderID = chi.URLParam(r, "orderID")
	input.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.AddUpsellBoxes(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "upsell boxes added",
		slog.String("order_id", input.OrderID), slog.Int("boxes", len(res.Boxes)))
	httpx.JSON(w, http.StatusCreated, res)
}
