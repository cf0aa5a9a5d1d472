package warehouses

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/httpx"
)

// Handler exposes warehouse lookups and suggestions.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers warehouse routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/suggest", h.suggest)
	r.Get("/recommendations", h.recommendations)
	r.Get("/backups", h.backups)
	r.Get("/{id}", h.show)
	r.Get("/{id}/coverage", h.coverage)
	r.Put("/{id}/coverage", h.updateCoverage)
}

var errorMappings = []httpx.Mapping{
	{Err: ErrWarehouseNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrInvalidCoverage, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err, errorMappings...)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.service.List(r.Context(), ListFilters{Search: q.Get("search"), ActiveOnly: q.Get("active") == "true"})
	if err != nil {
		h.fail(w, r, "list warehouses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := warehouseID(w, r)
	if !ok {
		return
	}
	wh, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get warehouse", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	province := r.URL.Query().Get("province")
	wh, ok, err := h.service.Suggest(r.Context(), province)
	if err != nil {
		h.fail(w, r, "suggest warehouse", err)
		return
	}
	body := map[string]any{"province": NormalizeProvince(province), "found": ok}
	if ok {
		body["warehouse"] = wh
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.Recommendations(r.Context(), r.URL.Query().Get("province"))
	if err != nil {
		h.fail(w, r, "recommend warehouses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": recs})
}

func (h *Handler) backups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var exclude []int64
	if raw := q.Get("exclude"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid exclude")
				return
			}
			exclude = append(exclude, id)
		}
	}
	recs, err := h.service.Backups(r.Context(), q.Get("province"), exclude)
	if err != nil {
		h.fail(w, r, "backup warehouses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": recs})
}

func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	id, ok := warehouseID(w, r)
	if !ok {
		return
	}
	province := r.URL.Query().Get("province")
	can, err := h.service.CanDeliverTo(r.Context(), id, province)
	if err != nil {
		h.fail(w, r, "warehouse coverage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouse_id": id, "province": NormalizeProvince(province), "covered": can})
}

func (h *Handler) updateCoverage(w http.ResponseWriter, r *http.Request) {
	id, ok := warehouseID(w, r)
	if !ok {
		return
	}
	var input CoverageInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	wh, err := h.service.UpdateCoverage(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, "update coverage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func warehouseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
		return 0, false
	}
	return id, true
}
