package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockops/internal/platform/httpx"
)

// Handler manages master data endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers read-only master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses", h.listWarehouses)
	r.Get("/warehouses/{id}", h.showWarehouse)
	r.Get("/locations", h.listLocations)
	r.Get("/locations/{id}", h.showLocation)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.showProduct)
}

func filtersFrom(r *http.Request) (ListFilters, error) {
	f := ListFilters{Search: r.URL.Query().Get("q")}
	var err error
	if f.WarehouseID, err = httpx.QueryUUID(r, "warehouse_id"); err != nil {
		return f, err
	}
	f.Limit, err = httpx.QueryInt(r, "limit", 0)
	return f, err
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListWarehouses(r.Context(), f)
	h.respond(w, r, list, err)
}

func (h *Handler) showWarehouse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wh, err := h.service.Warehouse(r.Context(), id)
	h.respond(w, r, wh, err)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListLocations(r.Context(), f)
	h.respond(w, r, list, err)
}

func (h *Handler) showLocation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.Location(r.Context(), id)
	h.respond(w, r, loc, err)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListProducts(r.Context(), f)
	h.respond(w, r, list, err)
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Product(r.Context(), id)
	h.respond(w, r, p, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("masterdata request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}
