package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/platform/httpx"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// Handler exposes ledger and balance endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountLedger registers the ledger routes.
func (h *Handler) MountLedger(r chi.Router) {
	r.Get("/", h.listLedger)
}

// MountStock registers the balance routes.
func (h *Handler) MountStock(r chi.Router) {
	r.Get("/", h.listBalances)
	r.Get("/replay", h.replay)
	r.With(identity.Require).Post("/movements", h.postAdjustment)
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	var (
		filter LedgerFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryUUID(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.QueryUUID(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DocumentID, err = httpx.QueryUUID(r, "document_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	var (
		filter BalanceFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryUUID(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.QueryUUID(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.NonZero, err = httpx.QueryBool(r, "non_zero"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.ListBalances(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	product, err := httpx.QueryUUID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	location, err := httpx.QueryUUID(r, "location_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if product == nil || location == nil {
		httpx.RespondError(w, shared.NewValidationError("product_id", "product_id and location_id are required"))
		return
	}
	drift, err := h.service.Replay(r.Context(), Pair{ProductID: *product, LocationID: *location})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"consistent": drift.Consistent(), "drift": drift})
}

type adjustmentRequest struct {
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID uuid.UUID       `json:"location_id"`
	QtyDelta   decimal.Decimal `json:"qty_delta"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.PostMovement(r.Context(), Movement{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		QtyDelta:   req.QtyDelta,
		Reason:     ReasonAdjustment,
	}, identity.Actor(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
