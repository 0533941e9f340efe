package documents

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockops/internal/identity"
	"github.com/odyssey-erp/stockops/internal/platform/httpx"
	"github.com/odyssey-erp/stockops/internal/shared"
)

// IdempotencyHeader carries the client-chosen creation key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes document endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountDocuments registers routes under /documents.
func (h *Handler) MountDocuments(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Get("/{id}/availability", h.availability)
	r.Group(func(r chi.Router) {
		r.Use(identity.Require)
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/validate", h.validate)
		r.Post("/{id}/cancel", h.cancel)
	})
}

// MountLines registers routes under /document-lines.
func (h *Handler) MountLines(r chi.Router) {
	r.Get("/", h.lines)
	r.With(identity.Require).Patch("/{id}", h.updateLine)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter Filter
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		t := DocType(strings.ToUpper(v))
		filter.DocType = &t
	}
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		s := Status(strings.ToUpper(v))
		filter.Status = &s
	}
	var err error
	if filter.Limit, err = httpx.QueryInt(r, "limit", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) {
			err = fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
		}
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), payload, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/documents/"+doc.ID.String())
	httpx.JSON(w, http.StatusCreated, doc)
}

type updateRequest struct {
	Status        *Status `json:"status,omitempty"`
	Supplier      *string `json:"supplier,omitempty"`
	Customer      *string `json:"customer,omitempty"`
	ScheduledDate *string `json:"scheduled_date,omitempty"`
	Responsible   *string `json:"responsible,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

func (req updateRequest) patch() (HeaderPatch, error) {
	p := HeaderPatch{Supplier: req.Supplier, Customer: req.Customer, Responsible: req.Responsible, Notes: req.Notes}
	if req.ScheduledDate != nil {
		ts, err := time.Parse(DateLayout, *req.ScheduledDate)
		if err != nil {
			return p, shared.NewValidationError("scheduled_date", "must be a date formatted "+DateLayout)
		}
		p.ScheduledDate = &ts
	}
	return p, nil
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if patch.Empty() && req.Status == nil {
		httpx.RespondError(w, shared.NewValidationError("body", "no editable field supplied"))
		return
	}
	// Status changes and header edits commit separately; a body carries one or the other.
	if req.Status != nil && !patch.Empty() {
		httpx.RespondError(w, shared.NewValidationError("status", "cannot be combined with header fields"))
		return
	}
	var doc Document
	if req.Status != nil {
		doc, err = h.service.UpdateStatus(r.Context(), id, Status(strings.ToUpper(string(*req.Status))))
	} else {
		doc, err = h.service.UpdateHeader(r.Context(), id, patch)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type validateRequest struct {
	DocType DocType `json:"doc_type"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.ContentLength > 0 {
		var req validateRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if req.DocType != "" {
			doc, err := h.service.Get(r.Context(), id)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			if DocType(strings.ToUpper(string(req.DocType))) != doc.DocType {
				httpx.RespondError(w, shared.NewValidationError("doc_type", fmt.Sprintf("document is %s", doc.DocType)))
				return
			}
		}
	}
	res, err := h.service.Validate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.CheckAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	documentID, err := httpx.QueryUUID(r, "document_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if documentID == nil {
		httpx.RespondError(w, shared.NewValidationError("document_id", "required"))
		return
	}
	lines, err := h.service.Lines(r.Context(), *documentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch LinePatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.UpdateLine(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		level := slog.LevelWarn
		if errors.Is(err, shared.ErrConcurrencyConflict) || errors.Is(err, shared.ErrAllocation) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "documents request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
