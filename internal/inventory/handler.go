package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian/internal/observability"
	"github.com/meridian-hms/meridian/internal/platform/httpx"
	"github.com/meridian-hms/meridian/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler constructs the inventory handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), metrics: metrics}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items/{id}/movements", h.createMovement)
	r.Get("/items/{id}/movements", h.listMovements)
	r.Get("/items/low-stock", h.lowStock)
}

type createMovementRequest struct {
	Type     MovementType `json:"type" validate:"required,oneof=ENTRY EXIT"`
	Quantity int          `json:"quantity" validate:"required,gt=0"`
	Note     string       `json:"note" validate:"max=500"`
}

type movementResponse struct {
	ID               int64     `json:"id"`
	ItemID           int64     `json:"item_id"`
	Type             string    `json:"type"`
	Quantity         int       `json:"quantity"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Note             string    `json:"note,omitempty"`
	CreatedBy        int64     `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:               m.ID,
		ItemID:           m.ItemID,
		Type:             string(m.Type),
		Quantity:         m.Quantity,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		Note:             m.Note,
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt,
	}
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var req createMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	delta := req.Quantity
	if req.Type == MovementTypeExit {
		delta = -req.Quantity
	}
	movement, err := h.service.AdjustStock(r.Context(), AdjustmentInput{
		ItemID:  itemID,
		Delta:   delta,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.MovementPosted(string(movement.Type))
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	movements, pagination, err := h.service.Movements(r.Context(), itemID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, movementListResponse{
		Movements: out,
		Page:      pagination.Page,
		PerPage:   pagination.PerPage,
		Total:     pagination.Total,
	})
}

type movementListResponse struct {
	Movements []movementResponse `json:"movements"`
	Page      int                `json:"page"`
	PerPage   int                `json:"per_page"`
	Total     int                `json:"total"`
}

type lowStockItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	Quantity     int    `json:"quantity"`
	RestockLevel int    `json:"restock_level"`
	Deficit      int    `json:"deficit"`
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid category id")
			return
		}
		categoryID = &id
	}
	items, err := h.service.LowStock(r.Context(), categoryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]lowStockItem, 0, len(items))
	for _, it := range items {
		out = append(out, lowStockItem{
			ID:           it.ID,
			Name:         it.Name,
			CategoryID:   it.CategoryID,
			Quantity:     it.Quantity,
			RestockLevel: it.RestockLevel,
			Deficit:      it.RestockLevel - it.Quantity,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrItemInactive), errors.Is(err, ErrInvalidDelta):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
