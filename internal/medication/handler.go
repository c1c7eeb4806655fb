package medication

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian/internal/inventory"
	"github.com/meridian-hms/meridian/internal/observability"
	"github.com/meridian-hms/meridian/internal/platform/httpx"
	"github.com/meridian-hms/meridian/internal/shared"
)

// Handler wires HTTP endpoints for medication administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler constructs the medication handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), metrics: metrics}
}

// MountRoutes registers medication routes under /orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/administrations", h.record)
	r.Get("/{id}/administrations", h.history)
}

type recordRequest struct {
	Status Status `json:"status" validate:"required,oneof=GIVEN MISSED REFUSED HELD"`
	Note   string `json:"note" validate:"max=500"`
}

type administrationResponse struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"order_id"`
	AdmissionID    int64     `json:"admission_id"`
	Status         string    `json:"status"`
	Billable       bool      `json:"billable"`
	DoseQuantity   int       `json:"dose_quantity"`
	UnitPrice      string    `json:"unit_price"`
	Note           string    `json:"note,omitempty"`
	ChargeID       *int64    `json:"charge_id,omitempty"`
	MovementID     *int64    `json:"movement_id,omitempty"`
	AdministeredBy int64     `json:"administered_by"`
	AdministeredAt time.Time `json:"administered_at"`
}

func toAdministrationResponse(a Administration) administrationResponse {
	return administrationResponse{
		ID:             a.ID,
		OrderID:        a.OrderID,
		AdmissionID:    a.AdmissionID,
		Status:         string(a.Status),
		Billable:       a.Billable,
		DoseQuantity:   a.DoseQuantity,
		UnitPrice:      a.UnitPrice.String(),
		Note:           a.Note,
		ChargeID:       a.ChargeID,
		MovementID:     a.MovementID,
		AdministeredBy: a.AdministeredBy,
		AdministeredAt: a.AdministeredAt,
	}
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	administration, err := h.service.Record(r.Context(), RecordInput{
		OrderID: orderID,
		Status:  req.Status,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil && administration.ChargeID != nil {
		h.metrics.ChargeCreated("MEDICATION")
		h.metrics.MovementPosted("EXIT")
	}
	httpx.JSON(w, http.StatusCreated, toAdministrationResponse(administration))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	administrations, err := h.service.History(r.Context(), orderID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]administrationResponse, 0, len(administrations))
	for _, a := range administrations {
		out = append(out, toAdministrationResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, inventory.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOrderDiscontinued),
		errors.Is(err, ErrAdmissionNotActive),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, inventory.ErrItemInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("medication request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
