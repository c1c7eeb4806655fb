package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-hms/meridian/internal/observability"
	"github.com/meridian-hms/meridian/internal/platform/httpx"
	"github.com/meridian-hms/meridian/internal/shared"
)

// Handler wires HTTP endpoints for the charge ledger, balances and invoices.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), metrics: metrics}
}

// MountRoutes registers billing routes under /admissions.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/charges", h.createCharge)
	r.Get("/{id}/charges", h.listCharges)
	r.Post("/{id}/adjustments", h.createAdjustment)
	r.Get("/{id}/balance", h.balance)
	r.Post("/{id}/invoice", h.generateInvoice)
	r.Get("/{id}/invoice", h.getInvoice)
}

type createChargeRequest struct {
	Type            string `json:"type" validate:"required,oneof=MEDICATION PROCEDURE LAB SERVICE"`
	Description     string `json:"description" validate:"required,max=500"`
	Quantity        int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice       string `json:"unit_price" validate:"required"`
	ChargeDate      string `json:"charge_date"`
	InventoryItemID *int64 `json:"inventory_item_id"`
}

type createAdjustmentRequest struct {
	Description string `json:"description" validate:"required,max=500"`
	Amount      string `json:"amount" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

type chargeResponse struct {
	ID              int64     `json:"id"`
	AdmissionID     int64     `json:"admission_id"`
	Type            string    `json:"type"`
	Description     string    `json:"description"`
	Quantity        int       `json:"quantity"`
	UnitPrice       string    `json:"unit_price"`
	TotalAmount     string    `json:"total_amount"`
	ChargeDate      string    `json:"charge_date"`
	InventoryItemID *int64    `json:"inventory_item_id,omitempty"`
	InvoiceID       *int64    `json:"invoice_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

func toChargeResponse(c Charge) chargeResponse {
	return chargeResponse{
		ID:              c.ID,
		AdmissionID:     c.AdmissionID,
		Type:            string(c.Type),
		Description:     c.Description,
		Quantity:        c.Quantity,
		UnitPrice:       c.UnitPrice.String(),
		TotalAmount:     c.TotalAmount.String(),
		ChargeDate:      c.ChargeDate.Format("2006-01-02"),
		InventoryItemID: c.InventoryItemID,
		InvoiceID:       c.InvoiceID,
		Reason:          c.Reason,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
	}
}

type invoiceResponse struct {
	ID          int64             `json:"id"`
	Number      string            `json:"invoice_number"`
	AdmissionID int64             `json:"admission_id"`
	TotalAmount string            `json:"total_amount"`
	ChargeCount int               `json:"charge_count"`
	Subtotals   []subtotalPayload `json:"subtotals"`
	Charges     []chargeResponse  `json:"charges,omitempty"`
	GeneratedBy int64             `json:"generated_by"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type subtotalPayload struct {
	Type   string `json:"type"`
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

func toInvoiceResponse(inv Invoice, charges []Charge) invoiceResponse {
	resp := invoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		AdmissionID: inv.AdmissionID,
		TotalAmount: inv.TotalAmount.String(),
		ChargeCount: inv.ChargeCount,
		Subtotals:   make([]subtotalPayload, 0, len(inv.Subtotals)),
		GeneratedBy: inv.GeneratedBy,
		GeneratedAt: inv.GeneratedAt,
	}
	for _, s := range inv.Subtotals {
		resp.Subtotals = append(resp.Subtotals, subtotalPayload{
			Type:   string(s.Type),
			Count:  s.Count,
			Amount: s.Amount.String(),
		})
	}
	for _, c := range charges {
		resp.Charges = append(resp.Charges, toChargeResponse(c))
	}
	return resp
}

func admissionID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) createCharge(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	var req createChargeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_price")
		return
	}
	var chargeDate time.Time
	if req.ChargeDate != "" {
		chargeDate, err = time.Parse("2006-01-02", req.ChargeDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge_date must be YYYY-MM-DD")
			return
		}
	}

	charge, err := h.service.CreateCharge(r.Context(), CreateChargeInput{
		AdmissionID:     id,
		Type:            ChargeType(req.Type),
		Description:     req.Description,
		Quantity:        req.Quantity,
		UnitPrice:       unitPrice,
		ChargeDate:      chargeDate,
		InventoryItemID: req.InventoryItemID,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ChargeCreated(string(charge.Type))
	}
	httpx.JSON(w, http.StatusCreated, toChargeResponse(charge))
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	var req createAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}

	charge, err := h.service.CreateAdjustment(r.Context(), AdjustmentInput{
		AdmissionID: id,
		Description: req.Description,
		Amount:      amount,
		Reason:      req.Reason,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ChargeCreated(string(charge.Type))
	}
	httpx.JSON(w, http.StatusCreated, toChargeResponse(charge))
}

func (h *Handler) listCharges(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	filter := FilterAll
	switch r.URL.Query().Get("billed") {
	case "true":
		filter = FilterBilled
	case "false":
		filter = FilterUnbilled
	}
	charges, err := h.service.Charges(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]chargeResponse, 0, len(charges))
	for _, c := range charges {
		out = append(out, toChargeResponse(c))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	balance, err := h.service.Balance(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	invoice, err := h.service.GenerateInvoice(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.InvoiceGenerated()
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(invoice, nil))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := admissionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid admission id")
		return
	}
	invoice, charges, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(invoice, charges))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAdmissionNotFound), errors.Is(err, ErrInvoiceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvoiceAlreadyExists):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrChargeAlreadyInvoiced):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrAdmissionNotDischarged),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidChargeType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("billing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
