package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// SweepEnqueuer schedules a background reconciliation sweep. May be nil
// when no job queue is configured.
type SweepEnqueuer interface {
	EnqueueReconcile(ctx context.Context, tenantID int64, kind string) error
}

// Handler exposes payment sub-ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sweeps   SweepEnqueuer
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// WithSweeps attaches the background sweep queue.
func (h *Handler) WithSweeps(e SweepEnqueuer) *Handler {
	h.sweeps = e
	return h
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.register)
	r.Get("/{id}", h.get)
	r.Get("/{id}/allocations", h.allocations)
	r.Get("/{id}/unallocated", h.unallocated)
	r.Post("/{id}/allocations", h.allocate)
	r.Delete("/allocations/{allocID}", h.deallocate)
	r.Get("/invoices/{kind}/{invoiceID}", h.invoice)
	r.Post("/reconcile", h.reconcile)
}

type registerRequest struct {
	Number         string `json:"number"`
	Direction      string `json:"direction" validate:"required,oneof=incoming outgoing"`
	CounterpartyID int64  `json:"counterparty_id" validate:"required"`
	CurrencyID     *int64 `json:"currency_id"`
	Amount         string `json:"amount" validate:"required"`
	Date           string `json:"date" validate:"required"`
	Memo           string `json:"memo"`
}

type allocateRequest struct {
	InvoiceKind string `json:"invoice_kind" validate:"required,oneof=sales purchase"`
	InvoiceID   int64  `json:"invoice_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "amount must be a decimal number")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD")
		return
	}
	payment, err := h.service.RegisterPayment(r.Context(), RegisterPaymentInput{
		TenantID:       identity.TenantID,
		Number:         req.Number,
		Direction:      Direction(req.Direction),
		CounterpartyID: req.CounterpartyID,
		CurrencyID:     req.CurrencyID,
		Amount:         amount,
		Date:           date,
		Memo:           req.Memo,
		CreatedBy:      identity.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.Created(w, payment)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "amount must be a decimal number")
		return
	}
	alloc, err := h.service.Allocate(r.Context(), AllocateInput{
		TenantID:    identity.TenantID,
		PaymentID:   paymentID,
		InvoiceKind: InvoiceKind(req.InvoiceKind),
		InvoiceID:   req.InvoiceID,
		Amount:      amount,
		ActorID:     identity.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.Created(w, alloc)
}

func (h *Handler) deallocate(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	allocID, err := strconv.ParseInt(chi.URLParam(r, "allocID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "allocation id must be numeric")
		return
	}
	if err := h.service.Deallocate(r.Context(), identity.TenantID, allocID, identity.ActorID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	payment, err := h.service.GetPayment(r.Context(), identity.TenantID, paymentID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	out, err := h.service.ListPayments(r.Context(), identity.TenantID, limit, offset)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) allocations(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	out, err := h.service.ListAllocations(r.Context(), identity.TenantID, paymentID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) unallocated(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "payment id must be numeric")
		return
	}
	free, err := h.service.UnallocatedAmount(r.Context(), identity.TenantID, paymentID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"unallocated": free.StringFixed(4)})
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	kind := InvoiceKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid kind", "invoice kind must be sales or purchase")
		return
	}
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "invoice id must be numeric")
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), identity.TenantID, kind, invoiceID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

type reconcileRequest struct {
	Kind string `json:"kind" validate:"required,oneof=sales purchase"`
}

// reconcile enqueues a background sweep re-deriving invoice balances.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	if h.sweeps == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "job queue not configured")
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.sweeps.EnqueueReconcile(r.Context(), identity.TenantID, req.Kind); err != nil {
		h.logger.Error("enqueue reconcile sweep", "error", err)
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "could not enqueue sweep")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued", "kind": req.Kind})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrOverAllocated), errors.Is(err, ErrPaymentExhausted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over-allocation", err.Error())
	default:
		h.logger.Error("payments request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
	}
}
