package journals

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes journal entry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.createDraft)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.updateDraft)
	r.Post("/{id}/post", h.post)
	r.Get("/{id}/balance", h.balance)
}

type lineRequest struct {
	AccountID   int64  `json:"account_id" validate:"required"`
	CurrencyID  *int64 `json:"currency_id"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Description string `json:"description"`
}

type referenceRequest struct {
	Kind string `json:"kind" validate:"required"`
	ID   string `json:"id" validate:"required,uuid"`
}

type createDraftRequest struct {
	Number      string            `json:"number"`
	PeriodID    *int64            `json:"period_id"`
	Date        string            `json:"date" validate:"required"`
	Reference   *referenceRequest `json:"reference"`
	Description string            `json:"description"`
	Lines       []lineRequest     `json:"lines" validate:"required,min=2,dive"`
}

type updateDraftRequest struct {
	Date        *string       `json:"date"`
	Description *string       `json:"description"`
	Lines       []lineRequest `json:"lines"`
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func toLineInputs(reqs []lineRequest) ([]LineInput, error) {
	out := make([]LineInput, 0, len(reqs))
	for _, lr := range reqs {
		debit, err := parseAmount(lr.Debit)
		if err != nil {
			return nil, errors.New("debit must be a decimal number")
		}
		credit, err := parseAmount(lr.Credit)
		if err != nil {
			return nil, errors.New("credit must be a decimal number")
		}
		out = append(out, LineInput{
			AccountID:   lr.AccountID,
			CurrencyID:  lr.CurrencyID,
			Debit:       debit,
			Credit:      credit,
			Description: lr.Description,
		})
	}
	return out, nil
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	var req createDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD")
		return
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	in := DraftInput{
		TenantID:    identity.TenantID,
		Number:      req.Number,
		PeriodID:    req.PeriodID,
		Date:        date,
		Description: req.Description,
		CreatedBy:   identity.ActorID,
		Lines:       lines,
	}
	if req.Reference != nil {
		refID, err := uuid.Parse(req.Reference.ID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "reference id must be a UUID")
			return
		}
		in.Ref = &Reference{Kind: req.Reference.Kind, ID: refID}
	}
	entry, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.Created(w, entry)
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var req updateDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	in := UpdateDraftInput{TenantID: identity.TenantID, EntryID: entryID, Description: req.Description}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD")
			return
		}
		in.Date = &date
	}
	if req.Lines != nil {
		lines, err := toLineInputs(req.Lines)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
			return
		}
		in.Lines = lines
	}
	entry, err := h.service.UpdateDraft(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	entry, err := h.service.Post(r.Context(), identity.TenantID, entryID, identity.ActorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	entry, err := h.service.Get(r.Context(), identity.TenantID, entryID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	out, err := h.service.List(r.Context(), identity.TenantID, limit, offset)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	entry, err := h.service.Get(r.Context(), identity.TenantID, entryID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	debits, credits := Totals(entry.Lines)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total_debits":  debits.StringFixed(4),
		"total_credits": credits.StringFixed(4),
		"balanced":      Balanced(entry.Lines),
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrEntryLocked),
		errors.Is(err, shared.ErrPeriodClosed), errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrUnbalanced), errors.Is(err, shared.ErrTooFewLines),
		errors.Is(err, shared.ErrDateOutOfRange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error("journals request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
	}
}
