package fiscal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes fiscal calendar endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers fiscal calendar routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/years", h.listYears)
	r.Post("/years", h.createYear)
	r.Post("/years/{id}/close", h.closeYear)
	r.Get("/years/{id}/periods", h.listPeriods)
	r.Post("/periods/{id}/close", h.closePeriod)
	r.Get("/periods/for-date", h.periodForDate)
}

type periodRequest struct {
	Number    int    `json:"number" validate:"required,min=1"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type createYearRequest struct {
	Name      string          `json:"name" validate:"required"`
	StartDate string          `json:"start_date" validate:"required"`
	EndDate   string          `json:"end_date" validate:"required"`
	Periods   []periodRequest `json:"periods" validate:"required,min=1,dive"`
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (h *Handler) createYear(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	var req createYearRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	in := CreateYearInput{TenantID: identity.TenantID, Name: req.Name}
	var err error
	if in.StartDate, err = parseDate(req.StartDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid date", "start_date must be YYYY-MM-DD")
		return
	}
	if in.EndDate, err = parseDate(req.EndDate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid date", "end_date must be YYYY-MM-DD")
		return
	}
	for _, p := range req.Periods {
		pin := PeriodInput{Number: p.Number}
		if pin.StartDate, err = parseDate(p.StartDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid date", "period start_date must be YYYY-MM-DD")
			return
		}
		if pin.EndDate, err = parseDate(p.EndDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid date", "period end_date must be YYYY-MM-DD")
			return
		}
		in.Periods = append(in.Periods, pin)
	}
	year, err := h.service.CreateYear(r.Context(), in)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.Created(w, year)
}

func (h *Handler) listYears(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	out, err := h.service.ListYears(r.Context(), identity.TenantID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	yearID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "year id must be numeric")
		return
	}
	out, err := h.service.ListPeriods(r.Context(), identity.TenantID, yearID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) periodForDate(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD")
		return
	}
	period, err := h.service.PeriodFor(r.Context(), identity.TenantID, date)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "period id must be numeric")
		return
	}
	period, err := h.service.ClosePeriod(r.Context(), identity.TenantID, periodID, identity.ActorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) closeYear(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	yearID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "year id must be numeric")
		return
	}
	year, err := h.service.CloseYear(r.Context(), identity.TenantID, yearID, identity.ActorID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, shared.ErrAlreadyClosed):
		httpx.Problem(w, http.StatusConflict, "Already closed", err.Error())
	case errors.Is(err, shared.ErrPeriodsStillOpen):
		httpx.Problem(w, http.StatusConflict, "Periods still open", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("fiscal request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
	}
}
