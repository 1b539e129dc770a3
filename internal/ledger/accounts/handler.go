package accounts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	internalshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes chart of accounts endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/children", h.children)
	r.Delete("/{id}", h.deactivate)
}

type createRequest struct {
	ParentID     *int64 `json:"parent_id"`
	Code         string `json:"code" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type" validate:"required"`
	DisplayOrder int    `json:"display_order"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	account, err := h.service.Create(r.Context(), CreateInput{
		TenantID:     identity.TenantID,
		ParentID:     req.ParentID,
		Code:         req.Code,
		Name:         req.Name,
		Type:         AccountType(req.Type),
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.Created(w, account)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	out, err := h.service.List(r.Context(), identity.TenantID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	account, err := h.service.Get(r.Context(), identity.TenantID, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) children(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	out, err := h.service.ChildrenOf(r.Context(), identity.TenantID, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	identity := internalshared.IdentityFromContext(r.Context())
	if identity.TenantID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	if err := h.service.Deactivate(r.Context(), identity.TenantID, id); err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrReferentialIntegrity):
		httpx.Problem(w, http.StatusConflict, "In use", err.Error())
	default:
		h.logger.Error("accounts request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
	}
}
