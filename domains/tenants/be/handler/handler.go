package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/tenants/be/service"
	"github.com/castellan-io/castellan/platform/httpx"
)

// Handler exposes the tenants service over JSON.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the tenant lifecycle endpoints. Provisioning is open
// (self-serve signup creates the tenant and its owner in one call).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tenants", func(r chi.Router) {
		r.Post("/", h.provision)
		r.Get("/{tenantID}", h.get)
	})
}

type tenantResponse struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug          string `json:"slug"`
		Name          string `json:"name"`
		OwnerEmail    string `json:"owner_email"`
		OwnerFullName string `json:"owner_full_name"`
		OwnerPassword string `json:"owner_password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	result, err := h.svc.Provision(r.Context(), service.ProvisionInput{
		Slug:          req.Slug,
		Name:          req.Name,
		OwnerEmail:    req.OwnerEmail,
		OwnerFullName: req.OwnerFullName,
		OwnerPassword: req.OwnerPassword,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"tenant":              toResponse(result.Tenant),
		"owner_membership_id": result.OwnerMembershipID,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Tenant not found", "tenant id is not a valid UUID")
		return
	}

	found, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(found))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteValidation(w, vErr.Fields)
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Tenant not found", err.Error())
	case errors.Is(err, service.ErrDuplicateSlug):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"Tenant slug already exists", err.Error())
	default:
		httpx.WriteInternal(w, h.logger, err)
	}
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{ID: t.ID, Slug: t.Slug, Name: t.Name, CreatedAt: t.CreatedAt}
}
