package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/roles/be/service"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/httpx"
)

// Handler exposes the roles service over JSON.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("roles service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the role engine endpoints on the tenant-scoped router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{roleID}", h.get)
		r.Put("/{roleID}", h.update)
		r.Delete("/{roleID}", h.delete)
		r.Post("/{roleID}/copy", h.copy)
	})
}

type roleResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type permissionResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.svc.ListPermissions(r.Context(), "")
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]permissionResponse, 0, len(permissions))
	for _, p := range permissions {
		items = append(items, permissionResponse{ID: p.ID, Name: p.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		items = append(items, toResponse(role))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	role, err := h.svc.Create(r.Context(), actor.FromContextOrAnonymous(r.Context()), service.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(role))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}

	role, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	role, err := h.svc.Update(r.Context(), actor.FromContextOrAnonymous(r.Context()), id, service.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(role))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actor.FromContextOrAnonymous(r.Context()), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) copy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}

	role, err := h.svc.Copy(r.Context(), actor.FromContextOrAnonymous(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(role))
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Role not found", "role id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteValidation(w, vErr.Fields)
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Role not found", err.Error())
	case errors.Is(err, service.ErrDuplicateName):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"Role name already exists", err.Error())
	case errors.Is(err, service.ErrUnknownPermission):
		httpx.WriteValidation(w, map[string][]string{"permissions": {err.Error()}})
	case errors.Is(err, service.ErrSystemRole):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"System role", err.Error())
	case errors.Is(err, service.ErrRoleInUse):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"Role in use", err.Error())
	default:
		httpx.WriteInternal(w, h.logger, err)
	}
}

func toResponse(role service.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystem,
		Permissions: role.Permissions,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}
