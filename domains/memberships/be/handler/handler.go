package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/memberships/be/service"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/httpx"
)

// Handler exposes the memberships service over JSON.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("memberships service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the member management endpoints on the tenant-scoped
// router. RegisterSelfRoutes mounts the endpoints any authenticated member may
// call about themselves.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/members", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{membershipID}", h.get)
		r.Put("/{membershipID}/role", h.assignRole)
		r.Put("/{membershipID}/disabled", h.setDisabled)
		r.Delete("/{membershipID}", h.remove)
	})
}

// RegisterSelfRoutes mounts self-service endpoints: effective role lookup and
// notification preferences.
func (h *Handler) RegisterSelfRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Get("/me/notification-settings", h.listSettings)
	r.Put("/me/notification-settings/{eventType}", h.updateSetting)
}

type memberResponse struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	RoleID     uuid.UUID `json:"role_id"`
	RoleName   string    `json:"role_name"`
	IsSystem   bool      `json:"is_system_role"`
	IsDisabled bool      `json:"is_disabled"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	JoinedAt   time.Time `json:"joined_at"`
}

type settingResponse struct {
	EventType    string `json:"event_type"`
	EmailEnabled bool   `json:"email_enabled"`
	PushEnabled  bool   `json:"push_enabled"`
	InAppEnabled bool   `json:"in_app_enabled"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]memberResponse, 0, len(members))
	for _, member := range members {
		items = append(items, toResponse(member))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	member, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(member))
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req struct {
		RoleID uuid.UUID `json:"role_id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	member, err := h.svc.AssignRole(r.Context(), actor.FromContextOrAnonymous(r.Context()), id, req.RoleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(member))
}

func (h *Handler) setDisabled(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	member, err := h.svc.SetDisabled(r.Context(), actor.FromContextOrAnonymous(r.Context()), id, req.Disabled)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(member))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.membershipID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Remove(r.Context(), actor.FromContextOrAnonymous(r.Context()), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContextOrAnonymous(r.Context())
	if !act.IsUser() {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ProblemTypeUnauthorized,
			"Unauthorized", "valid credentials are required")
		return
	}

	member, err := h.svc.EffectiveRole(r.Context(), act.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(member))
}

func (h *Handler) listSettings(w http.ResponseWriter, r *http.Request) {
	member, ok := h.selfMembership(w, r)
	if !ok {
		return
	}

	settings, err := h.svc.ListNotificationSettings(r.Context(), member.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]settingResponse, 0, len(settings))
	for _, setting := range settings {
		items = append(items, settingResponse{
			EventType:    setting.EventType,
			EmailEnabled: setting.EmailEnabled,
			PushEnabled:  setting.PushEnabled,
			InAppEnabled: setting.InAppEnabled,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) updateSetting(w http.ResponseWriter, r *http.Request) {
	member, ok := h.selfMembership(w, r)
	if !ok {
		return
	}

	var req struct {
		EmailEnabled bool `json:"email_enabled"`
		PushEnabled  bool `json:"push_enabled"`
		InAppEnabled bool `json:"in_app_enabled"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	setting, err := h.svc.UpdateNotificationSetting(r.Context(), member.ID,
		chi.URLParam(r, "eventType"), service.NotificationInput{
			EmailEnabled: req.EmailEnabled,
			PushEnabled:  req.PushEnabled,
			InAppEnabled: req.InAppEnabled,
		})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settingResponse{
		EventType:    setting.EventType,
		EmailEnabled: setting.EmailEnabled,
		PushEnabled:  setting.PushEnabled,
		InAppEnabled: setting.InAppEnabled,
	})
}

func (h *Handler) selfMembership(w http.ResponseWriter, r *http.Request) (service.Member, bool) {
	act := actor.FromContextOrAnonymous(r.Context())
	if !act.IsUser() {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ProblemTypeUnauthorized,
			"Unauthorized", "valid credentials are required")
		return service.Member{}, false
	}

	member, err := h.svc.EffectiveRole(r.Context(), act.ID)
	if err != nil {
		h.writeError(w, err)
		return service.Member{}, false
	}
	return member, true
}

func (h *Handler) membershipID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Membership not found", "membership id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Membership not found", err.Error())
	case errors.Is(err, service.ErrRoleNotFound), errors.Is(err, service.ErrCrossTenant):
		httpx.WriteValidation(w, map[string][]string{"role_id": {err.Error()}})
	case errors.Is(err, service.ErrOwnerProtected):
		httpx.WriteError(w, http.StatusForbidden, httpx.ProblemTypeForbidden,
			"Forbidden", err.Error())
	case errors.Is(err, service.ErrSettingNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Notification setting not found", err.Error())
	default:
		httpx.WriteInternal(w, h.logger, err)
	}
}

func toResponse(member service.Member) memberResponse {
	return memberResponse{
		ID:         member.ID,
		UserID:     member.UserID,
		RoleID:     member.RoleID,
		RoleName:   member.RoleName,
		IsSystem:   member.IsSystem,
		IsDisabled: member.IsDisabled,
		Email:      member.Email,
		FullName:   member.FullName,
		JoinedAt:   member.JoinedAt,
	}
}
