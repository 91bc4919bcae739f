package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/invitations/be/service"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/httpx"
)

// Handler exposes the invitations service over JSON.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("invitations service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the invitation management endpoints on the
// tenant-scoped router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/invitations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.issue)
		r.Get("/{invitationID}", h.get)
		r.Post("/{invitationID}/resend", h.resend)
		r.Post("/{invitationID}/cancel", h.cancel)
	})
}

// RegisterPublicRoutes mounts the token-addressed acceptance endpoint. It runs
// without authentication or tenant resolution: the token is the capability.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/invitations/accept", h.accept)
}

type inviteResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	RoleID      uuid.UUID  `json:"role_id"`
	Status      string     `json:"status"`
	ResentCount int        `json:"resent_count"`
	ExpiresAt   time.Time  `json:"expires_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	InvitedBy   *uuid.UUID `json:"invited_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string    `json:"email"`
		RoleID uuid.UUID `json:"role_id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	invite, err := h.svc.Issue(r.Context(), actor.FromContextOrAnonymous(r.Context()),
		service.IssueInput{Email: req.Email, RoleID: req.RoleID})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(invite))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invites, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]inviteResponse, 0, len(invites))
	for _, invite := range invites {
		items = append(items, toResponse(invite))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invitationID(w, r)
	if !ok {
		return
	}

	invite, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(invite))
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invitationID(w, r)
	if !ok {
		return
	}

	invite, err := h.svc.Resend(r.Context(), actor.FromContextOrAnonymous(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(invite))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.invitationID(w, r)
	if !ok {
		return
	}

	invite, err := h.svc.Cancel(r.Context(), actor.FromContextOrAnonymous(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(invite))
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		FullName string `json:"full_name"`
		Password string `json:"password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteValidation(w, map[string][]string{"body": {"invalid JSON payload"}})
		return
	}

	result, err := h.svc.Accept(r.Context(), service.AcceptInput{
		Token:    req.Token,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"membership_id": result.MembershipID,
		"user_created":  result.UserCreated,
		"invitation":    toResponse(result.Invite),
	})
}

func (h *Handler) invitationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Invitation not found", "invitation id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteValidation(w, vErr.Fields)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidToken):
		// Unknown id and malformed token collapse into 404 so the endpoint
		// leaks nothing about live tokens.
		httpx.WriteError(w, http.StatusNotFound, httpx.ProblemTypeNotFound,
			"Invitation not found", "no matching invitation")
	case errors.Is(err, service.ErrNotPending):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"Invitation is not pending", err.Error())
	case errors.Is(err, service.ErrExpired):
		httpx.WriteError(w, http.StatusGone, httpx.ProblemTypeGone,
			"Invitation expired", err.Error())
	case errors.Is(err, service.ErrAlreadyMember):
		httpx.WriteError(w, http.StatusConflict, httpx.ProblemTypeConflict,
			"Already a member", err.Error())
	case errors.Is(err, service.ErrRoleNotFound):
		httpx.WriteValidation(w, map[string][]string{"role_id": {err.Error()}})
	default:
		httpx.WriteInternal(w, h.logger, err)
	}
}

func toResponse(invite service.Invite) inviteResponse {
	return inviteResponse{
		ID:          invite.ID,
		Email:       invite.Email,
		RoleID:      invite.RoleID,
		Status:      invite.Status,
		ResentCount: invite.ResentCount,
		ExpiresAt:   invite.ExpiresAt,
		AcceptedAt:  invite.AcceptedAt,
		InvitedBy:   invite.InvitedBy,
		CreatedAt:   invite.CreatedAt,
	}
}
