package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/activity/be/service"
	"github.com/castellan-io/castellan/platform/httpx"
)

// Handler exposes the activity feed over JSON.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("activity service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the activity feed on the tenant-scoped router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/activity", h.list)
}

type entryResponse struct {
	ID          uuid.UUID         `json:"id"`
	Feature     string            `json:"feature"`
	Action      string            `json:"action"`
	Details     map[string]string `json:"details"`
	PerformedBy *uuid.UUID        `json:"performed_by,omitempty"`
	PerformedAt time.Time         `json:"performed_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	result, err := h.svc.List(r.Context(), service.ListInput{
		Feature:  query.Get("feature"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		httpx.WriteInternal(w, h.logger, err)
		return
	}

	items := make([]entryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		items = append(items, entryResponse{
			ID:          entry.ID,
			Feature:     entry.Feature,
			Action:      entry.Action,
			Details:     entry.Details,
			PerformedBy: entry.PerformedBy,
			PerformedAt: entry.PerformedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_items": result.TotalItems,
	})
}
