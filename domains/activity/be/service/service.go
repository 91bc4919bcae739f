package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/domains/activity/be/repo"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/notify"
	"github.com/castellan-io/castellan/platform/persistence"
)

// Feature values grouping activity entries for filtering.
const (
	FeatureRole   = "role"
	FeatureInvite = "invite"
	FeatureUser   = "user"
)

// recordTimeout bounds the background write triggered by an event. Recording
// must never stall or fail the domain operation that published the event.
const recordTimeout = 5 * time.Second

// Entry is the domain view of one audit record.
type Entry struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Feature     string
	Action      string
	Details     map[string]string
	PerformedBy *uuid.UUID
	PerformedAt time.Time
}

// ListInput carries filters and pagination for List.
type ListInput struct {
	Feature  string
	Page     int
	PageSize int
}

// ListResult includes entries plus the total for pagination metadata.
type ListResult struct {
	Entries    []Entry
	TotalItems int
}

// Service subscribes to the event bus, turning every committed domain event
// into an append-only audit row and notification fan-out, and serves the
// tenant's activity feed.
type Service interface {
	events.Handler
	List(ctx context.Context, input ListInput) (ListResult, error)
}

type service struct {
	repo       repo.Repository
	dispatcher notify.Dispatcher
	logger     *zap.Logger
}

// New constructs an activity Service instance backed by the provided repository.
func New(r repo.Repository, dispatcher notify.Dispatcher, logger *zap.Logger) Service {
	if r == nil {
		panic("activity repository is required")
	}
	if dispatcher == nil {
		panic("notification dispatcher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &service{repo: r, dispatcher: dispatcher, logger: logger}
}

// Handle records the event as activity and fans out notification requests.
// Best effort: failures are logged, never propagated to the publisher.
func (s *service) Handle(ev events.Event) {
	if ev.TenantID == uuid.Nil {
		s.logger.Warn("dropping event without tenant scope",
			zap.String("event_type", string(ev.Type)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	details := make(map[string]string, len(ev.Detail)+1)
	for k, v := range ev.Detail {
		details[k] = v
	}
	// The actor is captured eagerly: the log stays accurate even if the user
	// is later renamed or removed.
	details["actor"] = ev.Actor.Label()

	encoded, err := json.Marshal(details)
	if err != nil {
		s.logger.Error("encode activity details", zap.Error(err))
		return
	}

	var performedBy *uuid.UUID
	if ev.Actor.IsUser() {
		id := ev.Actor.ID
		performedBy = &id
	}

	if _, err := s.repo.Append(ctx, persistence.AppendActivityParams{
		TenantID:    ev.TenantID,
		Feature:     featureOf(ev.Type),
		Action:      string(ev.Type),
		Details:     string(encoded),
		PerformedBy: performedBy,
		PerformedAt: ev.OccurredAt,
	}); err != nil {
		s.logger.Error("append activity",
			zap.String("event_type", string(ev.Type)),
			zap.String("tenant_id", ev.TenantID.String()),
			zap.Error(err))
		return
	}

	s.fanOut(ctx, ev)
}

func (s *service) fanOut(ctx context.Context, ev events.Event) {
	recipients, err := s.repo.ListMembershipIDs(ctx, ev.TenantID)
	if err != nil {
		s.logger.Error("resolve notification recipients",
			zap.String("tenant_id", ev.TenantID.String()),
			zap.Error(err))
		return
	}

	for _, membershipID := range recipients {
		s.dispatcher.Enqueue(ctx, notify.Request{
			MembershipID: membershipID,
			EventType:    ev.Type,
			Payload:      ev.Detail,
		})
	}
}

func (s *service) List(ctx context.Context, input ListInput) (ListResult, error) {
	params := persistence.ListActivityParams{
		Page:     input.Page,
		PageSize: input.PageSize,
	}
	if input.Feature != "" {
		feature := input.Feature
		params.Feature = &feature
	}

	result, err := s.repo.List(ctx, params)
	if err != nil {
		return ListResult{}, err
	}

	entries := make([]Entry, 0, len(result.Entries))
	for _, record := range result.Entries {
		entries = append(entries, mapEntry(record))
	}
	return ListResult{Entries: entries, TotalItems: result.TotalItems}, nil
}

// featureOf groups event types by their subject for feed filtering. Member
// events land under the user feature because the feed presents them as user
// management actions.
func featureOf(t events.Type) string {
	switch {
	case strings.HasPrefix(string(t), "role."):
		return FeatureRole
	case strings.HasPrefix(string(t), "invite."):
		return FeatureInvite
	default:
		return FeatureUser
	}
}

func mapEntry(record persistence.ActivityEntry) Entry {
	details := map[string]string{}
	if record.Details != "" {
		if err := json.Unmarshal([]byte(record.Details), &details); err != nil {
			details = map[string]string{"raw": record.Details}
		}
	}
	return Entry{
		ID:          record.ActivityID,
		TenantID:    record.TenantID,
		Feature:     record.Feature,
		Action:      record.Action,
		Details:     details,
		PerformedBy: record.PerformedBy,
		PerformedAt: record.PerformedAt,
	}
}
