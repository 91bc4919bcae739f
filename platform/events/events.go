package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/actor"
)

// Type names a domain event. The set doubles as the notification-settings
// event catalog: every membership gets one preference row per Type.
type Type string

const (
	RoleCreated Type = "role.created"
	RoleUpdated Type = "role.updated"
	RoleDeleted Type = "role.deleted"

	InviteSent      Type = "invite.sent"
	InviteResent    Type = "invite.resent"
	InviteCancelled Type = "invite.cancelled"
	InviteAccepted  Type = "invite.accepted"

	MemberRoleUpdated Type = "member.role_updated"
	MemberEnabled     Type = "member.enabled"
	MemberDisabled    Type = "member.disabled"
	MemberRemoved     Type = "member.removed"
)

// All lists every known event type in a stable order. Used when provisioning
// default notification settings.
func All() []Type {
	return []Type{
		RoleCreated, RoleUpdated, RoleDeleted,
		InviteSent, InviteResent, InviteCancelled, InviteAccepted,
		MemberRoleUpdated, MemberEnabled, MemberDisabled, MemberRemoved,
	}
}

// Event is one committed domain transition. The acting identity is captured
// eagerly at construction so later processing never depends on session state.
type Event struct {
	Type       Type
	TenantID   uuid.UUID
	Actor      actor.Actor
	OccurredAt time.Time

	// Subject describes the mutated entity for activity details.
	Subject string
	// Detail carries transition-specific context (old role name, email, ...).
	Detail map[string]string
}

// New builds an Event stamped with the current time.
func New(t Type, tenantID uuid.UUID, act actor.Actor, subject string, detail map[string]string) Event {
	return Event{
		Type:       t,
		TenantID:   tenantID,
		Actor:      act,
		OccurredAt: time.Now().UTC(),
		Subject:    subject,
		Detail:     detail,
	}
}

// Handler consumes committed domain events. Handlers must not fail the
// triggering operation; they deal with their own errors.
type Handler interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev Event)

// Handle calls f(ev).
func (f HandlerFunc) Handle(ev Event) { f(ev) }

// Bus fans committed events out to subscribers.
type Bus interface {
	Publish(ev Event)
	Subscribe(h Handler)
}

// SyncBus dispatches events to subscribers synchronously, in subscription
// order, within the publishing request. Subscription happens during wiring;
// it is not safe to subscribe while publishes are in flight.
type SyncBus struct {
	handlers []Handler
}

// NewSyncBus constructs an empty SyncBus.
func NewSyncBus() *SyncBus {
	return &SyncBus{}
}

// Subscribe registers a handler for all subsequent publishes.
func (b *SyncBus) Subscribe(h Handler) {
	if h == nil {
		panic("events: nil handler")
	}
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber.
func (b *SyncBus) Publish(ev Event) {
	for _, h := range b.handlers {
		h.Handle(ev)
	}
}

var _ Bus = (*SyncBus)(nil)
