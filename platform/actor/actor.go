package actor

import "github.com/google/uuid"

// Kind represents who initiated an operation.
type Kind string

const (
	KindUser      Kind = "user"
	KindAnonymous Kind = "anonymous"
	KindSystem    Kind = "system"
)

// Actor captures the acting identity for a mutating operation. Services take
// it as an explicit argument so the core stays testable without a simulated
// request or session; it is resolved once at the API boundary and never read
// from ambient state.
type Actor struct {
	Kind  Kind
	ID    uuid.UUID
	Email string
	Name  string
}

// User builds an Actor for an authenticated user.
func User(id uuid.UUID, name, email string) Actor {
	return Actor{Kind: KindUser, ID: id, Name: name, Email: email}
}

// Anonymous builds an Actor for unauthenticated operations, such as accepting
// an invitation by token.
func Anonymous() Actor {
	return Actor{Kind: KindAnonymous}
}

// System builds an Actor for background operations (expiry sweeps, seeding).
func System() Actor {
	return Actor{Kind: KindSystem, Name: "system"}
}

// Label returns a human-readable name for activity records.
func (a Actor) Label() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.Email != "":
		return a.Email
	case a.Kind == KindSystem:
		return "system"
	default:
		return "anonymous"
	}
}

// IsUser reports whether the actor is an authenticated user.
func (a Actor) IsUser() bool {
	return a.Kind == KindUser && a.ID != uuid.Nil
}
