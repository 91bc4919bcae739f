package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/domains/invitations/be/repo"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/password"
	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/token"
)

// ExpiryWindow is how long an invitation stays acceptable. Every issue and
// resend restarts the window.
const ExpiryWindow = 7 * 24 * time.Hour

// tokenAttempts bounds regeneration when a freshly minted token collides.
const tokenAttempts = 3

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrNotFound      = errors.New("invitation not found")
	ErrNotPending    = errors.New("invitation is not pending")
	ErrExpired       = errors.New("invitation expired")
	ErrAlreadyMember = errors.New("email already belongs to a member")
	ErrRoleNotFound  = errors.New("role not found")
	ErrInvalidToken  = errors.New("invalid invitation token")
)

// Invite is the domain view of an invitation.
type Invite struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Email       string
	RoleID      uuid.UUID
	Token       string
	Status      string
	ResentCount int
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
	InvitedBy   *uuid.UUID
	CreatedAt   time.Time
}

// IsExpired reports whether the invitation's window has passed, regardless of
// whether the lazy status flip has happened yet.
func (i Invite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IssueInput carries the payload for issuing an invitation.
type IssueInput struct {
	Email  string
	RoleID uuid.UUID
}

// AcceptInput carries the payload for accepting an invitation by token.
// Profile fields apply only when the email has no user record yet.
type AcceptInput struct {
	Token    string
	FullName string
	Password string
}

// AcceptResult reports the outcome of a successful acceptance.
type AcceptResult struct {
	Invite       Invite
	MembershipID uuid.UUID
	UserCreated  bool
}

// Service drives the invitation lifecycle: pending is the only state that
// accepts transitions, and acceptance atomically creates the membership.
type Service interface {
	Issue(ctx context.Context, act actor.Actor, input IssueInput) (Invite, error)
	Resend(ctx context.Context, act actor.Actor, invitationID uuid.UUID) (Invite, error)
	Cancel(ctx context.Context, act actor.Actor, invitationID uuid.UUID) (Invite, error)
	Accept(ctx context.Context, input AcceptInput) (AcceptResult, error)
	Get(ctx context.Context, invitationID uuid.UUID) (Invite, error)
	List(ctx context.Context, status string) ([]Invite, error)
	SweepExpired(ctx context.Context) ([]Invite, error)
}

type service struct {
	repo repo.Repository
	bus  events.Bus
	now  func() time.Time
}

// New constructs an invitations Service instance backed by the provided repository.
func New(r repo.Repository, bus events.Bus) Service {
	if r == nil {
		panic("invitations repository is required")
	}
	if bus == nil {
		panic("event bus is required")
	}
	return &service{repo: r, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

func (s *service) Issue(ctx context.Context, act actor.Actor, input IssueInput) (Invite, error) {
	email, err := validateEmail(input.Email)
	if err != nil {
		return Invite{}, err
	}
	if input.RoleID == uuid.Nil {
		return Invite{}, newValidationError(map[string]string{"role_id": "role_id is required"})
	}

	// Only an active membership blocks the invite; a disabled one does not
	// hold the seat.
	if member, err := s.repo.FindMemberByEmail(ctx, email); err == nil {
		if !member.IsDisabled {
			return Invite{}, ErrAlreadyMember
		}
	} else if !errors.Is(err, persistence.ErrMembershipNotFound) {
		return Invite{}, err
	}

	if _, err := s.repo.GetRole(ctx, input.RoleID); err != nil {
		return Invite{}, mapPersistenceError(err)
	}

	// An open invitation for the same address is reused, not duplicated.
	if pending, err := s.repo.FindPendingByEmail(ctx, email); err == nil {
		return s.refresh(ctx, act, pending, events.InviteResent)
	} else if !errors.Is(err, persistence.ErrInvitationNotFound) {
		return Invite{}, err
	}

	var invitedBy *uuid.UUID
	if act.IsUser() {
		id := act.ID
		invitedBy = &id
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		bearer, err := token.New()
		if err != nil {
			return Invite{}, err
		}

		record, err := s.repo.Create(ctx, persistence.CreateInvitationParams{
			InvitationID: uuid.New(),
			Email:        email,
			RoleID:       input.RoleID,
			Token:        bearer,
			ExpiresAt:    s.now().Add(ExpiryWindow),
			InvitedBy:    invitedBy,
		})
		if errors.Is(err, persistence.ErrInvitationTokenTaken) {
			continue
		}
		if errors.Is(err, persistence.ErrInvitationConflict) {
			// Lost a race against a concurrent issue; fall back to reuse.
			pending, findErr := s.repo.FindPendingByEmail(ctx, email)
			if findErr != nil {
				return Invite{}, findErr
			}
			return s.refresh(ctx, act, pending, events.InviteResent)
		}
		if err != nil {
			return Invite{}, err
		}

		invite := mapInvite(record)
		s.bus.Publish(events.New(events.InviteSent, invite.TenantID, act, invite.Email, map[string]string{
			"email": invite.Email,
		}))
		return invite, nil
	}

	return Invite{}, errors.New("could not allocate a unique invitation token")
}

func (s *service) Resend(ctx context.Context, act actor.Actor, invitationID uuid.UUID) (Invite, error) {
	if invitationID == uuid.Nil {
		return Invite{}, ErrNotFound
	}

	current, err := s.repo.Get(ctx, invitationID)
	if err != nil {
		return Invite{}, mapPersistenceError(err)
	}
	if current.Status != persistence.InviteStatusPending {
		return Invite{}, ErrNotPending
	}
	if s.now().After(current.ExpiresAt) {
		// Lazy flip: the sweep has not caught this row yet.
		if _, err := s.repo.Transition(ctx, invitationID, persistence.InviteStatusExpired); err != nil {
			return Invite{}, mapPersistenceError(err)
		}
		return Invite{}, ErrExpired
	}

	return s.refresh(ctx, act, current, events.InviteResent)
}

func (s *service) Cancel(ctx context.Context, act actor.Actor, invitationID uuid.UUID) (Invite, error) {
	if invitationID == uuid.Nil {
		return Invite{}, ErrNotFound
	}

	record, err := s.repo.Transition(ctx, invitationID, persistence.InviteStatusCancelled)
	if err != nil {
		return Invite{}, mapPersistenceError(err)
	}

	invite := mapInvite(record)
	s.bus.Publish(events.New(events.InviteCancelled, invite.TenantID, act, invite.Email, map[string]string{
		"email": invite.Email,
	}))
	return invite, nil
}

func (s *service) Accept(ctx context.Context, input AcceptInput) (AcceptResult, error) {
	if !token.Valid(input.Token) {
		return AcceptResult{}, ErrInvalidToken
	}

	// Profile fields only matter when the acceptance creates a user record;
	// an existing user joining another tenant may leave them empty. Format
	// checks still apply whenever a password is supplied.
	fullName := strings.TrimSpace(input.FullName)
	if input.Password != "" && len(input.Password) < 8 {
		return AcceptResult{}, newValidationError(map[string]string{
			"password": "password must be at least 8 characters",
		})
	}

	var hash string
	if input.Password != "" {
		var err error
		hash, err = password.Hash(input.Password)
		if err != nil {
			return AcceptResult{}, err
		}
	}

	result, err := s.repo.Accept(ctx, persistence.AcceptInvitationParams{
		Token:        input.Token,
		Now:          s.now(),
		FullName:     fullName,
		PasswordHash: hash,
		MembershipID: uuid.New(),
	})
	if errors.Is(err, persistence.ErrUserProfileIncomplete) {
		fields := map[string]string{}
		if fullName == "" {
			fields["full_name"] = "full_name is required for a new account"
		}
		if input.Password == "" {
			fields["password"] = "password is required for a new account"
		}
		return AcceptResult{}, newValidationError(fields)
	}
	if err != nil {
		return AcceptResult{}, mapPersistenceError(err)
	}

	// Preference rows for the new membership; customized rows would survive,
	// but a fresh membership has none.
	types := events.All()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	if err := s.repo.EnsureNotificationDefaults(ctx, result.Membership.MembershipID, names); err != nil {
		return AcceptResult{}, err
	}

	invite := mapInvite(result.Invitation)
	s.bus.Publish(events.New(events.InviteAccepted, invite.TenantID, actor.Anonymous(), invite.Email, map[string]string{
		"email":         invite.Email,
		"membership_id": result.Membership.MembershipID.String(),
	}))

	return AcceptResult{
		Invite:       invite,
		MembershipID: result.Membership.MembershipID,
		UserCreated:  result.UserCreated,
	}, nil
}

func (s *service) Get(ctx context.Context, invitationID uuid.UUID) (Invite, error) {
	if invitationID == uuid.Nil {
		return Invite{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, invitationID)
	if err != nil {
		return Invite{}, mapPersistenceError(err)
	}
	return mapInvite(record), nil
}

func (s *service) List(ctx context.Context, status string) ([]Invite, error) {
	var filter *string
	if status != "" {
		filter = &status
	}

	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	invites := make([]Invite, 0, len(records))
	for _, record := range records {
		invites = append(invites, mapInvite(record))
	}
	return invites, nil
}

// SweepExpired flips every pending invitation past its window to expired.
// Runs on a schedule under the system actor; no domain event exists for
// expiry, so callers log the outcome themselves.
func (s *service) SweepExpired(ctx context.Context) ([]Invite, error) {
	records, err := s.repo.SweepExpired(ctx, s.now())
	if err != nil {
		return nil, err
	}

	invites := make([]Invite, 0, len(records))
	for _, record := range records {
		invites = append(invites, mapInvite(record))
	}
	return invites, nil
}

func (s *service) refresh(ctx context.Context, act actor.Actor, current persistence.Invitation, eventType events.Type) (Invite, error) {
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		bearer, err := token.New()
		if err != nil {
			return Invite{}, err
		}

		record, err := s.repo.Refresh(ctx, current.InvitationID, bearer, s.now().Add(ExpiryWindow))
		if errors.Is(err, persistence.ErrInvitationTokenTaken) {
			continue
		}
		if err != nil {
			return Invite{}, mapPersistenceError(err)
		}

		invite := mapInvite(record)
		s.bus.Publish(events.New(eventType, invite.TenantID, act, invite.Email, map[string]string{
			"email": invite.Email,
		}))
		return invite, nil
	}

	return Invite{}, errors.New("could not allocate a unique invitation token")
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", newValidationError(map[string]string{"email": "email is required"})
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", newValidationError(map[string]string{"email": "email is invalid"})
	}
	return email, nil
}

func mapInvite(record persistence.Invitation) Invite {
	return Invite{
		ID:          record.InvitationID,
		TenantID:    record.TenantID,
		Email:       record.Email,
		RoleID:      record.RoleID,
		Token:       record.Token,
		Status:      record.Status,
		ResentCount: record.ResentCount,
		ExpiresAt:   record.ExpiresAt,
		AcceptedAt:  record.AcceptedAt,
		InvitedBy:   record.InvitedBy,
		CreatedAt:   record.CreatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrInvitationNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrInvitationNotPending):
		return ErrNotPending
	case errors.Is(err, persistence.ErrInvitationPastExpiry):
		return ErrExpired
	case errors.Is(err, persistence.ErrMembershipConflict):
		return ErrAlreadyMember
	case errors.Is(err, persistence.ErrRoleNotFound):
		return ErrRoleNotFound
	default:
		return err
	}
}

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for key, message := range fields {
		fe[key] = append(fe[key], message)
	}
	return &ValidationError{Fields: fe}
}
