package repo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
)

// MemoryRepository is an in-memory Repository for tests and local tooling. It
// mirrors the store's guarantees: monotonic status transitions, the pending
// (tenant, email) uniqueness rule, global token uniqueness, and an atomic
// acceptance path.
type MemoryRepository struct {
	mu sync.Mutex

	invitations map[uuid.UUID]persistence.Invitation
	memberships map[uuid.UUID]persistence.Membership
	roles       map[uuid.UUID]persistence.Role
	users       map[string]uuid.UUID
	settings    map[uuid.UUID]map[string]persistence.NotificationSetting
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invitations: make(map[uuid.UUID]persistence.Invitation),
		memberships: make(map[uuid.UUID]persistence.Membership),
		roles:       make(map[uuid.UUID]persistence.Role),
		users:       make(map[string]uuid.UUID),
		settings:    make(map[uuid.UUID]map[string]persistence.NotificationSetting),
	}
}

// SeedRole registers a role so invitations can reference it.
func (r *MemoryRepository) SeedRole(role persistence.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.RoleID] = role
}

// SeedMember registers an existing membership keyed by email.
func (r *MemoryRepository) SeedMember(m persistence.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[m.MembershipID] = m
	r.users[strings.ToLower(m.UserEmail)] = m.UserID
}

// Memberships returns a snapshot of all membership rows.
func (r *MemoryRepository) Memberships() []persistence.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persistence.Membership, 0, len(r.memberships))
	for _, m := range r.memberships {
		out = append(out, m)
	}
	return out
}

func (r *MemoryRepository) Create(ctx context.Context, params persistence.CreateInvitationParams) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(params.Email))
	for _, inv := range r.invitations {
		if inv.Token == params.Token {
			return persistence.Invitation{}, persistence.ErrInvitationTokenTaken
		}
		if inv.TenantID == space.TenantID && inv.Email == email && inv.Status == persistence.InviteStatusPending {
			return persistence.Invitation{}, persistence.ErrInvitationConflict
		}
	}

	inv := persistence.Invitation{
		InvitationID: params.InvitationID,
		TenantID:     space.TenantID,
		Email:        email,
		RoleID:       params.RoleID,
		Token:        params.Token,
		Status:       persistence.InviteStatusPending,
		ExpiresAt:    params.ExpiresAt,
		InvitedBy:    params.InvitedBy,
		CreatedAt:    time.Now().UTC(),
	}
	r.invitations[inv.InvitationID] = inv
	return inv, nil
}

func (r *MemoryRepository) Get(ctx context.Context, invitationID uuid.UUID) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[invitationID]
	if !ok || inv.TenantID != space.TenantID {
		return persistence.Invitation{}, persistence.ErrInvitationNotFound
	}
	return inv, nil
}

func (r *MemoryRepository) GetByToken(_ context.Context, token string) (persistence.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inv := range r.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return persistence.Invitation{}, persistence.ErrInvitationNotFound
}

func (r *MemoryRepository) FindPendingByEmail(ctx context.Context, email string) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(email))
	for _, inv := range r.invitations {
		if inv.TenantID == space.TenantID && inv.Email == needle && inv.Status == persistence.InviteStatusPending {
			return inv, nil
		}
	}
	return persistence.Invitation{}, persistence.ErrInvitationNotFound
}

func (r *MemoryRepository) List(ctx context.Context, status *string) ([]persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]persistence.Invitation, 0)
	for _, inv := range r.invitations {
		if inv.TenantID != space.TenantID {
			continue
		}
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *MemoryRepository) Refresh(ctx context.Context, invitationID uuid.UUID, token string, expiresAt time.Time) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[invitationID]
	if !ok || inv.TenantID != space.TenantID {
		return persistence.Invitation{}, persistence.ErrInvitationNotFound
	}
	if inv.Status != persistence.InviteStatusPending {
		return persistence.Invitation{}, persistence.ErrInvitationNotPending
	}

	inv.Token = token
	inv.ExpiresAt = expiresAt
	inv.ResentCount++
	r.invitations[invitationID] = inv
	return inv, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, invitationID uuid.UUID, toStatus string) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[invitationID]
	if !ok || inv.TenantID != space.TenantID {
		return persistence.Invitation{}, persistence.ErrInvitationNotFound
	}
	if inv.Status != persistence.InviteStatusPending {
		return persistence.Invitation{}, persistence.ErrInvitationNotPending
	}

	inv.Status = toStatus
	r.invitations[invitationID] = inv
	return inv, nil
}

func (r *MemoryRepository) SweepExpired(_ context.Context, now time.Time) ([]persistence.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]persistence.Invitation, 0)
	for id, inv := range r.invitations {
		if inv.Status == persistence.InviteStatusPending && now.After(inv.ExpiresAt) {
			inv.Status = persistence.InviteStatusExpired
			r.invitations[id] = inv
			expired = append(expired, inv)
		}
	}
	return expired, nil
}

func (r *MemoryRepository) Accept(_ context.Context, params persistence.AcceptInvitationParams) (persistence.AcceptInvitationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inv persistence.Invitation
	found := false
	for _, candidate := range r.invitations {
		if candidate.Token == params.Token {
			inv = candidate
			found = true
			break
		}
	}
	if !found {
		return persistence.AcceptInvitationResult{}, persistence.ErrInvitationNotFound
	}
	if inv.Status != persistence.InviteStatusPending {
		return persistence.AcceptInvitationResult{}, persistence.ErrInvitationNotPending
	}
	if params.Now.After(inv.ExpiresAt) {
		inv.Status = persistence.InviteStatusExpired
		r.invitations[inv.InvitationID] = inv
		return persistence.AcceptInvitationResult{}, persistence.ErrInvitationPastExpiry
	}

	userID, userCreated := r.users[inv.Email], false
	if userID == uuid.Nil {
		if strings.TrimSpace(params.FullName) == "" || params.PasswordHash == "" {
			return persistence.AcceptInvitationResult{}, persistence.ErrUserProfileIncomplete
		}
		userID = uuid.New()
		userCreated = true
	}
	for _, m := range r.memberships {
		if m.TenantID == inv.TenantID && m.UserID == userID {
			return persistence.AcceptInvitationResult{}, persistence.ErrMembershipConflict
		}
	}

	r.users[inv.Email] = userID

	role := r.roles[inv.RoleID]
	membershipID := params.MembershipID
	if membershipID == uuid.Nil {
		membershipID = uuid.New()
	}
	membership := persistence.Membership{
		MembershipID: membershipID,
		TenantID:     inv.TenantID,
		UserID:       userID,
		RoleID:       inv.RoleID,
		JoinedAt:     params.Now,
		RoleName:     role.Name,
		RoleIsSystem: role.IsSystem,
		UserEmail:    inv.Email,
		UserFullName: params.FullName,
	}
	r.memberships[membershipID] = membership

	acceptedAt := params.Now
	inv.Status = persistence.InviteStatusAccepted
	inv.AcceptedAt = &acceptedAt
	r.invitations[inv.InvitationID] = inv

	return persistence.AcceptInvitationResult{
		Invitation:  inv,
		Membership:  membership,
		UserCreated: userCreated,
	}, nil
}

func (r *MemoryRepository) FindMemberByEmail(ctx context.Context, email string) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(email))
	for _, m := range r.memberships {
		if m.TenantID == space.TenantID && strings.ToLower(m.UserEmail) == needle {
			return m, nil
		}
	}
	return persistence.Membership{}, persistence.ErrMembershipNotFound
}

func (r *MemoryRepository) GetRole(ctx context.Context, roleID uuid.UUID) (persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Role{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	role, ok := r.roles[roleID]
	if !ok || role.TenantID != space.TenantID {
		return persistence.Role{}, persistence.ErrRoleNotFound
	}
	return role, nil
}

func (r *MemoryRepository) EnsureNotificationDefaults(_ context.Context, membershipID uuid.UUID, eventTypes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, ok := r.settings[membershipID]
	if !ok {
		rows = make(map[string]persistence.NotificationSetting)
		r.settings[membershipID] = rows
	}
	for _, eventType := range eventTypes {
		if _, exists := rows[eventType]; exists {
			continue
		}
		rows[eventType] = persistence.NotificationSetting{
			MembershipID: membershipID,
			EventType:    eventType,
			EmailEnabled: true,
			PushEnabled:  true,
			InAppEnabled: true,
		}
	}
	return nil
}

// Settings returns a snapshot of a membership's preference rows.
func (r *MemoryRepository) Settings(membershipID uuid.UUID) []persistence.NotificationSetting {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]persistence.NotificationSetting, 0, len(r.settings[membershipID]))
	for _, setting := range r.settings[membershipID] {
		out = append(out, setting)
	}
	return out
}
