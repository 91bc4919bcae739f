package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/domains/memberships/be/repo"
	roles "github.com/castellan-io/castellan/domains/roles/be/service"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/persistence"
)

// Domain sentinel errors.
var (
	ErrNotFound        = errors.New("membership not found")
	ErrRoleNotFound    = errors.New("role not found")
	ErrCrossTenant     = errors.New("role does not belong to the tenant")
	ErrOwnerProtected  = errors.New("managing the owner requires owner privileges")
	ErrSettingNotFound = errors.New("notification setting not found")
)

// Member is the domain view of a tenant membership with the joined role and
// user attributes.
type Member struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UserID     uuid.UUID
	RoleID     uuid.UUID
	RoleName   string
	IsSystem   bool
	IsDisabled bool
	Email      string
	FullName   string
	JoinedAt   time.Time
}

// NotificationSetting is the domain view of one channel-preference row.
type NotificationSetting struct {
	MembershipID uuid.UUID
	EventType    string
	EmailEnabled bool
	PushEnabled  bool
	InAppEnabled bool
}

// NotificationInput carries the channel flags for a preference update.
type NotificationInput struct {
	EmailEnabled bool
	PushEnabled  bool
	InAppEnabled bool
}

// Service is the single authorization evaluator plus the membership
// management operations. Business rules elsewhere never inspect role names;
// they ask HasPermission.
type Service interface {
	Get(ctx context.Context, membershipID uuid.UUID) (Member, error)
	List(ctx context.Context) ([]Member, error)
	EffectiveRole(ctx context.Context, userID uuid.UUID) (Member, error)
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)

	AssignRole(ctx context.Context, act actor.Actor, membershipID, roleID uuid.UUID) (Member, error)
	SetDisabled(ctx context.Context, act actor.Actor, membershipID uuid.UUID, disabled bool) (Member, error)
	Remove(ctx context.Context, act actor.Actor, membershipID uuid.UUID) error

	EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID) error
	ListNotificationSettings(ctx context.Context, membershipID uuid.UUID) ([]NotificationSetting, error)
	UpdateNotificationSetting(ctx context.Context, membershipID uuid.UUID, eventType string, input NotificationInput) (NotificationSetting, error)
}

type service struct {
	repo repo.Repository
	bus  events.Bus
}

// New constructs a memberships Service instance backed by the provided repository.
func New(r repo.Repository, bus events.Bus) Service {
	if r == nil {
		panic("memberships repository is required")
	}
	if bus == nil {
		panic("event bus is required")
	}
	return &service{repo: r, bus: bus}
}

func (s *service) Get(ctx context.Context, membershipID uuid.UUID) (Member, error) {
	if membershipID == uuid.Nil {
		return Member{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, membershipID)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}
	return mapMember(record), nil
}

func (s *service) List(ctx context.Context) ([]Member, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(records))
	for _, record := range records {
		members = append(members, mapMember(record))
	}
	return members, nil
}

func (s *service) EffectiveRole(ctx context.Context, userID uuid.UUID) (Member, error) {
	if userID == uuid.Nil {
		return Member{}, ErrNotFound
	}
	record, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}
	return mapMember(record), nil
}

// HasPermission reports whether the user holds the permission within the
// tenant. A missing or disabled membership yields false, never an error.
func (s *service) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	if userID == uuid.Nil || permission == "" {
		return false, nil
	}
	granted, err := s.repo.RolePermissions(ctx, userID)
	if errors.Is(err, persistence.ErrMembershipNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(granted, permission), nil
}

func (s *service) AssignRole(ctx context.Context, act actor.Actor, membershipID, roleID uuid.UUID) (Member, error) {
	if membershipID == uuid.Nil {
		return Member{}, ErrNotFound
	}

	current, err := s.repo.Get(ctx, membershipID)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}

	role, err := s.repo.GetRole(ctx, roleID)
	if errors.Is(err, persistence.ErrRoleNotFound) {
		return Member{}, ErrCrossTenant
	}
	if err != nil {
		return Member{}, err
	}

	if err := s.ensureCanManage(ctx, act, current); err != nil {
		return Member{}, err
	}
	if isOwnerRole(role.Name, role.IsSystem) {
		if err := s.ensureOwnerPrivileges(ctx, act); err != nil {
			return Member{}, err
		}
	}

	updated, err := s.repo.UpdateRole(ctx, membershipID, roleID)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}

	member := mapMember(updated)
	s.bus.Publish(events.New(events.MemberRoleUpdated, member.TenantID, act, member.Email, map[string]string{
		"member":   member.Email,
		"old_role": current.RoleName,
		"new_role": member.RoleName,
	}))
	return member, nil
}

func (s *service) SetDisabled(ctx context.Context, act actor.Actor, membershipID uuid.UUID, disabled bool) (Member, error) {
	if membershipID == uuid.Nil {
		return Member{}, ErrNotFound
	}

	current, err := s.repo.Get(ctx, membershipID)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}
	if err := s.ensureCanManage(ctx, act, current); err != nil {
		return Member{}, err
	}
	if current.IsDisabled == disabled {
		return mapMember(current), nil
	}

	updated, err := s.repo.SetDisabled(ctx, membershipID, disabled)
	if err != nil {
		return Member{}, mapPersistenceError(err)
	}

	member := mapMember(updated)
	eventType := events.MemberEnabled
	if disabled {
		eventType = events.MemberDisabled
	}
	s.bus.Publish(events.New(eventType, member.TenantID, act, member.Email, map[string]string{
		"member": member.Email,
	}))
	return member, nil
}

func (s *service) Remove(ctx context.Context, act actor.Actor, membershipID uuid.UUID) error {
	if membershipID == uuid.Nil {
		return ErrNotFound
	}

	current, err := s.repo.Get(ctx, membershipID)
	if err != nil {
		return mapPersistenceError(err)
	}
	if err := s.ensureCanManage(ctx, act, current); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, membershipID); err != nil {
		return mapPersistenceError(err)
	}

	s.bus.Publish(events.New(events.MemberRemoved, current.TenantID, act, current.UserEmail, map[string]string{
		"member": current.UserEmail,
		"role":   current.RoleName,
	}))
	return nil
}

// EnsureNotificationDefaults provisions an all-channels-enabled preference row
// per known event type. Safe to call repeatedly; customized rows survive.
func (s *service) EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID) error {
	if _, err := s.repo.Get(ctx, membershipID); err != nil {
		return mapPersistenceError(err)
	}

	types := events.All()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return s.repo.EnsureNotificationDefaults(ctx, membershipID, names)
}

func (s *service) ListNotificationSettings(ctx context.Context, membershipID uuid.UUID) ([]NotificationSetting, error) {
	records, err := s.repo.ListNotificationSettings(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	settings := make([]NotificationSetting, 0, len(records))
	for _, record := range records {
		settings = append(settings, mapSetting(record))
	}
	return settings, nil
}

func (s *service) UpdateNotificationSetting(ctx context.Context, membershipID uuid.UUID, eventType string, input NotificationInput) (NotificationSetting, error) {
	record, err := s.repo.UpdateNotificationSetting(ctx, membershipID, eventType, persistence.UpdateSettingParams{
		EmailEnabled: input.EmailEnabled,
		PushEnabled:  input.PushEnabled,
		InAppEnabled: input.InAppEnabled,
	})
	if err != nil {
		return NotificationSetting{}, mapPersistenceError(err)
	}
	return mapSetting(record), nil
}

// ensureCanManage enforces the one identity-based override in the capability
// model: a membership holding the system owner role can only be managed by an
// actor allowed to assign it. Everything else stays permission-driven.
func (s *service) ensureCanManage(ctx context.Context, act actor.Actor, target persistence.Membership) error {
	if !isOwnerRole(target.RoleName, target.RoleIsSystem) {
		return nil
	}
	return s.ensureOwnerPrivileges(ctx, act)
}

func (s *service) ensureOwnerPrivileges(ctx context.Context, act actor.Actor) error {
	if act.Kind == actor.KindSystem {
		return nil
	}
	ok, err := s.HasPermission(ctx, act.ID, roles.PermAssignOwnerRole)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOwnerProtected
	}
	return nil
}

func isOwnerRole(name string, isSystem bool) bool {
	return isSystem && name == roles.RoleOwner
}

func mapMember(record persistence.Membership) Member {
	return Member{
		ID:         record.MembershipID,
		TenantID:   record.TenantID,
		UserID:     record.UserID,
		RoleID:     record.RoleID,
		RoleName:   record.RoleName,
		IsSystem:   record.RoleIsSystem,
		IsDisabled: record.IsDisabled,
		Email:      record.UserEmail,
		FullName:   record.UserFullName,
		JoinedAt:   record.JoinedAt,
	}
}

func mapSetting(record persistence.NotificationSetting) NotificationSetting {
	return NotificationSetting{
		MembershipID: record.MembershipID,
		EventType:    record.EventType,
		EmailEnabled: record.EmailEnabled,
		PushEnabled:  record.PushEnabled,
		InAppEnabled: record.InAppEnabled,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrMembershipNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrRoleNotFound):
		return ErrRoleNotFound
	case errors.Is(err, persistence.ErrNotificationSettingNotFound):
		return ErrSettingNotFound
	default:
		return err
	}
}
