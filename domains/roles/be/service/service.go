package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/domains/roles/be/repo"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/persistence"
)

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
	ErrNotFound          = errors.New("role not found")
	ErrDuplicateName     = errors.New("role name already exists")
	ErrUnknownPermission = errors.New("unknown permission")
	ErrSystemRole        = errors.New("system roles cannot be renamed or deleted")
	ErrRoleInUse         = errors.New("role is assigned to memberships")
)

// Permission represents the domain view of a catalog entry.
type Permission struct {
	ID    uuid.UUID
	Name  string
	Guard string
}

// Role represents the domain view of a tenant role with its grants.
type Role struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description string
	Guard       string
	IsSystem    bool
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput represents the payload required to create a role.
type CreateInput struct {
	Name        string
	Description string
	Permissions []string
}

// UpdateInput carries the full replacement state for a role. The permission
// list is synced: entries absent from it are revoked.
type UpdateInput struct {
	Name        string
	Description string
	Permissions []string
}

// Service defines the business operations for the roles domain, covering both
// the permission registry and the role engine.
type Service interface {
	ListPermissions(ctx context.Context, guard string) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, guard string) (Permission, error)

	List(ctx context.Context) ([]Role, error)
	Get(ctx context.Context, id uuid.UUID) (Role, error)
	Create(ctx context.Context, act actor.Actor, input CreateInput) (Role, error)
	Update(ctx context.Context, act actor.Actor, id uuid.UUID, input UpdateInput) (Role, error)
	Delete(ctx context.Context, act actor.Actor, id uuid.UUID) error
	Copy(ctx context.Context, act actor.Actor, id uuid.UUID) (Role, error)
}

type service struct {
	repo repo.Repository
	bus  events.Bus
}

// New constructs a roles Service instance backed by the provided repository.
func New(r repo.Repository, bus events.Bus) Service {
	if r == nil {
		panic("roles repository is required")
	}
	if bus == nil {
		panic("event bus is required")
	}
	return &service{repo: r, bus: bus}
}

func (s *service) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	if guard == "" {
		guard = GuardTenant
	}

	records, err := s.repo.ListPermissions(ctx, guard)
	if err != nil {
		return nil, err
	}

	permissions := make([]Permission, 0, len(records))
	for _, record := range records {
		permissions = append(permissions, mapPermission(record))
	}
	return permissions, nil
}

func (s *service) EnsurePermission(ctx context.Context, name, guard string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, newValidationError(map[string]string{"name": "name is required"})
	}
	if guard == "" {
		guard = GuardTenant
	}

	record, err := s.repo.EnsurePermission(ctx, name, guard)
	if err != nil {
		return Permission{}, err
	}
	return mapPermission(record), nil
}

func (s *service) List(ctx context.Context) ([]Role, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	roles := make([]Role, 0, len(records))
	for _, record := range records {
		roles = append(roles, mapRole(record))
	}
	return roles, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Role, error) {
	if id == uuid.Nil {
		return Role{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, mapPersistenceError(err)
	}
	return mapRole(record), nil
}

func (s *service) Create(ctx context.Context, act actor.Actor, input CreateInput) (Role, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return Role{}, err
	}

	permissionIDs, err := s.resolvePermissions(ctx, input.Permissions)
	if err != nil {
		return Role{}, err
	}

	record, err := s.repo.Create(ctx, persistence.CreateRoleParams{
		RoleID:        uuid.New(),
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		Guard:         GuardTenant,
		IsSystem:      false,
		PermissionIDs: permissionIDs,
	})
	if err != nil {
		return Role{}, mapPersistenceError(err)
	}

	role := mapRole(record)
	s.bus.Publish(events.New(events.RoleCreated, role.TenantID, act, role.Name, map[string]string{
		"role": role.Name,
	}))
	return role, nil
}

func (s *service) Update(ctx context.Context, act actor.Actor, id uuid.UUID, input UpdateInput) (Role, error) {
	if id == uuid.Nil {
		return Role{}, ErrNotFound
	}

	name, err := validateName(input.Name)
	if err != nil {
		return Role{}, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, mapPersistenceError(err)
	}
	if current.IsSystem && current.Name != name {
		return Role{}, ErrSystemRole
	}

	permissionIDs, err := s.resolvePermissions(ctx, input.Permissions)
	if err != nil {
		return Role{}, err
	}

	record, err := s.repo.Update(ctx, id, persistence.UpdateRoleParams{
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		PermissionIDs: permissionIDs,
	})
	if err != nil {
		return Role{}, mapPersistenceError(err)
	}

	role := mapRole(record)
	s.bus.Publish(events.New(events.RoleUpdated, role.TenantID, act, role.Name, map[string]string{
		"role": role.Name,
	}))
	return role, nil
}

func (s *service) Delete(ctx context.Context, act actor.Actor, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNotFound
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return mapPersistenceError(err)
	}
	if current.IsSystem {
		return ErrSystemRole
	}

	inUse, err := s.repo.CountMemberships(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return ErrRoleInUse
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return mapPersistenceError(err)
	}

	s.bus.Publish(events.New(events.RoleDeleted, current.TenantID, act, current.Name, map[string]string{
		"role": current.Name,
	}))
	return nil
}

// copyAttempts bounds the suffix search before Copy gives up with ErrDuplicateName.
const copyAttempts = 5

func (s *service) Copy(ctx context.Context, act actor.Actor, id uuid.UUID) (Role, error) {
	if id == uuid.Nil {
		return Role{}, ErrNotFound
	}

	source, err := s.repo.Get(ctx, id)
	if err != nil {
		return Role{}, mapPersistenceError(err)
	}

	permissionIDs, err := s.resolvePermissions(ctx, source.Permissions)
	if err != nil {
		return Role{}, err
	}

	for attempt := 1; attempt <= copyAttempts; attempt++ {
		name := source.Name + " (copy)"
		if attempt > 1 {
			name = fmt.Sprintf("%s (copy %d)", source.Name, attempt)
		}

		record, err := s.repo.Create(ctx, persistence.CreateRoleParams{
			RoleID:        uuid.New(),
			Name:          name,
			Description:   source.Description,
			Guard:         source.Guard,
			IsSystem:      false,
			PermissionIDs: permissionIDs,
		})
		if errors.Is(err, persistence.ErrRoleConflict) {
			continue
		}
		if err != nil {
			return Role{}, mapPersistenceError(err)
		}

		role := mapRole(record)
		s.bus.Publish(events.New(events.RoleCreated, role.TenantID, act, role.Name, map[string]string{
			"role":        role.Name,
			"copied_from": source.Name,
		}))
		return role, nil
	}

	return Role{}, ErrDuplicateName
}

func (s *service) resolvePermissions(ctx context.Context, names []string) ([]uuid.UUID, error) {
	trimmed := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		trimmed = append(trimmed, name)
	}

	resolved, err := s.repo.ResolvePermissionIDs(ctx, trimmed, GuardTenant)
	if err != nil {
		return nil, mapPersistenceError(err)
	}

	ids := make([]uuid.UUID, 0, len(trimmed))
	for _, name := range trimmed {
		ids = append(ids, resolved[name])
	}
	return ids, nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", newValidationError(map[string]string{"name": "name is required"})
	}
	return name, nil
}

func mapPermission(record persistence.Permission) Permission {
	return Permission{
		ID:    record.PermissionID,
		Name:  record.Name,
		Guard: record.Guard,
	}
}

func mapRole(record persistence.Role) Role {
	return Role{
		ID:          record.RoleID,
		TenantID:    record.TenantID,
		Name:        record.Name,
		Description: record.Description,
		Guard:       record.Guard,
		IsSystem:    record.IsSystem,
		Permissions: record.Permissions,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrRoleNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrRoleConflict):
		return ErrDuplicateName
	case errors.Is(err, persistence.ErrPermissionNotFound):
		return fmt.Errorf("%w: %v", ErrUnknownPermission, err)
	case errors.Is(err, persistence.ErrRoleInUse):
		return ErrRoleInUse
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
