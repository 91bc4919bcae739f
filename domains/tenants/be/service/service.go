package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	roles "github.com/castellan-io/castellan/domains/roles/be/service"
	"github.com/castellan-io/castellan/domains/tenants/be/repo"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/password"
	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
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
	ErrNotFound      = errors.New("tenant not found")
	ErrDuplicateSlug = errors.New("tenant slug already exists")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// Tenant is the domain view of a tenant.
type Tenant struct {
	ID        uuid.UUID
	Slug      string
	Name      string
	CreatedAt time.Time
}

// ProvisionInput carries the payload for creating a tenant with its initial
// owner.
type ProvisionInput struct {
	Slug          string
	Name          string
	OwnerEmail    string
	OwnerFullName string
	OwnerPassword string
}

// ProvisionResult reports what provisioning created.
type ProvisionResult struct {
	Tenant            Tenant
	OwnerMembershipID uuid.UUID
	RoleIDs           map[string]uuid.UUID
}

// Service manages tenant lifecycle and resolution.
type Service interface {
	Provision(ctx context.Context, input ProvisionInput) (ProvisionResult, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindBySlug(ctx context.Context, slug string) (Tenant, error)
	ResolveSpace(ctx context.Context, slug string) (tenant.Space, error)
}

type service struct {
	repo repo.Repository
}

// New constructs a tenants Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("tenants repository is required")
	}
	return &service{repo: r}
}

// Provision creates the tenant, its permission catalog, the three system
// roles, and the owner membership in one transaction, then provisions the
// owner's notification defaults.
func (s *service) Provision(ctx context.Context, input ProvisionInput) (ProvisionResult, error) {
	slug, name, email, fullName, err := validateProvision(input)
	if err != nil {
		return ProvisionResult{}, err
	}

	hash, err := password.Hash(input.OwnerPassword)
	if err != nil {
		return ProvisionResult{}, err
	}

	permissions := make([]persistence.SeedPermission, 0)
	for _, permName := range roles.CatalogPermissions() {
		permissions = append(permissions, persistence.SeedPermission{Name: permName, Guard: roles.GuardTenant})
	}

	seeds := make([]persistence.SeedRole, 0)
	for _, seed := range roles.DefaultRoles() {
		seeds = append(seeds, persistence.SeedRole{
			Name:        seed.Name,
			Description: seed.Description,
			IsSystem:    true,
			Permissions: seed.Permissions,
		})
	}

	result, err := s.repo.Provision(ctx, persistence.ProvisionTenantParams{
		TenantID:          uuid.New(),
		Slug:              slug,
		Name:              name,
		Guard:             roles.GuardTenant,
		Permissions:       permissions,
		Roles:             seeds,
		OwnerRole:         roles.RoleOwner,
		OwnerEmail:        email,
		OwnerFullName:     fullName,
		OwnerPasswordHash: hash,
		OwnerMembershipID: uuid.New(),
	})
	if err != nil {
		return ProvisionResult{}, mapPersistenceError(err)
	}

	types := events.All()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	if err := s.repo.EnsureNotificationDefaults(ctx, result.OwnerMembership.MembershipID, names); err != nil {
		return ProvisionResult{}, err
	}

	return ProvisionResult{
		Tenant:            mapTenant(result.Tenant),
		OwnerMembershipID: result.OwnerMembership.MembershipID,
		RoleIDs:           result.RoleIDs,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	if id == uuid.Nil {
		return Tenant{}, ErrNotFound
	}
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return mapTenant(record), nil
}

func (s *service) FindBySlug(ctx context.Context, slug string) (Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Tenant{}, ErrNotFound
	}
	record, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return mapTenant(record), nil
}

// ResolveSpace turns a slug into the tenant Space that scopes every
// downstream repository call. Middleware attaches the result to the request
// context.
func (s *service) ResolveSpace(ctx context.Context, slug string) (tenant.Space, error) {
	found, err := s.FindBySlug(ctx, slug)
	if err != nil {
		return tenant.Space{}, err
	}
	return tenant.Space{TenantID: found.ID, Slug: found.Slug, Name: found.Name}, nil
}

func validateProvision(input ProvisionInput) (slug, name, email, fullName string, err error) {
	fields := map[string]string{}

	slug = strings.ToLower(strings.TrimSpace(input.Slug))
	if !slugPattern.MatchString(slug) {
		fields["slug"] = "slug must be lowercase letters, digits and hyphens"
	}

	name = strings.TrimSpace(input.Name)
	if name == "" {
		fields["name"] = "name is required"
	}

	email = strings.ToLower(strings.TrimSpace(input.OwnerEmail))
	if _, mailErr := mail.ParseAddress(email); email == "" || mailErr != nil {
		fields["owner_email"] = "owner_email is invalid"
	}

	fullName = strings.TrimSpace(input.OwnerFullName)
	if fullName == "" {
		fields["owner_full_name"] = "owner_full_name is required"
	}

	if len(input.OwnerPassword) < 8 {
		fields["owner_password"] = "owner_password must be at least 8 characters"
	}

	if len(fields) > 0 {
		return "", "", "", "", newValidationError(fields)
	}
	return slug, name, email, fullName, nil
}

func mapTenant(record persistence.Tenant) Tenant {
	return Tenant{
		ID:        record.TenantID,
		Slug:      record.Slug,
		Name:      record.Name,
		CreatedAt: record.CreatedAt,
	}
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrTenantNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrTenantConflict):
		return ErrDuplicateSlug
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
