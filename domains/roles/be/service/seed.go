package service

// GuardTenant is the namespace for tenant-scoped permissions; GuardPlatform
// holds platform-operator capabilities evaluated outside any tenant.
const (
	GuardTenant   = "tenant"
	GuardPlatform = "platform"
)

// Seeded system role names. These roles are created at tenant provisioning
// with is_system set; they cannot be renamed or deleted afterwards.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Tenant permission catalog. Checks go through the evaluator's HasPermission;
// business rules never test role names directly, with the single documented
// exception of the admin-cannot-manage-owner override.
const (
	PermManageUsers     = "users.manage"
	PermInviteUsers     = "users.invite"
	PermManageRoles     = "roles.manage"
	PermAssignOwnerRole = "roles.assign_owner"
	PermViewDashboard   = "dashboard.view"
	PermViewAnalytics   = "analytics.view"
	PermViewActivity    = "activity.view"
)

// CatalogPermissions lists every tenant-guard permission ensured at
// provisioning time.
func CatalogPermissions() []string {
	return []string{
		PermManageUsers,
		PermInviteUsers,
		PermManageRoles,
		PermAssignOwnerRole,
		PermViewDashboard,
		PermViewAnalytics,
		PermViewActivity,
	}
}

// RoleSeed defines one system role and its grants.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []string
}

// DefaultRoles returns the capability table seeded into every new tenant.
func DefaultRoles() []RoleSeed {
	return []RoleSeed{
		{
			Name:        RoleOwner,
			Description: "Full control of the tenant, including role management and owner assignment",
			Permissions: CatalogPermissions(),
		},
		{
			Name:        RoleAdmin,
			Description: "Manages users and invitations; cannot manage roles or the owner",
			Permissions: []string{
				PermManageUsers,
				PermInviteUsers,
				PermViewDashboard,
				PermViewAnalytics,
				PermViewActivity,
			},
		},
		{
			Name:        RoleMember,
			Description: "Regular tenant member",
			Permissions: []string{
				PermViewDashboard,
				PermViewAnalytics,
			},
		},
	}
}
