package gate

import (
	"sort"

	"github.com/diewo77/clinic-invoices/internal/models"
)

// Profile is a named set of permissions.
type Profile interface {
	Name() string
	HasPermission(permission Permission) bool
	Permissions() []Permission
}

// StaticProfile is a simple in-memory profile implementation.
type StaticProfile struct {
	name        string
	permissions map[Permission]bool
}

// NewStaticProfile creates a profile with the given permissions.
func NewStaticProfile(name string, permissions ...Permission) *StaticProfile {
	p := &StaticProfile{
		name:        name,
		permissions: make(map[Permission]bool, len(permissions)),
	}
	for _, perm := range permissions {
		p.permissions[perm] = true
	}
	return p
}

func (p *StaticProfile) Name() string { return p.name }

// Permissions returns all permissions in this profile, sorted.
func (p *StaticProfile) Permissions() []Permission {
	perms := make([]Permission, 0, len(p.permissions))
	for perm := range p.permissions {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// HasPermission checks if the profile has the requested permission.
// Supports wildcard matching.
func (p *StaticProfile) HasPermission(requested Permission) bool {
	for perm := range p.permissions {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

// RoleProfiles returns the built-in profile of each operator role. Admins
// can do everything; clients run the front desk but cannot edit the
// catalog or read reports.
func RoleProfiles() map[models.Role]Profile {
	return map[models.Role]Profile{
		models.RoleAdmin: NewStaticProfile(string(models.RoleAdmin), PermissionSuperAdmin),
		models.RoleClient: NewStaticProfile(string(models.RoleClient),
			NewPermission(ResourceInvoice, WildcardAll),
			NewPermission(ResourceReturn, WildcardAll),
			NewPermission(ResourceCustomer, WildcardAll),
			NewPermission(ResourcePatient, WildcardAll),
			NewPermission(ResourceProduct, ActionView),
			NewPermission(ResourceProduct, ActionList),
		),
	}
}
