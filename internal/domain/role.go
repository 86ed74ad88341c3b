package domain

import "strings"

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleViewer     Role = "viewer"
)

var AllRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleEditor, RoleViewer}

func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

type Permission string

const (
	PermManageCars     Permission = "manage_cars"
	PermManageReviews  Permission = "manage_reviews"
	PermManageMessages Permission = "manage_messages"
	PermManageUsers    Permission = "manage_users"
	PermViewAnalytics  Permission = "view_analytics"
	PermManageSettings Permission = "manage_settings"
)

var AllPermissions = []Permission{
	PermManageCars,
	PermManageReviews,
	PermManageMessages,
	PermManageUsers,
	PermViewAnalytics,
	PermManageSettings,
}

// Permissions is the capability record embedded in tokens and sessions.
// Every capability is an explicit field so role grants stay exhaustively testable.
type Permissions struct {
	ManageCars     bool `json:"canManageCars"`
	ManageReviews  bool `json:"canManageReviews"`
	ManageMessages bool `json:"canManageMessages"`
	ManageUsers    bool `json:"canManageUsers"`
	ViewAnalytics  bool `json:"canViewAnalytics"`
	ManageSettings bool `json:"canManageSettings"`
}

func PermissionsForRole(r Role) Permissions {
	switch r {
	case RoleSuperAdmin:
		return Permissions{
			ManageCars:     true,
			ManageReviews:  true,
			ManageMessages: true,
			ManageUsers:    true,
			ViewAnalytics:  true,
			ManageSettings: true,
		}
	case RoleAdmin:
		return Permissions{
			ManageCars:     true,
			ManageReviews:  true,
			ManageMessages: true,
			ViewAnalytics:  true,
		}
	case RoleEditor:
		return Permissions{
			ManageCars:    true,
			ManageReviews: true,
		}
	case RoleViewer:
		return Permissions{
			ViewAnalytics: true,
		}
	default:
		return Permissions{}
	}
}

func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermManageCars:
		return p.ManageCars
	case PermManageReviews:
		return p.ManageReviews
	case PermManageMessages:
		return p.ManageMessages
	case PermManageUsers:
		return p.ManageUsers
	case PermViewAnalytics:
		return p.ViewAnalytics
	case PermManageSettings:
		return p.ManageSettings
	}
	return false
}

// List returns granted permissions in AllPermissions order.
func (p Permissions) List() []Permission {
	out := make([]Permission, 0, len(AllPermissions))
	for _, perm := range AllPermissions {
		if p.Has(perm) {
			out = append(out, perm)
		}
	}
	return out
}
