package model

// Roles understood by the application.
const (
	RoleClient  = "client"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// UserContext carries the authenticated identity through a request, or the
// configured service identity the change monitor runs as.
type UserContext struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the user carries the given role.
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// IsStaff reports whether the user may operate on other people's records:
// managers and admins.
func (u *UserContext) IsStaff() bool {
	return u.HasRole(RoleManager) || u.HasRole(RoleAdmin)
}
