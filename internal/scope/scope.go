// Package scope derives the visibility scope used to filter every query an
// operator makes.
package scope

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

type Kind int

const (
	// Invalid is the scope of malformed tokens: an ADMIN with a missing
	// department or location, or an unknown role. Invalid never means
	// unrestricted; callers must treat it as match-nothing.
	Invalid Kind = iota
	Restricted
	Unrestricted
)

// Scope is the (role, department, location) triple restricting which records
// a caller may see or mutate.
type Scope struct {
	Kind       Kind
	Role       Role
	Department string
	Location   string
}

// Resolve builds a Scope from decoded token claims. SUPERADMIN yields an
// unrestricted scope; ADMIN requires both department and location or the
// scope degrades to Invalid.
func Resolve(role, department, location string) Scope {
	switch Role(role) {
	case RoleSuperAdmin:
		return Scope{Kind: Unrestricted, Role: RoleSuperAdmin}
	case RoleAdmin:
		if department == "" || location == "" {
			return Scope{Kind: Invalid, Role: RoleAdmin}
		}
		return Scope{Kind: Restricted, Role: RoleAdmin, Department: department, Location: location}
	default:
		return Scope{Kind: Invalid}
	}
}

// Allows reports whether a record tagged with the given department and
// location is visible. Restricted scopes require both to match.
func (s Scope) Allows(department, location string) bool {
	switch s.Kind {
	case Unrestricted:
		return true
	case Restricted:
		return s.Department == department && s.Location == location
	default:
		return false
	}
}

func (s Scope) IsSuperAdmin() bool { return s.Role == RoleSuperAdmin }

func (s Scope) IsValid() bool { return s.Kind != Invalid }

// Normalize maps a raw role string to a known Role, defaulting to ADMIN the
// way the login path does for legacy accounts with no role field.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleAdmin
	}
}
