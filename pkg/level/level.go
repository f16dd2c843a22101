package level

import "fmt"

// Level is the ordinal rank of an account. Coarse operations are gated on
// rank alone, before any per-instance permission is consulted.
type Level int

const (
	Blocked Level = iota
	SimpleUser
	Manager // staff rank
	Admin
	SuperUser
)

var levelNames = map[Level]string{
	Blocked:    "blocked",
	SimpleUser: "simpleuser",
	Manager:    "manager",
	Admin:      "admin",
	SuperUser:  "superuser",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Parse converts a stored level name into a Level.
func Parse(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return Blocked, fmt.Errorf("unknown level %q", s)
}

// IsAtLeast reports whether l ranks at or above other.
func (l Level) IsAtLeast(other Level) bool {
	return l >= other
}

// Derived flags. The level enum is the single source of truth; the legacy
// standalone booleans are never stored.

// IsActive reports whether the account may authenticate at all.
func (l Level) IsActive() bool { return l > Blocked }

// IsStaff reports whether the account ranks manager or above.
func (l Level) IsStaff() bool { return l >= Manager }

// IsAdmin reports whether the account ranks admin or above. Admin+ accounts
// bypass per-instance permission caching entirely.
func (l Level) IsAdmin() bool { return l >= Admin }

// IsSuperuser reports whether the account holds the top rank.
func (l Level) IsSuperuser() bool { return l >= SuperUser }

// Class is the access class an operation declares as its minimum. Classes
// order anonymous < authenticated < staff < admin < superuser.
type Class string

const (
	ClassAnonymous     Class = "anonymous"
	ClassAuthenticated Class = "authenticated"
	ClassStaff         Class = "staff"
	ClassAdmin         Class = "admin"
	ClassSuperuser     Class = "superuser"
)

// ParseClass validates a declared minimum class name.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassAnonymous, ClassAuthenticated, ClassStaff, ClassAdmin, ClassSuperuser:
		return Class(s), nil
	}
	return "", fmt.Errorf("unknown access class %q", s)
}

// Satisfies reports whether a level meets a declared minimum class.
// Blocked accounts satisfy nothing above anonymous.
func (l Level) Satisfies(c Class) bool {
	switch c {
	case ClassAnonymous:
		return true
	case ClassAuthenticated:
		return l.IsAtLeast(SimpleUser)
	case ClassStaff:
		return l.IsStaff()
	case ClassAdmin:
		return l.IsAdmin()
	case ClassSuperuser:
		return l.IsSuperuser()
	default:
		return false
	}
}

// AnonymousSatisfies reports whether an unauthenticated request meets a
// declared minimum class.
func AnonymousSatisfies(c Class) bool {
	return c == ClassAnonymous
}
