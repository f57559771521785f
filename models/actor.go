package models

type Role string

const (
	RoleUser      Role = "user"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
)

// EffectiveRole picks the strongest role from a token's role list.
func EffectiveRole(roles []string) Role {
	best := Role("")
	for _, r := range roles {
		switch Role(r) {
		case RoleAdmin:
			return RoleAdmin
		case RoleTherapist:
			best = RoleTherapist
		case RoleUser:
			if best == "" {
				best = RoleUser
			}
		}
	}
	if best == "" {
		return RoleUser
	}
	return best
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
