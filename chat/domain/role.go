package domain

// Role is the rank a participant holds inside one chat room. Ordering is
// Host > Admin > Regular; there is at most one Host per room and the rank
// is never transferred.
type Role int

const (
	RoleRegular Role = iota
	RoleAdmin
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleRegular:
		return "regular"
	case RoleAdmin:
		return "admin"
	case RoleHost:
		return "host"
	default:
		return "unknown"
	}
}

// CanChange reports whether a requester of rank r may change the role
// state of a target of rank target. A host may change anyone but another
// host; an admin only regular users; regular users nobody.
func CanChange(r, target Role) bool {
	switch r {
	case RoleHost:
		return target != RoleHost
	case RoleAdmin:
		return target == RoleRegular
	default:
		return false
	}
}
