package rbac

type Role string
type Action string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
)

const (
	// ActionGuestCache reads and writes the caller's guest workspace cache.
	ActionGuestCache Action = "guest_cache"
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionMigrate    Action = "migrate"
	ActionLogout     Action = "logout"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleUser:
		return action == ActionRead || action == ActionWrite || action == ActionMigrate || action == ActionLogout
	case RoleGuest:
		return action == ActionGuestCache
	default:
		return false
	}
}

// Normalize maps unknown roles to guest, the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleUser:
		return Role(role)
	default:
		return RoleGuest
	}
}
