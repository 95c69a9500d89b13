package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest cache", role: RoleGuest, action: ActionGuestCache, allow: true},
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: false},
		{name: "guest write", role: RoleGuest, action: ActionWrite, allow: false},
		{name: "guest migrate", role: RoleGuest, action: ActionMigrate, allow: false},
		{name: "user read", role: RoleUser, action: ActionRead, allow: true},
		{name: "user write", role: RoleUser, action: ActionWrite, allow: true},
		{name: "user migrate", role: RoleUser, action: ActionMigrate, allow: true},
		{name: "user logout", role: RoleUser, action: ActionLogout, allow: true},
		{name: "user guest cache", role: RoleUser, action: ActionGuestCache, allow: false},
		{name: "unknown role", role: Role("admin"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("user"); got != RoleUser {
		t.Fatalf("Normalize(user) = %q", got)
	}
	if got := Normalize("admin"); got != RoleGuest {
		t.Fatalf("Normalize(admin) = %q, want guest", got)
	}
}
