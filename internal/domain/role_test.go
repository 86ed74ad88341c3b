package domain

import "testing"

func TestPermissionsForRole(t *testing.T) {
	cases := []struct {
		role Role
		want []Permission
	}{
		{role: RoleSuperAdmin, want: AllPermissions},
		{role: RoleAdmin, want: []Permission{PermManageCars, PermManageReviews, PermManageMessages, PermViewAnalytics}},
		{role: RoleEditor, want: []Permission{PermManageCars, PermManageReviews}},
		{role: RoleViewer, want: []Permission{PermViewAnalytics}},
		{role: Role("intern"), want: []Permission{}},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			got := PermissionsForRole(tc.role).List()
			if len(got) != len(tc.want) {
				t.Fatalf("PermissionsForRole(%s)=%v want %v", tc.role, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("PermissionsForRole(%s)=%v want %v", tc.role, got, tc.want)
				}
			}
		})
	}
}

func TestOnlySuperAdminManagesUsersAndSettings(t *testing.T) {
	for _, role := range AllRoles {
		p := PermissionsForRole(role)
		want := role == RoleSuperAdmin
		if p.Has(PermManageUsers) != want || p.Has(PermManageSettings) != want {
			t.Fatalf("role %s: unexpected users/settings grant %+v", role, p)
		}
	}
	if (Permissions{}).Has(Permission("unknown")) {
		t.Fatal("unknown permission must not be granted")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Admin "); !ok || r != RoleAdmin {
		t.Fatalf("expected admin, got %q ok=%v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
}
