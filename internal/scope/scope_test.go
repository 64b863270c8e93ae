package scope

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		name       string
		role       string
		department string
		location   string
		wantKind   Kind
	}{
		{"superadmin ignores scope fields", "SUPERADMIN", "", "", Unrestricted},
		{"superadmin with stray fields", "SUPERADMIN", "Production", "Mateur", Unrestricted},
		{"admin with full scope", "ADMIN", "Production", "Mateur", Restricted},
		{"admin missing location", "ADMIN", "Production", "", Invalid},
		{"admin missing department", "ADMIN", "", "Mateur", Invalid},
		{"admin missing both", "ADMIN", "", "", Invalid},
		{"unknown role", "OPERATOR", "Production", "Mateur", Invalid},
		{"empty role", "", "Production", "Mateur", Invalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.role, tc.department, tc.location)
			if got.Kind != tc.wantKind {
				t.Errorf("Resolve(%q, %q, %q).Kind = %v, want %v", tc.role, tc.department, tc.location, got.Kind, tc.wantKind)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	unrestricted := Resolve("SUPERADMIN", "", "")
	if !unrestricted.Allows("Production", "Mateur") || !unrestricted.Allows("", "") {
		t.Error("unrestricted scope must match everything")
	}

	restricted := Resolve("ADMIN", "Production", "Mateur")
	if !restricted.Allows("Production", "Mateur") {
		t.Error("restricted scope must match its own department and location")
	}
	// Conjunction, not disjunction
	if restricted.Allows("Production", "Sousse") {
		t.Error("matching department alone must not be enough")
	}
	if restricted.Allows("Quality", "Mateur") {
		t.Error("matching location alone must not be enough")
	}

	// Invalid matches nothing, never everything
	invalid := Resolve("ADMIN", "", "")
	if invalid.Allows("Production", "Mateur") || invalid.Allows("", "") {
		t.Error("invalid scope must match nothing")
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("SUPERADMIN") != RoleSuperAdmin {
		t.Error("SUPERADMIN should normalize to itself")
	}
	if Normalize("") != RoleAdmin {
		t.Error("blank role should default to ADMIN")
	}
	if Normalize("manager") != RoleAdmin {
		t.Error("unknown role should default to ADMIN")
	}
}
