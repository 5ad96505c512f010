package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "my-profile", "my_profile", "p123"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Main", "has space", "has/slash", "ü", strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsAreProfileScoped(t *testing.T) {
	if Dir("a") == Dir("b") {
		t.Error("profile dirs must differ per profile")
	}
	for _, p := range []string{LockPath("x"), DBPath("x"), BlobDir("x"), LogPath("x")} {
		if !strings.Contains(p, "profiles") || !strings.Contains(p, "x") {
			t.Errorf("path %q not scoped to profile x", p)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve(override) = %q, want flag override to win", got)
	}
}
