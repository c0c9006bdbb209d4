// internal/supervisor/env_test.go
package supervisor

import (
	"strings"
	"testing"
)

func TestComposeOverlayExpansion(t *testing.T) {
	t.Setenv("COMPOSE_TEST_BASE", "/opt/tools")

	overlay, err := composeOverlay(map[string]string{
		"PATH_EXTRA": "${COMPOSE_TEST_BASE}/bin",
		"LITERAL":    "plain",
	}, map[string]string{
		EnvControlURL: "http://127.0.0.1:9",
	})
	if err != nil {
		t.Fatal(err)
	}
	if overlay["PATH_EXTRA"] != "/opt/tools/bin" {
		t.Errorf("expansion failed: %s", overlay["PATH_EXTRA"])
	}
	if overlay["LITERAL"] != "plain" {
		t.Errorf("literal mangled: %s", overlay["LITERAL"])
	}
	if overlay[EnvControlURL] != "http://127.0.0.1:9" {
		t.Error("auth variable missing")
	}
}

func TestComposeOverlayAuthWinsOverProfile(t *testing.T) {
	overlay, err := composeOverlay(map[string]string{
		EnvAuthToken: "profile-shadow",
	}, map[string]string{
		EnvAuthToken: "real-token",
	})
	if err != nil {
		t.Fatal(err)
	}
	if overlay[EnvAuthToken] != "real-token" {
		t.Error("auth variables must be layered last")
	}
}

func TestComposeOverlayUnexpandedAuthFailsFast(t *testing.T) {
	_, err := composeOverlay(map[string]string{
		EnvAuthToken: "${COMPOSE_TEST_MISSING_TOKEN}",
	}, nil)
	if err == nil {
		t.Fatal("expected failure for unexpanded auth reference")
	}
	// The error names both the outer variable and the missing reference.
	msg := err.Error()
	for _, want := range []string{EnvAuthToken, "COMPOSE_TEST_MISSING_TOKEN"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q must name %s", msg, want)
		}
	}
}

func TestComposeOverlayNonAuthRefsTolerated(t *testing.T) {
	overlay, err := composeOverlay(map[string]string{
		"CUSTOM": "${COMPOSE_TEST_ALSO_MISSING}",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if overlay["CUSTOM"] != "${COMPOSE_TEST_ALSO_MISSING}" {
		t.Error("unset references outside auth variables stay literal")
	}
}
