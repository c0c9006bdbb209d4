// internal/supervisor/env.go
package supervisor

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Environment variables the daemon injects into children for
// authentication and self-reporting. These are layered last during
// composition so profile values cannot shadow them.
const (
	EnvAuthToken      = "REMCLI_AUTH_TOKEN"
	EnvCredentialsDir = "REMCLI_CREDENTIALS_DIR"
	EnvControlURL     = "REMCLI_CONTROL_URL"
	EnvSessionTag     = "REMCLI_SESSION_TAG"
)

var authVarNames = []string{EnvAuthToken, EnvCredentialsDir, EnvControlURL, EnvSessionTag}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// composeOverlay builds the environment overrides for a child window.
// Profile values are expanded (`${VAR}` form) against the daemon's own
// process environment; references to absent variables are left literal.
// Auth variables are overlaid last. If any known auth variable still
// contains an unexpanded reference after composition, spawning must not
// proceed: the returned error names both the outer variable and the
// missing reference.
func composeOverlay(profile, auth map[string]string) (map[string]string, error) {
	overlay := make(map[string]string, len(profile)+len(auth))

	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		overlay[k] = expandAgainstProcessEnv(profile[k])
	}

	for k, v := range auth {
		overlay[k] = v
	}

	for _, name := range authVarNames {
		value, ok := overlay[name]
		if !ok {
			continue
		}
		if ref := firstUnexpandedRef(value); ref != "" {
			return nil, fmt.Errorf("auth variable %s references undefined %s", name, ref)
		}
	}
	return overlay, nil
}

// expandAgainstProcessEnv substitutes ${VAR} references using the
// daemon's process environment, preserving references to unset variables
// so they remain detectable.
func expandAgainstProcessEnv(value string) string {
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// firstUnexpandedRef returns the first ${VAR} reference remaining in
// value, or the empty string.
func firstUnexpandedRef(value string) string {
	if !strings.Contains(value, "${") {
		return ""
	}
	match := envRefPattern.FindString(value)
	return match
}
