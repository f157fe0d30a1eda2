package util

import (
	"strings"

	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
)

// NormalizeEmail trims and lowercases an address and rejects anything that
// is not local@domain.tld shaped.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if len(email) < 3 || strings.Contains(email, `"`) {
		return "", identity.InvalidRequest("Invalid email")
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") || !strings.Contains(domain, ".") {
		return "", identity.InvalidRequest("Invalid email")
	}
	return email, nil
}
