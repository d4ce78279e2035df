package users

import (
	"strings"

	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
)

// NormalizeEmail canonicalizes an address: trimmed, lower-cased, non-empty.
// Every path that touches the users table goes through this first.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	return normalized, nil
}
