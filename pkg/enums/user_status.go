package enums

import "fmt"

// UserStatus describes the allowed values for the users.status column.
type UserStatus string

const (
	UserStatusPending UserStatus = "pending"
	UserStatusActive  UserStatus = "active"
	UserStatusLocked  UserStatus = "locked"
)

var validUserStatuses = []UserStatus{
	UserStatusPending,
	UserStatusActive,
	UserStatusLocked,
}

// IsValid reports whether the value matches the canonical user status enum.
func (s UserStatus) IsValid() bool {
	for _, candidate := range validUserStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseUserStatus converts the raw string to UserStatus.
func ParseUserStatus(value string) (UserStatus, error) {
	for _, candidate := range validUserStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user status %q", value)
}
