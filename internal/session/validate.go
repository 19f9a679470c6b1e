package session

import (
	"errors"
	"fmt"
)

// ErrInvalidName reports a session name that cannot be used as a directory.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

// ValidateName accepts 1 to 64 lowercase letters, digits, '-' and '_'.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w %q: must be 1-%d characters", ErrInvalidName, name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w %q: %q is not allowed", ErrInvalidName, name, r)
		}
	}
	return nil
}
