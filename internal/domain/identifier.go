package domain

import (
	"fmt"
	"regexp"
)

// MaxIdentifierLength is the longest identifier accepted by the remote stores
const MaxIdentifierLength = 100

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateIdentifier checks that an item identifier can be used as a
// container name on every supported store
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidIdentifier)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidIdentifier, id, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q may only contain letters, digits, '.', '-' and '_'", ErrInvalidIdentifier, id)
	}
	return nil
}
