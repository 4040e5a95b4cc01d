package session

import (
	"regexp"

	"github.com/quadai/quad/internal/apperr"
)

// Session identifiers are URL-safe tokens. Anything outside this alphabet
// (path separators included) is rejected before the id can reach a storage
// path.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID rejects malformed session identifiers. Every entry point that
// turns an identifier into a storage path must call this first.
func ValidateID(id string) error {
	if !identifierPattern.MatchString(id) {
		return apperr.New(apperr.CodeInvalidIdentifier, "invalid session identifier")
	}
	return nil
}
