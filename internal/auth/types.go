package auth

import (
	"errors"
	"regexp"
)

// identityPattern defines the valid format for requester IDs:
// alphanumeric, dots, hyphens, underscores, colons, 1-64 characters.
// Colons allow namespaced IDs such as "chat:1234".
var identityPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,64}$`)

// maxIdentityLength is the maximum allowed requester ID length.
const maxIdentityLength = 64

// maxLabelLength bounds the display label carried in tokens.
const maxLabelLength = 128

// IsValidIdentityID checks if a requester ID meets format requirements.
func IsValidIdentityID(id string) bool {
	return len(id) <= maxIdentityLength && identityPattern.MatchString(id)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleUser may submit commands and read status.
	RoleUser Role = "user"

	// RoleOperator may additionally stop every device, lock and unlock
	// the scheduler, and read the audit journal. Operators are still
	// rate limited when they submit commands.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles that may appear in a token.
var ValidRoles = []Role{RoleUser, RoleOperator}

// IsValidRole returns true if the role is known.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Identity is the authenticated caller behind a request.
//
// ID is the stable requester key used for rate limiting and audit;
// Label is the human-readable name shown in queue previews.
type Identity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Role  Role   `json:"role"`
}

// Validate checks the identity before a token is minted for it.
func (i Identity) Validate() error {
	if !IsValidIdentityID(i.ID) {
		return ErrInvalidIdentity
	}
	if len(i.Label) > maxLabelLength {
		return ErrInvalidIdentity
	}
	if !IsValidRole(i.Role) {
		return ErrInvalidRole
	}
	return nil
}

// DisplayName returns the label, falling back to the ID.
func (i Identity) DisplayName() string {
	if i.Label != "" {
		return i.Label
	}
	return i.ID
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid    = errors.New("invalid token")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidRole     = errors.New("invalid role")
	ErrForbidden       = errors.New("insufficient permissions")
)
