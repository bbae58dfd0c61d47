package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAdmin indicates the caller lacks global-admin capability.
	ErrNotAdmin = errors.New("not an administrator")
	// ErrNotAMember indicates the caller has no membership granting access.
	ErrNotAMember = errors.New("not a member")
)
