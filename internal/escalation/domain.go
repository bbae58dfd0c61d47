// Package escalation grants short-lived global-admin sessions behind a
// secondary credential.
package escalation

import (
	"errors"
	"time"
)

// AdminSessionTTL is the fixed admin token lifetime. Refreshing the primary
// session never extends it; a compromised admin token dies on schedule.
const AdminSessionTTL = 900 * time.Second

// AdminTokenHeader carries the admin token on gated requests.
const AdminTokenHeader = "X-Admin-Token"

// Escalation errors.
var (
	// ErrInvalidSecret covers wrong secrets and accounts without one, so
	// the response never reveals which it was.
	ErrInvalidSecret = errors.New("escalation: invalid escalation password")
	// ErrTokenRequired indicates a missing admin token.
	ErrTokenRequired = errors.New("escalation: admin token required")
	// ErrTokenExpired indicates the admin token's window has elapsed.
	ErrTokenExpired = errors.New("escalation: admin token expired")
	// ErrTokenRevoked indicates the token was explicitly de-escalated.
	ErrTokenRevoked = errors.New("escalation: admin token revoked")
	// ErrTokenInvalid indicates a malformed or tampered token.
	ErrTokenInvalid = errors.New("escalation: invalid admin token")
)

// Claims is the signed content of an admin token.
type Claims struct {
	TokenID     string    `json:"tokenId"`
	UserID      int64     `json:"userId"`
	AdminRoles  []string  `json:"adminRoles"`
	AdminRights []string  `json:"adminRights"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AdminSession is returned to the caller after a successful escalation.
type AdminSession struct {
	AdminToken string   `json:"adminToken"`
	AdminRoles []string `json:"adminRoles"`
	ExpiresIn  int      `json:"expiresIn"`
}
