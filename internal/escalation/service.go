package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
)

const revokedKeyPrefix = "escalation:revoked:"

// SecretSource supplies the bcrypt hash of a user's escalation secret. The
// secret is stored apart from the login password.
type SecretSource interface {
	EscalationSecretOf(ctx context.Context, userID int64) (string, error)
}

// MembershipSource supplies the user's memberships for admin role discovery.
type MembershipSource interface {
	MembershipsOf(ctx context.Context, userID int64) ([]membership.Membership, error)
}

// Actor identifies the user requesting escalation.
type Actor struct {
	ID        int64
	UserTypes []registry.UserType
}

// Service mints and revokes admin tokens.
//
// Tokens are stateless, so de-escalation keeps a revocation record in Redis
// keyed by token ID with a TTL equal to the token's remaining life. The
// record prunes itself when the token would have expired anyway, keeping the
// revocation set bounded under escalate/de-escalate churn.
type Service struct {
	codec       *TokenCodec
	secrets     SecretSource
	memberships MembershipSource
	registry    *registry.Registry
	client      *redis.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds a Service instance.
func NewService(codec *TokenCodec, secrets SecretSource, memberships MembershipSource, reg *registry.Registry, client *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		codec:       codec,
		secrets:     secrets,
		memberships: memberships,
		registry:    reg,
		client:      client,
		logger:      logger,
		now:         time.Now,
	}
}

// Escalate verifies the secondary credential and mints an admin token with
// a fixed 900 second lifetime.
func (s *Service) Escalate(ctx context.Context, actor Actor, escalationPassword string) (*AdminSession, error) {
	isAdmin := false
	for _, t := range actor.UserTypes {
		if t == registry.UserTypeGlobalAdmin {
			isAdmin = true
		}
	}
	if !isAdmin {
		return nil, shared.ErrNotAdmin
	}

	hash, err := s.secrets.EscalationSecretOf(ctx, actor.ID)
	if err != nil {
		// A missing secret must be indistinguishable from a wrong one.
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidSecret
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(escalationPassword)); err != nil {
		return nil, ErrInvalidSecret
	}

	adminRoles, err := s.adminRolesOf(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	claims := Claims{
		TokenID:     uuid.NewString(),
		UserID:      actor.ID,
		AdminRoles:  adminRoles,
		AdminRights: s.registry.RightsFor(registry.UserTypeGlobalAdmin, adminRoles),
		IssuedAt:    now,
		ExpiresAt:   now.Add(AdminSessionTTL),
	}
	token, err := s.codec.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("escalation: encode token: %w", err)
	}
	return &AdminSession{
		AdminToken: token,
		AdminRoles: adminRoles,
		ExpiresIn:  int(AdminSessionTTL / time.Second),
	}, nil
}

// Deescalate revokes the token ahead of its natural expiry.
func (s *Service) Deescalate(ctx context.Context, rawToken string) error {
	claims, err := s.codec.Decode(rawToken)
	if err != nil {
		return err
	}
	remaining := time.Until(claims.ExpiresAt)
	if remaining <= 0 {
		// Already dead; nothing to record.
		return nil
	}
	if s.client == nil {
		return errors.New("escalation: revocation store unavailable")
	}
	return s.client.Set(ctx, revokedKeyPrefix+claims.TokenID, 1, remaining).Err()
}

// Verify checks signature, expiry and revocation, returning the claims of a
// currently valid admin token.
func (s *Service) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if rawToken == "" {
		return Claims{}, ErrTokenRequired
	}
	claims, err := s.codec.Decode(rawToken)
	if err != nil {
		return Claims{}, err
	}
	if s.now().After(claims.ExpiresAt) {
		return Claims{}, ErrTokenExpired
	}
	if s.client != nil {
		revoked, err := s.client.Exists(ctx, revokedKeyPrefix+claims.TokenID).Result()
		if err != nil {
			return Claims{}, fmt.Errorf("escalation: revocation lookup: %w", err)
		}
		if revoked > 0 {
			return Claims{}, ErrTokenRevoked
		}
	}
	return claims, nil
}

// adminRolesOf collects the user's roles defined under the global-admin
// user type, wherever the membership rows live.
func (s *Service) adminRolesOf(ctx context.Context, userID int64) ([]string, error) {
	memberships, err := s.memberships.MembershipsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var roles []string
	for _, m := range memberships {
		if !m.IsActive {
			continue
		}
		for _, role := range m.Roles {
			if _, ok := s.registry.Lookup(registry.UserTypeGlobalAdmin, role); !ok {
				continue
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles, nil
}
