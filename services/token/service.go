// Package token issues and verifies the signed bearer tokens that carry a
// user's identity between requests.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services"
	"go.uber.org/zap"
)

// Claims is the payload of an identity token
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Config holds token signing configuration
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Now overrides the clock; nil uses time.Now
	Now func() time.Time
}

// Service signs and verifies HS256 identity tokens.
// The secret is copied once at construction and never changes afterwards.
type Service struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	now      func() time.Time
	denylist Denylist
	logger   *zap.Logger
}

// NewService creates a token service. denylist may be nil, in which case
// tokens stay valid until they expire.
func NewService(cfg Config, denylist Denylist, logger *zap.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Service{
		secret:   secret,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		now:      now,
		denylist: denylist,
		logger:   logger,
	}, nil
}

// TTL returns the configured token lifetime
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token binding the user's id and role to a fixed lifetime
func (s *Service) Issue(user *models.User) (string, error) {
	if user == nil {
		return "", errors.New("cannot issue token for nil user")
	}

	now := s.now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature before any claim is trusted, then the expiry,
// issuer and revocation status. Every rejection is reported as the same
// invalid token error so callers cannot tell which check failed.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(s.parserOptions()...)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, invalidToken(err)
	}

	if _, err := claims.UserID(); err != nil {
		return nil, invalidToken(err)
	}
	if !claims.Role.Valid() {
		return nil, invalidToken(fmt.Errorf("unknown role %q", claims.Role))
	}

	if s.denylist != nil && claims.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, services.WrapInternal("failed to check token revocation", err)
		}
		if revoked {
			return nil, invalidToken(errors.New("token revoked"))
		}
	}

	return claims, nil
}

// Revoke denies the token until its natural expiry. Without a deny-list
// this is a no-op.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if s.denylist == nil {
		s.logger.Debug("token revocation requested but no deny-list is configured")
		return nil
	}
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return invalidToken(errors.New("token has no id or expiry"))
	}

	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	if err := s.denylist.Revoke(ctx, claims.ID, remaining); err != nil {
		return services.WrapInternal("failed to revoke token", err)
	}

	s.logger.Info("token revoked",
		zap.String("subject", claims.Subject),
		zap.Duration("remaining", remaining))
	return nil
}

func (s *Service) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}
	return options
}

func invalidToken(cause error) error {
	return services.NewDomainError(services.ErrorTypeInvalidToken, services.ErrInvalidToken.Message, cause)
}
