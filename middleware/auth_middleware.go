package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/token"
	"go.uber.org/zap"
)

// TokenVerifier defines the interface for verifying bearer tokens
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*token.Claims, error)
}

// UserResolver loads the credential record a token refers to
type UserResolver interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthenticateStage resolves the bearer token to a user and attaches both
// to the request context. The record is re-read on every request so role
// changes apply immediately.
type AuthenticateStage struct {
	tokens TokenVerifier
	users  UserResolver
	logger *zap.Logger
}

// Authenticate creates an identity stage
func Authenticate(tokens TokenVerifier, users UserResolver, logger *zap.Logger) *AuthenticateStage {
	return &AuthenticateStage{
		tokens: tokens,
		users:  users,
		logger: logger,
	}
}

// Name implements Stage
func (s *AuthenticateStage) Name() string {
	return "authenticate"
}

// Run implements Stage
func (s *AuthenticateStage) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	ctx := r.Context()
	requestID := GetRequestIDFromContext(ctx)

	tokenString := extractBearerToken(r)
	if tokenString == "" {
		s.logger.Debug("missing bearer token", zap.String("request_id", requestID))
		return nil, services.NewDomainError(services.ErrorTypeUnauthenticated, services.ErrMissingToken.Message, nil)
	}

	claims, err := s.tokens.Verify(ctx, tokenString)
	if err != nil {
		if services.IsInternalError(err) {
			return nil, err
		}
		s.logger.Warn("token verification failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, invalidToken(err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, invalidToken(err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if services.IsNotFoundError(err) {
			s.logger.Warn("token subject no longer exists",
				zap.String("request_id", requestID),
				zap.String("user_id", userID.String()))
			return nil, invalidToken(err)
		}
		return nil, err
	}

	s.logger.Debug("authentication successful",
		zap.String("request_id", requestID),
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()))

	ctx = WithIdentity(ctx, user)
	ctx = WithClaims(ctx, claims)
	return r.WithContext(ctx), nil
}

// AuthorizeStage admits only identities holding one of its roles
type AuthorizeStage struct {
	roles  []models.Role
	logger *zap.Logger
}

// Authorize creates a role guard
func Authorize(logger *zap.Logger, roles ...models.Role) *AuthorizeStage {
	return &AuthorizeStage{roles: roles, logger: logger}
}

// Name implements Stage
func (s *AuthorizeStage) Name() string {
	return "authorize"
}

// Run implements Stage
func (s *AuthorizeStage) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	if err := Check(IdentityFromContext(r.Context()), s.roles...); err != nil {
		if services.IsForbiddenError(err) {
			s.logger.Warn("insufficient permissions",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("user_id", IdentityFromContext(r.Context()).ID.String()))
		}
		return nil, err
	}
	return r, nil
}

// Check decides whether identity may proceed given the allowed roles
func Check(identity *models.User, allowed ...models.Role) error {
	if identity == nil {
		return services.NewDomainError(services.ErrorTypeUnauthenticated, services.ErrNotAuthenticated.Message, nil)
	}
	if !identity.HasRole(allowed...) {
		return services.NewDomainError(services.ErrorTypeForbidden, services.ErrInsufficientPermissions.Message, nil)
	}
	return nil
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Anything but "Bearer <token>" with a single whitespace-free token yields "".
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	token := strings.TrimSpace(parts[1])
	if strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}

func invalidToken(cause error) error {
	return services.NewDomainError(services.ErrorTypeInvalidToken, services.ErrInvalidToken.Message, cause)
}
