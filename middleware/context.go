package middleware

import (
	"context"
	"net"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/services/audit"
	"github.com/upb/restaurant-identity/services/token"
)

// Context key type to avoid collisions
type contextKey string

const (
	// IdentityKey is the context key for the authenticated user
	IdentityKey contextKey = "identity"

	// ClaimsKey is the context key for the verified token claims
	ClaimsKey contextKey = "claims"

	// RequestBodyKey is the context key for the validated request body
	RequestBodyKey contextKey = "request_body"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// IdentityFromContext returns the authenticated user, or nil
func IdentityFromContext(ctx context.Context) *models.User {
	if val := ctx.Value(IdentityKey); val != nil {
		if user, ok := val.(*models.User); ok {
			return user
		}
	}
	return nil
}

// WithIdentity attaches the authenticated user to the context
func WithIdentity(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, IdentityKey, user)
}

// ClaimsFromContext returns the verified token claims, or nil
func ClaimsFromContext(ctx context.Context) *token.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims attaches verified token claims to the context
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// RequestBody returns the body decoded and validated by the Validate stage
func RequestBody[T any](ctx context.Context) (*T, bool) {
	body, ok := ctx.Value(RequestBodyKey).(*T)
	return body, ok
}

// WithRequestBody attaches a validated request body to the context
func WithRequestBody[T any](ctx context.Context, body *T) context.Context {
	return context.WithValue(ctx, RequestBodyKey, body)
}

// ClientIP returns the caller's address without the port. Forwarding headers
// only count once TrustedProxies has accepted them.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestMeta collects the request fields recorded with audit events
func RequestMeta(r *http.Request) audit.RequestMeta {
	return audit.RequestMeta{
		RequestID: GetRequestIDFromContext(r.Context()),
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
