package audit

import (
	"github.com/upb/restaurant-identity/models"
)

// Builders for the authentication events the identity layer records.
// The password and token never appear in any of them.

// RegisterEvent records a new account
func RegisterEvent(user *models.User, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionRegister).
		WithUser(user).
		WithDetails(map[string]interface{}{"role": user.Role}).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

// LoginSuccessEvent records a successful login
func LoginSuccessEvent(user *models.User, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLoginSuccess).
		WithUser(user).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

// LoginFailureEvent records a rejected login. reason is "not_found" or
// "invalid_credential".
func LoginFailureEvent(email, reason string, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLoginFailure).
		WithEmail(email).
		WithDetails(map[string]interface{}{"reason": reason}).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

// LogoutEvent records a token revocation
func LogoutEvent(user *models.User, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionLogout).
		WithUser(user).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

// PasswordChangedEvent records a password change
func PasswordChangedEvent(user *models.User, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionPasswordChanged).
		WithUser(user).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}

// RateLimitedEvent records a request rejected by a rate-limit tier
func RateLimitedEvent(tier string, retryAfter int, meta RequestMeta) *models.AuditLog {
	return models.NewAuditLog(models.AuditActionRateLimited).
		WithDetails(map[string]interface{}{
			"tier":        tier,
			"retry_after": retryAfter,
		}).
		WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
}
