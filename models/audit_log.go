package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of authentication event being audited
type AuditAction string

const (
	AuditActionRegister        AuditAction = "register"
	AuditActionLoginSuccess    AuditAction = "login_success"
	AuditActionLoginFailure    AuditAction = "login_failure"
	AuditActionLogout          AuditAction = "logout"
	AuditActionPasswordChanged AuditAction = "password_changed"
	AuditActionRateLimited     AuditAction = "rate_limited"
)

// AuditLog represents an entry in the authentication audit trail
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Email     string          `json:"email,omitempty" db:"email"`
	Action    AuditAction     `json:"action" db:"action"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the user the event refers to
func (a *AuditLog) WithUser(user *User) *AuditLog {
	if user == nil {
		return a
	}
	id := user.ID
	a.UserID = &id
	a.Email = user.Email
	return a
}

// WithEmail sets the email when no user record is available
func (a *AuditLog) WithEmail(email string) *AuditLog {
	a.Email = NormalizeEmail(email)
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
