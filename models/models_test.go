package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// User tests
func TestNewUser(t *testing.T) {
	user := NewUser("  John@Example.COM ", "hashed", " John ", "Doe", RoleStaff)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "john@example.com", user.Email)
	assert.Equal(t, "hashed", user.PasswordHash)
	assert.Equal(t, "John", user.FirstName)
	assert.Equal(t, "Doe", user.LastName)
	assert.Equal(t, RoleStaff, user.Role)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)
}

func TestNewUser_DefaultRole(t *testing.T) {
	user := NewUser("a@b.com", "hashed", "Ann", "Lee", "")
	assert.Equal(t, RoleCustomer, user.Role)
}

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("owner").Valid())
	assert.False(t, Role("ADMIN").Valid())
	assert.False(t, Role("").Valid())
}

func TestUser_HasRole(t *testing.T) {
	customer := NewUser("c@x.com", "h", "C", "C", RoleCustomer)
	admin := NewUser("a@x.com", "h", "A", "A", RoleAdmin)

	assert.False(t, customer.HasRole(RoleAdmin))
	assert.True(t, customer.HasRole(RoleStaff, RoleCustomer))
	assert.True(t, admin.HasRole(RoleAdmin))
	assert.False(t, admin.HasRole())
}

func TestUser_JSONOmitsPasswordHash(t *testing.T) {
	user := NewUser("john@example.com", "$2a$10$secret-hash", "John", "Doe", RoleCustomer)

	data, err := json.Marshal(user)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret-hash")
	assert.NotContains(t, string(data), "password")
}

func TestUser_Profile(t *testing.T) {
	user := NewUser("john@example.com", "hash", "John", "Doe", RoleCustomer)

	profile := user.Profile()
	assert.Equal(t, user.ID, profile.ID)
	assert.Equal(t, "john@example.com", profile.Email)
	assert.Equal(t, user.CreatedAt, profile.CreatedAt)

	data, err := json.Marshal(profile)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "John", decoded["firstName"])
	assert.Contains(t, decoded, "createdAt")
	assert.NotContains(t, decoded, "passwordHash")
}

// AuditLog tests
func TestNewAuditLog(t *testing.T) {
	log := NewAuditLog(AuditActionLoginSuccess)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, AuditActionLoginSuccess, log.Action)
	assert.False(t, log.Timestamp.IsZero())
	assert.Nil(t, log.UserID)
}

func TestAuditLog_BuilderMethods(t *testing.T) {
	user := NewUser("john@example.com", "hash", "John", "Doe", RoleCustomer)

	log := NewAuditLog(AuditActionRegister).
		WithUser(user).
		WithRequest("req-1", "10.0.0.1", "curl/8").
		WithDetails(map[string]string{"role": "customer"})

	require.NotNil(t, log.UserID)
	assert.Equal(t, user.ID, *log.UserID)
	assert.Equal(t, "john@example.com", log.Email)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
	assert.JSONEq(t, `{"role":"customer"}`, string(log.Details))

	anon := NewAuditLog(AuditActionLoginFailure).WithUser(nil).WithEmail(" Who@X.com")
	assert.Nil(t, anon.UserID)
	assert.Equal(t, "who@x.com", anon.Email)
}
