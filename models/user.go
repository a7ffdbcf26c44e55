package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the access level of a user
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// DefaultRole is assigned when registration does not specify one
const DefaultRole = RoleCustomer

// Roles lists every valid role
var Roles = []Role{RoleCustomer, RoleStaff, RoleAdmin}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// User is a persisted credential record
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FirstName    string    `json:"firstName" db:"first_name"`
	LastName     string    `json:"lastName" db:"last_name"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// NewUser creates a new User with a fresh ID. The email is normalized and
// an empty role falls back to DefaultRole.
func NewUser(email, passwordHash, firstName, lastName string, role Role) *User {
	if role == "" {
		role = DefaultRole
	}
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasRole reports whether the user's role is one of allowed
func (u *User) HasRole(allowed ...Role) bool {
	for _, r := range allowed {
		if u.Role == r {
			return true
		}
	}
	return false
}

// UserSummary is the public view of a user returned on register and login
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
}

// Profile is the public view of a user returned by the profile endpoint
type Profile struct {
	UserSummary
	CreatedAt time.Time `json:"createdAt"`
}

// Summary returns the public fields of the user
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
	}
}

// Profile returns the public profile of the user
func (u *User) Profile() Profile {
	return Profile{
		UserSummary: u.Summary(),
		CreatedAt:   u.CreatedAt,
	}
}
