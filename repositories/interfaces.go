package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup key
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned when the unique email constraint rejects a write
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserRepository handles credential record persistence.
// Implementations must enforce email uniqueness atomically.
type UserRepository interface {
	// Create persists a new user. Returns ErrDuplicateEmail if the
	// normalized email is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by normalized email. Returns ErrUserNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// UpdatePassword replaces the stored password hash
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, updatedAt time.Time) error

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}

// AuditRepository handles authentication audit trail persistence
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByUserID retrieves audit logs for a user, newest first
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	AuditLogs AuditRepository
}
