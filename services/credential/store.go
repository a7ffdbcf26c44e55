// Package credential owns user records and password verification.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/repositories"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/password"
	"go.uber.org/zap"
)

// CreateParams holds the fields of a new credential record
type CreateParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
}

// Store creates and looks up credential records. Plaintext passwords only
// ever live on the call stack of Create, VerifyPassword and ChangePassword.
type Store struct {
	users  repositories.UserRepository
	hasher password.Hasher
	logger *zap.Logger
}

// NewStore creates a credential store
func NewStore(users repositories.UserRepository, hasher password.Hasher, logger *zap.Logger) *Store {
	return &Store{
		users:  users,
		hasher: hasher,
		logger: logger,
	}
}

// Create hashes the password and persists a new record. The write is a
// single insert, so an abandoned request never leaves a partial record.
func (s *Store) Create(ctx context.Context, p CreateParams) (*models.User, error) {
	role := p.Role
	if role == "" {
		role = models.DefaultRole
	}
	if !role.Valid() {
		return nil, services.NewValidationError([]services.FieldViolation{{
			Field:   "role",
			Message: "Role must be customer, staff, or admin",
			Value:   string(p.Role),
		}})
	}

	hash, err := s.hash(ctx, p.Password)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(p.Email, hash, p.FirstName, p.LastName, role)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, services.ErrDuplicateEmail.Message, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.WrapInternal("failed to create user", err)
	}

	s.logger.Debug("credential created", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// FindByEmail looks a record up by normalized email
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	return s.lookupResult(user, err)
}

// FindByID looks a record up by id
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	return s.lookupResult(user, err)
}

// VerifyPassword reports whether candidate matches the stored hash.
// The comparison is constant time inside the hasher.
func (s *Store) VerifyPassword(ctx context.Context, user *models.User, candidate string) (bool, error) {
	if user == nil {
		return false, nil
	}
	ok, err := runBlocking(ctx, func() (bool, error) {
		return s.hasher.Verify(candidate, user.PasswordHash)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, services.WrapInternal("failed to verify password", err)
	}
	return ok, nil
}

// ChangePassword verifies current and replaces the hash with one for next
func (s *Store) ChangePassword(ctx context.Context, user *models.User, current, next string) error {
	ok, err := s.VerifyPassword(ctx, user, current)
	if err != nil {
		return err
	}
	if !ok {
		return services.NewDomainError(services.ErrorTypeInvalidCredential, services.ErrInvalidCredentials.Message, nil)
	}

	hash, err := s.hash(ctx, next)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return services.NewDomainError(services.ErrorTypeNotFound, services.ErrUserNotFound.Message, err)
		}
		return services.WrapInternal("failed to update password", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = now

	s.logger.Debug("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// Ping checks the backing repository
func (s *Store) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *Store) hash(ctx context.Context, plaintext string) (string, error) {
	hash, err := runBlocking(ctx, func() (string, error) {
		return s.hasher.Hash(plaintext)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, password.ErrPasswordTooLong) {
			return "", services.NewValidationError([]services.FieldViolation{{
				Field:   "password",
				Message: fmt.Sprintf("Password must be at most %d bytes", password.MaxPasswordBytes),
				Value:   "",
			}})
		}
		return "", services.WrapInternal("failed to hash password", err)
	}
	return hash, nil
}

func (s *Store) lookupResult(user *models.User, err error) (*models.User, error) {
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, services.ErrUserNotFound.Message, err)
		}
		return nil, services.WrapInternal("failed to look up user", err)
	}
	return user, nil
}

// runBlocking runs a CPU-heavy function off the request goroutine so the
// caller can stop waiting when ctx is cancelled. The function itself runs to
// completion and its result is discarded.
func runBlocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
