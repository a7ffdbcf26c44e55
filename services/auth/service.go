// Package auth orchestrates registration, login and the authenticated
// account operations on top of the credential store and token service.
package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/repositories"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/audit"
	"github.com/upb/restaurant-identity/services/credential"
	"github.com/upb/restaurant-identity/services/token"
	"go.uber.org/zap"
)

// Auth event operation labels
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpLogout         = "logout"
	OpChangePassword = "change_password"
)

// Auth event outcome labels
const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomeInvalidCredential = "invalid_credential"
	OutcomeConflict          = "conflict"
	OutcomeError             = "error"
)

// RegisterInput is a validated registration request
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      models.Role
}

// LoginInput is a validated login request
type LoginInput struct {
	Email    string
	Password string
}

// Result is returned by Register and Login
type Result struct {
	User  *models.User
	Token string
}

// MaxEventPage caps the number of audit events returned per page
const MaxEventPage = 100

// Service runs the account operations. It holds no per-request state.
type Service struct {
	credentials *credential.Store
	tokens      *token.Service
	events      repositories.AuditRepository
	audit       audit.Recorder
	metrics     observability.Metrics
	logger      *zap.Logger
}

// NewService creates an auth service. events, recorder and metrics may be nil.
func NewService(credentials *credential.Store, tokens *token.Service, events repositories.AuditRepository, recorder audit.Recorder, metrics observability.Metrics, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Service{
		credentials: credentials,
		tokens:      tokens,
		events:      events,
		audit:       recorder,
		metrics:     metrics,
		logger:      logger,
	}
}

// Register creates the credential record and issues its first token
func (s *Service) Register(ctx context.Context, in RegisterInput, meta audit.RequestMeta) (*Result, error) {
	user, err := s.credentials.Create(ctx, credential.CreateParams{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      in.Role,
	})
	if err != nil {
		s.metrics.RecordAuthEvent(OpRegister, outcomeOf(err))
		return nil, err
	}

	tok, err := s.tokens.Issue(user)
	if err != nil {
		s.metrics.RecordAuthEvent(OpRegister, OutcomeError)
		return nil, services.WrapInternal("failed to issue token", err)
	}

	s.audit.Record(audit.RegisterEvent(user, meta))
	s.metrics.RecordAuthEvent(OpRegister, OutcomeSuccess)
	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
		zap.String("request_id", meta.RequestID))

	return &Result{User: user, Token: tok}, nil
}

// Login checks the credentials and issues a token. An unknown email and a
// wrong password are reported as different errors.
func (s *Service) Login(ctx context.Context, in LoginInput, meta audit.RequestMeta) (*Result, error) {
	email := models.NormalizeEmail(in.Email)

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if services.IsNotFoundError(err) {
			s.audit.Record(audit.LoginFailureEvent(email, OutcomeNotFound, meta))
			s.metrics.RecordAuthEvent(OpLogin, OutcomeNotFound)
			s.logger.Debug("login for unknown email", zap.String("email", email))
			return nil, err
		}
		s.metrics.RecordAuthEvent(OpLogin, OutcomeError)
		return nil, err
	}

	ok, err := s.credentials.VerifyPassword(ctx, user, in.Password)
	if err != nil {
		s.metrics.RecordAuthEvent(OpLogin, OutcomeError)
		return nil, err
	}
	if !ok {
		s.audit.Record(audit.LoginFailureEvent(email, OutcomeInvalidCredential, meta))
		s.metrics.RecordAuthEvent(OpLogin, OutcomeInvalidCredential)
		s.logger.Info("login rejected", zap.String("user_id", user.ID.String()))
		return nil, services.NewDomainError(services.ErrorTypeInvalidCredential, services.ErrInvalidCredentials.Message, nil)
	}

	tok, err := s.tokens.Issue(user)
	if err != nil {
		s.metrics.RecordAuthEvent(OpLogin, OutcomeError)
		return nil, services.WrapInternal("failed to issue token", err)
	}

	s.audit.Record(audit.LoginSuccessEvent(user, meta))
	s.metrics.RecordAuthEvent(OpLogin, OutcomeSuccess)
	s.logger.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("request_id", meta.RequestID))

	return &Result{User: user, Token: tok}, nil
}

// Logout revokes the presented token
func (s *Service) Logout(ctx context.Context, user *models.User, claims *token.Claims, meta audit.RequestMeta) error {
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		s.metrics.RecordAuthEvent(OpLogout, OutcomeError)
		return err
	}
	s.audit.Record(audit.LogoutEvent(user, meta))
	s.metrics.RecordAuthEvent(OpLogout, OutcomeSuccess)
	return nil
}

// ChangePassword replaces the caller's password after checking the current one
func (s *Service) ChangePassword(ctx context.Context, user *models.User, current, next string, meta audit.RequestMeta) error {
	if err := s.credentials.ChangePassword(ctx, user, current, next); err != nil {
		s.metrics.RecordAuthEvent(OpChangePassword, outcomeOf(err))
		return err
	}
	s.audit.Record(audit.PasswordChangedEvent(user, meta))
	s.metrics.RecordAuthEvent(OpChangePassword, OutcomeSuccess)
	s.logger.Info("password changed",
		zap.String("user_id", user.ID.String()),
		zap.String("request_id", meta.RequestID))
	return nil
}

// GetUser returns the record with the given id
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.credentials.FindByID(ctx, id)
}

// Events returns the audit trail of the user with the given id, newest
// first. limit is clamped to [1, MaxEventPage].
func (s *Service) Events(ctx context.Context, id uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	if _, err := s.credentials.FindByID(ctx, id); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []*models.AuditLog{}, nil
	}

	if limit <= 0 || limit > MaxEventPage {
		limit = MaxEventPage
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.events.GetByUserID(ctx, id, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to load audit events", err)
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}

func outcomeOf(err error) string {
	switch services.GetErrorType(err) {
	case services.ErrorTypeConflict:
		return OutcomeConflict
	case services.ErrorTypeNotFound:
		return OutcomeNotFound
	case services.ErrorTypeInvalidCredential:
		return OutcomeInvalidCredential
	default:
		return OutcomeError
	}
}
