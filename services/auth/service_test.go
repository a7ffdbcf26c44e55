package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/repositories/memory"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/audit"
	"github.com/upb/restaurant-identity/services/credential"
	"github.com/upb/restaurant-identity/services/password"
	"github.com/upb/restaurant-identity/services/token"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAudit) Record(log *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
}

func (r *recordingAudit) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type fixture struct {
	svc     *Service
	tokens  *token.Service
	users   *memory.UserRepository
	events  *memory.AuditRepository
	audit   *recordingAudit
	metrics *observability.PrometheusMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepository()
	store := credential.NewStore(users, password.NewBcryptHasher(bcrypt.MinCost), zap.NewNop())

	tokens, err := token.NewService(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
		Issuer: "test",
	}, token.NewMemoryDenylist(), zap.NewNop())
	require.NoError(t, err)

	metrics, err := observability.NewPrometheusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := &recordingAudit{}
	events := memory.NewAuditRepository()
	return &fixture{
		svc:     NewService(store, tokens, events, rec, metrics, zap.NewNop()),
		tokens:  tokens,
		users:   users,
		events:  events,
		audit:   rec,
		metrics: metrics,
	}
}

func registerInput() RegisterInput {
	return RegisterInput{
		FirstName: "John",
		LastName:  "Doe",
		Email:     "John@Example.com",
		Password:  "Password123",
	}
}

var meta = audit.RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.1", UserAgent: "test"}

func TestService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", res.User.Email)
	assert.Equal(t, models.RoleCustomer, res.User.Role)
	assert.NotEmpty(t, res.Token)

	claims, err := f.tokens.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID.String(), claims.Subject)
	assert.Equal(t, models.RoleCustomer, claims.Role)

	assert.Equal(t, 1, f.users.Count())
	assert.Equal(t, []models.AuditAction{models.AuditActionRegister}, f.audit.actions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(OpRegister, OutcomeSuccess)))
}

func TestService_RegisterDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)

	in := registerInput()
	in.Email = "  JOHN@example.COM "
	_, err = f.svc.Register(ctx, in, meta)
	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	assert.Equal(t, "User already exists with this email", services.GetErrorMessage(err))
	assert.Equal(t, 1, f.users.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(OpRegister, OutcomeConflict)))
}

func TestService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     LoginInput
		checkErr  func(error) bool
		message   string
		outcome   string
		wantToken bool
	}{
		{
			name:      "valid credentials",
			input:     LoginInput{Email: "john@example.com", Password: "Password123"},
			outcome:   OutcomeSuccess,
			wantToken: true,
		},
		{
			name:      "email is case insensitive",
			input:     LoginInput{Email: " JOHN@EXAMPLE.COM", Password: "Password123"},
			outcome:   OutcomeSuccess,
			wantToken: true,
		},
		{
			name:     "unknown email",
			input:    LoginInput{Email: "nobody@example.com", Password: "Password123"},
			checkErr: services.IsNotFoundError,
			message:  "User not found",
			outcome:  OutcomeNotFound,
		},
		{
			name:     "wrong password",
			input:    LoginInput{Email: "john@example.com", Password: "Password124"},
			checkErr: services.IsInvalidCredentialError,
			message:  "Invalid credentials",
			outcome:  OutcomeInvalidCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(OpLogin, tt.outcome))

			res, err := f.svc.Login(ctx, tt.input, meta)
			if tt.wantToken {
				require.NoError(t, err)
				assert.Equal(t, registered.User.ID, res.User.ID)
				claims, err := f.tokens.Verify(ctx, res.Token)
				require.NoError(t, err)
				assert.Equal(t, registered.User.ID.String(), claims.Subject)
			} else {
				require.Error(t, err)
				assert.Nil(t, res)
				assert.True(t, tt.checkErr(err))
				assert.Equal(t, tt.message, services.GetErrorMessage(err))
			}

			after := testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(OpLogin, tt.outcome))
			assert.Equal(t, before+1, after)
		})
	}

	actions := f.audit.actions()
	assert.Contains(t, actions, models.AuditActionLoginSuccess)
	assert.Contains(t, actions, models.AuditActionLoginFailure)
}

func TestService_LoginFailureAuditOmitsPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: "Secret123"}, meta)
	require.Error(t, err)

	require.Len(t, f.audit.logs, 1)
	log := f.audit.logs[0]
	assert.Equal(t, models.AuditActionLoginFailure, log.Action)
	assert.Equal(t, "nobody@example.com", log.Email)
	assert.NotContains(t, string(log.Details), "Secret123")
	assert.Contains(t, string(log.Details), OutcomeNotFound)
}

func TestService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)
	claims, err := f.tokens.Verify(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, res.User, claims, meta))

	_, err = f.tokens.Verify(ctx, res.Token)
	assert.True(t, services.IsInvalidTokenError(err))
	assert.Contains(t, f.audit.actions(), models.AuditActionLogout)
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, res.User, "WrongPass1", "NewPassword1", meta)
	assert.True(t, services.IsInvalidCredentialError(err))

	require.NoError(t, f.svc.ChangePassword(ctx, res.User, "Password123", "NewPassword1", meta))

	_, err = f.svc.Login(ctx, LoginInput{Email: "john@example.com", Password: "Password123"}, meta)
	assert.True(t, services.IsInvalidCredentialError(err))

	_, err = f.svc.Login(ctx, LoginInput{Email: "john@example.com", Password: "NewPassword1"}, meta)
	assert.NoError(t, err)

	assert.Contains(t, f.audit.actions(), models.AuditActionPasswordChanged)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthEventsTotal.WithLabelValues(OpChangePassword, OutcomeInvalidCredential)))
}

func TestService_GetUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)

	user, err := f.svc.GetUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, res.User.Email, user.Email)

	_, err = f.svc.GetUser(ctx, uuid.New())
	assert.True(t, services.IsNotFoundError(err))
}

func TestNewService_NilCollaborators(t *testing.T) {
	users := memory.NewUserRepository()
	store := credential.NewStore(users, password.NewBcryptHasher(bcrypt.MinCost), zap.NewNop())
	tokens, err := token.NewService(token.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour}, nil, zap.NewNop())
	require.NoError(t, err)

	svc := NewService(store, tokens, nil, nil, nil, zap.NewNop())
	res, err := svc.Register(context.Background(), registerInput(), meta)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	logs, err := svc.Events(context.Background(), res.User.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestService_Events(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, registerInput(), meta)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, action := range []models.AuditAction{
		models.AuditActionRegister,
		models.AuditActionLoginSuccess,
		models.AuditActionLogout,
	} {
		log := models.NewAuditLog(action).WithUser(res.User)
		log.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, f.events.Insert(ctx, log))
	}
	require.NoError(t, f.events.Insert(ctx, models.NewAuditLog(models.AuditActionRateLimited)))

	logs, err := f.svc.Events(ctx, res.User.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.AuditActionLogout, logs[0].Action)
	assert.Equal(t, models.AuditActionRegister, logs[2].Action)

	logs, err = f.svc.Events(ctx, res.User.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionLoginSuccess, logs[0].Action)

	logs, err = f.svc.Events(ctx, res.User.ID, 10, 50)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)

	_, err = f.svc.Events(ctx, uuid.New(), 10, 0)
	assert.True(t, services.IsNotFoundError(err))
}
