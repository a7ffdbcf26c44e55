package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/repositories"
	"github.com/upb/restaurant-identity/repositories/memory"
	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/password"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore() (*Store, *memory.UserRepository) {
	repo := memory.NewUserRepository()
	return NewStore(repo, password.NewBcryptHasher(bcrypt.MinCost), zap.NewNop()), repo
}

func validParams() CreateParams {
	return CreateParams{
		Email:     "john@example.com",
		Password:  "Password123",
		FirstName: "John",
		LastName:  "Doe",
	}
}

func TestStore_Create(t *testing.T) {
	store, repo := newTestStore()
	ctx := context.Background()

	user, err := store.Create(ctx, validParams())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "john@example.com", user.Email)
	assert.Equal(t, models.RoleCustomer, user.Role)
	assert.NotEqual(t, "Password123", user.PasswordHash)
	assert.NotContains(t, user.PasswordHash, "Password123")
	assert.Equal(t, 1, repo.Count())
}

func TestStore_CreateNormalizesEmail(t *testing.T) {
	store, _ := newTestStore()
	p := validParams()
	p.Email = "  John@Example.COM "

	user, err := store.Create(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", user.Email)
}

func TestStore_CreateDuplicateEmailIgnoresCase(t *testing.T) {
	store, repo := newTestStore()
	ctx := context.Background()

	p := validParams()
	p.Email = "A@x.com"
	_, err := store.Create(ctx, p)
	require.NoError(t, err)

	p.Email = "a@x.com"
	_, err = store.Create(ctx, p)
	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	assert.Equal(t, "User already exists with this email", services.GetErrorMessage(err))
	assert.Equal(t, 1, repo.Count())
}

func TestStore_CreateConcurrentDuplicates(t *testing.T) {
	store, repo := newTestStore()

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(context.Background(), validParams())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, services.IsConflictError(err))
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, repo.Count())
}

func TestStore_CreateRejectsUnknownRole(t *testing.T) {
	store, repo := newTestStore()
	p := validParams()
	p.Role = "superuser"

	_, err := store.Create(context.Background(), p)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	require.Len(t, services.GetViolations(err), 1)
	assert.Equal(t, "role", services.GetViolations(err)[0].Field)
	assert.Equal(t, 0, repo.Count())
}

func TestStore_CreatePasswordTooLong(t *testing.T) {
	store, repo := newTestStore()
	p := validParams()
	p.Password = "Aa1" + strings.Repeat("x", 80)

	_, err := store.Create(context.Background(), p)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.Equal(t, 0, repo.Count())
}

func TestStore_CreateCancelledLeavesNoRecord(t *testing.T) {
	store, repo := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Create(ctx, validParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, repo.Count())
}

func TestStore_VerifyPassword(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	passwords := []string{"Password123", "Zz9-with spaces", "ÜnicodeP4ss"}
	for _, pw := range passwords {
		t.Run(pw, func(t *testing.T) {
			p := validParams()
			p.Email = uuid.NewString() + "@example.com"
			p.Password = pw
			user, err := store.Create(ctx, p)
			require.NoError(t, err)

			ok, err := store.VerifyPassword(ctx, user, pw)
			require.NoError(t, err)
			assert.True(t, ok)

			for _, other := range []string{"", pw + "x", strings.ToLower(pw), "Password124"} {
				ok, err := store.VerifyPassword(ctx, user, other)
				require.NoError(t, err)
				assert.False(t, ok, "candidate %q", other)
			}
		})
	}
}

func TestStore_VerifyPasswordAfterHasherSwitch(t *testing.T) {
	repo := memory.NewUserRepository()
	ctx := context.Background()

	bcryptHasher, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	user, err := NewStore(repo, bcryptHasher, zap.NewNop()).Create(ctx, validParams())
	require.NoError(t, err)

	argonCfg := password.DefaultConfig()
	argonCfg.Algorithm = password.AlgorithmArgon2id
	argonCfg.Argon2Memory = 8 * 1024
	argonCfg.Argon2Time = 1
	argonCfg.Argon2Parallelism = 1
	argonHasher, err := password.New(argonCfg)
	require.NoError(t, err)
	store := NewStore(repo, argonHasher, zap.NewNop())

	stored, err := store.FindByEmail(ctx, user.Email)
	require.NoError(t, err)

	ok, err := store.VerifyPassword(ctx, stored, "Password123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.VerifyPassword(ctx, stored, "Password124")
	require.NoError(t, err)
	assert.False(t, ok)

	// Changing the password rehashes with the new algorithm
	require.NoError(t, store.ChangePassword(ctx, stored, "Password123", "NewPassword1"))
	stored, err = store.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"), stored.PasswordHash)

	ok, err = store.VerifyPassword(ctx, stored, "NewPassword1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_VerifyPasswordNilUser(t *testing.T) {
	store, _ := newTestStore()
	ok, err := store.VerifyPassword(context.Background(), nil, "x")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Find(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	created, err := store.Create(ctx, validParams())
	require.NoError(t, err)

	byEmail, err := store.FindByEmail(ctx, "JOHN@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	_, err = store.FindByEmail(ctx, "nobody@example.com")
	assert.True(t, services.IsNotFoundError(err))

	_, err = store.FindByID(ctx, uuid.New())
	assert.True(t, services.IsNotFoundError(err))
}

func TestStore_ChangePassword(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	user, err := store.Create(ctx, validParams())
	require.NoError(t, err)
	oldHash := user.PasswordHash

	err = store.ChangePassword(ctx, user, "WrongPass1", "NewPassword1")
	assert.True(t, services.IsInvalidCredentialError(err))

	require.NoError(t, store.ChangePassword(ctx, user, "Password123", "NewPassword1"))
	assert.NotEqual(t, oldHash, user.PasswordHash)

	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)

	ok, err := store.VerifyPassword(ctx, stored, "NewPassword1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.VerifyPassword(ctx, stored, "Password123")
	require.NoError(t, err)
	assert.False(t, ok)
}

// MockUserRepository is a testify mock of repositories.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	return m.Called(ctx, id, hash, updatedAt).Error(0)
}

func (m *MockUserRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestStore_StorageFailuresAreInternal(t *testing.T) {
	repo := new(MockUserRepository)
	store := NewStore(repo, password.NewBcryptHasher(bcrypt.MinCost), zap.NewNop())
	ctx := context.Background()
	dbErr := errors.New("connection reset by peer")

	repo.On("Create", mock.Anything, mock.Anything).Return(dbErr)
	repo.On("GetByEmail", mock.Anything, "john@example.com").Return(nil, dbErr)
	repo.On("Ping", mock.Anything).Return(dbErr)

	_, err := store.Create(ctx, validParams())
	assert.True(t, services.IsInternalError(err))
	assert.ErrorIs(t, err, dbErr)

	_, err = store.FindByEmail(ctx, "john@example.com")
	assert.True(t, services.IsInternalError(err))

	assert.ErrorIs(t, store.Ping(ctx), dbErr)
	repo.AssertExpectations(t)
}

func TestStore_ChangePasswordRecordVanished(t *testing.T) {
	repo := new(MockUserRepository)
	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	store := NewStore(repo, hasher, zap.NewNop())

	hash, err := hasher.Hash("Password123")
	require.NoError(t, err)
	user := models.NewUser("john@example.com", hash, "John", "Doe", "")

	repo.On("UpdatePassword", mock.Anything, user.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(repositories.ErrUserNotFound)

	err = store.ChangePassword(context.Background(), user, "Password123", "NewPassword1")
	assert.True(t, services.IsNotFoundError(err))
}
