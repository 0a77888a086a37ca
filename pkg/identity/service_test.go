package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentage-research/platform/pkg/common/models"
)

func newTestService(t *testing.T, maxAttempts int, window time.Duration) (*Service, *Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())

	return NewService(repo, NewMemoryTokenStore(time.Hour), maxAttempts, window), repo
}

func createUser(t *testing.T, repo *Repository, username, password string, role models.Role) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = repo.CreateUser(context.Background(), CreateUserInput{
		Username: username, PasswordHash: string(hash), Role: role,
	})
	require.NoError(t, err)
}

func TestLoginIssuesResolvableToken(t *testing.T) {
	service, repo := newTestService(t, 5, 5*time.Minute)
	ctx := context.Background()
	createUser(t, repo, "supervisor", "secret", models.RoleSupervisor)

	resp, err := service.Login(ctx, models.LoginRequest{Username: "supervisor", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, resp.Role)

	user, err := service.Resolve(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "supervisor", user.Username)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	service, repo := newTestService(t, 5, 5*time.Minute)
	createUser(t, repo, "pi", "secret", models.RolePI)

	_, err := service.Login(context.Background(), models.LoginRequest{Username: "pi", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	service, repo := newTestService(t, 3, 5*time.Minute)
	ctx := context.Background()
	createUser(t, repo, "pi", "secret", models.RolePI)

	for i := 0; i < 2; i++ {
		_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	// Correct password is refused while the lock holds.
	_, err = service.Login(ctx, models.LoginRequest{Username: "pi", Password: "secret"})
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLockExpiresAfterWindow(t *testing.T) {
	service, repo := newTestService(t, 1, 10*time.Millisecond)
	ctx := context.Background()
	createUser(t, repo, "pi", "secret", models.RolePI)

	_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	time.Sleep(20 * time.Millisecond)
	_, err = service.Login(ctx, models.LoginRequest{Username: "pi", Password: "secret"})
	assert.NoError(t, err)
}

func TestSuccessfulLoginResetsFailureCount(t *testing.T) {
	service, repo := newTestService(t, 3, 5*time.Minute)
	ctx := context.Background()
	createUser(t, repo, "pi", "secret", models.RolePI)

	for i := 0; i < 2; i++ {
		_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "secret"})
	require.NoError(t, err)

	// The counter starts over: two more misses do not lock.
	for i := 0; i < 2; i++ {
		_, err := service.Login(ctx, models.LoginRequest{Username: "pi", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestEnsureDefaultUsersSeedsOnce(t *testing.T) {
	service, repo := newTestService(t, 5, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, service.EnsureDefaultUsers(ctx, "sup-pass", "pi-pass"))
	count, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, service.EnsureDefaultUsers(ctx, "sup-pass", "pi-pass"))
	count, err = repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, Allows(models.RoleSupervisor, OpManagePatients))
	assert.True(t, Allows(models.RoleSupervisor, OpSubmitEstimates))
	assert.True(t, Allows(models.RolePI, OpViewBlinded))
	assert.True(t, Allows(models.RolePI, OpSubmitEstimates))
	assert.False(t, Allows(models.RolePI, OpManagePatients))
	assert.False(t, Allows(models.RolePI, OpViewAnalysis))
	assert.False(t, Allows(models.Role("stranger"), OpViewBlinded))
}
