package identity

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
)

type Service struct {
	repo          *Repository
	tokens        TokenStore
	maxAttempts   int
	lockoutWindow time.Duration
}

func NewService(repo *Repository, tokens TokenStore, maxAttempts int, lockoutWindow time.Duration) *Service {
	return &Service{repo: repo, tokens: tokens, maxAttempts: maxAttempts, lockoutWindow: lockoutWindow}
}

// Login verifies credentials and mints a session token. Repeated failures
// lock the account for the configured window.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return models.LoginResponse{}, ErrInvalidCredentials
	}

	user, err := s.repo.getByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.LoginResponse{}, ErrInvalidCredentials
		}
		return models.LoginResponse{}, err
	}

	now := time.Now().UTC()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return models.LoginResponse{}, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		attempts := user.FailedAttempts + 1
		var lockedUntil *time.Time
		if attempts >= s.maxAttempts {
			until := now.Add(s.lockoutWindow)
			lockedUntil = &until
			attempts = 0
			logger.Log.WithField("username", user.Username).Warn("account locked after repeated failed logins")
		}
		if err := s.repo.RecordFailure(ctx, user.ID, attempts, lockedUntil); err != nil {
			return models.LoginResponse{}, err
		}
		if lockedUntil != nil {
			return models.LoginResponse{}, ErrAccountLocked
		}
		return models.LoginResponse{}, ErrInvalidCredentials
	}

	if err := s.repo.RecordSuccess(ctx, user.ID); err != nil {
		return models.LoginResponse{}, err
	}

	token, err := s.tokens.Issue(ctx, mapUserModel(user))
	if err != nil {
		return models.LoginResponse{}, err
	}
	return models.LoginResponse{Token: token, Role: models.Role(user.Role)}, nil
}

func (s *Service) Resolve(ctx context.Context, token string) (models.User, error) {
	return s.tokens.Resolve(ctx, token)
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// EnsureDefaultUsers seeds the two study accounts on an empty user table so
// a fresh deployment is reachable. Passwords come from the environment and
// must be rotated after first login.
func (s *Service) EnsureDefaultUsers(ctx context.Context, supervisorPassword, piPassword string) error {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []struct {
		username string
		password string
		role     models.Role
	}{
		{"supervisor", supervisorPassword, models.RoleSupervisor},
		{"pi", piPassword, models.RolePI},
	}
	for _, seed := range seeds {
		if seed.password == "" {
			logger.Log.WithField("username", seed.username).Warn("no seed password configured, skipping default user")
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := s.repo.CreateUser(ctx, CreateUserInput{
			Username:     seed.username,
			PasswordHash: string(hash),
			Role:         seed.role,
		}); err != nil {
			return err
		}
		logger.Log.WithField("username", seed.username).Info("seeded default user")
	}
	return nil
}
