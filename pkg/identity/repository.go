package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dentage-research/platform/pkg/common/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username       string    `gorm:"uniqueIndex"`
	PasswordHash   string
	Role           string `gorm:"index"`
	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserModel) TableName() string {
	return "users"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&UserModel{})
}

type CreateUserInput struct {
	Username     string
	PasswordHash string
	Role         models.Role
}

func (r *Repository) CreateUser(ctx context.Context, input CreateUserInput) (models.User, error) {
	user := UserModel{
		ID:           uuid.New(),
		Username:     strings.ToLower(strings.TrimSpace(input.Username)),
		PasswordHash: input.PasswordHash,
		Role:         string(input.Role),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.User{}, err
	}
	return mapUserModel(user), nil
}

func (r *Repository) getByUsername(ctx context.Context, username string) (UserModel, error) {
	var user UserModel
	err := r.db.WithContext(ctx).Where("username = ?", strings.ToLower(strings.TrimSpace(username))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserModel{}, ErrUserNotFound
	}
	return user, err
}

func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	return r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"failed_attempts": attempts,
		"locked_until":    lockedUntil,
		"updated_at":      time.Now().UTC(),
	}).Error
}

func (r *Repository) RecordSuccess(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login":      now,
		"updated_at":      now,
	}).Error
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

func mapUserModel(user UserModel) models.User {
	return models.User{
		ID:        user.ID,
		Username:  user.Username,
		Role:      models.Role(user.Role),
		LastLogin: user.LastLogin,
		CreatedAt: user.CreatedAt,
	}
}
