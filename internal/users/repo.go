package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
)

// Repository exposes user persistence operations. It is bound to whatever
// GORM handle it was constructed with; inside a unit of work that handle is
// the open transaction, so nothing here commits.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateOrUpdatePending upserts a registration in a single statement. A
// missing user is inserted pending; a pending user gets the new password
// hash; an active or locked row dodges the update entirely. The insert must
// not surface a unique violation: on Postgres that would poison the
// enclosing transaction, so the conflict resolves inside the statement and
// the losing registration just sees the winner's row. The row is then
// locked for the remainder of the transaction.
func (r *Repository) CreateOrUpdatePending(ctx context.Context, email, passwordHash string) (*models.User, error) {
	candidate := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Status:       enums.UserStatusPending,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]any{
			"password_hash": passwordHash,
			"updated_at":    time.Now().UTC(),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("users.status = ?", enums.UserStatusPending),
		}},
	}).Create(candidate).Error
	if err != nil {
		return nil, err
	}
	return r.GetByEmailForUpdate(ctx, email)
}

// GetByEmailForUpdate loads a user and locks the row until the enclosing
// transaction ends.
func (r *Repository) GetByEmailForUpdate(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("email = ?", email).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail retrieves the user matching the provided email without locking.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetActive flips the user into the active state.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          enums.UserStatusActive,
			"failed_attempts": 0,
		}).Error
}

// SetLastCodeSentAt refreshes the timestamp of the most recent code email.
func (r *Repository) SetLastCodeSentAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_code_sent_at", at).Error
}

// RecordFailedActivation bumps failed_attempts and locks the account once the
// threshold is reached. Locking is one-way. Returns whether the account is
// now locked.
func (r *Repository) RecordFailedActivation(ctx context.Context, id uuid.UUID, maxAttempts int) (bool, error) {
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1")).Error; err != nil {
		return false, err
	}

	user, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if user.Status == enums.UserStatusLocked {
		return true, nil
	}
	if maxAttempts > 0 && user.FailedAttempts >= maxAttempts {
		if err := r.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ?", id).
			UpdateColumn("status", enums.UserStatusLocked).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
