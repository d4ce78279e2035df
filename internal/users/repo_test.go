package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
)

func setupUsersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	users := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  failed_attempts INTEGER NOT NULL DEFAULT 0,
  last_code_sent_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(users).Error)
	return db
}

func createUser(t *testing.T, db *gorm.DB, status enums.UserStatus) *models.User {
	t.Helper()

	user := &models.User{
		ID:           uuid.New(),
		Email:        fmt.Sprintf("vf_test_%s@example.com", uuid.NewString()),
		PasswordHash: "hash",
		Status:       status,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestFindByEmail(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusPending)

	found, err := repo.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, enums.UserStatusPending, found.Status)

	_, err = repo.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFindByID(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusActive)

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, found.Email)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSetActiveResetsFailedAttempts(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusPending)
	require.NoError(t, db.Model(user).UpdateColumn("failed_attempts", 3).Error)

	require.NoError(t, repo.SetActive(ctx, user.ID))

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusActive, reloaded.Status)
	assert.Equal(t, 0, reloaded.FailedAttempts)
}

func TestSetLastCodeSentAt(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusPending)
	assert.Nil(t, user.LastCodeSentAt)

	sentAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastCodeSentAt(ctx, user.ID, sentAt))

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastCodeSentAt)
	assert.True(t, reloaded.LastCodeSentAt.Equal(sentAt))
}

func TestRecordFailedActivationLocksAtThreshold(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusPending)

	for i := 1; i < 5; i++ {
		locked, err := repo.RecordFailedActivation(ctx, user.ID, 5)
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d should not lock", i)
	}

	locked, err := repo.RecordFailedActivation(ctx, user.ID, 5)
	require.NoError(t, err)
	assert.True(t, locked)

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusLocked, reloaded.Status)
	assert.Equal(t, 5, reloaded.FailedAttempts)
}

func TestRecordFailedActivationIsOneWay(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusLocked)

	locked, err := repo.RecordFailedActivation(ctx, user.ID, 5)
	require.NoError(t, err)
	assert.True(t, locked)

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusLocked, reloaded.Status)
}

func TestRecordFailedActivationWithoutThreshold(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	user := createUser(t, db, enums.UserStatusPending)

	for i := 0; i < 10; i++ {
		locked, err := repo.RecordFailedActivation(ctx, user.ID, 0)
		require.NoError(t, err)
		assert.False(t, locked)
	}

	reloaded, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusPending, reloaded.Status)
	assert.Equal(t, 10, reloaded.FailedAttempts)
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  User@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	_, err = NormalizeEmail("   ")
	assert.Error(t, err)
}
