package uow

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
)

func setupUnitOfWork(t *testing.T) (*UnitOfWork, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	messages := `
CREATE TABLE IF NOT EXISTS outbox_messages (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  idempotency_key TEXT UNIQUE,
  last_error TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  available_at DATETIME NOT NULL
);`
	require.NoError(t, db.Exec(messages).Error)

	return New(db, outbox.NewRepository(db)), db
}

func countMessages(t *testing.T, db *gorm.DB, topic string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.OutboxMessage{}).Where("topic = ?", topic).Count(&count).Error)
	return count
}

func TestCommitMakesEnqueuedMessageVisible(t *testing.T) {
	work, db := setupUnitOfWork(t)
	topic := fmt.Sprintf("test.commit.%s", uuid.NewString())

	tx, err := work.Begin(context.Background())
	require.NoError(t, err)

	_, err = tx.Enqueue(topic, map[string]string{"hello": "world"}, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	assert.EqualValues(t, 1, countMessages(t, db, topic))
}

func TestRollbackDiscardsEnqueuedMessage(t *testing.T) {
	work, db := setupUnitOfWork(t)
	topic := fmt.Sprintf("test.rollback.%s", uuid.NewString())

	tx, err := work.Begin(context.Background())
	require.NoError(t, err)

	_, err = tx.Enqueue(topic, map[string]string{"hello": "world"}, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())
	assert.EqualValues(t, 0, countMessages(t, db, topic))
}

func TestFinishedTransactionGuards(t *testing.T) {
	work, _ := setupUnitOfWork(t)
	topic := fmt.Sprintf("test.guards.%s", uuid.NewString())

	tx, err := work.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
	assert.Error(t, tx.Commit(), "double commit must fail")

	_, err = tx.Enqueue(topic, nil, nil)
	assert.Error(t, err, "enqueue after commit must fail")
}

func TestEnqueueDeduplicatesByIdempotencyKey(t *testing.T) {
	work, db := setupUnitOfWork(t)
	topic := fmt.Sprintf("test.dedup.%s", uuid.NewString())
	key := uuid.NewString()

	first, err := work.Begin(context.Background())
	require.NoError(t, err)
	_, err = first.Enqueue(topic, map[string]string{"n": "1"}, &key)
	require.NoError(t, err)
	require.NoError(t, first.Commit())

	second, err := work.Begin(context.Background())
	require.NoError(t, err)
	id, err := second.Enqueue(topic, map[string]string{"n": "2"}, &key)
	require.NoError(t, err)
	require.NoError(t, second.Commit())

	assert.NotEqual(t, uuid.Nil, id, "dedup must return the existing row id")
	assert.EqualValues(t, 1, countMessages(t, db, topic))
}

func TestUsersRepositoryIsTransactionBound(t *testing.T) {
	work, _ := setupUnitOfWork(t)

	tx, err := work.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	require.NotNil(t, tx.Users())
}
