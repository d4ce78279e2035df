package uow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/internal/users"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
)

// UnitOfWork opens transactions that bind the users repository and the outbox
// together, so a registration row and its verification message commit or roll
// back as one.
type UnitOfWork struct {
	db     *gorm.DB
	outbox *outbox.Repository
}

// New constructs a unit of work factory over the shared GORM handle.
func New(db *gorm.DB, ob *outbox.Repository) *UnitOfWork {
	return &UnitOfWork{db: db, outbox: ob}
}

// Begin opens a transaction. The caller owns its lifetime: Commit on success,
// Rollback otherwise. Deferring Rollback is safe; after Commit it is a no-op.
func (u *UnitOfWork) Begin(ctx context.Context) (*Tx, error) {
	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Tx{
		db:     tx,
		users:  users.NewRepository(tx),
		outbox: u.outbox,
	}, nil
}

// Tx is one open transaction with the repositories bound to it.
type Tx struct {
	db     *gorm.DB
	users  *users.Repository
	outbox *outbox.Repository
	done   bool
}

// Users returns the users repository bound to this transaction.
func (t *Tx) Users() *users.Repository {
	return t.users
}

// Enqueue writes an outbox message inside this transaction.
func (t *Tx) Enqueue(topic string, payload any, idempotencyKey *string) (uuid.UUID, error) {
	if t.done {
		return uuid.Nil, errors.New("transaction already finished")
	}
	return t.outbox.Enqueue(t.db, topic, payload, idempotencyKey)
}

// Commit finishes the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	return t.db.Commit().Error
}

// Rollback aborts the transaction. Calling it after Commit does nothing, so
// it can sit in a defer.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}
