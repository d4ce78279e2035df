package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/internal/uow"
	"github.com/dmarkov/verifio-backend/pkg/db/models"
)

// unitOfWork opens transactions scoped to one account operation.
type unitOfWork interface {
	Begin(ctx context.Context) (accountTx, error)
}

// accountTx is the slice of a unit-of-work transaction the services use.
type accountTx interface {
	Users() userStore
	Enqueue(topic string, payload any, idempotencyKey *string) (uuid.UUID, error)
	Commit() error
	Rollback() error
}

type userStore interface {
	CreateOrUpdatePending(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetByEmailForUpdate(ctx context.Context, email string) (*models.User, error)
	SetActive(ctx context.Context, id uuid.UUID) error
	SetLastCodeSentAt(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailedActivation(ctx context.Context, id uuid.UUID, maxAttempts int) (bool, error)
}

type codeCache interface {
	StoreHashedCode(ctx context.Context, userID uuid.UUID, code string) error
	VerifyAndConsume(ctx context.Context, userID uuid.UUID, code string) (bool, error)
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// gormUnitOfWork adapts the concrete GORM unit of work to the service port.
type gormUnitOfWork struct {
	inner *uow.UnitOfWork
}

// NewGormUnitOfWork wraps the GORM-backed unit of work for the account services.
func NewGormUnitOfWork(inner *uow.UnitOfWork) unitOfWork {
	return gormUnitOfWork{inner: inner}
}

func (g gormUnitOfWork) Begin(ctx context.Context) (accountTx, error) {
	tx, err := g.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return gormTx{tx: tx}, nil
}

type gormTx struct {
	tx *uow.Tx
}

func (g gormTx) Users() userStore { return g.tx.Users() }

func (g gormTx) Enqueue(topic string, payload any, idempotencyKey *string) (uuid.UUID, error) {
	return g.tx.Enqueue(topic, payload, idempotencyKey)
}

func (g gormTx) Commit() error   { return g.tx.Commit() }
func (g gormTx) Rollback() error { return g.tx.Rollback() }
