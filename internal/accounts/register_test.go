package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
)

type fakeUserStore struct {
	user *models.User

	upsertEmail     string
	setActiveCalled bool
	lastCodeSentAt  *time.Time
	failureCalls    int
}

func (f *fakeUserStore) CreateOrUpdatePending(_ context.Context, email, passwordHash string) (*models.User, error) {
	f.upsertEmail = email
	if f.user == nil {
		f.user = &models.User{
			ID:           uuid.New(),
			Email:        email,
			PasswordHash: passwordHash,
			Status:       enums.UserStatusPending,
		}
	} else if f.user.Status == enums.UserStatusPending {
		f.user.PasswordHash = passwordHash
	}
	return f.user, nil
}

func (f *fakeUserStore) GetByEmailForUpdate(_ context.Context, email string) (*models.User, error) {
	if f.user == nil || f.user.Email != email {
		return nil, gorm.ErrRecordNotFound
	}
	return f.user, nil
}

func (f *fakeUserStore) SetActive(_ context.Context, id uuid.UUID) error {
	f.setActiveCalled = true
	f.user.Status = enums.UserStatusActive
	f.user.FailedAttempts = 0
	return nil
}

func (f *fakeUserStore) SetLastCodeSentAt(_ context.Context, id uuid.UUID, at time.Time) error {
	f.lastCodeSentAt = &at
	f.user.LastCodeSentAt = &at
	return nil
}

func (f *fakeUserStore) RecordFailedActivation(_ context.Context, id uuid.UUID, maxAttempts int) (bool, error) {
	f.failureCalls++
	if f.user.Status == enums.UserStatusLocked {
		return true, nil
	}
	f.user.FailedAttempts++
	if f.user.FailedAttempts >= maxAttempts {
		f.user.Status = enums.UserStatusLocked
		return true, nil
	}
	return false, nil
}

type enqueuedMessage struct {
	topic          string
	payload        any
	idempotencyKey *string
}

type fakeTx struct {
	users *fakeUserStore

	enqueued   []enqueuedMessage
	enqueueErr error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Users() userStore { return f.users }

func (f *fakeTx) Enqueue(topic string, payload any, idempotencyKey *string) (uuid.UUID, error) {
	if f.enqueueErr != nil {
		return uuid.Nil, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, enqueuedMessage{topic: topic, payload: payload, idempotencyKey: idempotencyKey})
	return uuid.New(), nil
}

func (f *fakeTx) Commit() error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback() error {
	if f.committed {
		return nil
	}
	f.rolledBack = true
	return nil
}

type fakeUnitOfWork struct {
	users    *fakeUserStore
	beginErr error

	txs []*fakeTx
}

func (f *fakeUnitOfWork) Begin(_ context.Context) (accountTx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	tx := &fakeTx{users: f.users}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeCodeCache struct {
	codes       map[uuid.UUID]string
	storeErr    error
	verifyErr   error
	invalidated []uuid.UUID
}

func newFakeCodeCache() *fakeCodeCache {
	return &fakeCodeCache{codes: map[uuid.UUID]string{}}
}

func (f *fakeCodeCache) StoreHashedCode(_ context.Context, userID uuid.UUID, code string) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.codes[userID] = code
	return nil
}

func (f *fakeCodeCache) VerifyAndConsume(_ context.Context, userID uuid.UUID, code string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	stored, ok := f.codes[userID]
	if !ok || stored != code {
		return false, nil
	}
	delete(f.codes, userID)
	return true, nil
}

func (f *fakeCodeCache) Invalidate(_ context.Context, userID uuid.UUID) error {
	f.invalidated = append(f.invalidated, userID)
	delete(f.codes, userID)
	return nil
}

func testActivationConfig() config.ActivationConfig {
	return config.ActivationConfig{
		CodeTTL:        time.Minute,
		MaxAttempts:    5,
		ResendThrottle: time.Minute,
	}
}

func newTestRegisterService(t *testing.T, store *fakeUserStore, cache *fakeCodeCache) (RegisterService, *fakeUnitOfWork) {
	t.Helper()

	work := &fakeUnitOfWork{users: store}
	svc, err := NewRegisterService(RegisterServiceParams{
		UnitOfWork:     work,
		Cache:          cache,
		PasswordConfig: testPasswordConfig(),
		Activation:     testActivationConfig(),
		GenerateCode:   func() (string, error) { return "4242", nil },
		Now:            func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new register service: %v", err)
	}
	return svc, work
}

func testPasswordConfig() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    8,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func TestRegisterNewAccountSendsCode(t *testing.T) {
	store := &fakeUserStore{}
	cache := newFakeCodeCache()
	svc, work := newTestRegisterService(t, store, cache)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:    "  User@Example.COM ",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if store.upsertEmail != "user@example.com" {
		t.Fatalf("expected normalized email, got %q", store.upsertEmail)
	}
	if cache.codes[store.user.ID] != "4242" {
		t.Fatalf("expected code cached for user")
	}
	if store.lastCodeSentAt == nil {
		t.Fatalf("expected send time recorded")
	}

	if len(work.txs) != 1 || !work.txs[0].committed {
		t.Fatalf("expected one committed transaction")
	}
	tx := work.txs[0]
	if len(tx.enqueued) != 1 {
		t.Fatalf("expected one outbox message, got %d", len(tx.enqueued))
	}
	msg := tx.enqueued[0]
	if msg.topic != outbox.TopicVerificationCode {
		t.Fatalf("unexpected topic %q", msg.topic)
	}
	payload, ok := msg.payload.(outbox.VerificationCodePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", msg.payload)
	}
	if payload.To != "user@example.com" {
		t.Fatalf("unexpected recipient %q", payload.To)
	}
	if !strings.Contains(payload.Body, "4242") {
		t.Fatalf("expected code in body, got %q", payload.Body)
	}
	if msg.idempotencyKey == nil || *msg.idempotencyKey != payload.IdempotencyKey {
		t.Fatalf("expected idempotency key to match payload")
	}
}

func TestRegisterSettledAccountStaysSilent(t *testing.T) {
	store := &fakeUserStore{user: &models.User{
		ID:     uuid.New(),
		Email:  "user@example.com",
		Status: enums.UserStatusActive,
	}}
	cache := newFakeCodeCache()
	svc, work := newTestRegisterService(t, store, cache)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(cache.codes) != 0 {
		t.Fatalf("expected no code issued for settled account")
	}
	tx := work.txs[0]
	if len(tx.enqueued) != 0 {
		t.Fatalf("expected no outbox message for settled account")
	}
	if !tx.committed {
		t.Fatalf("expected transaction to commit silently")
	}
}

func TestRegisterThrottlesResend(t *testing.T) {
	recent := time.Date(2026, 9, 1, 11, 59, 30, 0, time.UTC)
	store := &fakeUserStore{user: &models.User{
		ID:             uuid.New(),
		Email:          "user@example.com",
		Status:         enums.UserStatusPending,
		LastCodeSentAt: &recent,
	}}
	cache := newFakeCodeCache()
	svc, work := newTestRegisterService(t, store, cache)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	tx := work.txs[0]
	if len(tx.enqueued) != 0 {
		t.Fatalf("expected resend to be throttled")
	}
	if len(cache.codes) != 0 {
		t.Fatalf("expected no fresh code during throttle window")
	}
	if !tx.committed {
		t.Fatalf("expected password update to still commit")
	}
}

func TestRegisterResendsAfterThrottleWindow(t *testing.T) {
	old := time.Date(2026, 9, 1, 11, 58, 0, 0, time.UTC)
	store := &fakeUserStore{user: &models.User{
		ID:             uuid.New(),
		Email:          "user@example.com",
		Status:         enums.UserStatusPending,
		LastCodeSentAt: &old,
	}}
	cache := newFakeCodeCache()
	svc, work := newTestRegisterService(t, store, cache)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(work.txs[0].enqueued) != 1 {
		t.Fatalf("expected a fresh code once the throttle window passed")
	}
}

func TestRegisterAbortsWhenCacheUnavailable(t *testing.T) {
	store := &fakeUserStore{}
	cache := newFakeCodeCache()
	cache.storeErr = pkgerrors.New(pkgerrors.CodeDependency, "redis down")
	svc, work := newTestRegisterService(t, store, cache)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	tx := work.txs[0]
	if tx.committed {
		t.Fatalf("expected transaction to roll back on cache failure")
	}
	if !tx.rolledBack {
		t.Fatalf("expected explicit rollback")
	}
	if len(tx.enqueued) != 0 {
		t.Fatalf("expected no outbox message on cache failure")
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	store := &fakeUserStore{}
	svc, _ := newTestRegisterService(t, store, newFakeCodeCache())

	err := svc.Register(context.Background(), RegisterRequest{Email: "", Password: "password123"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty email, got %v", err)
	}

	err = svc.Register(context.Background(), RegisterRequest{Email: "user@example.com", Password: ""})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
}

func TestRegisterPropagatesBeginFailure(t *testing.T) {
	work := &fakeUnitOfWork{users: &fakeUserStore{}, beginErr: errors.New("db down")}
	svc, err := NewRegisterService(RegisterServiceParams{
		UnitOfWork:     work,
		Cache:          newFakeCodeCache(),
		PasswordConfig: testPasswordConfig(),
		Activation:     testActivationConfig(),
	})
	if err != nil {
		t.Fatalf("new register service: %v", err)
	}

	err = svc.Register(context.Background(), RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
