package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/internal/users"
	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/enums"
	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/logger"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
	"github.com/dmarkov/verifio-backend/pkg/security"
)

const verificationSubject = "Your verification code"

// RegisterService starts or refreshes a registration. The response never
// reveals whether the address already had an account.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) error
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	UnitOfWork     unitOfWork
	Cache          codeCache
	PasswordConfig config.PasswordConfig
	Activation     config.ActivationConfig
	Logger         *logger.Logger
	GenerateCode   func() (string, error)
	Now            func() time.Time
}

type registerService struct {
	uow          unitOfWork
	cache        codeCache
	passwordCfg  config.PasswordConfig
	activation   config.ActivationConfig
	log          *logger.Logger
	generateCode func() (string, error)
	now          func() time.Time
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.UnitOfWork == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unit of work required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation cache required")
	}
	if params.GenerateCode == nil {
		params.GenerateCode = security.GenerateActivationCode
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Logger == nil {
		params.Logger = logger.New(logger.Options{ServiceName: "accounts"})
	}
	return &registerService{
		uow:          params.UnitOfWork,
		cache:        params.Cache,
		passwordCfg:  params.PasswordConfig,
		activation:   params.Activation,
		log:          params.Logger,
		generateCode: params.GenerateCode,
		now:          params.Now,
	}, nil
}

// Register upserts the pending account and, when allowed, issues a fresh
// activation code: stored hashed in the cache, emailed via the outbox, both
// inside one transaction with the user row. Existing active or locked
// accounts are left untouched so the endpoint does not leak their existence.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) error {
	email, err := users.NormalizeEmail(req.Email)
	if err != nil {
		return err
	}
	if req.Password == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "password is required")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "begin registration")
	}
	defer tx.Rollback()

	user, err := tx.Users().CreateOrUpdatePending(ctx, email, passwordHash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert user")
	}

	now := s.now().UTC()

	if user.Status != enums.UserStatusPending {
		ctx = s.log.WithUserID(ctx, user.ID.String())
		s.log.Info(ctx, "registration attempt for settled account ignored")
		return commit(tx)
	}

	if user.LastCodeSentAt != nil && now.Sub(*user.LastCodeSentAt) < s.activation.ResendThrottle {
		ctx = s.log.WithUserID(ctx, user.ID.String())
		s.log.Info(ctx, "verification code resend throttled")
		return commit(tx)
	}

	code, err := s.generateCode()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate activation code")
	}

	// Cache write happens before commit so a cache outage aborts the whole
	// registration instead of leaving a user with an unverifiable code.
	if err := s.cache.StoreHashedCode(ctx, user.ID, code); err != nil {
		return err
	}

	idempotencyKey := uuid.NewString()
	payload := outbox.VerificationCodePayload{
		To:             email,
		Subject:        verificationSubject,
		Body:           verificationBody(code, s.activation.CodeTTL),
		IdempotencyKey: idempotencyKey,
	}
	if _, err := tx.Enqueue(outbox.TopicVerificationCode, payload, &idempotencyKey); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue verification message")
	}

	if err := tx.Users().SetLastCodeSentAt(ctx, user.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record code send time")
	}

	return commit(tx)
}

func verificationBody(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		"Your verification code is %s. It expires in %d seconds.",
		code, int(ttl.Seconds()),
	)
}

func commit(tx accountTx) error {
	if err := tx.Commit(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit")
	}
	return nil
}
