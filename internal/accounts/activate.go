package accounts

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/internal/users"
	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/logger"
	"github.com/dmarkov/verifio-backend/pkg/security"
)

const invalidActivationMessage = "invalid activation code"

// ActivateService verifies an emailed code and flips the account active.
type ActivateService interface {
	Activate(ctx context.Context, req ActivateRequest) (*UserSummary, error)
}

// ActivateServiceParams packages the dependencies for the activation flow.
type ActivateServiceParams struct {
	UnitOfWork unitOfWork
	Cache      codeCache
	Activation config.ActivationConfig
	Logger     *logger.Logger
}

type activateService struct {
	uow        unitOfWork
	cache      codeCache
	activation config.ActivationConfig
	log        *logger.Logger
}

// NewActivateService builds an activation service with the provided dependencies.
func NewActivateService(params ActivateServiceParams) (ActivateService, error) {
	if params.UnitOfWork == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unit of work required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation cache required")
	}
	if params.Logger == nil {
		params.Logger = logger.New(logger.Options{ServiceName: "accounts"})
	}
	return &activateService{
		uow:        params.UnitOfWork,
		cache:      params.Cache,
		activation: params.Activation,
		log:        params.Logger,
	}, nil
}

// Activate authenticates the pending user, consumes the single-use code, and
// marks the account active. Credential failures and bad codes surface as
// distinct conditions; both count toward the lockout threshold.
func (s *activateService) Activate(ctx context.Context, req ActivateRequest) (*UserSummary, error) {
	email, err := users.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "begin activation")
	}
	defer tx.Rollback()

	user, err := tx.Users().GetByEmailForUpdate(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}

	ctx = s.log.WithUserID(ctx, user.ID.String())

	switch user.Status {
	case enums.UserStatusLocked:
		return nil, pkgerrors.New(pkgerrors.CodeAccountLocked, "account locked")
	case enums.UserStatusActive:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "account already active")
	}

	match, err := security.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !match {
		return nil, s.failAttempt(ctx, tx, user,
			pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage))
	}

	ok, err := s.cache.VerifyAndConsume(ctx, user.ID, req.Code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failAttempt(ctx, tx, user,
			pkgerrors.New(pkgerrors.CodeActivationCode, invalidActivationMessage))
	}

	if err := tx.Users().SetActive(ctx, user.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate user")
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit activation")
	}

	s.log.Info(ctx, "account activated")
	summary := summarize(user)
	summary.Status = enums.UserStatusActive
	return &summary, nil
}

// failAttempt releases the main transaction, then records the failure in a
// short transaction of its own so the counter survives the rollback. The
// caller's cause is returned unless the failure tipped the account into the
// locked state.
func (s *activateService) failAttempt(ctx context.Context, tx accountTx, user *models.User, cause error) error {
	if err := tx.Rollback(); err != nil {
		s.log.Error(ctx, "rollback after failed activation attempt", err)
	}

	locked, err := s.recordFailure(ctx, user)
	if err != nil {
		s.log.Error(ctx, "recording failed activation attempt", err)
		return cause
	}
	if locked {
		if err := s.cache.Invalidate(ctx, user.ID); err != nil {
			s.log.Error(ctx, "invalidating code for locked account", err)
		}
		s.log.Warn(ctx, "account locked after repeated activation failures")
		return pkgerrors.New(pkgerrors.CodeAccountLocked, "account locked")
	}
	return cause
}

func (s *activateService) recordFailure(ctx context.Context, user *models.User) (bool, error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	locked, err := tx.Users().RecordFailedActivation(ctx, user.ID, s.activation.MaxAttempts)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return locked, nil
}
