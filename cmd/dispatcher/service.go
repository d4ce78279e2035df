package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dmarkov/verifio-backend/pkg/config"
	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/email"
	"github.com/dmarkov/verifio-backend/pkg/logger"
	"github.com/dmarkov/verifio-backend/pkg/metrics"
	"github.com/dmarkov/verifio-backend/pkg/outbox"
)

const (
	defaultBatchSize   = 10
	defaultPollMs      = 1000
	defaultMaxAttempts = 10
	defaultSendTimeout = 10 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	ClaimDueTx(tx *gorm.DB, limit int) ([]models.OutboxMessage, error)
	MarkDispatchedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error, retryIn time.Duration) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error) error
}

// Handler delivers one claimed message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg models.OutboxMessage) error

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Repository outboxRepository
	Handlers   map[string]Handler
	Metrics    *metrics.DispatcherMetrics
}

type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	handlers     map[string]Handler
	retry        outbox.RetryPolicy
	metrics      *metrics.DispatcherMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if len(params.Handlers) == 0 {
		return nil, errors.New("at least one topic handler is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		handlers:     params.Handlers,
		retry:        outbox.NewRetryPolicy(params.Config.Outbox.RetryBase, params.Config.Outbox.RetryMaxDelay),
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// NewVerificationCodeHandler delivers user.verification_code messages through
// the mail relay.
func NewVerificationCodeHandler(sender email.Sender) Handler {
	return func(ctx context.Context, msg models.OutboxMessage) error {
		var payload outbox.VerificationCodePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return sender.Send(ctx, email.Message{
			To:      payload.To,
			Subject: payload.Subject,
			Body:    payload.Body,
		}, payload.IdempotencyKey)
	}
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "dispatcher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch claims due messages in one short transaction, then processes
// each message and records its outcome in a transaction of its own, so one
// failed delivery never disturbs its batchmates.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var batch []models.OutboxMessage
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimDueTx(tx, s.batchSize)
		if err != nil {
			return err
		}
		batch = claimed
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim batch: %w", err)
	}
	if len(batch) == 0 {
		return false, nil
	}

	s.metrics.ObserveBatch(len(batch))

	// Cancellation is only observed between batches. A claimed message must
	// reach an outcome here: nothing ever reclaims a row stuck in processing.
	var batchErr error
	for _, msg := range batch {
		if err := s.processMessage(ctx, msg); err != nil {
			batchErr = multierr.Append(batchErr, fmt.Errorf("message %s: %w", msg.ID, err))
		}
	}
	return true, batchErr
}

func (s *Service) processMessage(ctx context.Context, msg models.OutboxMessage) error {
	msgCtx := s.logg.WithMessageID(ctx, msg.ID.String())
	msgCtx = s.logg.WithFields(msgCtx, map[string]any{
		"topic":    msg.Topic,
		"attempts": msg.Attempts,
	})

	sendErr := s.deliver(msgCtx, msg)

	// Outcome writes run on a context detached from the run context so a
	// shutdown that lands mid-send cannot strand the row in processing.
	outcomeCtx := context.WithoutCancel(ctx)

	if sendErr == nil {
		s.metrics.IncOutcome(msg.Topic, "dispatched")
		s.logg.Info(msgCtx, "outbox message dispatched")
		return s.db.WithTx(outcomeCtx, func(tx *gorm.DB) error {
			return s.repo.MarkDispatchedTx(tx, msg.ID)
		})
	}

	nextAttempt := msg.Attempts + 1
	if nextAttempt >= s.maxAttempts {
		s.metrics.IncOutcome(msg.Topic, "failed")
		failCtx := s.logg.WithField(msgCtx, "error", sendErr.Error())
		s.logg.Warn(failCtx, "outbox message exhausted its attempts")
		return s.db.WithTx(outcomeCtx, func(tx *gorm.DB) error {
			return s.repo.MarkTerminalTx(tx, msg.ID, sendErr)
		})
	}

	retryIn := s.retry.NextDelay(msg.Attempts)
	s.metrics.IncOutcome(msg.Topic, "retried")
	retryCtx := s.logg.WithFields(msgCtx, map[string]any{
		"error":       sendErr.Error(),
		"retry_in_ms": retryIn.Milliseconds(),
	})
	s.logg.Warn(retryCtx, "outbox delivery failed, retry scheduled")
	return s.db.WithTx(outcomeCtx, func(tx *gorm.DB) error {
		return s.repo.MarkFailedTx(tx, msg.ID, sendErr, retryIn)
	})
}

func (s *Service) deliver(ctx context.Context, msg models.OutboxMessage) error {
	handler, ok := s.handlers[msg.Topic]
	if !ok {
		// Unknown topics stay retryable: a newer dispatcher build may know them.
		return fmt.Errorf("no handler for topic %s", msg.Topic)
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	start := time.Now()
	err := handler(sendCtx, msg)
	s.metrics.ObserveSend(msg.Topic, time.Since(start))
	return err
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
