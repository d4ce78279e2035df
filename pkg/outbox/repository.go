package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
)

// TopicVerificationCode is the only topic the core dispatcher routes today.
const TopicVerificationCode = "user.verification_code"

const lastErrorMaxLen = 1000

// VerificationCodePayload is the wire shape of a user.verification_code message.
type VerificationCodePayload struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Repository persists and mutates outbox rows. Write operations take the
// caller's *gorm.DB so enqueue shares the domain transaction and the
// dispatcher controls its own short transactions; the repository never
// commits.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an outbox repo over the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a pending message inside the caller's transaction. When an
// idempotency key is supplied and a row already carries it, the existing id
// is returned and no duplicate is written.
func (r *Repository) Enqueue(tx *gorm.DB, topic string, payload any, idempotencyKey *string) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	if topic == "" {
		return uuid.Nil, errors.New("topic required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	if idempotencyKey != nil && *idempotencyKey != "" {
		if existing, err := r.findByIdempotencyKey(tx, *idempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, err
		}
	} else {
		idempotencyKey = nil
	}

	row := models.OutboxMessage{
		Topic:          topic,
		Payload:        raw,
		Status:         enums.OutboxStatusPending,
		IdempotencyKey: idempotencyKey,
		AvailableAt:    time.Now().UTC(),
	}
	stmt := tx
	if idempotencyKey != nil {
		// DO NOTHING keeps a lost insert race from poisoning the caller's
		// transaction; the winner's row is read back instead.
		stmt = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		})
	}
	res := stmt.Create(&row)
	if res.Error != nil {
		return uuid.Nil, res.Error
	}
	if idempotencyKey != nil && res.RowsAffected == 0 {
		return r.findByIdempotencyKey(tx, *idempotencyKey)
	}
	return row.ID, nil
}

func (r *Repository) findByIdempotencyKey(tx *gorm.DB, key string) (uuid.UUID, error) {
	var row models.OutboxMessage
	if err := tx.Select("id").Where("idempotency_key = ?", key).First(&row).Error; err != nil {
		return uuid.Nil, err
	}
	return row.ID, nil
}

// ClaimDueTx atomically flips up to limit due pending rows to processing and
// returns them, oldest first. SKIP LOCKED keeps concurrent claimers on
// disjoint sets instead of queueing behind each other's row locks.
func (r *Repository) ClaimDueTx(tx *gorm.DB, limit int) ([]models.OutboxMessage, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if limit <= 0 {
		return nil, nil
	}

	var rows []models.OutboxMessage
	err := tx.Raw(`
		WITH due AS (
			SELECT id
			FROM outbox_messages
			WHERE status = ? AND available_at <= NOW()
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE outbox_messages o
		SET status = ?, updated_at = NOW()
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.topic, o.payload, o.status, o.attempts, o.idempotency_key,
			o.last_error, o.created_at, o.updated_at, o.available_at`,
		enums.OutboxStatusPending, limit, enums.OutboxStatusProcessing,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkDispatchedTx records terminal success. Idempotent: re-marking an
// already dispatched row changes nothing.
func (r *Repository) MarkDispatchedTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.OutboxStatusDispatched,
			"last_error": nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkFailedTx schedules a retry: attempts+1, truncated error text, status
// back to pending with available_at pushed retryIn into the future.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error, retryIn time.Duration) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPending,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   truncateError(cause),
			"updated_at":   time.Now().UTC(),
			"available_at": time.Now().UTC().Add(retryIn),
		}).Error
}

// MarkTerminalTx parks a message in the failed state once its attempts are
// exhausted. The row stays behind as an audit record.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.OutboxStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncateError(cause),
			"updated_at": time.Now().UTC(),
		}).Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > lastErrorMaxLen {
		msg = msg[:lastErrorMaxLen]
	}
	return &msg
}
