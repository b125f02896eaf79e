package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"support-chat-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrActiveConflict       = errors.New("participant already has an active conversation")
)

// MutateFunc edits a conversation in place. Returning an error aborts the
// write and is passed back to the caller unchanged.
type MutateFunc func(conv *models.Conversation) error

// ConversationRepository owns the conversation aggregate. Every mutation is a
// read-modify-write under exclusive access to that conversation.
type ConversationRepository interface {
	Get(ctx context.Context, id string) (models.Conversation, error)
	FindActive(ctx context.Context, participantID string) (models.Conversation, error)
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Conversation, error)
	// WithActive applies fn to the participant's active conversation, creating
	// it from create() when none exists. Nothing is created if fn fails.
	WithActive(ctx context.Context, participantID string, create func() models.Conversation, fn MutateFunc) (models.Conversation, error)
	Update(ctx context.Context, id string, fn MutateFunc) (models.Conversation, error)
	// Delete removes the conversation if check accepts its current state.
	Delete(ctx context.Context, id string, check func(models.Conversation) error) error
	Ping(ctx context.Context) error
}

const conversationColumns = `id, participant_id, admin_id, status, viewed, viewed_at, last_customer_message_at, trashed_at, messages, created_at, updated_at`

const activeStatusClause = `status IN ('pending', 'open')`

const uniqueViolation = "23505"

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func (r *ConversationRepo) FindActive(ctx context.Context, participantID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE participant_id=$1 AND `+activeStatusClause, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func (r *ConversationRepo) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Conversation, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations WHERE status = ANY($1) ORDER BY updated_at DESC`, pq.Array(values))
	return convs, err
}

func (r *ConversationRepo) WithActive(ctx context.Context, participantID string, create func() models.Conversation, fn MutateFunc) (models.Conversation, error) {
	var out models.Conversation
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		conv, err := r.lockActive(ctx, tx, participantID)
		if errors.Is(err, ErrConversationNotFound) {
			// A concurrent creator wins the partial unique index; the follow-up
			// lock then waits for and returns its row.
			fresh := create()
			if _, err = tx.NamedExecContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
                VALUES (:id, :participant_id, :admin_id, :status, :viewed, :viewed_at, :last_customer_message_at, :trashed_at, :messages, :created_at, :updated_at)
                ON CONFLICT (participant_id) WHERE `+activeStatusClause+` DO NOTHING`, fresh); err != nil {
				return err
			}
			conv, err = r.lockActive(ctx, tx, participantID)
		}
		if err != nil {
			return err
		}
		if err = fn(&conv); err != nil {
			return err
		}
		if err = r.save(ctx, tx, conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	return out, err
}

func (r *ConversationRepo) Update(ctx context.Context, id string, fn MutateFunc) (models.Conversation, error) {
	var out models.Conversation
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var conv models.Conversation
		if err := tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1 FOR UPDATE`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return err
		}
		if err := fn(&conv); err != nil {
			return err
		}
		if err := r.save(ctx, tx, conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	return out, err
}

func (r *ConversationRepo) Delete(ctx context.Context, id string, check func(models.Conversation) error) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var conv models.Conversation
		if err := tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1 FOR UPDATE`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return err
		}
		if err := check(conv); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
		return err
	})
}

func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ConversationRepo) lockActive(ctx context.Context, tx *sqlx.Tx, participantID string) (models.Conversation, error) {
	var conv models.Conversation
	err := tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE participant_id=$1 AND `+activeStatusClause+` FOR UPDATE`, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

func (r *ConversationRepo) save(ctx context.Context, tx *sqlx.Tx, conv models.Conversation) error {
	_, err := tx.NamedExecContext(ctx, `UPDATE conversations SET
            admin_id=:admin_id, status=:status, viewed=:viewed, viewed_at=:viewed_at,
            last_customer_message_at=:last_customer_message_at, trashed_at=:trashed_at,
            messages=:messages, updated_at=:updated_at
        WHERE id=:id`, conv)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrActiveConflict
	}
	return err
}

func (r *ConversationRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
