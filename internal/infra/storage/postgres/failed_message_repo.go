package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/storage"
)

// FailedMessageRepo implements storage.FailedMessageRepository using PostgreSQL.
type FailedMessageRepo struct {
	db *DB
}

// NewFailedMessageRepo creates a new PostgreSQL failed message repository.
func NewFailedMessageRepo(db *DB) *FailedMessageRepo {
	return &FailedMessageRepo{db: db}
}

type failedMessageRow struct {
	ID         string       `db:"id"`
	Consumer   string       `db:"consumer"`
	MessageID  string       `db:"message_id"`
	RoutingKey string       `db:"routing_key"`
	Body       []byte       `db:"body"`
	Headers    []byte       `db:"headers"`
	Failure    string       `db:"failure"`
	ErrorMsg   string       `db:"error_msg"`
	Attempts   int          `db:"attempts"`
	Status     string       `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

func (r *failedMessageRow) toDomain() (*domain.FailedMessage, error) {
	fm := &domain.FailedMessage{
		ID:         r.ID,
		Consumer:   r.Consumer,
		MessageID:  r.MessageID,
		RoutingKey: r.RoutingKey,
		Body:       r.Body,
		Failure:    domain.FailureType(r.Failure),
		Error:      r.ErrorMsg,
		Attempts:   r.Attempts,
		Status:     domain.FailedMessageStatus(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		fm.ResolvedAt = &t
	}
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &fm.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	return fm, nil
}

const selectFailedMessage = `
	SELECT id, consumer, message_id, routing_key, body, headers, failure,
		error_msg, attempts, status, created_at, resolved_at
	FROM failed_messages
`

// Add adds a failed message.
func (r *FailedMessageRepo) Add(ctx context.Context, fm *domain.FailedMessage) error {
	if fm.ID == "" {
		fm.ID = uuid.NewString()
	}
	if fm.Status == "" {
		fm.Status = domain.FailedMessageStatusPending
	}
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now()
	}

	headers := []byte("{}")
	if len(fm.Headers) > 0 {
		var err error
		if headers, err = json.Marshal(fm.Headers); err != nil {
			return fmt.Errorf("failed to encode headers: %w", err)
		}
	}
	body := fm.Body
	if body == nil {
		body = []byte{}
	}

	query := `
		INSERT INTO failed_messages (id, consumer, message_id, routing_key, body, headers,
			failure, error_msg, attempts, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		fm.ID,
		fm.Consumer,
		fm.MessageID,
		fm.RoutingKey,
		body,
		string(headers),
		string(fm.Failure),
		fm.Error,
		fm.Attempts,
		string(fm.Status),
		fm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed message: %w", err)
	}
	return nil
}

// Get retrieves a failed message by ID.
func (r *FailedMessageRepo) Get(ctx context.Context, id string) (*domain.FailedMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, storage.ErrFailedMessageNotFound
	}

	var row failedMessageRow
	err := r.db.GetContext(ctx, &row, selectFailedMessage+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrFailedMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message: %w", err)
	}
	return row.toDomain()
}

// ListPending returns pending failed messages of a consumer, oldest first.
func (r *FailedMessageRepo) ListPending(
	ctx context.Context,
	consumer string,
	limit int,
) ([]*domain.FailedMessage, error) {
	query := selectFailedMessage + `
		WHERE consumer = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`
	args := []any{consumer}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []failedMessageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list failed messages: %w", err)
	}

	out := make([]*domain.FailedMessage, 0, len(rows))
	for i := range rows {
		fm, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, nil
}

// MarkResolved marks a failed message as resolved.
func (r *FailedMessageRepo) MarkResolved(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storage.ErrFailedMessageNotFound
	}

	query := `
		UPDATE failed_messages
		SET status = 'resolved', resolved_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resolve failed message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrFailedMessageNotFound
	}
	return nil
}

// Count returns the number of pending failed messages.
func (r *FailedMessageRepo) Count(ctx context.Context, consumer string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failed_messages
		WHERE consumer = $1 AND status = 'pending'
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, consumer); err != nil {
		return 0, fmt.Errorf("failed to count failed messages: %w", err)
	}
	return count, nil
}

// DeleteResolvedOlderThan deletes resolved failed messages older than threshold.
func (r *FailedMessageRepo) DeleteResolvedOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	query := `
		DELETE FROM failed_messages
		WHERE status = 'resolved' AND resolved_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to prune failed messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
