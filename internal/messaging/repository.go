package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no message matches the requested identifier.
var ErrNotFound = errors.New("message not found")

// Repository persists messages.
type Repository interface {
	Create(ctx context.Context, msg Message) error
	Get(ctx context.Context, accountID, id string) (Message, error)
	GetByProviderRef(ctx context.Context, providerRef string) (Message, error)
	MarkSent(ctx context.Context, id, providerRef, transactionID string, at time.Time) error
	MarkFailed(ctx context.Context, id, errText string) error
	MarkDelivery(ctx context.Context, providerRef, status string, at time.Time) error
	ListForAccount(ctx context.Context, accountID string, limit int) ([]Message, error)
	ExistingProviderRefs(ctx context.Context, accountID string, refs []string) (map[string]bool, error)
}

const messageColumns = `id, account_id, recipient, category, body, cost, status,
    provider_message_id, error, transaction_id, sent_at, delivered_at, read_at,
    created_at, updated_at`

// PostgresRepository stores messages in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a message repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the message row.
func (r *PostgresRepository) Create(ctx context.Context, msg Message) error {
	_, err := r.db.Exec(ctx, `INSERT INTO messages
        (id, account_id, recipient, category, body, cost, status,
         provider_message_id, error, transaction_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		msg.ID, msg.AccountID, msg.Recipient, msg.Category, msg.Body, msg.Cost,
		msg.Status, msg.ProviderMessageID, msg.Error, msg.TransactionID, msg.CreatedAt)
	return err
}

// Get fetches one message scoped to its account.
func (r *PostgresRepository) Get(ctx context.Context, accountID, id string) (Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE id = $1 AND account_id = $2`, id, accountID)
	return scanMessage(row)
}

// GetByProviderRef locates a message by the provider's message identifier.
func (r *PostgresRepository) GetByProviderRef(ctx context.Context, providerRef string) (Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE provider_message_id = $1`, providerRef)
	return scanMessage(row)
}

// MarkSent records the successful dispatch and its debit transaction.
func (r *PostgresRepository) MarkSent(ctx context.Context, id, providerRef, transactionID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE messages
        SET status = $2, provider_message_id = $3, transaction_id = $4,
            sent_at = $5, updated_at = $5
        WHERE id = $1 AND status = $6`,
		id, StatusSent, providerRef, transactionID, at, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records the provider rejection. No balance change accompanies it.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id, errText string) error {
	tag, err := r.db.Exec(ctx, `UPDATE messages
        SET status = $2, error = $3, updated_at = $4
        WHERE id = $1 AND status = $5`,
		id, StatusFailed, errText, time.Now().UTC(), StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDelivery advances a sent message along the receipt chain.
func (r *PostgresRepository) MarkDelivery(ctx context.Context, providerRef, status string, at time.Time) error {
	var tag pgconn.CommandTag
	var err error
	switch status {
	case StatusDelivered:
		tag, err = r.db.Exec(ctx, `UPDATE messages
            SET status = $2, delivered_at = $3, updated_at = $3
            WHERE provider_message_id = $1 AND status = $4`,
			providerRef, StatusDelivered, at, StatusSent)
	case StatusRead:
		tag, err = r.db.Exec(ctx, `UPDATE messages
            SET status = $2, read_at = $3,
                delivered_at = COALESCE(delivered_at, $3), updated_at = $3
            WHERE provider_message_id = $1 AND status = ANY($4)`,
			providerRef, StatusRead, at, []string{StatusSent, StatusDelivered})
	default:
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForAccount returns the account's messages, newest first.
func (r *PostgresRepository) ListForAccount(ctx context.Context, accountID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages
        WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ExistingProviderRefs reports which of the given provider refs are already
// recorded for the account. Used to dedupe batch imports.
func (r *PostgresRepository) ExistingProviderRefs(ctx context.Context, accountID string, refs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT provider_message_id FROM messages
        WHERE account_id = $1 AND provider_message_id = ANY($2)`, accountID, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		out[ref] = true
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.AccountID, &msg.Recipient, &msg.Category, &msg.Body,
		&msg.Cost, &msg.Status, &msg.ProviderMessageID, &msg.Error, &msg.TransactionID,
		&msg.SentAt, &msg.DeliveredAt, &msg.ReadAt, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}
