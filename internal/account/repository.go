package account

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested account does not exist.
var ErrNotFound = errors.New("account not found")

// Repository persists account metadata and billing profiles.
type Repository interface {
	Create(ctx context.Context, acct Account) error
	Get(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) error
}

// Profile carries the admin- or self-editable billing fields.
type Profile struct {
	Name    string
	Phone   string
	Company string
	TaxID   string
	Address string
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, phone, name, company, tax_id, address, api_key_hash, is_admin, balance,
    created_at, COALESCE(updated_at, created_at)`

// Create inserts an account record with a zero balance.
func (r *PostgresRepository) Create(ctx context.Context, acct Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts
        (id, email, phone, name, company, tax_id, address, api_key_hash, is_admin, balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`,
		acct.ID, acct.Email, acct.Phone, acct.Name, acct.Company, acct.TaxID, acct.Address,
		acct.APIKeyHash, acct.IsAdmin, acct.CreatedAt.UTC())
	return err
}

// Get fetches an account by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail fetches an account by email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// UpdateProfile rewrites the billing profile fields.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, profile Profile) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET
        name = $1, phone = $2, company = $3, tax_id = $4, address = $5, updated_at = $6
        WHERE id = $7`,
		profile.Name, profile.Phone, profile.Company, profile.TaxID, profile.Address, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Phone, &a.Name, &a.Company, &a.TaxID, &a.Address,
		&a.APIKeyHash, &a.IsAdmin, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}
