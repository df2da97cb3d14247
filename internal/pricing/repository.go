package pricing

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores pricing overrides in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a pricing repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches the override for a category, reporting whether one exists.
func (r *PostgresRepository) Get(ctx context.Context, category string) (Price, bool, error) {
	var p Price
	err := r.db.QueryRow(ctx, `SELECT category, price, updated_at FROM pricing_config
        WHERE category = $1 AND is_active`, category).Scan(&p.Category, &p.Amount, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Price{}, false, nil
		}
		return Price{}, false, err
	}
	return p, true, nil
}

// Upsert stores or replaces a category override.
func (r *PostgresRepository) Upsert(ctx context.Context, price Price) error {
	_, err := r.db.Exec(ctx, `INSERT INTO pricing_config (category, price, is_active, updated_at)
        VALUES ($1, $2, TRUE, $3)
        ON CONFLICT (category) DO UPDATE SET price = $2, is_active = TRUE, updated_at = $3`,
		price.Category, price.Amount, price.UpdatedAt)
	return err
}

// List returns all active overrides.
func (r *PostgresRepository) List(ctx context.Context) ([]Price, error) {
	rows, err := r.db.Query(ctx, `SELECT category, price, updated_at FROM pricing_config WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		if err := rows.Scan(&p.Category, &p.Amount, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Price
}

// NewMemoryRepository constructs an in-memory pricing repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Price)}
}

func (r *memoryRepository) Get(_ context.Context, category string) (Price, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.storage[category]
	return p, ok, nil
}

func (r *memoryRepository) Upsert(_ context.Context, price Price) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[price.Category] = price
	return nil
}

func (r *memoryRepository) List(_ context.Context) ([]Price, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Price, 0, len(r.storage))
	for _, p := range r.storage {
		out = append(out, p)
	}
	return out, nil
}
