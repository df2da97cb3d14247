package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message categories with built-in default prices (paise). Absence of a
// stored override for a category implies the default.
const (
	CategoryTemplate = "template"
	CategorySession  = "session"

	DefaultTemplatePrice = 200
	DefaultSessionPrice  = 100
)

// ErrUnknownCategory indicates a category with neither an override nor a default.
var ErrUnknownCategory = errors.New("unknown message category")

// Price is an admin-configured unit price for a message category.
type Price struct {
	Category  string
	Amount    int64
	UpdatedAt time.Time
}

// Repository persists pricing overrides.
type Repository interface {
	Get(ctx context.Context, category string) (Price, bool, error)
	Upsert(ctx context.Context, price Price) error
	List(ctx context.Context) ([]Price, error)
}

// Resolver maps a message category to its current unit cost, falling back to
// the built-in defaults when no override is configured.
type Resolver struct {
	repo Repository
}

// NewResolver builds a resolver over the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the unit price in paise for the category.
func (r *Resolver) Resolve(ctx context.Context, category string) (int64, error) {
	price, ok, err := r.repo.Get(ctx, category)
	if err != nil {
		return 0, err
	}
	if ok {
		return price.Amount, nil
	}
	return defaultPrice(category)
}

// Set stores an admin pricing override.
func (r *Resolver) Set(ctx context.Context, category string, amount int64) error {
	if _, err := defaultPrice(category); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("price must be positive, got %d", amount)
	}
	return r.repo.Upsert(ctx, Price{Category: category, Amount: amount, UpdatedAt: time.Now().UTC()})
}

// Current reports the effective price for every known category.
func (r *Resolver) Current(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{
		CategoryTemplate: DefaultTemplatePrice,
		CategorySession:  DefaultSessionPrice,
	}
	stored, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range stored {
		out[p.Category] = p.Amount
	}
	return out, nil
}

func defaultPrice(category string) (int64, error) {
	switch category {
	case CategoryTemplate:
		return DefaultTemplatePrice, nil
	case CategorySession:
		return DefaultSessionPrice, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
}
