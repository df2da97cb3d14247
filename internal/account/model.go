package account

import "time"

// Account is a billable customer of the messaging platform. The balance is
// the prepaid wallet in paise; it is mutated only through ledger store
// operations, never written by this package.
type Account struct {
	ID         string
	Email      string
	Phone      string
	Name       string
	Company    string
	TaxID      string
	Address    string
	APIKeyHash string
	IsAdmin    bool
	Balance    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Balance reports the spendable funds for an account at a point in time.
type Balance struct {
	AccountID string
	Amount    int64
	AsOf      time.Time
}
