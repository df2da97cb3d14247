package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatbill/chatbill/internal/ledger"
)

// ErrInvalidAPIKey indicates the presented credential does not match.
var ErrInvalidAPIKey = errors.New("invalid api key")

// Service exposes account operations backed by the ledger for balances.
type Service struct {
	repo   Repository
	ledger ledger.Store
}

// NewService builds an account service instance.
func NewService(repo Repository, ledger ledger.Store) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// RegisterInput captures data required to open an account.
type RegisterInput struct {
	Email   string
	Name    string
	Phone   string
	Company string
	TaxID   string
	Address string
	IsAdmin bool
}

// Register provisions an account and returns it together with the one-time
// API key. Only the bcrypt hash of the key secret is stored.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Account, string, error) {
	if input.Email == "" || !strings.Contains(input.Email, "@") {
		return Account{}, "", fmt.Errorf("a valid email is required")
	}
	if input.Name == "" {
		return Account{}, "", fmt.Errorf("name is required")
	}

	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, "", err
	}

	acct := Account{
		ID:         uuid.NewString(),
		Email:      strings.ToLower(input.Email),
		Phone:      input.Phone,
		Name:       input.Name,
		Company:    input.Company,
		TaxID:      input.TaxID,
		Address:    input.Address,
		APIKeyHash: string(hash),
		IsAdmin:    input.IsAdmin,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, acct); err != nil {
		return Account{}, "", err
	}
	if err := s.ledger.EnsureAccount(ctx, acct.ID); err != nil {
		return Account{}, "", err
	}

	return acct, fmt.Sprintf("%s:%s", acct.ID, secret), nil
}

// Authenticate resolves an "accountID:secret" API key to its account.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (Account, error) {
	id, secret, found := strings.Cut(apiKey, ":")
	if !found || id == "" || secret == "" {
		return Account{}, ErrInvalidAPIKey
	}

	acct, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrInvalidAPIKey
		}
		return Account{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.APIKeyHash), []byte(secret)); err != nil {
		return Account{}, ErrInvalidAPIKey
	}

	return acct, nil
}

// Get retrieves account metadata.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.Get(ctx, id)
}

// UpdateProfile rewrites the billing profile. Already-issued invoices keep
// their snapshot and are unaffected.
func (s *Service) UpdateProfile(ctx context.Context, id string, profile Profile) (Account, error) {
	if profile.Name == "" {
		return Account{}, fmt.Errorf("name is required")
	}
	if err := s.repo.UpdateProfile(ctx, id, profile); err != nil {
		return Account{}, err
	}
	return s.repo.Get(ctx, id)
}

// Balance returns the ledger balance for the account.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: id, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// Adjust applies an operator balance correction through the ledger, which
// records the compensating transaction and clamps the balance at zero.
func (s *Service) Adjust(ctx context.Context, id string, delta int64, reason string) (ledger.DebitResult, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return ledger.DebitResult{}, err
	}
	if reason == "" {
		reason = "Admin balance adjustment"
	}
	return s.ledger.Adjust(ctx, id, delta, reason)
}

// Transactions lists the account's recent ledger activity.
func (s *Service) Transactions(ctx context.Context, id string, limit int) ([]ledger.Transaction, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.TransactionsForAccount(ctx, id, limit)
}

// Invoices lists the account's issued invoices.
func (s *Service) Invoices(ctx context.Context, id string) ([]ledger.Invoice, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.InvoicesForAccount(ctx, id)
}

// Invoice fetches one invoice scoped to the account.
func (s *Service) Invoice(ctx context.Context, id, invoiceID string) (ledger.Invoice, error) {
	return s.ledger.InvoiceForAccount(ctx, id, invoiceID)
}

// BillingSnapshot assembles the invoice snapshot for the account's current
// profile.
func (s *Service) BillingSnapshot(ctx context.Context, id string) (ledger.BillingSnapshot, error) {
	acct, err := s.repo.Get(ctx, id)
	if err != nil {
		return ledger.BillingSnapshot{}, err
	}
	return ledger.BillingSnapshot{
		Name:    acct.Name,
		Email:   acct.Email,
		Company: acct.Company,
		TaxID:   acct.TaxID,
		Address: acct.Address,
	}, nil
}
