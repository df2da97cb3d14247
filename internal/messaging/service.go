package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/alert"
	"github.com/chatbill/chatbill/internal/ledger"
	"github.com/chatbill/chatbill/internal/pricing"
)

var (
	// ErrInsufficientBalance indicates the advisory pre-send check rejected
	// the message. Nothing is persisted in that case.
	ErrInsufficientBalance = errors.New("insufficient balance for message")

	// ErrProviderFailed indicates the upstream channel rejected the message.
	// The message is recorded as failed and the wallet is not charged.
	ErrProviderFailed = errors.New("message provider rejected send")
)

// Service charges wallets for delivered messages. The balance check before
// dispatch is advisory; the authoritative charge happens after the provider
// accepts, clamped at zero so a concurrent spender cannot drive the balance
// negative.
type Service struct {
	repo     Repository
	store    ledger.Store
	pricing  *pricing.Resolver
	provider Provider
	watcher  *alert.Watcher
	logger   *slog.Logger
}

// NewService wires the messaging service.
func NewService(repo Repository, store ledger.Store, resolver *pricing.Resolver,
	provider Provider, watcher *alert.Watcher, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		pricing:  resolver,
		provider: provider,
		watcher:  watcher,
		logger:   logger,
	}
}

// SendInput is one outbound message request.
type SendInput struct {
	Recipient string
	Category  string
	Body      string
}

// Send dispatches one message and charges the wallet on provider success.
func (s *Service) Send(ctx context.Context, acct account.Account, in SendInput) (Message, error) {
	if in.Recipient == "" {
		return Message{}, fmt.Errorf("recipient is required")
	}

	price, err := s.pricing.Resolve(ctx, in.Category)
	if err != nil {
		return Message{}, err
	}

	balance, err := s.store.Balance(ctx, acct.ID)
	if err != nil {
		return Message{}, err
	}
	if balance < price {
		return Message{}, fmt.Errorf("%w: balance %d, price %d", ErrInsufficientBalance, balance, price)
	}

	now := time.Now().UTC()
	msg := Message{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		Recipient: in.Recipient,
		Category:  in.Category,
		Body:      in.Body,
		Cost:      price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return Message{}, err
	}

	result, err := s.provider.Send(ctx, msg)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			s.logger.Error("mark message failed", "message_id", msg.ID, "error", markErr)
		}
		return Message{}, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	debit, debitErr := s.store.DebitForMessage(ctx, acct.ID, price, msg.ID,
		fmt.Sprintf("Message to %s (%s)", in.Recipient, in.Category))
	if debitErr != nil {
		// The message already left; record the send and surface the billing
		// gap in the logs rather than double-sending on retry.
		s.logger.Error("debit for sent message", "message_id", msg.ID, "error", debitErr)
	}

	sentAt := time.Now().UTC()
	if err := s.repo.MarkSent(ctx, msg.ID, result.ProviderMessageID, debit.TransactionID, sentAt); err != nil {
		s.logger.Error("mark message sent", "message_id", msg.ID, "error", err)
	}

	// Only a booked debit yields a trustworthy balance for alerting.
	if debitErr == nil {
		s.watcher.Observe(acct.ID, debit.NewBalance)
	}

	return s.repo.Get(ctx, acct.ID, msg.ID)
}

// ImportRecord is one already-dispatched message supplied by a bulk import.
type ImportRecord struct {
	ProviderMessageID string
	Recipient         string
	Category          string
	SentAt            time.Time
}

// BatchResult summarizes a bulk import.
type BatchResult struct {
	Imported   int
	Skipped    int
	TotalCost  int64
	NewBalance int64
}

// ImportBatch records messages dispatched outside this system and books one
// aggregated debit for the lot. Records whose provider reference is already
// known are skipped, as are duplicates within the batch.
func (s *Service) ImportBatch(ctx context.Context, acct account.Account, records []ImportRecord) (BatchResult, error) {
	refs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ProviderMessageID != "" {
			refs = append(refs, rec.ProviderMessageID)
		}
	}
	existing, err := s.repo.ExistingProviderRefs(ctx, acct.ID, refs)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.ProviderMessageID == "" || existing[rec.ProviderMessageID] || seen[rec.ProviderMessageID] {
			result.Skipped++
			continue
		}
		seen[rec.ProviderMessageID] = true

		price, err := s.pricing.Resolve(ctx, rec.Category)
		if err != nil {
			return BatchResult{}, err
		}

		sentAt := rec.SentAt
		if sentAt.IsZero() {
			sentAt = time.Now().UTC()
		}
		msg := Message{
			ID:                uuid.NewString(),
			AccountID:         acct.ID,
			Recipient:         rec.Recipient,
			Category:          rec.Category,
			Cost:              price,
			Status:            StatusSent,
			ProviderMessageID: rec.ProviderMessageID,
			SentAt:            &sentAt,
			CreatedAt:         sentAt,
			UpdatedAt:         sentAt,
		}
		if err := s.repo.Create(ctx, msg); err != nil {
			return result, err
		}
		result.Imported++
		result.TotalCost += price
	}

	if result.TotalCost > 0 {
		debit, err := s.store.DebitBatch(ctx, acct.ID, result.TotalCost,
			fmt.Sprintf("Batch import of %d messages", result.Imported))
		if err != nil {
			return result, err
		}
		result.NewBalance = debit.NewBalance
		s.watcher.Observe(acct.ID, debit.NewBalance)
	} else {
		balance, err := s.store.Balance(ctx, acct.ID)
		if err != nil {
			return result, err
		}
		result.NewBalance = balance
	}

	return result, nil
}

// UpdateStatus applies a provider delivery receipt. Unknown references and
// out-of-order receipts are ignored so provider retries stay harmless.
func (s *Service) UpdateStatus(ctx context.Context, providerRef, status string, at time.Time) error {
	if status != StatusDelivered && status != StatusRead {
		return fmt.Errorf("unsupported delivery status %q", status)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	err := s.repo.MarkDelivery(ctx, providerRef, status, at)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("delivery receipt ignored", "provider_ref", providerRef, "status", status)
		return nil
	}
	return err
}

// Get fetches a message scoped to the account.
func (s *Service) Get(ctx context.Context, accountID, id string) (Message, error) {
	return s.repo.Get(ctx, accountID, id)
}

// List returns the account's recent messages.
func (s *Service) List(ctx context.Context, accountID string, limit int) ([]Message, error) {
	return s.repo.ListForAccount(ctx, accountID, limit)
}
