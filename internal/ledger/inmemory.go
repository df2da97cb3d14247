package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sequenceKey struct {
	prefix string
	year   int
}

type inMemoryStore struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions map[string]*Transaction // by transaction id
	byOrderRef   map[string]string       // order ref -> transaction id
	invoices     map[string]Invoice
	sequences    map[sequenceKey]int64
	paymentRefs  map[string]string // settled payment ref -> transaction id
}

// NewInMemory creates a concurrency-safe in-memory ledger store useful for
// unit tests. It mirrors the Postgres store's atomicity: every operation
// runs under one lock, so settlement races resolve to exactly one winner.
func NewInMemory() Store {
	return &inMemoryStore{
		balances:     make(map[string]int64),
		transactions: make(map[string]*Transaction),
		byOrderRef:   make(map[string]string),
		invoices:     make(map[string]Invoice),
		sequences:    make(map[sequenceKey]int64),
		paymentRefs:  make(map[string]string),
	}
}

func (s *inMemoryStore) EnsureAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.balances[accountID]; !exists {
		s.balances[accountID] = 0
	}
	return nil
}

func (s *inMemoryStore) Balance(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, exists := s.balances[accountID]
	if !exists {
		return 0, fmt.Errorf("account %s not found", accountID)
	}
	return balance, nil
}

func (s *inMemoryStore) CreatePendingCredit(_ context.Context, t Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byOrderRef[t.OrderRef]; exists {
		return Transaction{}, fmt.Errorf("order ref %s already exists", t.OrderRef)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Type = TypeCredit
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()

	stored := t
	s.transactions[t.ID] = &stored
	s.byOrderRef[t.OrderRef] = t.ID
	return t, nil
}

func (s *inMemoryStore) FindByOrderRef(_ context.Context, orderRef string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(orderRef)
}

func (s *inMemoryStore) FindForAccount(_ context.Context, accountID, orderRef string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.findLocked(orderRef)
	if err != nil {
		return Transaction{}, err
	}
	if t.AccountID != accountID {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}

func (s *inMemoryStore) findLocked(orderRef string) (Transaction, error) {
	id, ok := s.byOrderRef[orderRef]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return *s.transactions[id], nil
}

func (s *inMemoryStore) MarkFailed(_ context.Context, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrderRef[orderRef]
	if !ok {
		return ErrNotFound
	}
	t := s.transactions[id]
	if t.Status == StatusPending {
		t.Status = StatusFailed
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *inMemoryStore) Settle(_ context.Context, in SettleInput) (SettleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrderRef[in.OrderRef]
	if !ok {
		return SettleOutcome{}, ErrNotFound
	}
	t := s.transactions[id]

	switch t.Status {
	case StatusCompleted:
		return SettleOutcome{
			AlreadySettled: true,
			Transaction:    *t,
			Invoice:        s.invoices[t.InvoiceID],
			NewBalance:     s.balances[t.AccountID],
		}, nil
	case StatusFailed:
		return SettleOutcome{}, ErrTransactionFailed
	}

	if _, taken := s.paymentRefs[in.PaymentRef]; taken {
		return SettleOutcome{}, ErrDuplicatePayment
	}

	key := sequenceKey{prefix: in.InvoicePrefix, year: in.Year}
	s.sequences[key]++
	now := time.Now().UTC()

	invoice := Invoice{
		ID:          uuid.NewString(),
		AccountID:   t.AccountID,
		Number:      fmt.Sprintf("%s-%d-%04d", in.InvoicePrefix, in.Year, s.sequences[key]),
		Customer:    in.Billing,
		Subtotal:    in.Tax.Subtotal,
		CGST:        in.Tax.CGST,
		SGST:        in.Tax.SGST,
		IGST:        in.Tax.IGST,
		Total:       in.Tax.Total,
		Credited:    in.Tax.Credited(),
		PaymentRef:  in.PaymentRef,
		PaymentDate: now,
		Status:      InvoiceStatusPaid,
		CreatedAt:   now,
	}
	s.invoices[invoice.ID] = invoice
	s.paymentRefs[in.PaymentRef] = t.ID

	t.Status = StatusCompleted
	t.Amount = in.Tax.Credited()
	t.PaymentRef = in.PaymentRef
	t.Signature = in.Signature
	t.InvoiceID = invoice.ID
	if in.Description != "" {
		t.Description = in.Description
	} else {
		t.Description = fmt.Sprintf("Wallet recharge - Invoice #%s", invoice.Number)
	}
	t.UpdatedAt = now

	s.balances[t.AccountID] += in.Tax.Credited()

	return SettleOutcome{Transaction: *t, Invoice: invoice, NewBalance: s.balances[t.AccountID]}, nil
}

func (s *inMemoryStore) DebitForMessage(_ context.Context, accountID string, amount int64, messageID, description string) (DebitResult, error) {
	return s.debit(accountID, amount, messageID, description)
}

func (s *inMemoryStore) DebitBatch(_ context.Context, accountID string, amount int64, description string) (DebitResult, error) {
	return s.debit(accountID, amount, "", description)
}

func (s *inMemoryStore) debit(accountID string, amount int64, messageID, description string) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, fmt.Errorf("debit amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[accountID]
	if !ok {
		return DebitResult{}, fmt.Errorf("account %s not found", accountID)
	}

	balance -= amount
	if balance < 0 {
		balance = 0
	}
	s.balances[accountID] = balance

	t := Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        TypeDebit,
		Status:      StatusCompleted,
		Description: description,
		MessageID:   messageID,
		CreatedAt:   time.Now().UTC(),
	}
	s.transactions[t.ID] = &t

	return DebitResult{TransactionID: t.ID, NewBalance: balance}, nil
}

func (s *inMemoryStore) Adjust(_ context.Context, accountID string, delta int64, description string) (DebitResult, error) {
	if delta == 0 {
		return DebitResult{}, fmt.Errorf("adjustment must not be zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[accountID]
	if !ok {
		return DebitResult{}, fmt.Errorf("account %s not found", accountID)
	}

	balance += delta
	if balance < 0 {
		balance = 0
	}
	s.balances[accountID] = balance

	kind := TypeCredit
	amount := delta
	if delta < 0 {
		kind = TypeDebit
		amount = -delta
	}

	t := Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Type:        kind,
		Status:      StatusCompleted,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.transactions[t.ID] = &t

	return DebitResult{TransactionID: t.ID, NewBalance: balance}, nil
}

func (s *inMemoryStore) StalePending(_ context.Context, before time.Time, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transaction
	for _, t := range s.transactions {
		if t.Type == TypeCredit && t.Status == StatusPending && t.CreatedAt.Before(before) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) TransactionsForAccount(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) InvoicesForAccount(_ context.Context, accountID string) ([]Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Invoice
	for _, inv := range s.invoices {
		if inv.AccountID == accountID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *inMemoryStore) InvoiceForAccount(_ context.Context, accountID, invoiceID string) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.AccountID != accountID {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}
