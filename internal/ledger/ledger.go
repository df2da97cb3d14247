package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/chatbill/chatbill/internal/tax"
)

var (
	// ErrNotFound indicates no transaction matches the requested reference.
	ErrNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds occurs when the account balance cannot cover a
	// requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicatePayment indicates the external payment reference already
	// settled a different transaction. Raised by the storage-level
	// uniqueness backstop.
	ErrDuplicatePayment = errors.New("payment reference already settled")

	// ErrTransactionFailed indicates the credit reached its terminal failed
	// state and will not be reopened by any settlement path.
	ErrTransactionFailed = errors.New("transaction is failed and terminal")
)

// Transaction types.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Transaction statuses. A credit starts pending and transitions exactly once
// to completed or failed; debits are created completed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// InvoiceStatusPaid is the only status this engine emits; invoices exist
// solely for settled payments.
const InvoiceStatusPaid = "paid"

// Transaction is a balance-affecting ledger event. Immutable once completed.
type Transaction struct {
	ID          string
	AccountID   string
	Amount      int64
	Type        string
	Status      string
	OrderRef    string
	PaymentRef  string
	Signature   string
	Description string
	MessageID   string
	InvoiceID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BillingSnapshot captures the payer's billing details at settlement time so
// later profile edits cannot alter issued invoices.
type BillingSnapshot struct {
	Name    string
	Email   string
	Company string
	TaxID   string
	Address string
}

// Invoice is an immutable snapshot issued exactly once per settled credit.
type Invoice struct {
	ID          string
	AccountID   string
	Number      string
	Customer    BillingSnapshot
	Subtotal    int64
	CGST        int64
	SGST        int64
	IGST        int64
	Total       int64
	Credited    int64
	PaymentRef  string
	PaymentDate time.Time
	Status      string
	CreatedAt   time.Time
}

// SettleInput carries everything the store needs to complete a pending
// credit as one atomic unit of work.
type SettleInput struct {
	OrderRef      string
	PaymentRef    string
	Signature     string
	Tax           tax.Breakdown
	InvoicePrefix string
	Year          int
	Billing       BillingSnapshot
	Description   string
}

// SettleOutcome reports the result of a settlement attempt. AlreadySettled
// marks the idempotent path: another entry point completed the transaction
// first and this call performed no work.
type SettleOutcome struct {
	AlreadySettled bool
	Transaction    Transaction
	Invoice        Invoice
	NewBalance     int64
}

// DebitResult reports a booked debit and the post-debit balance.
type DebitResult struct {
	TransactionID string
	NewBalance    int64
}

// Store is the contract implemented by ledger backends. Implementations must
// make Settle, the debit operations and Adjust atomic: concurrent callers
// observe either the whole mutation or none of it, and the pending →
// completed transition happens at most once per transaction.
type Store interface {
	// EnsureAccount guarantees the backend can track a balance for the account.
	EnsureAccount(ctx context.Context, accountID string) error

	// Balance returns the current spendable balance in paise.
	Balance(ctx context.Context, accountID string) (int64, error)

	// CreatePendingCredit records the in-flight payment opened against the
	// gateway. The order reference is unique per transaction.
	CreatePendingCredit(ctx context.Context, tx Transaction) (Transaction, error)

	// FindByOrderRef locates a transaction by gateway order reference,
	// regardless of owning account (webhook and reconcile paths).
	FindByOrderRef(ctx context.Context, orderRef string) (Transaction, error)

	// FindForAccount locates a transaction by order reference scoped to the
	// reporting account (client verification path).
	FindForAccount(ctx context.Context, accountID, orderRef string) (Transaction, error)

	// MarkFailed moves a pending credit to its terminal failed state. A
	// no-op when the transaction already left pending.
	MarkFailed(ctx context.Context, orderRef string) error

	// Settle atomically completes a pending credit: allocates the next
	// invoice number, inserts the invoice snapshot, rewrites the
	// transaction amount to the credited figure and increments the account
	// balance. Idempotent for already-completed transactions.
	Settle(ctx context.Context, in SettleInput) (SettleOutcome, error)

	// DebitForMessage books the charge for one delivered message: inserts
	// the completed debit transaction and decrements the balance, clamped
	// at zero, in one unit of work.
	DebitForMessage(ctx context.Context, accountID string, amount int64, messageID, description string) (DebitResult, error)

	// DebitBatch books one aggregated debit covering a batch import.
	DebitBatch(ctx context.Context, accountID string, amount int64, description string) (DebitResult, error)

	// Adjust applies an operator balance correction of either sign,
	// clamping the resulting balance at zero.
	Adjust(ctx context.Context, accountID string, delta int64, description string) (DebitResult, error)

	// StalePending lists pending credits created before the cutoff, oldest
	// first, feeding the reconciliation sweep.
	StalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error)

	TransactionsForAccount(ctx context.Context, accountID string, limit int) ([]Transaction, error)
	InvoicesForAccount(ctx context.Context, accountID string) ([]Invoice, error)
	InvoiceForAccount(ctx context.Context, accountID, invoiceID string) (Invoice, error)
}
