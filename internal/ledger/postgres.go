package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation       = "23505"
	invoiceNumberConstraint = "invoices_number_key"
	paymentRefConstraint    = "ux_transactions_payment_ref"
)

// PostgresStore persists the wallet ledger in PostgreSQL. All multi-row
// mutations run inside row-locked transactions so concurrent settlement
// paths serialize on the transaction row.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureAccount verifies the account row exists; balances live on accounts.
func (s *PostgresStore) EnsureAccount(ctx context.Context, accountID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("account %s not found", accountID)
	}
	return nil
}

// Balance returns the current balance column for the account.
func (s *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	if err := s.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("account %s not found", accountID)
		}
		return 0, err
	}
	return balance, nil
}

// CreatePendingCredit inserts the pending credit row for a freshly opened order.
func (s *PostgresStore) CreatePendingCredit(ctx context.Context, t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Type = TypeCredit
	t.Status = StatusPending
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(ctx, `INSERT INTO transactions
        (id, account_id, amount, type, status, external_order_ref, external_payment_ref, external_signature, description, message_id, invoice_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, '', '', $7, '', '', $8)`,
		t.ID, t.AccountID, t.Amount, t.Type, t.Status, t.OrderRef, t.Description, t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

const transactionColumns = `id, account_id, amount, type, status, external_order_ref, external_payment_ref,
    external_signature, description, message_id, invoice_id, created_at, COALESCE(updated_at, created_at)`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.Status, &t.OrderRef, &t.PaymentRef,
		&t.Signature, &t.Description, &t.MessageID, &t.InvoiceID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

// FindByOrderRef locates a transaction for webhook and reconcile paths.
func (s *PostgresStore) FindByOrderRef(ctx context.Context, orderRef string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_order_ref = $1`, orderRef)
	return scanTransaction(row)
}

// FindForAccount locates a transaction scoped to the reporting account.
func (s *PostgresStore) FindForAccount(ctx context.Context, accountID, orderRef string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE external_order_ref = $1 AND account_id = $2`, orderRef, accountID)
	return scanTransaction(row)
}

// MarkFailed transitions pending → failed. Completed and failed rows are left
// untouched so a late failure report never claws back a settled credit.
func (s *PostgresStore) MarkFailed(ctx context.Context, orderRef string) error {
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET status = $1, updated_at = now()
        WHERE external_order_ref = $2 AND status = $3`, StatusFailed, orderRef, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE external_order_ref = $1)`, orderRef).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// Settle completes a pending credit atomically: conditional status flip,
// invoice allocation and insert, and balance increment in one transaction.
// Retries once with a fresh sequence number if the invoice number backstop
// constraint fires.
func (s *PostgresStore) Settle(ctx context.Context, in SettleInput) (SettleOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		outcome, err := s.settleOnce(ctx, in)
		if err == nil {
			return outcome, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case paymentRefConstraint:
				return SettleOutcome{}, ErrDuplicatePayment
			case invoiceNumberConstraint:
				lastErr = err
				continue
			}
		}
		return SettleOutcome{}, err
	}
	return SettleOutcome{}, fmt.Errorf("allocate invoice number: %w", lastErr)
}

func (s *PostgresStore) settleOnce(ctx context.Context, in SettleInput) (SettleOutcome, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SettleOutcome{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE external_order_ref = $1 FOR UPDATE`, in.OrderRef)
	current, err := scanTransaction(row)
	if err != nil {
		return SettleOutcome{}, err
	}

	switch current.Status {
	case StatusCompleted:
		invoice, invErr := s.invoiceByIDTx(ctx, tx, current.InvoiceID)
		if invErr != nil && !errors.Is(invErr, ErrNotFound) {
			return SettleOutcome{}, invErr
		}
		var balance int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, current.AccountID).Scan(&balance); err != nil {
			return SettleOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return SettleOutcome{}, err
		}
		return SettleOutcome{AlreadySettled: true, Transaction: current, Invoice: invoice, NewBalance: balance}, nil
	case StatusFailed:
		return SettleOutcome{}, ErrTransactionFailed
	}

	var seq int64
	if err := tx.QueryRow(ctx, `INSERT INTO invoice_sequences (prefix, year, next_seq) VALUES ($1, $2, 1)
        ON CONFLICT (prefix, year) DO UPDATE SET next_seq = invoice_sequences.next_seq + 1
        RETURNING next_seq`, in.InvoicePrefix, in.Year).Scan(&seq); err != nil {
		return SettleOutcome{}, err
	}

	now := time.Now().UTC()
	invoice := Invoice{
		ID:          uuid.NewString(),
		AccountID:   current.AccountID,
		Number:      fmt.Sprintf("%s-%d-%04d", in.InvoicePrefix, in.Year, seq),
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

	if _, err := tx.Exec(ctx, `INSERT INTO invoices
        (id, account_id, number, customer_name, customer_email, customer_company, customer_tax_id, customer_address,
         subtotal, cgst, sgst, igst, total, credited, payment_ref, payment_date, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		invoice.ID, invoice.AccountID, invoice.Number,
		invoice.Customer.Name, invoice.Customer.Email, invoice.Customer.Company, invoice.Customer.TaxID, invoice.Customer.Address,
		invoice.Subtotal, invoice.CGST, invoice.SGST, invoice.IGST, invoice.Total, invoice.Credited,
		invoice.PaymentRef, invoice.PaymentDate, invoice.Status, invoice.CreatedAt); err != nil {
		return SettleOutcome{}, err
	}

	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Wallet recharge - Invoice #%s", invoice.Number)
	}

	tag, err := tx.Exec(ctx, `UPDATE transactions SET
        status = $1, amount = $2, external_payment_ref = $3, external_signature = $4,
        invoice_id = $5, description = $6, updated_at = $7
        WHERE id = $8 AND status = $9`,
		StatusCompleted, in.Tax.Credited(), in.PaymentRef, in.Signature,
		invoice.ID, description, now, current.ID, StatusPending)
	if err != nil {
		return SettleOutcome{}, err
	}
	if tag.RowsAffected() == 0 {
		// Should not happen under the row lock; treat as settled elsewhere.
		return SettleOutcome{}, fmt.Errorf("transaction %s left pending state mid-settlement", current.ID)
	}

	var balance int64
	if err := tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = now()
        WHERE id = $2 RETURNING balance`, in.Tax.Credited(), current.AccountID).Scan(&balance); err != nil {
		return SettleOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SettleOutcome{}, err
	}

	current.Status = StatusCompleted
	current.Amount = in.Tax.Credited()
	current.PaymentRef = in.PaymentRef
	current.Signature = in.Signature
	current.InvoiceID = invoice.ID
	current.Description = description
	current.UpdatedAt = now

	return SettleOutcome{Transaction: current, Invoice: invoice, NewBalance: balance}, nil
}

// DebitForMessage books a per-message charge. The balance decrement clamps at
// zero: the send already happened, so the charge is applied even if a racing
// debit slipped past the advisory admission check.
func (s *PostgresStore) DebitForMessage(ctx context.Context, accountID string, amount int64, messageID, description string) (DebitResult, error) {
	return s.debit(ctx, accountID, amount, messageID, description)
}

// DebitBatch books one aggregated charge for a batch import.
func (s *PostgresStore) DebitBatch(ctx context.Context, accountID string, amount int64, description string) (DebitResult, error) {
	return s.debit(ctx, accountID, amount, "", description)
}

func (s *PostgresStore) debit(ctx context.Context, accountID string, amount int64, messageID, description string) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, fmt.Errorf("debit amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var balance int64
	if err := tx.QueryRow(ctx, `UPDATE accounts SET balance = GREATEST(balance - $1, 0), updated_at = now()
        WHERE id = $2 RETURNING balance`, amount, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DebitResult{}, fmt.Errorf("account %s not found", accountID)
		}
		return DebitResult{}, err
	}

	txID := uuid.NewString()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, account_id, amount, type, status, external_order_ref, external_payment_ref, external_signature, description, message_id, invoice_id, created_at)
        VALUES ($1, $2, $3, $4, $5, '', '', '', $6, $7, '', $8)`,
		txID, accountID, amount, TypeDebit, StatusCompleted, description, messageID, time.Now().UTC()); err != nil {
		return DebitResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DebitResult{}, err
	}

	return DebitResult{TransactionID: txID, NewBalance: balance}, nil
}

// Adjust applies an operator correction of either sign, clamped at zero.
func (s *PostgresStore) Adjust(ctx context.Context, accountID string, delta int64, description string) (DebitResult, error) {
	if delta == 0 {
		return DebitResult{}, fmt.Errorf("adjustment must not be zero")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var balance int64
	if err := tx.QueryRow(ctx, `UPDATE accounts SET balance = GREATEST(balance + $1, 0), updated_at = now()
        WHERE id = $2 RETURNING balance`, delta, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DebitResult{}, fmt.Errorf("account %s not found", accountID)
		}
		return DebitResult{}, err
	}

	kind := TypeCredit
	amount := delta
	if delta < 0 {
		kind = TypeDebit
		amount = -delta
	}

	txID := uuid.NewString()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, account_id, amount, type, status, external_order_ref, external_payment_ref, external_signature, description, message_id, invoice_id, created_at)
        VALUES ($1, $2, $3, $4, $5, '', '', '', $6, '', '', $7)`,
		txID, accountID, amount, kind, StatusCompleted, description, time.Now().UTC()); err != nil {
		return DebitResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DebitResult{}, err
	}

	return DebitResult{TransactionID: txID, NewBalance: balance}, nil
}

// StalePending lists pending credits created before the cutoff, oldest first.
func (s *PostgresStore) StalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE type = $1 AND status = $2 AND created_at < $3
        ORDER BY created_at ASC LIMIT $4`, TypeCredit, StatusPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// TransactionsForAccount returns the account's ledger history, newest first.
func (s *PostgresStore) TransactionsForAccount(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const invoiceColumns = `id, account_id, number, customer_name, customer_email, customer_company, customer_tax_id,
    customer_address, subtotal, cgst, sgst, igst, total, credited, payment_ref, payment_date, status, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.AccountID, &inv.Number,
		&inv.Customer.Name, &inv.Customer.Email, &inv.Customer.Company, &inv.Customer.TaxID, &inv.Customer.Address,
		&inv.Subtotal, &inv.CGST, &inv.SGST, &inv.IGST, &inv.Total, &inv.Credited,
		&inv.PaymentRef, &inv.PaymentDate, &inv.Status, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (s *PostgresStore) invoiceByIDTx(ctx context.Context, tx pgx.Tx, invoiceID string) (Invoice, error) {
	if invoiceID == "" {
		return Invoice{}, ErrNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
	return scanInvoice(row)
}

// InvoicesForAccount lists issued invoices, newest first.
func (s *PostgresStore) InvoicesForAccount(ctx context.Context, accountID string) ([]Invoice, error) {
	rows, err := s.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
        WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// InvoiceForAccount fetches one invoice scoped to its owner.
func (s *PostgresStore) InvoiceForAccount(ctx context.Context, accountID, invoiceID string) (Invoice, error) {
	row := s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices
        WHERE id = $1 AND account_id = $2`, invoiceID, accountID)
	return scanInvoice(row)
}
