package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatbill/chatbill/internal/tax"
)

func mustBreakdown(t *testing.T, gross int64) tax.Breakdown {
	t.Helper()
	b, err := tax.New(tax.DefaultRateBps).Breakdown(gross)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	return b
}

func pendingCredit(t *testing.T, s Store, accountID, orderRef string, gross int64) Transaction {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureAccount(ctx, accountID); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	created, err := s.CreatePendingCredit(ctx, Transaction{
		AccountID: accountID,
		Amount:    gross,
		OrderRef:  orderRef,
	})
	if err != nil {
		t.Fatalf("create pending credit: %v", err)
	}
	return created
}

func TestSettleCreditsBalanceExactlyOnce(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_1", 1_000)

	in := SettleInput{
		OrderRef:      "order_1",
		PaymentRef:    "pay_1",
		Signature:     "sig",
		Tax:           mustBreakdown(t, 1_000),
		InvoicePrefix: "CB",
		Year:          2026,
		Billing:       BillingSnapshot{Name: "Asha", Email: "asha@example.com"},
	}

	out, err := s.Settle(ctx, in)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.AlreadySettled {
		t.Fatal("first settle should not report already settled")
	}
	if out.NewBalance != 847 {
		t.Fatalf("expected balance 847, got %d", out.NewBalance)
	}
	if out.Transaction.Amount != 847 {
		t.Fatalf("transaction amount not rewritten to credited, got %d", out.Transaction.Amount)
	}
	if out.Invoice.Number != "CB-2026-0001" {
		t.Fatalf("unexpected invoice number %s", out.Invoice.Number)
	}
	if out.Invoice.Customer.Name != "Asha" {
		t.Fatalf("billing snapshot missing: %+v", out.Invoice.Customer)
	}

	again, err := s.Settle(ctx, in)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !again.AlreadySettled {
		t.Fatal("second settle must be idempotent")
	}
	if again.NewBalance != 847 {
		t.Fatalf("balance credited twice: %d", again.NewBalance)
	}
	if again.Invoice.ID != out.Invoice.ID {
		t.Fatal("second settle minted a second invoice")
	}
}

func TestSettleConcurrentSingleWinner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_race", 1_000)

	in := SettleInput{
		OrderRef:      "order_race",
		PaymentRef:    "pay_race",
		Tax:           mustBreakdown(t, 1_000),
		InvoicePrefix: "CB",
		Year:          2026,
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Settle(ctx, in)
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if !out.AlreadySettled {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one settlement winner, got %d", winners)
	}
	balance, err := s.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 847 {
		t.Fatalf("expected balance 847 after racing settlements, got %d", balance)
	}
}

func TestSettleRejectsDuplicatePaymentRef(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_a", 1_000)
	pendingCredit(t, s, "acct-1", "order_b", 1_000)

	base := SettleInput{
		PaymentRef:    "pay_shared",
		Tax:           mustBreakdown(t, 1_000),
		InvoicePrefix: "CB",
		Year:          2026,
	}

	first := base
	first.OrderRef = "order_a"
	if _, err := s.Settle(ctx, first); err != nil {
		t.Fatalf("settle first: %v", err)
	}

	second := base
	second.OrderRef = "order_b"
	if _, err := s.Settle(ctx, second); !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("expected duplicate payment error, got %v", err)
	}
}

func TestFailedTransactionIsTerminal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_bad", 1_000)

	if err := s.MarkFailed(ctx, "order_bad"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	_, err := s.Settle(ctx, SettleInput{
		OrderRef:      "order_bad",
		PaymentRef:    "pay_late",
		Tax:           mustBreakdown(t, 1_000),
		InvoicePrefix: "CB",
		Year:          2026,
	})
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("expected terminal failed error, got %v", err)
	}

	balance, _ := s.Balance(ctx, "acct-1")
	if balance != 0 {
		t.Fatalf("failed transaction must not credit balance, got %d", balance)
	}
}

func TestMarkFailedDoesNotTouchCompleted(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_done", 1_000)

	if _, err := s.Settle(ctx, SettleInput{
		OrderRef: "order_done", PaymentRef: "pay_done",
		Tax: mustBreakdown(t, 1_000), InvoicePrefix: "CB", Year: 2026,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := s.MarkFailed(ctx, "order_done"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := s.FindByOrderRef(ctx, "order_done")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("completed transaction mutated to %s", got.Status)
	}
}

func TestInvoiceNumbersUniqueUnderConcurrency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const orders = 12
	for i := 0; i < orders; i++ {
		pendingCredit(t, s, "acct-1", fmt.Sprintf("order_%d", i), 1_000)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)

	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.Settle(ctx, SettleInput{
				OrderRef:      fmt.Sprintf("order_%d", i),
				PaymentRef:    fmt.Sprintf("pay_%d", i),
				Tax:           mustBreakdown(t, 1_000),
				InvoicePrefix: "CB",
				Year:          2026,
			})
			if err != nil {
				t.Errorf("settle %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[out.Invoice.Number] {
				t.Errorf("duplicate invoice number %s", out.Invoice.Number)
			}
			seen[out.Invoice.Number] = true
		}(i)
	}
	wg.Wait()

	if len(seen) != orders {
		t.Fatalf("expected %d distinct invoice numbers, got %d", orders, len(seen))
	}
}

func TestDebitClampsAtZero(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.EnsureAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	SeedBalance(s, "acct-1", 150)

	res, err := s.DebitForMessage(ctx, "acct-1", 200, "msg-1", "message charge")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.NewBalance != 0 {
		t.Fatalf("expected clamped balance 0, got %d", res.NewBalance)
	}
}

func TestAdjustClampsAtZero(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.EnsureAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	SeedBalance(s, "acct-1", 500)

	res, err := s.Adjust(ctx, "acct-1", -2_000, "operator correction")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.NewBalance != 0 {
		t.Fatalf("expected balance clamped to 0, got %d", res.NewBalance)
	}

	res, err = s.Adjust(ctx, "acct-1", 300, "goodwill credit")
	if err != nil {
		t.Fatalf("adjust up: %v", err)
	}
	if res.NewBalance != 300 {
		t.Fatalf("expected balance 300, got %d", res.NewBalance)
	}
}

func TestBalanceReplaysCompletedTransactions(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_1", 2_000)

	if _, err := s.Settle(ctx, SettleInput{
		OrderRef: "order_1", PaymentRef: "pay_1",
		Tax: mustBreakdown(t, 2_000), InvoicePrefix: "CB", Year: 2026,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := s.DebitForMessage(ctx, "acct-1", 200, "msg-1", "charge"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := s.DebitForMessage(ctx, "acct-1", 100, "msg-2", "charge"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	history, err := s.TransactionsForAccount(ctx, "acct-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	var replayed int64
	for _, tr := range history {
		if tr.Status != StatusCompleted {
			continue
		}
		switch tr.Type {
		case TypeCredit:
			replayed += tr.Amount
		case TypeDebit:
			replayed -= tr.Amount
		}
	}

	balance, err := s.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != replayed {
		t.Fatalf("balance %d diverged from ledger replay %d", balance, replayed)
	}
}

func TestStalePendingFiltersByAgeAndStatus(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	pendingCredit(t, s, "acct-1", "order_old", 1_000)
	pendingCredit(t, s, "acct-1", "order_done", 1_000)

	if _, err := s.Settle(ctx, SettleInput{
		OrderRef: "order_done", PaymentRef: "pay_done",
		Tax: mustBreakdown(t, 1_000), InvoicePrefix: "CB", Year: 2026,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	stale, err := s.StalePending(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("stale pending: %v", err)
	}
	if len(stale) != 1 || stale[0].OrderRef != "order_old" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}
}
