package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/audit"
	"github.com/chatbill/chatbill/internal/ledger"
	"github.com/chatbill/chatbill/internal/logging"
	"github.com/chatbill/chatbill/internal/tax"
)

const (
	testClientSecret  = "client-secret"
	testWebhookSecret = "hook-secret"
)

type fakeGateway struct {
	mu          sync.Mutex
	created     int
	orderStatus string
	payments    []Payment
	createErr   error
	fetchErr    error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, _ string, _ map[string]string) (Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return Order{}, g.createErr
	}
	g.created++
	return Order{Ref: fmt.Sprintf("order_%d", g.created), Amount: amount, Status: OrderStatusCreated}, nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, orderRef string) (Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return Order{}, g.fetchErr
	}
	return Order{Ref: orderRef, Status: g.orderStatus}, nil
}

func (g *fakeGateway) FetchPayments(_ context.Context, _ string) ([]Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return append([]Payment(nil), g.payments...), nil
}

type fixture struct {
	service  *Service
	store    ledger.Store
	accounts *account.Service
	recorder *audit.MemoryRecorder
	gateway  *fakeGateway
	acct     account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := ledger.NewInMemory()
	accounts := account.NewService(account.NewMemoryRepository(), store)
	recorder := audit.NewMemoryRecorder()
	gateway := &fakeGateway{orderStatus: OrderStatusPaid}

	acct, _, err := accounts.Register(context.Background(), account.RegisterInput{
		Email: "asha@example.com",
		Name:  "Asha",
	})
	if err != nil {
		t.Fatalf("register account: %v", err)
	}

	service := NewService(Options{
		KeyID:          "rzp_test_key",
		ClientSecret:   testClientSecret,
		WebhookSecret:  testWebhookSecret,
		InvoicePrefix:  "CB",
		MinOrderAmount: 100,
	}, gateway, store, accounts, tax.New(tax.DefaultRateBps), recorder, nil, logging.Discard())

	return &fixture{
		service:  service,
		store:    store,
		accounts: accounts,
		recorder: recorder,
		gateway:  gateway,
		acct:     acct,
	}
}

func hmacHex(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func clientSig(orderRef, paymentRef string) string {
	return hmacHex(testClientSecret, []byte(orderRef+"|"+paymentRef))
}

func capturedWebhook(orderRef, paymentRef string, amount int64) (body []byte, signature string) {
	body = []byte(fmt.Sprintf(
		`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d}}}}`,
		paymentRef, orderRef, amount))
	return body, hmacHex(testWebhookSecret, body)
}

func (f *fixture) openOrder(t *testing.T, amount int64) OrderResult {
	t.Helper()
	order, err := f.service.OpenOrder(context.Background(), f.acct, amount)
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	return order
}

func TestOpenOrderRejectsBelowMinimum(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.OpenOrder(context.Background(), f.acct, 50)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	// The rejected attempt still lands in the audit log.
	entries := f.recorder.BySource(audit.SourceOpenOrder)
	if len(entries) != 1 || entries[0].EventType != "order.requested" {
		t.Fatalf("expected one order.requested entry, got %+v", entries)
	}
	if entries[0].Amount != 50 {
		t.Fatalf("audit entry carries amount %d, want 50", entries[0].Amount)
	}
}

func TestOpenOrderGatewayFailureIsAudited(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = errors.New("gateway timeout")

	_, err := f.service.OpenOrder(context.Background(), f.acct, 1_000)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	entries := f.recorder.BySource(audit.SourceOpenOrder)
	if len(entries) != 1 || entries[0].EventType != "order.requested" {
		t.Fatalf("expected one order.requested entry, got %+v", entries)
	}

	txns, err := f.store.TransactionsForAccount(context.Background(), f.acct.ID, 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txns) != 0 {
		t.Fatalf("failed order creation must not leave a pending credit, got %+v", txns)
	}
}

func TestVerifySettlesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)

	in := VerifyInput{
		OrderRef:   order.OrderRef,
		PaymentRef: "pay_1",
		Signature:  clientSig(order.OrderRef, "pay_1"),
	}

	result, err := f.service.Verify(ctx, f.acct.ID, in)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.AlreadySettled {
		t.Fatal("first verify should perform the settlement")
	}
	if result.Credited != 847 || result.NewBalance != 847 {
		t.Fatalf("expected 847 credited, got credited=%d balance=%d", result.Credited, result.NewBalance)
	}
	if result.InvoiceNumber == "" {
		t.Fatalf("missing invoice number: %+v", result)
	}

	again, err := f.service.Verify(ctx, f.acct.ID, in)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !again.AlreadySettled {
		t.Fatal("second verify must be idempotent")
	}
	if again.NewBalance != 847 {
		t.Fatalf("balance credited twice: %d", again.NewBalance)
	}
	if again.InvoiceNumber != result.InvoiceNumber {
		t.Fatalf("idempotent verify returned a different invoice: %s vs %s",
			again.InvoiceNumber, result.InvoiceNumber)
	}

	if got := len(f.recorder.BySource(audit.SourceVerify)); got != 2 {
		t.Fatalf("expected 2 verify audit entries, got %d", got)
	}
}

func TestVerifySignatureMismatchIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)

	_, err := f.service.Verify(ctx, f.acct.ID, VerifyInput{
		OrderRef:   order.OrderRef,
		PaymentRef: "pay_1",
		Signature:  "forged",
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	balance, err := f.store.Balance(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("failed verification must not credit the wallet, balance=%d", balance)
	}

	// A valid retry cannot resurrect the failed credit.
	_, err = f.service.Verify(ctx, f.acct.ID, VerifyInput{
		OrderRef:   order.OrderRef,
		PaymentRef: "pay_1",
		Signature:  clientSig(order.OrderRef, "pay_1"),
	})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed after mismatch, got %v", err)
	}

	// Neither can the reconciliation sweep, even if the gateway shows a capture.
	f.gateway.payments = []Payment{{Ref: "pay_1", Status: PaymentStatusCaptured}}
	result, err := f.service.Reconcile(ctx, order.OrderRef)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconcileFailedTerminal {
		t.Fatalf("expected failed_terminal, got %s", result.Outcome)
	}

	mismatches := 0
	for _, e := range f.recorder.BySource(audit.SourceVerify) {
		if e.EventType == "payment.signature_mismatch" {
			mismatches++
		}
	}
	if mismatches != 1 {
		t.Fatalf("expected 1 signature mismatch entry, got %d", mismatches)
	}
}

func TestWebhookSettlesPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)

	body, sig := capturedWebhook(order.OrderRef, "pay_hook", 1_000)
	result, err := f.service.HandleWebhook(ctx, body, sig)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != WebhookSettled {
		t.Fatalf("expected settled, got %s", result.Outcome)
	}

	balance, err := f.store.Balance(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 847 {
		t.Fatalf("expected 847 credited via webhook, got %d", balance)
	}
}

func TestWebhookAfterVerifyIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)

	if _, err := f.service.Verify(ctx, f.acct.ID, VerifyInput{
		OrderRef:   order.OrderRef,
		PaymentRef: "pay_1",
		Signature:  clientSig(order.OrderRef, "pay_1"),
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	body, sig := capturedWebhook(order.OrderRef, "pay_1", 1_000)
	result, err := f.service.HandleWebhook(ctx, body, sig)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != WebhookAlreadySettled {
		t.Fatalf("expected already_settled, got %s", result.Outcome)
	}

	balance, _ := f.store.Balance(ctx, f.acct.ID)
	if balance != 847 {
		t.Fatalf("webhook double-credited: %d", balance)
	}

	invoices, err := f.store.InvoicesForAccount(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("invoices: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected exactly one invoice, got %d", len(invoices))
	}

	if got := len(f.recorder.BySource(audit.SourceWebhook)); got != 1 {
		t.Fatalf("webhook delivery must be audit-logged even as a no-op, got %d entries", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	order := f.openOrder(t, 1_000)

	body, _ := capturedWebhook(order.OrderRef, "pay_1", 1_000)
	result, err := f.service.HandleWebhook(context.Background(), body, "forged")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if result.Outcome != WebhookRejected {
		t.Fatalf("expected rejected outcome, got %s", result.Outcome)
	}

	entries := f.recorder.BySource(audit.SourceWebhook)
	if len(entries) != 1 || entries[0].EventType != "webhook.rejected" {
		t.Fatalf("rejected webhook must still be audit-logged, got %+v", entries)
	}

	balance, _ := f.store.Balance(context.Background(), f.acct.ID)
	if balance != 0 {
		t.Fatalf("forged webhook credited the wallet: %d", balance)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"event":"refund.processed","payload":{}}`)
	result, err := f.service.HandleWebhook(context.Background(), body, hmacHex(testWebhookSecret, body))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != WebhookIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	body, sig := capturedWebhook("order_unknown", "pay_1", 1_000)
	result, err := f.service.HandleWebhook(context.Background(), body, sig)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if result.Outcome != WebhookUnknownOrder {
		t.Fatalf("expected unknown_order, got %s", result.Outcome)
	}
}

func TestReconcileSettlesPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)
	f.gateway.payments = []Payment{{Ref: "pay_sweep", Status: PaymentStatusCaptured}}

	result, err := f.service.Reconcile(ctx, order.OrderRef)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconcileSettled {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if result.Settled.NewBalance != 847 {
		t.Fatalf("expected balance 847, got %d", result.Settled.NewBalance)
	}

	entries := f.recorder.BySource(audit.SourceReconcile)
	if len(entries) != 1 || entries[0].EventType != "reconcile."+ReconcileSettled {
		t.Fatalf("unexpected reconcile audit entries: %+v", entries)
	}
}

func TestReconcileLeavesUnpaidOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)
	f.gateway.orderStatus = OrderStatusAttempted

	result, err := f.service.Reconcile(ctx, order.OrderRef)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconcileNotPaid {
		t.Fatalf("expected not_paid, got %s", result.Outcome)
	}

	txn, err := f.store.FindByOrderRef(ctx, order.OrderRef)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if txn.Status != ledger.StatusPending {
		t.Fatalf("unpaid order must stay pending, got %s", txn.Status)
	}
}

func TestReconcileGatewayOutageIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)
	f.gateway.fetchErr = errors.New("connection refused")

	_, err := f.service.Reconcile(ctx, order.OrderRef)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	entries := f.recorder.BySource(audit.SourceReconcile)
	if len(entries) != 1 || entries[0].EventType != "reconcile.gateway_unavailable" {
		t.Fatalf("expected one gateway_unavailable entry, got %+v", entries)
	}

	txn, err := f.store.FindByOrderRef(ctx, order.OrderRef)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if txn.Status != ledger.StatusPending {
		t.Fatalf("gateway outage must leave the credit pending, got %s", txn.Status)
	}
}

func TestReconcilePaidWithoutCapture(t *testing.T) {
	f := newFixture(t)
	order := f.openOrder(t, 1_000)
	f.gateway.payments = []Payment{{Ref: "pay_auth", Status: "authorized"}}

	result, err := f.service.Reconcile(context.Background(), order.OrderRef)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != ReconcileNoCapture {
		t.Fatalf("expected no_captured_payment, got %s", result.Outcome)
	}
}

func TestConcurrentEntryPointsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.openOrder(t, 1_000)
	f.gateway.payments = []Payment{{Ref: "pay_1", Status: PaymentStatusCaptured}}

	body, sig := capturedWebhook(order.OrderRef, "pay_1", 1_000)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, err := f.service.Verify(ctx, f.acct.ID, VerifyInput{
			OrderRef:   order.OrderRef,
			PaymentRef: "pay_1",
			Signature:  clientSig(order.OrderRef, "pay_1"),
		})
		if err != nil {
			t.Errorf("verify: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := f.service.HandleWebhook(ctx, body, sig); err != nil {
			t.Errorf("webhook: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := f.service.Reconcile(ctx, order.OrderRef); err != nil {
			t.Errorf("reconcile: %v", err)
		}
	}()
	wg.Wait()

	balance, err := f.store.Balance(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 847 {
		t.Fatalf("expected a single 847 credit across entry points, got %d", balance)
	}

	invoices, err := f.store.InvoicesForAccount(ctx, f.acct.ID)
	if err != nil {
		t.Fatalf("invoices: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(invoices))
	}
}
