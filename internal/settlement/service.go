package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatbill/chatbill/internal/account"
	"github.com/chatbill/chatbill/internal/audit"
	"github.com/chatbill/chatbill/internal/ledger"
	"github.com/chatbill/chatbill/internal/tax"
)

var (
	// ErrInvalidAmount indicates an order below the minimum top-up value.
	ErrInvalidAmount = errors.New("amount below minimum order value")

	// ErrGatewayUnavailable wraps transport failures talking to the payment
	// gateway.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidSignature indicates the HMAC check on a verification payload
	// or webhook body failed.
	ErrInvalidSignature = errors.New("payment signature verification failed")

	// ErrPaymentFailed indicates the credit reached its terminal failed state.
	ErrPaymentFailed = errors.New("payment is in terminal failed state")
)

// Reconciliation outcomes. A stale pending order resolves to exactly one of
// these per sweep.
const (
	ReconcileSettled          = "success"
	ReconcileAlreadyCompleted = "already_completed"
	ReconcileFailedTerminal   = "failed_terminal"
	ReconcileNotPaid          = "not_paid"
	ReconcileNoCapture        = "no_captured_payment"
)

// Webhook outcomes.
const (
	WebhookSettled        = "settled"
	WebhookAlreadySettled = "already_settled"
	WebhookIgnored        = "ignored"
	WebhookUnknownOrder   = "unknown_order"
	WebhookFailedTerminal = "failed_terminal"
	WebhookRejected       = "rejected"
)

const webhookPaymentCaptured = "payment.captured"

// Options carries the gateway credentials and billing knobs the coordinator
// needs. ClientSecret signs the order|payment verification string;
// WebhookSecret signs raw webhook bodies.
type Options struct {
	KeyID          string
	ClientSecret   string
	WebhookSecret  string
	InvoicePrefix  string
	MinOrderAmount int64
}

// Service coordinates the four settlement entry points: client order opening,
// client verification, gateway webhooks and the reconciliation sweep. All
// paths converge on the ledger's atomic settle, which makes concurrent
// arrival safe.
type Service struct {
	opts      Options
	gateway   Gateway
	store     ledger.Store
	accounts  *account.Service
	calc      tax.Calculator
	recorder  audit.Recorder
	forwarder *audit.Forwarder
	logger    *slog.Logger
}

// NewService wires a settlement coordinator.
func NewService(opts Options, gw Gateway, store ledger.Store, accounts *account.Service,
	calc tax.Calculator, recorder audit.Recorder, forwarder *audit.Forwarder, logger *slog.Logger) *Service {
	return &Service{
		opts:      opts,
		gateway:   gw,
		store:     store,
		accounts:  accounts,
		calc:      calc,
		recorder:  recorder,
		forwarder: forwarder,
		logger:    logger,
	}
}

// OrderResult is handed back to the client to drive the gateway checkout.
type OrderResult struct {
	OrderRef string
	Amount   int64
	Currency string
	KeyID    string
	Credited int64
}

// VerifyInput is the client-side confirmation of a checkout.
type VerifyInput struct {
	OrderRef   string
	PaymentRef string
	Signature  string
}

// SettleResult reports a settled (or previously settled) credit.
type SettleResult struct {
	OrderRef       string
	PaymentRef     string
	InvoiceNumber  string
	Credited       int64
	NewBalance     int64
	AlreadySettled bool
}

// WebhookResult reports how an incoming gateway event was handled.
type WebhookResult struct {
	Event   string
	Outcome string
}

// ReconcileResult reports the resolution of one stale pending order.
type ReconcileResult struct {
	OrderRef string
	Outcome  string
	Settled  SettleResult
}

// OpenOrder registers a top-up order with the gateway and records the pending
// credit. The wallet is not touched until settlement. Every attempt lands in
// the audit log, rejected ones included.
func (s *Service) OpenOrder(ctx context.Context, acct account.Account, amount int64) (OrderResult, error) {
	s.record(ctx, audit.Entry{
		Source:    audit.SourceOpenOrder,
		EventType: "order.requested",
		AccountID: acct.ID,
		Amount:    amount,
	})

	if amount < s.opts.MinOrderAmount {
		return OrderResult{}, fmt.Errorf("%w: minimum is %d paise", ErrInvalidAmount, s.opts.MinOrderAmount)
	}

	breakdown, err := s.calc.Breakdown(amount)
	if err != nil {
		return OrderResult{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	receipt := fmt.Sprintf("rcpt_%d", time.Now().UnixNano())
	order, err := s.gateway.CreateOrder(ctx, amount, receipt, map[string]string{"account_id": acct.ID})
	if err != nil {
		return OrderResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	pending := ledger.Transaction{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		Amount:    amount,
		Type:      ledger.TypeCredit,
		Status:    ledger.StatusPending,
		OrderRef:  order.Ref,
		Description: fmt.Sprintf("Wallet top-up of %d paise (%d credited after GST)",
			amount, breakdown.Credited()),
	}
	if _, err := s.store.CreatePendingCredit(ctx, pending); err != nil {
		return OrderResult{}, err
	}

	s.record(ctx, audit.Entry{
		Source:    audit.SourceOpenOrder,
		EventType: "order.created",
		AccountID: acct.ID,
		OrderRef:  order.Ref,
		Amount:    amount,
	})

	return OrderResult{
		OrderRef: order.Ref,
		Amount:   amount,
		Currency: "INR",
		KeyID:    s.opts.KeyID,
		Credited: breakdown.Credited(),
	}, nil
}

// Verify handles the client-side confirmation. The signature is the
// hex-encoded HMAC-SHA256 of "orderRef|paymentRef" under the gateway client
// secret. A mismatch marks the pending credit failed, which is terminal.
func (s *Service) Verify(ctx context.Context, accountID string, in VerifyInput) (SettleResult, error) {
	raw, _ := json.Marshal(in)
	s.record(ctx, audit.Entry{
		Source:     audit.SourceVerify,
		EventType:  "payment.verify",
		AccountID:  accountID,
		OrderRef:   in.OrderRef,
		PaymentRef: in.PaymentRef,
		RawPayload: raw,
	})

	txn, err := s.store.FindForAccount(ctx, accountID, in.OrderRef)
	if err != nil {
		return SettleResult{}, err
	}

	// Completed and failed are terminal; neither consults the signature again.
	switch txn.Status {
	case ledger.StatusCompleted:
		outcome, err := s.settle(ctx, txn, in.PaymentRef, in.Signature)
		if err != nil {
			return SettleResult{}, err
		}
		return settleResult(in.OrderRef, in.PaymentRef, outcome), nil
	case ledger.StatusFailed:
		return SettleResult{}, fmt.Errorf("%w: order %s", ErrPaymentFailed, in.OrderRef)
	}

	if !signaturesEqual(in.Signature, s.clientSignature(in.OrderRef, in.PaymentRef)) {
		if err := s.store.MarkFailed(ctx, in.OrderRef); err != nil {
			s.logger.Error("mark failed after signature mismatch", "order_ref", in.OrderRef, "error", err)
		}
		s.record(ctx, audit.Entry{
			Source:     audit.SourceVerify,
			EventType:  "payment.signature_mismatch",
			AccountID:  accountID,
			OrderRef:   in.OrderRef,
			PaymentRef: in.PaymentRef,
		})
		return SettleResult{}, ErrInvalidSignature
	}

	outcome, err := s.settle(ctx, txn, in.PaymentRef, in.Signature)
	if err != nil {
		return SettleResult{}, err
	}

	result := settleResult(in.OrderRef, in.PaymentRef, outcome)
	if !outcome.AlreadySettled {
		s.forwarder.Forward("payment.settled", map[string]any{
			"account_id":  accountID,
			"order_ref":   in.OrderRef,
			"payment_ref": in.PaymentRef,
			"invoice":     outcome.Invoice.Number,
			"credited":    outcome.Invoice.Credited,
		})
	}
	return result, nil
}

// HandleWebhook processes a raw gateway webhook. The body is authenticated
// with HMAC-SHA256 under the webhook secret before anything is parsed from
// it. Every delivery is audit-logged, including rejected ones.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	var envelope struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string `json:"id"`
					OrderID string `json:"order_id"`
					Amount  int64  `json:"amount"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	// Parse failures leave the envelope zero; the entry still captures the body.
	_ = json.Unmarshal(body, &envelope)
	entity := envelope.Payload.Payment.Entity

	sigOK := signaturesEqual(signature, s.webhookSignature(body))

	eventType := envelope.Event
	if !sigOK {
		eventType = "webhook.rejected"
	}
	s.record(ctx, audit.Entry{
		Source:     audit.SourceWebhook,
		EventType:  eventType,
		OrderRef:   entity.OrderID,
		PaymentRef: entity.ID,
		Amount:     entity.Amount,
		RawPayload: body,
	})

	if !sigOK {
		return WebhookResult{Event: envelope.Event, Outcome: WebhookRejected}, ErrInvalidSignature
	}

	if envelope.Event != webhookPaymentCaptured {
		return WebhookResult{Event: envelope.Event, Outcome: WebhookIgnored}, nil
	}

	txn, err := s.store.FindByOrderRef(ctx, entity.OrderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("webhook for unknown order", "order_ref", entity.OrderID)
			return WebhookResult{Event: envelope.Event, Outcome: WebhookUnknownOrder}, nil
		}
		return WebhookResult{}, err
	}

	outcome, err := s.settle(ctx, txn, entity.ID, "")
	if err != nil {
		if errors.Is(err, ErrPaymentFailed) {
			// Terminal on our side; acknowledge so the gateway stops retrying.
			return WebhookResult{Event: envelope.Event, Outcome: WebhookFailedTerminal}, nil
		}
		return WebhookResult{}, err
	}

	if outcome.AlreadySettled {
		return WebhookResult{Event: envelope.Event, Outcome: WebhookAlreadySettled}, nil
	}

	s.forwarder.Forward("payment.settled", map[string]any{
		"account_id":  txn.AccountID,
		"order_ref":   entity.OrderID,
		"payment_ref": entity.ID,
		"invoice":     outcome.Invoice.Number,
		"credited":    outcome.Invoice.Credited,
		"via":         "webhook",
	})
	return WebhookResult{Event: envelope.Event, Outcome: WebhookSettled}, nil
}

// Reconcile resolves one pending order against the gateway's view. Failed
// transactions stay failed even when the gateway reports a capture; disputes
// for that window are handled through operator adjustments.
func (s *Service) Reconcile(ctx context.Context, orderRef string) (ReconcileResult, error) {
	txn, err := s.store.FindByOrderRef(ctx, orderRef)
	if err != nil {
		eventType := "reconcile.error"
		if errors.Is(err, ledger.ErrNotFound) {
			eventType = "reconcile.unknown_order"
		}
		s.record(ctx, audit.Entry{
			Source:    audit.SourceReconcile,
			EventType: eventType,
			OrderRef:  orderRef,
		})
		return ReconcileResult{}, err
	}

	switch txn.Status {
	case ledger.StatusCompleted:
		s.recordReconcile(ctx, txn, ReconcileAlreadyCompleted)
		return ReconcileResult{OrderRef: orderRef, Outcome: ReconcileAlreadyCompleted}, nil
	case ledger.StatusFailed:
		s.recordReconcile(ctx, txn, ReconcileFailedTerminal)
		return ReconcileResult{OrderRef: orderRef, Outcome: ReconcileFailedTerminal}, nil
	}

	order, err := s.gateway.FetchOrder(ctx, orderRef)
	if err != nil {
		s.recordReconcile(ctx, txn, "gateway_unavailable")
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if order.Status != OrderStatusPaid {
		s.recordReconcile(ctx, txn, ReconcileNotPaid)
		return ReconcileResult{OrderRef: orderRef, Outcome: ReconcileNotPaid}, nil
	}

	payments, err := s.gateway.FetchPayments(ctx, orderRef)
	if err != nil {
		s.recordReconcile(ctx, txn, "gateway_unavailable")
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	var captured *Payment
	for i := range payments {
		if payments[i].Status == PaymentStatusCaptured {
			captured = &payments[i]
			break
		}
	}
	if captured == nil {
		s.recordReconcile(ctx, txn, ReconcileNoCapture)
		return ReconcileResult{OrderRef: orderRef, Outcome: ReconcileNoCapture}, nil
	}

	outcome, err := s.settle(ctx, txn, captured.Ref, "")
	if err != nil {
		s.recordReconcile(ctx, txn, "error")
		return ReconcileResult{}, err
	}

	result := ReconcileResult{
		OrderRef: orderRef,
		Outcome:  ReconcileSettled,
		Settled:  settleResult(orderRef, captured.Ref, outcome),
	}
	if outcome.AlreadySettled {
		result.Outcome = ReconcileAlreadyCompleted
	} else {
		s.forwarder.Forward("payment.settled", map[string]any{
			"account_id":  txn.AccountID,
			"order_ref":   orderRef,
			"payment_ref": captured.Ref,
			"invoice":     outcome.Invoice.Number,
			"credited":    outcome.Invoice.Credited,
			"via":         "reconcile",
		})
	}
	s.recordReconcile(ctx, txn, result.Outcome)
	return result, nil
}

// settle funnels every entry point through the ledger's atomic transition.
// The breakdown is computed from the transaction's gross amount; for an
// already-completed transaction the store short-circuits before using it.
func (s *Service) settle(ctx context.Context, txn ledger.Transaction, paymentRef, signature string) (ledger.SettleOutcome, error) {
	breakdown, err := s.calc.Breakdown(txn.Amount)
	if err != nil {
		return ledger.SettleOutcome{}, err
	}
	billing, err := s.accounts.BillingSnapshot(ctx, txn.AccountID)
	if err != nil {
		return ledger.SettleOutcome{}, err
	}

	outcome, err := s.store.Settle(ctx, ledger.SettleInput{
		OrderRef:      txn.OrderRef,
		PaymentRef:    paymentRef,
		Signature:     signature,
		Tax:           breakdown,
		InvoicePrefix: s.opts.InvoicePrefix,
		Year:          time.Now().UTC().Year(),
		Billing:       billing,
		Description:   fmt.Sprintf("Wallet top-up settled via payment %s", paymentRef),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionFailed) {
			return ledger.SettleOutcome{}, fmt.Errorf("%w: order %s", ErrPaymentFailed, txn.OrderRef)
		}
		return ledger.SettleOutcome{}, err
	}
	return outcome, nil
}

func settleResult(orderRef, paymentRef string, outcome ledger.SettleOutcome) SettleResult {
	result := SettleResult{
		OrderRef:       orderRef,
		PaymentRef:     paymentRef,
		NewBalance:     outcome.NewBalance,
		AlreadySettled: outcome.AlreadySettled,
	}
	if outcome.AlreadySettled {
		result.PaymentRef = outcome.Transaction.PaymentRef
		result.Credited = outcome.Transaction.Amount
	} else {
		result.Credited = outcome.Invoice.Credited
	}
	result.InvoiceNumber = outcome.Invoice.Number
	return result
}

func (s *Service) recordReconcile(ctx context.Context, txn ledger.Transaction, outcome string) {
	s.record(ctx, audit.Entry{
		Source:    audit.SourceReconcile,
		EventType: "reconcile." + outcome,
		AccountID: txn.AccountID,
		OrderRef:  txn.OrderRef,
		Amount:    txn.Amount,
	})
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.Error("record audit entry",
			"source", entry.Source, "event", entry.EventType, "error", err)
	}
}

func (s *Service) clientSignature(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(s.opts.ClientSecret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) webhookSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.opts.WebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signaturesEqual(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}
