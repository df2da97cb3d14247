package settlement

// OpenOrderRequest starts a wallet top-up checkout.
type OpenOrderRequest struct {
	Amount int64 `json:"amount_paise"`
}

// OrderResponse carries what the client needs to launch the gateway checkout.
type OrderResponse struct {
	OrderRef      string `json:"order_ref"`
	Amount        int64  `json:"amount_paise"`
	Currency      string `json:"currency"`
	KeyID         string `json:"key_id"`
	CreditedPaise int64  `json:"credited_paise"`
}

// VerifyRequest is the client-side payment confirmation.
type VerifyRequest struct {
	OrderRef   string `json:"order_ref"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
}

// SettleResponse reports a settled credit back to the client.
type SettleResponse struct {
	OrderRef       string `json:"order_ref"`
	PaymentRef     string `json:"payment_ref"`
	InvoiceNumber  string `json:"invoice_number"`
	CreditedPaise  int64  `json:"credited_paise"`
	BalancePaise   int64  `json:"balance_paise"`
	AlreadySettled bool   `json:"already_settled"`
}

// WebhookResponse acknowledges a gateway event.
type WebhookResponse struct {
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
}

// ReconcileResponse reports the resolution of a manual reconcile request.
type ReconcileResponse struct {
	OrderRef string          `json:"order_ref"`
	Outcome  string          `json:"outcome"`
	Settled  *SettleResponse `json:"settled,omitempty"`
}
