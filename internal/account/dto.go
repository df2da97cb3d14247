package account

import "time"

// RegisterRequest opens a new account.
type RegisterRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address"`
}

// RegisterResponse returns the new account with its one-time API key. The key
// cannot be retrieved again.
type RegisterResponse struct {
	Account AccountResponse `json:"account"`
	APIKey  string          `json:"api_key"`
}

// AccountResponse is the API view of an account.
type AccountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	TaxID     string    `json:"tax_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileRequest rewrites the billing profile.
type ProfileRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address"`
}

// BalanceResponse reports the spendable wallet balance.
type BalanceResponse struct {
	AccountID    string    `json:"account_id"`
	BalancePaise int64     `json:"balance_paise"`
	AsOf         time.Time `json:"as_of"`
}

// AdjustRequest is an operator balance correction.
type AdjustRequest struct {
	DeltaPaise int64  `json:"delta_paise"`
	Reason     string `json:"reason"`
}

// AdjustResponse reports the applied correction.
type AdjustResponse struct {
	TransactionID string `json:"transaction_id"`
	BalancePaise  int64  `json:"balance_paise"`
}

// TransactionResponse is the API view of a ledger transaction.
type TransactionResponse struct {
	ID          string    `json:"id"`
	AmountPaise int64     `json:"amount_paise"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	OrderRef    string    `json:"order_ref,omitempty"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// InvoiceResponse is the API view of an issued invoice.
type InvoiceResponse struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Company       string    `json:"company,omitempty"`
	TaxID         string    `json:"tax_id,omitempty"`
	SubtotalPaise int64     `json:"subtotal_paise"`
	CGSTPaise     int64     `json:"cgst_paise"`
	SGSTPaise     int64     `json:"sgst_paise"`
	IGSTPaise     int64     `json:"igst_paise"`
	TotalPaise    int64     `json:"total_paise"`
	CreditedPaise int64     `json:"credited_paise"`
	PaymentRef    string    `json:"payment_ref"`
	PaymentDate   time.Time `json:"payment_date"`
	Status        string    `json:"status"`
}
