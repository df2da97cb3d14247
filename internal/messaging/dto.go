package messaging

import "time"

// SendRequest dispatches one message.
type SendRequest struct {
	Recipient string `json:"recipient"`
	Category  string `json:"category"`
	Body      string `json:"body"`
}

// MessageResponse is the API view of a message.
type MessageResponse struct {
	ID                string     `json:"id"`
	Recipient         string     `json:"recipient"`
	Category          string     `json:"category"`
	CostPaise         int64      `json:"cost_paise"`
	Status            string     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ImportRequest books a batch of externally dispatched messages.
type ImportRequest struct {
	Records []ImportRecordRequest `json:"records"`
}

// ImportRecordRequest is one record in a batch import.
type ImportRecordRequest struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Recipient         string    `json:"recipient"`
	Category          string    `json:"category"`
	SentAt            time.Time `json:"sent_at"`
}

// ImportResponse summarizes a batch import.
type ImportResponse struct {
	Imported     int   `json:"imported"`
	Skipped      int   `json:"skipped"`
	TotalPaise   int64 `json:"total_paise"`
	BalancePaise int64 `json:"balance_paise"`
}

// StatusUpdateRequest is a provider delivery receipt.
type StatusUpdateRequest struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}
