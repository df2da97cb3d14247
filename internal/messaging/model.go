package messaging

import "time"

// Message statuses. A message starts pending, moves to sent or failed at
// dispatch time, and sent messages advance to delivered and read as the
// provider reports receipts. Cost is fixed when the message is created and
// never re-priced.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message is one outbound WhatsApp message and its billing linkage.
type Message struct {
	ID                string
	AccountID         string
	Recipient         string
	Category          string
	Body              string
	Cost              int64
	Status            string
	ProviderMessageID string
	Error             string
	TransactionID     string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
