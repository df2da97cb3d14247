package messaging

import (
	"context"

	"github.com/google/uuid"
)

// SendResult is the provider's acknowledgement of a dispatched message.
type SendResult struct {
	ProviderMessageID string
}

// Provider dispatches messages through the upstream WhatsApp channel.
type Provider interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// StaticProvider accepts every message and mints a synthetic provider
// reference. Used in tests and local development.
type StaticProvider struct{}

// Send acknowledges the message with a generated reference.
func (StaticProvider) Send(_ context.Context, _ Message) (SendResult, error) {
	return SendResult{ProviderMessageID: "wamid." + uuid.NewString()}, nil
}
