package audit

import (
	"context"
	"time"
)

// Entry sources: which settlement entry point observed the event.
const (
	SourceOpenOrder = "open_order"
	SourceVerify    = "verify"
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
)

// Entry is one raw settlement event. Entries are append-only and are never
// read by the settlement engine itself; they exist for dispute resolution
// and external reporting.
type Entry struct {
	ID         string
	Source     string
	EventType  string
	AccountID  string
	OrderRef   string
	PaymentRef string
	Amount     int64
	RawPayload []byte
	CreatedAt  time.Time
}

// Recorder persists settlement events. Writes are best-effort from the
// caller's perspective: the settlement operation logs a failure but never
// propagates it.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}
