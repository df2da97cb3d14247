package messaging

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu            sync.Mutex
	messages      map[string]*Message
	byProviderRef map[string]string
}

// NewMemoryRepository builds an in-memory message repository for tests and
// local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		messages:      make(map[string]*Message),
		byProviderRef: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := msg
	r.messages[msg.ID] = &copied
	if msg.ProviderMessageID != "" {
		r.byProviderRef[msg.ProviderMessageID] = msg.ID
	}
	return nil
}

func (r *memoryRepository) Get(_ context.Context, accountID, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok || msg.AccountID != accountID {
		return Message{}, ErrNotFound
	}
	return *msg, nil
}

func (r *memoryRepository) GetByProviderRef(_ context.Context, providerRef string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byProviderRef[providerRef]
	if !ok {
		return Message{}, ErrNotFound
	}
	return *r.messages[id], nil
}

func (r *memoryRepository) MarkSent(_ context.Context, id, providerRef, transactionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok || msg.Status != StatusPending {
		return ErrNotFound
	}
	msg.Status = StatusSent
	msg.ProviderMessageID = providerRef
	msg.TransactionID = transactionID
	sent := at
	msg.SentAt = &sent
	msg.UpdatedAt = at
	r.byProviderRef[providerRef] = id
	return nil
}

func (r *memoryRepository) MarkFailed(_ context.Context, id, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok || msg.Status != StatusPending {
		return ErrNotFound
	}
	msg.Status = StatusFailed
	msg.Error = errText
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepository) MarkDelivery(_ context.Context, providerRef, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byProviderRef[providerRef]
	if !ok {
		return ErrNotFound
	}
	msg := r.messages[id]
	stamp := at

	switch {
	case status == StatusDelivered && msg.Status == StatusSent:
		msg.Status = StatusDelivered
		msg.DeliveredAt = &stamp
	case status == StatusRead && (msg.Status == StatusSent || msg.Status == StatusDelivered):
		msg.Status = StatusRead
		msg.ReadAt = &stamp
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &stamp
		}
	default:
		return ErrNotFound
	}
	msg.UpdatedAt = at
	return nil
}

func (r *memoryRepository) ListForAccount(_ context.Context, accountID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Message
	for _, msg := range r.messages {
		if msg.AccountID == accountID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ExistingProviderRefs(_ context.Context, accountID string, refs []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if id, ok := r.byProviderRef[ref]; ok && r.messages[id].AccountID == accountID {
			out[ref] = true
		}
	}
	return out, nil
}
