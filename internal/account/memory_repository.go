package account

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Account
	byEmail map[string]string
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Account), byEmail: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, acct Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[acct.ID]; exists {
		return errors.New("account exists")
	}
	if _, exists := r.byEmail[acct.Email]; exists {
		return errors.New("email taken")
	}
	r.storage[acct.ID] = acct
	r.byEmail[acct.Email] = acct.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.storage[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (r *memoryRepository) GetByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.storage[id], nil
}

func (r *memoryRepository) UpdateProfile(_ context.Context, id string, profile Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.storage[id]
	if !ok {
		return ErrNotFound
	}
	acct.Name = profile.Name
	acct.Phone = profile.Phone
	acct.Company = profile.Company
	acct.TaxID = profile.TaxID
	acct.Address = profile.Address
	acct.UpdatedAt = time.Now().UTC()
	r.storage[id] = acct
	return nil
}
