package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chatbill/chatbill/internal/ledger"
)

const sweepBatchSize = 50

// Sweeper periodically reconciles pending credits that have outlived the
// client verification window. It is the safety net for abandoned checkouts
// and webhooks lost in transit.
type Sweeper struct {
	service *Service
	store   ledger.Store
	minAge  time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper schedules the sweep according to spec (cron expression or
// @every syntax). Start must be called to begin sweeping.
func NewSweeper(service *Service, store ledger.Store, spec string, minAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		service: service,
		store:   store,
		minAge:  minAge,
		cron:    cron.New(),
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.minAge)
	stale, err := s.store.StalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("list stale pending credits", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	s.logger.Info("reconciliation sweep started", "pending", len(stale))
	for _, txn := range stale {
		result, err := s.service.Reconcile(ctx, txn.OrderRef)
		if err != nil {
			s.logger.Warn("reconcile pending credit",
				"order_ref", txn.OrderRef, "account_id", txn.AccountID, "error", err)
			continue
		}
		s.logger.Info("reconciled pending credit",
			"order_ref", txn.OrderRef, "outcome", result.Outcome)
	}
}
