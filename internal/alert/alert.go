package alert

import (
	"context"
	"log/slog"
	"time"
)

// Notifier delivers low-balance notifications to downstream systems.
// Delivery is at-least-once; deduplication is the notifier's problem.
type Notifier interface {
	Notify(ctx context.Context, accountID string, balance int64) error
}

// Watcher observes post-debit balances and fires the notifier when the
// balance drops below the threshold. Notifier failures are logged and
// swallowed: an alert must never fail or roll back the debit it observed.
type Watcher struct {
	threshold int64
	notifier  Notifier
	logger    *slog.Logger
}

// NewWatcher builds a watcher with the given threshold in paise.
func NewWatcher(threshold int64, notifier Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{threshold: threshold, notifier: notifier, logger: logger}
}

// Observe checks the post-debit balance and triggers the notifier in a
// background goroutine when it is below the threshold.
func (w *Watcher) Observe(accountID string, balance int64) {
	if w == nil || w.notifier == nil || balance >= w.threshold {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.notifier.Notify(ctx, accountID, balance); err != nil {
			w.logger.Warn("low balance notification failed",
				"account_id", accountID, "balance", balance, "error", err)
		}
	}()
}

// LoggerNotifier is a stub implementation that writes alerts to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify writes the alert to the structured logger.
func (n *LoggerNotifier) Notify(_ context.Context, accountID string, balance int64) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("low balance alert", "account_id", accountID, "balance", balance)
	return nil
}
