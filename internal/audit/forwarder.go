package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Forwarder ships settlement events to an external sink over HTTP. Delivery
// is fire-and-forget: failures are logged and never reach the caller, and
// the sink is expected to deduplicate on its side.
type Forwarder struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewForwarder builds a forwarder. A nil Forwarder (or empty URL) disables
// forwarding; Forward becomes a no-op.
func NewForwarder(url, apiKey string, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Forward posts the payload to the sink in a background goroutine.
func (f *Forwarder) Forward(event string, payload any) {
	if f == nil {
		return
	}
	go f.deliver(event, payload)
}

func (f *Forwarder) deliver(event string, payload any) {
	body, err := json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		f.logger.Warn("encode forwarded event", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("build forward request", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("forward settlement event", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.logger.Warn("forward settlement event", "event", event,
			"error", fmt.Sprintf("sink responded %d", resp.StatusCode))
	}
}
