package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatbill/chatbill/internal/logging"
)

func TestForwarderDeliversEvent(t *testing.T) {
	type delivery struct {
		auth string
		body map[string]any
	}
	ch := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode forwarded body: %v", err)
		}
		ch <- delivery{auth: r.Header.Get("Authorization"), body: payload}
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, "sink-key", time.Second, logging.Discard())
	f.Forward("payment.settled", map[string]any{"order_ref": "order_1"})

	select {
	case d := <-ch:
		if d.auth != "Bearer sink-key" {
			t.Fatalf("unexpected authorization header %q", d.auth)
		}
		if d.body["event"] != "payment.settled" {
			t.Fatalf("unexpected event %v", d.body["event"])
		}
		data, _ := d.body["data"].(map[string]any)
		if data["order_ref"] != "order_1" {
			t.Fatalf("payload not forwarded: %v", d.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwarded event never arrived")
	}
}

func TestForwarderDisabledWithoutURL(t *testing.T) {
	f := NewForwarder("", "key", time.Second, logging.Discard())
	if f != nil {
		t.Fatal("empty URL should disable forwarding")
	}
	// Forward on the nil forwarder is a no-op, not a panic.
	f.Forward("payment.settled", nil)
}
