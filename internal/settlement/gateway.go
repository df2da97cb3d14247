package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gateway order and payment statuses as reported by the payment provider.
const (
	OrderStatusCreated   = "created"
	OrderStatusAttempted = "attempted"
	OrderStatusPaid      = "paid"

	PaymentStatusCaptured = "captured"
)

// Order is the gateway's view of a registered order.
type Order struct {
	Ref    string
	Amount int64
	Status string
}

// Payment is one payment attempt against an order.
type Payment struct {
	Ref    string
	Amount int64
	Status string
}

// Gateway represents a connector to the external payment processor.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, receipt string, notes map[string]string) (Order, error)
	FetchOrder(ctx context.Context, orderRef string) (Order, error)
	FetchPayments(ctx context.Context, orderRef string) ([]Payment, error)
}

// HTTPGateway talks to a Razorpay-style REST API using basic auth.
type HTTPGateway struct {
	baseURL string
	keyID   string
	secret  string
	client  *http.Client
}

// NewHTTPGateway constructs the production gateway connector.
func NewHTTPGateway(baseURL, keyID, secret string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		keyID:   keyID,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type gatewayOrder struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type gatewayPayment struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// CreateOrder registers an order with the gateway.
func (g *HTTPGateway) CreateOrder(ctx context.Context, amount int64, receipt string, notes map[string]string) (Order, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": "INR",
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var out gatewayOrder
	if err := g.do(ctx, http.MethodPost, "/orders", payload, &out); err != nil {
		return Order{}, err
	}
	return Order{Ref: out.ID, Amount: out.Amount, Status: out.Status}, nil
}

// FetchOrder reads the current state of an order.
func (g *HTTPGateway) FetchOrder(ctx context.Context, orderRef string) (Order, error) {
	var out gatewayOrder
	if err := g.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderRef), nil, &out); err != nil {
		return Order{}, err
	}
	return Order{Ref: out.ID, Amount: out.Amount, Status: out.Status}, nil
}

// FetchPayments lists payment attempts recorded against an order.
func (g *HTTPGateway) FetchPayments(ctx context.Context, orderRef string) ([]Payment, error) {
	var out struct {
		Items []gatewayPayment `json:"items"`
	}
	if err := g.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderRef)+"/payments", nil, &out); err != nil {
		return nil, err
	}

	payments := make([]Payment, 0, len(out.Items))
	for _, item := range out.Items {
		payments = append(payments, Payment{Ref: item.ID, Amount: item.Amount, Status: item.Status})
	}
	return payments, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload, out any) error {
	var body *strings.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(encoded))
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, g.secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway responded %d for %s %s", resp.StatusCode, method, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StaticGateway simulates a gateway where every order is immediately paid by
// one captured payment. Useful for tests and local development.
type StaticGateway struct{}

// CreateOrder returns a synthetic order reference.
func (StaticGateway) CreateOrder(_ context.Context, amount int64, _ string, _ map[string]string) (Order, error) {
	return Order{Ref: "order_" + uuid.NewString(), Amount: amount, Status: OrderStatusCreated}, nil
}

// FetchOrder reports the order as paid.
func (StaticGateway) FetchOrder(_ context.Context, orderRef string) (Order, error) {
	return Order{Ref: orderRef, Status: OrderStatusPaid}, nil
}

// FetchPayments reports a single captured payment.
func (StaticGateway) FetchPayments(_ context.Context, orderRef string) ([]Payment, error) {
	return []Payment{{Ref: "pay_" + uuid.NewString(), Status: PaymentStatusCaptured}}, nil
}
