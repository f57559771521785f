// Package gateway talks to Razorpay: order creation through the SDK and
// signature checks for client callbacks and webhooks.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"theratreat/apperr"

	razorpay "github.com/razorpay/razorpay-go"
)

const Provider = "razorpay"

// ErrInvalidSignature is returned when a supplied signature does not match.
var ErrInvalidSignature = errors.New("invalid signature")

type OrderRequest struct {
	Amount   int64 // minor units
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Receipt   string    `json:"receipt,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// orderCreator is the slice of the SDK this package uses.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Credentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type Client struct {
	creds   Credentials
	orders  orderCreator
	timeout time.Duration
}

// New builds a client. Missing credentials are not an error here; the
// operations that need them report a configuration error instead.
func New(creds Credentials, timeout time.Duration) *Client {
	c := &Client{creds: creds, timeout: timeout}
	if creds.KeyID != "" && creds.KeySecret != "" {
		c.orders = razorpay.NewClient(creds.KeyID, creds.KeySecret).Order
	}
	return c
}

func (c *Client) KeyID() string {
	if c.creds.KeySecret == "" {
		return ""
	}
	return c.creds.KeyID
}

// CreateOrder runs the SDK call under the client timeout. The SDK has no
// context support, so an abandoned call finishes in the background and its
// result is discarded.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if c.orders == nil {
		return nil, apperr.Configuration("gateway_not_configured", "payment gateway credentials are not configured")
	}
	if req.Amount <= 0 {
		return nil, apperr.Validation("invalid_amount", "order amount must be positive")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := c.orders.Create(data, nil)
		done <- result{body, err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperr.UpstreamTimeout("gateway_timeout", "payment gateway did not respond in time", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, apperr.Upstream("gateway_error", "payment gateway rejected the order", res.err)
		}
		return parseOrder(res.body, req)
	}
}

func parseOrder(body map[string]interface{}, req OrderRequest) (*Order, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, apperr.Upstream("gateway_error", "payment gateway returned no order id", fmt.Errorf("order response: %v", body["error"]))
	}
	o := &Order{
		ID:       id,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
	}
	// JSON numbers decode as float64
	if amt, ok := body["amount"].(float64); ok {
		o.Amount = int64(amt)
	}
	if cur, ok := body["currency"].(string); ok && cur != "" {
		o.Currency = cur
	}
	if st, ok := body["status"].(string); ok {
		o.Status = st
	}
	if ts, ok := body["created_at"].(float64); ok {
		o.CreatedAt = time.Unix(int64(ts), 0).UTC()
	} else {
		o.CreatedAt = time.Now().UTC()
	}
	return o, nil
}

// VerifyPaymentSignature checks hex(HMAC_SHA256(keySecret, orderID|paymentID)).
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) error {
	if c.creds.KeySecret == "" {
		return apperr.Configuration("gateway_not_configured", "payment gateway credentials are not configured")
	}
	if !validSignature(c.creds.KeySecret, []byte(orderID+"|"+paymentID), signature) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWebhookSignature checks hex(HMAC_SHA256(webhookSecret, body)).
func (c *Client) VerifyWebhookSignature(body []byte, signature string) error {
	if c.creds.WebhookSecret == "" {
		return apperr.Configuration("webhook_not_configured", "webhook secret is not configured")
	}
	if !validSignature(c.creds.WebhookSecret, body, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
