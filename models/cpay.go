package models

import "time"

// IdempotencyRecord caches the first response served under an Idempotency-Key.
type IdempotencyRecord struct {
	Key         string                 `bson:"key" json:"key"`
	Method      string                 `bson:"method" json:"method"`
	Path        string                 `bson:"path" json:"path"`
	UserID      string                 `bson:"userid" json:"userid"`
	RequestHash string                 `bson:"request_hash" json:"request_hash"`
	Response    map[string]interface{} `bson:"response,omitempty" json:"response,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time              `bson:"expires_at" json:"expires_at"`
}

// WebhookEvent is the audit trail of verified gateway deliveries.
type WebhookEvent struct {
	EventID    string    `bson:"eventId" json:"eventId"`
	Event      string    `bson:"event" json:"event"`
	OrderID    string    `bson:"orderId,omitempty" json:"orderId,omitempty"`
	PaymentID  string    `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	BookingID  string    `bson:"bookingId,omitempty" json:"bookingId,omitempty"`
	Action     string    `bson:"action" json:"action"`
	ReceivedAt time.Time `bson:"receivedAt" json:"receivedAt"`
}
