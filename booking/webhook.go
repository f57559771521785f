package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"theratreat/apperr"
	"theratreat/gateway"
	"theratreat/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const EventPaymentCaptured = "payment.captured"

// Webhook outcomes.
const (
	ActionIgnored   = "ignored"
	ActionMalformed = "malformed"
	ActionNoMatch   = "no_match"
	ActionDuplicate = "duplicate"
	ActionApplied   = "applied"
)

type WebhookResult struct {
	Action    string `json:"action"`
	Event     string `json:"event,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Reconciler applies gateway capture events to bookings. It only ever moves
// paymentStatus to paid; booking status stays with the lifecycle manager.
type Reconciler struct {
	verifier WebhookVerifier
	store    Store
	events   EventLog
	now      func() time.Time
	log      zerolog.Logger
	tracer   trace.Tracer
}

// NewReconciler builds a reconciler. events may be nil to skip the audit trail.
func NewReconciler(verifier WebhookVerifier, store Store, events EventLog, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		store:    store,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "webhook").Logger(),
		tracer:   otel.Tracer("theratreat/booking"),
	}
}

// HandleWebhook verifies and applies one delivery. Only a bad signature, a
// missing webhook secret or a storage failure return an error; every other
// outcome is reported in the result so the caller can acknowledge it.
func (r *Reconciler) HandleWebhook(ctx context.Context, raw []byte, signature, eventID string) (res WebhookResult, err error) {
	ctx, span := r.tracer.Start(ctx, "booking.HandleWebhook")
	defer func() {
		span.SetAttributes(attribute.String("webhook.action", res.Action))
		endSpan(span, err)
	}()

	if err := r.verifier.VerifyWebhookSignature(raw, signature); err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			r.log.Warn().Msg("webhook signature mismatch")
			return WebhookResult{}, apperr.Forbidden("invalid_webhook_signature", "invalid webhook signature")
		}
		return WebhookResult{}, err
	}
	if eventID == "" {
		sum := sha256.Sum256(raw)
		eventID = "body:" + hex.EncodeToString(sum[:])
	}

	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.log.Error().Err(err).Str("eventId", eventID).Msg("webhook body malformed")
		return WebhookResult{Action: ActionMalformed}, nil
	}
	res.Event = p.Event
	entity := p.Payload.Payment.Entity

	defer func() {
		if err == nil {
			r.audit(ctx, eventID, p.Event, entity, res)
		}
	}()

	if p.Event != EventPaymentCaptured {
		res.Action = ActionIgnored
		return res, nil
	}
	if entity.OrderID == "" {
		r.log.Error().Str("eventId", eventID).Msg("payment.captured without order id")
		res.Action = ActionMalformed
		return res, nil
	}

	b, err := r.store.FindByOrderID(ctx, entity.OrderID)
	if apperr.Is(err, apperr.KindNotFound) {
		// order ids are shared with other checkout flows
		r.log.Info().Str("orderId", entity.OrderID).Msg("webhook order matches no booking")
		res.Action = ActionNoMatch
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.BookingID = b.ID
	span.SetAttributes(attribute.String("booking.id", b.ID))

	if b.PaymentStatus.Settled() {
		res.Action = ActionDuplicate
		return res, nil
	}

	capturedAt := r.now()
	if entity.CreatedAt > 0 {
		capturedAt = time.Unix(entity.CreatedAt, 0).UTC()
	}
	_, applied, err := r.store.MarkPaid(ctx, b.ID, PaidUpdate{
		PaymentID:      entity.ID,
		Method:         entity.Method,
		CapturedAmount: entity.Amount,
		Via:            models.PaidViaWebhook,
		At:             capturedAt,
	})
	if err != nil {
		return res, err
	}
	if !applied {
		res.Action = ActionDuplicate
		return res, nil
	}

	if o := b.Payment.Order; o != nil && entity.Amount > 0 && entity.Amount != o.Amount {
		r.log.Warn().Str("bookingId", b.ID).Int64("captured", entity.Amount).Int64("ordered", o.Amount).Msg("captured amount differs from order")
	}
	r.log.Info().Str("bookingId", b.ID).Str("paymentId", entity.ID).Msg("payment captured via webhook")
	res.Action = ActionApplied
	return res, nil
}

func (r *Reconciler) audit(ctx context.Context, eventID, event string, entity paymentEntity, res WebhookResult) {
	if r.events == nil {
		return
	}
	err := r.events.RecordEvent(ctx, models.WebhookEvent{
		EventID:    eventID,
		Event:      event,
		OrderID:    entity.OrderID,
		PaymentID:  entity.ID,
		BookingID:  res.BookingID,
		Action:     res.Action,
		ReceivedAt: r.now(),
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicate):
		r.log.Info().Str("eventId", eventID).Msg("webhook event redelivered")
	case err != nil:
		r.log.Warn().Err(err).Str("eventId", eventID).Msg("webhook audit write failed")
	}
}
