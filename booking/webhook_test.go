package booking_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"theratreat/apperr"
	"theratreat/booking"
	"theratreat/booking/bookingtest"
	"theratreat/models"

	"github.com/rs/zerolog"
)

const webhookSecret = "whsec_test"

func capturedPayload(event, orderID, paymentID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"currency":"INR","method":"upi","status":"captured","created_at":1740823200}}}}`,
		event, paymentID, orderID, amount))
}

type webhookFixture struct {
	*fixture
	verifier bookingtest.WebhookVerifier
	events   *bookingtest.Events
	rec      *booking.Reconciler
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	f := newFixture(t)
	wf := &webhookFixture{
		fixture:  f,
		verifier: bookingtest.WebhookVerifier{Secret: webhookSecret},
		events:   bookingtest.NewEvents(),
	}
	wf.rec = booking.NewReconciler(wf.verifier, f.store, wf.events, zerolog.Nop())
	return wf
}

// checkout creates a booking with an open order and returns both ids.
func (wf *webhookFixture) checkout(t *testing.T) (bookingID, orderID string) {
	t.Helper()
	b := wf.create(t, models.SessionVideo)
	c, err := wf.m.RequestPayment(context.Background(), owner, b.ID)
	if err != nil {
		t.Fatalf("RequestPayment: %v", err)
	}
	return b.ID, c.Order.OrderID
}

func (wf *webhookFixture) deliver(t *testing.T, body []byte, eventID string) (booking.WebhookResult, error) {
	t.Helper()
	return wf.rec.HandleWebhook(context.Background(), body, wf.verifier.Sign(body), eventID)
}

func TestWebhookAppliesCapture(t *testing.T) {
	wf := newWebhookFixture(t)
	id, orderID := wf.checkout(t)

	res, err := wf.deliver(t, capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000), "evt_1")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if res.Action != booking.ActionApplied || res.BookingID != id {
		t.Fatalf("result = %+v", res)
	}
	got := wf.get(t, id)
	if got.PaymentStatus != models.PaymentPaid {
		t.Fatalf("paymentStatus = %s", got.PaymentStatus)
	}
	// the reconciler never touches booking status
	if got.Status != models.StatusPending {
		t.Fatalf("status = %s", got.Status)
	}
	p := got.Payment
	if p.PaymentID != "pay_w1" || p.CapturedAmount != 50000 || p.Method != "upi" || p.PaidVia != models.PaidViaWebhook || p.CapturedAt == nil {
		t.Fatalf("payment = %+v", p)
	}
	if wf.events.Len() != 1 {
		t.Fatalf("audit events = %d", wf.events.Len())
	}
}

func TestWebhookRedeliveryConverges(t *testing.T) {
	wf := newWebhookFixture(t)
	id, orderID := wf.checkout(t)
	body := capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000)

	if _, err := wf.deliver(t, body, "evt_1"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	after := wf.get(t, id)
	writes := wf.store.Writes.Load()

	for i := 0; i < 4; i++ {
		res, err := wf.deliver(t, body, "evt_1")
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if res.Action != booking.ActionDuplicate {
			t.Fatalf("redelivery %d action = %s", i, res.Action)
		}
	}
	if !reflect.DeepEqual(after, wf.get(t, id)) {
		t.Fatal("state changed on redelivery")
	}
	if wf.store.Writes.Load() != writes {
		t.Fatal("redelivery wrote to the store")
	}
}

func TestWebhookRedeliveryAfterRefundIsDuplicate(t *testing.T) {
	wf := newWebhookFixture(t)
	id, orderID := wf.checkout(t)
	body := capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000)

	if _, err := wf.deliver(t, body, "evt_1"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := wf.m.SetPaymentStatus(context.Background(), admin, id, models.PaymentRefunded); err != nil {
		t.Fatalf("refund: %v", err)
	}
	after := wf.get(t, id)
	writes := wf.store.Writes.Load()

	res, err := wf.deliver(t, body, "evt_1")
	if err != nil || res.Action != booking.ActionDuplicate {
		t.Fatalf("redelivery: %+v %v", res, err)
	}
	if !reflect.DeepEqual(after, wf.get(t, id)) || wf.store.Writes.Load() != writes {
		t.Fatalf("refunded booking changed on redelivery: %s", wf.get(t, id).PaymentStatus)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	wf := newWebhookFixture(t)
	id, orderID := wf.checkout(t)
	body := capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000)
	writes := wf.store.Writes.Load()

	for _, sig := range []string{"", "00ff", bookingtest.WebhookVerifier{Secret: "other"}.Sign(body)} {
		_, err := wf.rec.HandleWebhook(context.Background(), body, sig, "evt_1")
		if !apperr.Is(err, apperr.KindForbidden) {
			t.Fatalf("signature %q: expected forbidden, got %v", sig, err)
		}
	}
	if wf.store.Writes.Load() != writes || wf.get(t, id).PaymentStatus != models.PaymentPending {
		t.Fatal("unverified webhook mutated the booking")
	}
	if wf.events.Len() != 0 {
		t.Fatal("unverified webhook was audited")
	}
}

func TestWebhookOutcomesWithoutWrites(t *testing.T) {
	tests := []struct {
		name   string
		body   func(orderID string) []byte
		action string
	}{
		{"unknown order", func(string) []byte {
			return capturedPayload(booking.EventPaymentCaptured, "order_elsewhere", "pay_x", 1000)
		}, booking.ActionNoMatch},
		{"other event", func(orderID string) []byte {
			return capturedPayload("payment.failed", orderID, "pay_x", 50000)
		}, booking.ActionIgnored},
		{"missing order id", func(string) []byte {
			return capturedPayload(booking.EventPaymentCaptured, "", "pay_x", 50000)
		}, booking.ActionMalformed},
		{"not json", func(string) []byte { return []byte("not json") }, booking.ActionMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := newWebhookFixture(t)
			id, orderID := wf.checkout(t)
			writes := wf.store.Writes.Load()

			res, err := wf.deliver(t, tt.body(orderID), "")
			if err != nil {
				t.Fatalf("HandleWebhook: %v", err)
			}
			if res.Action != tt.action {
				t.Fatalf("action = %s, want %s", res.Action, tt.action)
			}
			if wf.store.Writes.Load() != writes {
				t.Fatal("webhook wrote to the store")
			}
			if wf.get(t, id).PaymentStatus != models.PaymentPending {
				t.Fatal("booking paid by unrelated webhook")
			}
		})
	}
}

func TestWebhookStorageFailure(t *testing.T) {
	wf := newWebhookFixture(t)
	_, orderID := wf.checkout(t)
	wf.store.FailWrites = true

	_, err := wf.deliver(t, capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000), "evt_1")
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestWebhookThenVerifyConfirms(t *testing.T) {
	wf := newWebhookFixture(t)
	id, orderID := wf.checkout(t)

	if _, err := wf.deliver(t, capturedPayload(booking.EventPaymentCaptured, orderID, "pay_w1", 50000), "evt_1"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	res, err := wf.m.VerifyPayment(context.Background(), owner, booking.VerifyInput{
		BookingID: id, PaymentID: "pay_w1", OrderID: orderID, Signature: wf.gw.Sign(orderID, "pay_w1"),
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !res.AlreadyPaid || !res.Confirmed || res.Booking.Status != models.StatusConfirmed {
		t.Fatalf("result = %+v", res)
	}
	if res.Booking.Payment.PaidVia != models.PaidViaWebhook {
		t.Fatalf("paidVia = %s", res.Booking.Payment.PaidVia)
	}
}

func TestVerifyThenWebhookIsDuplicate(t *testing.T) {
	wf := newWebhookFixture(t)
	id, _ := wf.checkout(t)
	wf.pay(t, id)
	orderID := wf.get(t, id).Payment.Order.OrderID
	before := wf.get(t, id)

	res, err := wf.deliver(t, capturedPayload(booking.EventPaymentCaptured, orderID, "pay_1", 50000), "evt_9")
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if res.Action != booking.ActionDuplicate {
		t.Fatalf("action = %s", res.Action)
	}
	if !reflect.DeepEqual(before, wf.get(t, id)) {
		t.Fatal("webhook after verification changed the booking")
	}
}

func TestWebhookWithoutEventLog(t *testing.T) {
	f := newFixture(t)
	v := bookingtest.WebhookVerifier{Secret: webhookSecret}
	rec := booking.NewReconciler(v, f.store, nil, zerolog.Nop())
	b := f.create(t, models.SessionAudio)
	c, _ := f.m.RequestPayment(context.Background(), owner, b.ID)

	body := capturedPayload(booking.EventPaymentCaptured, c.Order.OrderID, "pay_a", 50000)
	res, err := rec.HandleWebhook(context.Background(), body, v.Sign(body), "")
	if err != nil || res.Action != booking.ActionApplied {
		t.Fatalf("HandleWebhook = %+v, %v", res, err)
	}
}
