// Package pay exposes the checkout endpoints: order creation, client-side
// verification and the gateway webhook.
package pay

import (
	"io"
	"net/http"

	"theratreat/apperr"
	"theratreat/booking"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/hlog"
)

const maxWebhookBytes = 1 << 20

// Webhook headers, most specific first.
var signatureHeaders = []string{"x-webhook-signature", "X-Razorpay-Signature"}

const eventIDHeader = "x-razorpay-event-id"

type Handler struct {
	m   *booking.Manager
	rec *booking.Reconciler
}

func NewHandler(m *booking.Manager, rec *booking.Reconciler) *Handler {
	return &Handler{m: m, rec: rec}
}

type orderRequest struct {
	BookingID string `json:"bookingId" validate:"required,max=64"`
}

type verifyRequest struct {
	BookingID string `json:"bookingId" validate:"required,max=64"`
	PaymentID string `json:"paymentId" validate:"required,max=128"`
	OrderID   string `json:"orderId" validate:"required,max=128"`
	Signature string `json:"signature" validate:"required,hexadecimal,max=256"`
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("payment request failed")
	}
	utils.RespondWithAppError(w, err)
}

// POST /api/payments/order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req orderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := h.m.RequestPayment(r.Context(), utils.ActorFromRequest(r), req.BookingID)
	if apperr.Is(err, apperr.KindAlreadyPaid) && c != nil {
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"alreadyPaid": true, "booking": c.Booking})
		return
	}
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"order":   c.Order,
		"keyId":   c.KeyID,
		"booking": c.Booking,
	})
}

// POST /api/payments/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req verifyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	res, err := h.m.VerifyPayment(r.Context(), utils.ActorFromRequest(r), booking.VerifyInput{
		BookingID: req.BookingID,
		PaymentID: req.PaymentID,
		OrderID:   req.OrderID,
		Signature: req.Signature,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// POST /api/payments/webhook
//
// Acknowledged with 200 for every verified delivery, including ones that
// match nothing. 403 on a bad signature; 5xx makes the gateway retry.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}

	res, err := h.rec.HandleWebhook(r.Context(), raw, signature, r.Header.Get(eventIDHeader))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("action", res.Action).
		Str("event", res.Event).
		Str("bookingId", res.BookingID).
		Msg("webhook processed")
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"status": "ok", "result": res})
}
