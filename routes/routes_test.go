package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"theratreat/booking"
	"theratreat/booking/bookingtest"
	"theratreat/earning"
	"theratreat/middleware"
	"theratreat/models"
	"theratreat/pay"
	"theratreat/ratelim"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

type noIdempotency struct{}

func (noIdempotency) Reserve(context.Context, models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	return nil, nil
}

func (noIdempotency) SaveResponse(context.Context, string, string, map[string]interface{}) error {
	return nil
}

func newTestRouter(t *testing.T) (*httprouter.Router, *middleware.Auth) {
	t.Helper()
	store := bookingtest.NewStore()
	therapists := bookingtest.NewTherapists(models.Therapist{ID: "ther-1", UserID: "ther-user-1", DefaultFee: 500, Active: true})
	ledger := earning.NewLedger(bookingtest.NewEarnings(), zerolog.Nop())
	m := booking.NewManager(booking.Deps{
		Store:      store,
		Therapists: therapists,
		Gateway:    bookingtest.NewGateway(),
		Meetings:   &bookingtest.Meetings{},
		Earnings:   ledger,
		Notifier:   &bookingtest.Notifier{},
		Log:        zerolog.Nop(),
	})
	rec := booking.NewReconciler(bookingtest.WebhookVerifier{Secret: "whsec"}, store, nil, zerolog.Nop())

	auth := middleware.NewAuth("test-secret")
	rl := ratelim.NewRateLimiter(6000, 100)
	router := httprouter.New()
	AddBookingRoutes(router, auth, rl, booking.NewHandler(m))
	AddPaymentRoutes(router, auth, rl, pay.NewIdempotency(noIdempotency{}, time.Hour, zerolog.Nop()), pay.NewHandler(m, rec))
	AddEarningRoutes(router, auth, earning.NewHandler(ledger, therapists))
	return router, auth
}

func TestRouteAuthorization(t *testing.T) {
	router, auth := newTestRouter(t)
	token := func(userID string, roles ...string) string {
		s, err := auth.IssueToken(userID, userID, roles, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		return "Bearer " + s
	}
	createBody := `{"therapistId":"ther-1","sessionType":"video","date":"2025-03-01","timeSlot":"10:00-10:30"}`

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		body   string
		status int
	}{
		{"create without token", http.MethodPost, "/api/bookings", "", createBody, http.StatusUnauthorized},
		{"create with garbage token", http.MethodPost, "/api/bookings", "Bearer nope", createBody, http.StatusUnauthorized},
		{"create", http.MethodPost, "/api/bookings", token("user-1", "user"), createBody, http.StatusCreated},
		{"list", http.MethodGet, "/api/bookings", token("user-1", "user"), "", http.StatusOK},
		{"status as patient", http.MethodPatch, "/api/bookings/x/status", token("user-1", "user"), `{"status":"completed"}`, http.StatusForbidden},
		{"status as therapist", http.MethodPatch, "/api/bookings/x/status", token("ther-user-1", "user", "therapist"), `{"status":"completed"}`, http.StatusNotFound},
		{"order without token", http.MethodPost, "/api/payments/order", "", `{"bookingId":"x"}`, http.StatusUnauthorized},
		{"verify without token", http.MethodPost, "/api/payments/verify", "", `{}`, http.StatusUnauthorized},
		{"webhook needs no token", http.MethodPost, "/api/payments/webhook", "", `{}`, http.StatusForbidden},
		{"earnings as patient", http.MethodGet, "/api/earnings", token("user-1", "user"), "", http.StatusForbidden},
		{"earnings as therapist", http.MethodGet, "/api/earnings", token("ther-user-1", "therapist"), "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestPaymentRoutesAreRateLimited(t *testing.T) {
	store := bookingtest.NewStore()
	m := booking.NewManager(booking.Deps{Store: store, Gateway: bookingtest.NewGateway(), Log: zerolog.Nop()})
	auth := middleware.NewAuth("test-secret")
	router := httprouter.New()
	AddPaymentRoutes(router, auth, ratelim.NewRateLimiter(1, 2),
		pay.NewIdempotency(noIdempotency{}, time.Hour, zerolog.Nop()),
		pay.NewHandler(m, booking.NewReconciler(bookingtest.WebhookVerifier{Secret: "s"}, store, nil, zerolog.Nop())))

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payments/verify", strings.NewReader(`{}`)))
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", last)
	}
}
