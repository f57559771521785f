package pay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"theratreat/apperr"
	"theratreat/globals"
	"theratreat/models"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

type memIdempotency struct {
	mu         sync.Mutex
	recs       map[string]models.IdempotencyRecord
	reserveErr error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{recs: map[string]models.IdempotencyRecord{}}
}

func (m *memIdempotency) Reserve(_ context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	k := scopedKey(rec.UserID, rec.Key)
	if existing, ok := m.recs[k]; ok {
		return &existing, nil
	}
	m.recs[k] = rec
	return nil, nil
}

func (m *memIdempotency) SaveResponse(_ context.Context, userID, key string, response map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scopedKey(userID, key)
	rec := m.recs[k]
	rec.Response = response
	m.recs[k] = rec
	return nil
}

func scopedKey(userID, key string) string { return userID + "\x00" + key }

type countingHandler struct {
	mu     sync.Mutex
	calls  int
	status int
}

func (c *countingHandler) serve(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	utils.RespondWithJSON(w, status, utils.M{"call": n})
}

func idemRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payments/order", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func TestIdempotencyReplay(t *testing.T) {
	store := newMemIdempotency()
	h := &countingHandler{status: http.StatusOK}
	mw := NewIdempotency(store, 0, zerolog.Nop()).Middleware(h.serve)

	first := httptest.NewRecorder()
	mw(first, idemRequest("key-1", `{"bookingId":"b-1"}`), nil)
	second := httptest.NewRecorder()
	mw(second, idemRequest("key-1", `{"bookingId":"b-1"}`), nil)

	if h.calls != 1 {
		t.Fatalf("handler ran %d times", h.calls)
	}
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("replay %d %q differs from %d %q", second.Code, second.Body, first.Code, first.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("replay not marked")
	}
}

func TestIdempotencyKeyReuseConflict(t *testing.T) {
	h := &countingHandler{}
	mw := NewIdempotency(newMemIdempotency(), 0, zerolog.Nop()).Middleware(h.serve)

	mw(httptest.NewRecorder(), idemRequest("key-1", `{"bookingId":"b-1"}`), nil)
	rec := httptest.NewRecorder()
	mw(rec, idemRequest("key-1", `{"bookingId":"b-2"}`), nil)

	if rec.Code != http.StatusConflict || h.calls != 1 {
		t.Fatalf("status = %d, calls = %d", rec.Code, h.calls)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	store := newMemIdempotency()
	h := &countingHandler{}
	mw := NewIdempotency(store, 0, zerolog.Nop()).Middleware(h.serve)
	asUser := func(userID string) *http.Request {
		req := idemRequest("shared-key", `{"bookingId":"b-1"}`)
		return req.WithContext(context.WithValue(req.Context(), globals.UserIDKey, userID))
	}

	for _, userID := range []string{"user-1", "user-2"} {
		rec := httptest.NewRecorder()
		mw(rec, asUser(userID), nil)
		if rec.Code != http.StatusOK || rec.Header().Get("Idempotent-Replayed") != "" {
			t.Fatalf("%s first use: status = %d, replayed = %q", userID, rec.Code, rec.Header().Get("Idempotent-Replayed"))
		}
	}
	if h.calls != 2 {
		t.Fatalf("handler ran %d times, want once per user", h.calls)
	}

	rec := httptest.NewRecorder()
	mw(rec, asUser("user-2"), nil)
	if rec.Header().Get("Idempotent-Replayed") != "true" || h.calls != 2 {
		t.Fatalf("same user retry: replayed = %q, calls = %d", rec.Header().Get("Idempotent-Replayed"), h.calls)
	}
}

func TestIdempotencyPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		status int
		calls  int
	}{
		{"no key", "", http.StatusOK, 2},
		{"server error not cached", "key-5xx", http.StatusBadGateway, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &countingHandler{status: tt.status}
			mw := NewIdempotency(newMemIdempotency(), 0, zerolog.Nop()).Middleware(h.serve)
			for i := 0; i < 2; i++ {
				rec := httptest.NewRecorder()
				mw(rec, idemRequest(tt.key, `{}`), nil)
				if rec.Code != tt.status {
					t.Fatalf("status = %d", rec.Code)
				}
			}
			if h.calls != tt.calls {
				t.Fatalf("calls = %d, want %d", h.calls, tt.calls)
			}
		})
	}
}

func TestIdempotencyInFlight(t *testing.T) {
	store := newMemIdempotency()
	req := idemRequest("key-1", `{}`)
	body := []byte(`{}`)
	store.recs[scopedKey("", "key-1")] = models.IdempotencyRecord{Key: "key-1", RequestHash: computeRequestHash(req, body, "")}

	h := &countingHandler{}
	rec := httptest.NewRecorder()
	NewIdempotency(store, 0, zerolog.Nop()).Middleware(h.serve)(rec, req, nil)
	if rec.Code != http.StatusOK || h.calls != 1 {
		t.Fatalf("status = %d, calls = %d", rec.Code, h.calls)
	}
}

func TestIdempotencyErrors(t *testing.T) {
	store := newMemIdempotency()
	store.reserveErr = apperr.Persistence("persistence_error", "reserve", errors.New("db down"))
	h := &countingHandler{}
	mw := NewIdempotency(store, 0, zerolog.Nop()).Middleware(h.serve)

	rec := httptest.NewRecorder()
	mw(rec, idemRequest("key-1", `{}`), nil)
	if rec.Code != http.StatusInternalServerError || h.calls != 0 {
		t.Fatalf("reserve failure: status = %d, calls = %d", rec.Code, h.calls)
	}

	rec = httptest.NewRecorder()
	mw(rec, idemRequest(strings.Repeat("k", maxKeyLen+1), `{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("long key: status = %d", rec.Code)
	}
}

func TestResponseStatus(t *testing.T) {
	for _, v := range []interface{}{201, int32(201), int64(201), float64(201)} {
		if got := responseStatus(v); got != 201 {
			t.Errorf("responseStatus(%T) = %d", v, got)
		}
	}
	if got := responseStatus(nil); got != http.StatusOK {
		t.Errorf("responseStatus(nil) = %d", got)
	}
}
