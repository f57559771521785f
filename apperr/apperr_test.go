package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("bad_date", "bad date"), http.StatusBadRequest},
		{"forbidden", Forbidden("forbidden", "no"), http.StatusForbidden},
		{"not found", NotFound("booking_not_found", "missing"), http.StatusNotFound},
		{"conflict", Conflict("status_changed", "moved"), http.StatusConflict},
		{"already paid", AlreadyPaid("paid"), http.StatusConflict},
		{"configuration", Configuration("gateway_not_configured", "no keys"), http.StatusServiceUnavailable},
		{"upstream timeout", UpstreamTimeout("gateway_timeout", "slow", errors.New("deadline")), http.StatusGatewayTimeout},
		{"upstream", Upstream("gateway_error", "boom", errors.New("500")), http.StatusBadGateway},
		{"persistence", Persistence("db", "write failed", errors.New("io")), http.StatusInternalServerError},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("x", "y")), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublicHidesInternalDetail(t *testing.T) {
	code, msg := Public(Persistence("db_error", "insert bookings", errors.New("connection refused 10.0.0.3")))
	if code != "db_error" || msg != "internal error" {
		t.Fatalf("Public() = %q, %q", code, msg)
	}
	code, msg = Public(errors.New("secret stack"))
	if code != "internal" || msg != "internal error" {
		t.Fatalf("Public(plain) = %q, %q", code, msg)
	}
	code, msg = Public(Validation("invalid_date", "date must be YYYY-MM-DD"))
	if code != "invalid_date" || msg != "date must be YYYY-MM-DD" {
		t.Fatalf("Public(validation) = %q, %q", code, msg)
	}
}

func TestIsAndUnwrap(t *testing.T) {
	err := Persistence("dup", "insert", ErrDuplicate)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatal("expected ErrDuplicate in chain")
	}
	if !Is(err, KindPersistence) || Is(err, KindConflict) {
		t.Fatal("kind mismatch")
	}
	if KindOf(errors.New("x")) != KindInternal {
		t.Fatal("plain errors should be internal")
	}
}
