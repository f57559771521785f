package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"theratreat/apperr"
	"theratreat/globals"
	"theratreat/models"
)

func TestRespondWithAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithAppError(rec, apperr.NotFound("booking_not_found", "booking not found"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "booking_not_found" || body["error"] != "booking not found" {
		t.Fatalf("body = %v", body)
	}
}

type sample struct {
	BookingID string `json:"bookingId" validate:"required"`
	Status    string `json:"status" validate:"omitempty,oneof=pending confirmed"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"valid", `{"bookingId":"bk-1","status":"pending"}`, ""},
		{"missing required", `{}`, "invalid_bookingid"},
		{"bad enum", `{"bookingId":"bk-1","status":"done"}`, "invalid_status"},
		{"unknown field", `{"bookingId":"bk-1","extra":1}`, "invalid_json"},
		{"not json", `bookingId=1`, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst sample
			err := DecodeJSON(r, &dst)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			code, _ := apperr.Public(err)
			if !apperr.Is(err, apperr.KindValidation) || code != tt.wantCode {
				t.Fatalf("err = %v (code %q), want code %q", err, code, tt.wantCode)
			}
		})
	}
}

func TestActorFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if a := ActorFromRequest(r); a.ID != "" || a.Role != "" {
		t.Fatalf("anonymous actor = %+v", a)
	}
	ctx := context.WithValue(r.Context(), globals.UserIDKey, "u-1")
	ctx = context.WithValue(ctx, globals.RoleKey, models.RoleTherapist)
	a := ActorFromRequest(r.WithContext(ctx))
	if a.ID != "u-1" || a.Role != models.RoleTherapist {
		t.Fatalf("actor = %+v", a)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int64{"": 50, "abc": 50, "0": 50, "10": 10, "1000": 200}
	for q, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/?limit="+q, nil)
		if got := ParseLimit(r, 50, 200); got != want {
			t.Fatalf("ParseLimit(%q) = %d, want %d", q, got, want)
		}
	}
}
