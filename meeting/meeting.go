// Package meeting allocates video rooms for bookings. The room code is the
// only state; the video provider resolves it when participants join.
package meeting

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"theratreat/apperr"
	"theratreat/rdx"

	"github.com/redis/go-redis/v9"
)

type Room struct {
	Code string `json:"roomCode"`
	URL  string `json:"meetingUrl"`
}

type RedisProvisioner struct {
	conn    redis.Cmdable
	baseURL string
	ttl     time.Duration
	timeout time.Duration
	newCode func() string
}

func NewRedisProvisioner(conn redis.Cmdable, baseURL string, ttl, timeout time.Duration) *RedisProvisioner {
	return &RedisProvisioner{
		conn:    conn,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		timeout: timeout,
		newCode: roomCode,
	}
}

func roomKey(bookingID string) string {
	return "meeting:room:" + bookingID
}

// Provision returns the room for bookingID, allocating one if needed.
// Concurrent callers converge on the same code.
func (p *RedisProvisioner) Provision(ctx context.Context, bookingID string) (Room, error) {
	if bookingID == "" {
		return Room{}, apperr.Validation("missing_booking_id", "booking id is required")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	code, _, err := rdx.SetNXGet(ctx, p.conn, roomKey(bookingID), p.newCode(), p.ttl)
	if err != nil {
		if ctx.Err() != nil {
			return Room{}, apperr.UpstreamTimeout("meeting_timeout", "meeting provider did not respond in time", err)
		}
		return Room{}, apperr.Upstream("meeting_error", "could not allocate meeting room", err)
	}
	return Room{Code: code, URL: p.URL(code)}, nil
}

func (p *RedisProvisioner) URL(code string) string {
	return fmt.Sprintf("%s/room/%s", p.baseURL, code)
}

const codeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// roomCode returns a code shaped like abc-defg-hjk.
func roomCode() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	out := make([]byte, 0, 12)
	for i, b := range buf {
		if i == 3 || i == 7 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out)
}
