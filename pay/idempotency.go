package pay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"theratreat/models"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	maxKeyLen         = 255
)

// IdempotencyStore persists Idempotency-Key records. Keys are scoped per
// user. Reserve returns nil when rec was stored, or the record that user
// already holds under rec.Key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, rec models.IdempotencyRecord) (*models.IdempotencyRecord, error)
	SaveResponse(ctx context.Context, userID, key string, response map[string]interface{}) error
}

type Idempotency struct {
	store IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

func NewIdempotency(store IdempotencyStore, ttl time.Duration, log zerolog.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With().Str("component", "idempotency").Logger(),
	}
}

func computeRequestHash(r *http.Request, bodyBytes []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(bodyBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// CaptureResponseWriter wraps http.ResponseWriter to capture status and body.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int {
	return c.statusCode
}

func (c *CaptureResponseWriter) BodyBytes() []byte {
	return c.buf.Bytes()
}

// Middleware gives safe replay to a mutating endpoint when the client sends
// an Idempotency-Key:
//   - no header: pass-through.
//   - first use of a key: run the handler and store its response (5xx
//     responses are not stored so the client can retry).
//   - same key, different request: 409.
//   - same key, stored response: replay it.
//   - same key, still in flight: run the handler; the endpoint itself is
//     idempotent at the booking level.
func (i *Idempotency) Middleware(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next(w, r, ps)
			return
		}
		if len(key) > maxKeyLen {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
			return
		}

		userID := utils.GetUserIDFromRequest(r)

		// Limit body size to 1 MB to prevent memory issues
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		reqHash := computeRequestHash(r, bodyBytes, userID)
		now := i.now()
		ctx := r.Context()
		existing, err := i.store.Reserve(ctx, models.IdempotencyRecord{
			Key:         key,
			Method:      r.Method,
			Path:        r.URL.Path,
			UserID:      userID,
			RequestHash: reqHash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(i.ttl),
		})
		if err != nil {
			i.log.Error().Err(err).Msg("idempotency reserve failed")
			utils.RespondWithAppError(w, err)
			return
		}

		if existing == nil {
			crw := NewCaptureResponseWriter(w)
			next(crw, r, ps)
			if crw.Status() >= http.StatusInternalServerError {
				return
			}

			var parsed interface{}
			if err := json.Unmarshal(crw.BodyBytes(), &parsed); err != nil {
				parsed = string(crw.BodyBytes()) // fallback to raw body
			}
			resp := map[string]interface{}{
				"status": crw.Status(),
				"body":   parsed,
			}
			// the client already has its response
			if err := i.store.SaveResponse(context.WithoutCancel(ctx), userID, key, resp); err != nil {
				i.log.Warn().Err(err).Msg("idempotent response not saved")
			}
			return
		}

		if existing.RequestHash != reqHash {
			utils.RespondWithError(w, http.StatusConflict, "idempotency_key_conflict", "Idempotency-Key was used for a different request")
			return
		}

		if existing.Response != nil {
			w.Header().Set("Idempotent-Replayed", "true")
			utils.RespondWithJSON(w, responseStatus(existing.Response["status"]), existing.Response["body"])
			return
		}

		// In-flight request, let handler run
		next(w, r, ps)
	}
}

// responseStatus reads the stored status, which comes back from BSON as an
// int32 or int64 and from JSON as a float64.
func responseStatus(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return http.StatusOK
	}
}
