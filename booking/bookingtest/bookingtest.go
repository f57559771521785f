// Package bookingtest provides in-memory collaborators for tests of the
// booking lifecycle and the packages wired around it.
package bookingtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"theratreat/apperr"
	"theratreat/booking"
	"theratreat/gateway"
	"theratreat/meeting"
	"theratreat/models"
)

// Store is an in-memory booking.Store with the same conditional semantics as
// the Mongo store. Writes counts applied mutations.
type Store struct {
	mu       sync.Mutex
	bookings map[string]models.Booking
	Writes   atomic.Int64
	// FailWrites makes every mutation return a persistence error.
	FailWrites bool
}

func NewStore() *Store {
	return &Store{bookings: map[string]models.Booking{}}
}

var _ booking.Store = (*Store)(nil)

func clone(b models.Booking) *models.Booking {
	c := b
	c.JoinedUsers = append([]models.JoinedUser{}, b.JoinedUsers...)
	if b.Payment.Order != nil {
		o := *b.Payment.Order
		c.Payment.Order = &o
	}
	return &c
}

func notFound() error { return apperr.NotFound("booking_not_found", "booking not found") }

func (s *Store) Put(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = *clone(b)
}

func (s *Store) Insert(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return apperr.Persistence("persistence_error", "insert booking", fmt.Errorf("store down"))
	}
	if _, ok := s.bookings[b.ID]; ok {
		return apperr.Wrap(apperr.KindConflict, "duplicate_booking", "booking already exists", apperr.ErrDuplicate)
	}
	s.bookings[b.ID] = *clone(*b)
	s.Writes.Add(1)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, notFound()
	}
	return clone(b), nil
}

func (s *Store) FindByOrderID(_ context.Context, orderID string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.Payment.Order != nil && b.Payment.Order.OrderID == orderID {
			return clone(b), nil
		}
	}
	return nil, notFound()
}

func (s *Store) List(_ context.Context, f booking.ListFilter) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.TherapistUserID != "" && b.TherapistUserID != f.TherapistUserID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && b.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.EarningPending && b.EarningRecorded {
			continue
		}
		out = append(out, *clone(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// mutate applies fn under the lock when guard holds.
func (s *Store) mutate(id string, guard func(*models.Booking) bool, fn func(*models.Booking)) (*models.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return nil, false, apperr.Persistence("persistence_error", "update booking", fmt.Errorf("store down"))
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, false, notFound()
	}
	if guard != nil && !guard(&b) {
		return clone(b), false, nil
	}
	fn(&b)
	s.bookings[id] = b
	s.Writes.Add(1)
	return clone(b), true, nil
}

func unsettled(b *models.Booking) bool { return !b.PaymentStatus.Settled() }

func (s *Store) AttachOrder(_ context.Context, id string, order models.PaymentOrder) (*models.Booking, bool, error) {
	return s.mutate(id, unsettled, func(b *models.Booking) {
		o := order
		b.Payment.Provider = order.Provider
		b.Payment.Order = &o
		b.UpdatedAt = order.CreatedAt
	})
}

func (s *Store) MarkPaid(_ context.Context, id string, u booking.PaidUpdate) (*models.Booking, bool, error) {
	return s.mutate(id, unsettled, func(b *models.Booking) {
		at := u.At
		b.PaymentStatus = models.PaymentPaid
		b.Payment.PaidVia = u.Via
		if u.PaymentID != "" {
			b.Payment.PaymentID = u.PaymentID
		}
		if u.Signature != "" {
			b.Payment.Signature = u.Signature
		}
		if u.Method != "" {
			b.Payment.Method = u.Method
		}
		if u.CapturedAmount > 0 {
			b.Payment.CapturedAmount = u.CapturedAmount
		}
		if u.Via == models.PaidViaWebhook {
			b.Payment.CapturedAt = &at
		} else {
			b.Payment.VerifiedAt = &at
		}
		b.UpdatedAt = at
	})
}

func (s *Store) TransitionStatus(_ context.Context, id string, from []models.BookingStatus, to models.BookingStatus, c booking.StatusChange) (*models.Booking, bool, error) {
	guard := func(b *models.Booking) bool {
		if from == nil {
			return true
		}
		for _, f := range from {
			if b.Status == f {
				return true
			}
		}
		return false
	}
	return s.mutate(id, guard, func(b *models.Booking) {
		b.Status = to
		b.UpdatedAt = c.At
		if to == models.StatusCancelled {
			b.CancellationReason = c.Reason
			b.CancelledBy = c.ActorID
		}
	})
}

func (s *Store) SetPaymentStatus(_ context.Context, id string, to models.PaymentStatus, at time.Time) (*models.Booking, error) {
	b, _, err := s.mutate(id, nil, func(b *models.Booking) {
		b.PaymentStatus = to
		b.UpdatedAt = at
	})
	return b, err
}

func (s *Store) SetRoom(_ context.Context, id, roomCode, meetingURL string, at time.Time) (*models.Booking, bool, error) {
	return s.mutate(id, func(b *models.Booking) bool { return b.RoomCode == "" }, func(b *models.Booking) {
		b.RoomCode = roomCode
		b.MeetingURL = meetingURL
		b.UpdatedAt = at
	})
}

func (s *Store) AddParticipant(_ context.Context, id string, j models.JoinedUser) (*models.Booking, bool, error) {
	return s.mutate(id, func(b *models.Booking) bool { return !b.HasJoined(j.ParticipantID) }, func(b *models.Booking) {
		b.JoinedUsers = append(b.JoinedUsers, j)
		b.UpdatedAt = j.JoinedAt
	})
}

func (s *Store) UpdateNotes(_ context.Context, id, notes string, at time.Time) (*models.Booking, error) {
	b, _, err := s.mutate(id, nil, func(b *models.Booking) {
		b.Notes = notes
		b.UpdatedAt = at
	})
	return b, err
}

// MarkEarningRecorded is bookkeeping and does not count as a write.
func (s *Store) MarkEarningRecorded(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return apperr.Persistence("persistence_error", "mark earning recorded", fmt.Errorf("store down"))
	}
	b, ok := s.bookings[id]
	if !ok {
		return notFound()
	}
	b.EarningRecorded = true
	b.UpdatedAt = at
	s.bookings[id] = b
	return nil
}

// ---------- Therapists ----------

type Therapists struct {
	mu   sync.Mutex
	byID map[string]models.Therapist
}

func NewTherapists(ts ...models.Therapist) *Therapists {
	d := &Therapists{byID: map[string]models.Therapist{}}
	for _, t := range ts {
		d.byID[t.ID] = t
	}
	return d
}

func (d *Therapists) GetTherapist(_ context.Context, id string) (*models.Therapist, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[id]
	if !ok {
		return nil, apperr.NotFound("therapist_not_found", "therapist not found")
	}
	return &t, nil
}

func (d *Therapists) FindByUserID(_ context.Context, userID string) (*models.Therapist, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.byID {
		if t.UserID == userID {
			t := t
			return &t, nil
		}
	}
	return nil, apperr.NotFound("therapist_not_found", "therapist not found")
}

// ---------- Gateway ----------

// Gateway issues sequential order ids and signs with KeySecret using the
// real signature scheme.
type Gateway struct {
	Key       string
	KeySecret string
	Delay     time.Duration
	Err       error

	mu     sync.Mutex
	Orders []gateway.OrderRequest
}

func NewGateway() *Gateway {
	return &Gateway{Key: "rzp_test_key", KeySecret: "key-secret"}
}

func (g *Gateway) KeyID() string { return g.Key }

func (g *Gateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return nil, apperr.UpstreamTimeout("gateway_timeout", "payment gateway did not respond in time", ctx.Err())
		}
	}
	if g.Err != nil {
		return nil, g.Err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Orders = append(g.Orders, req)
	return &gateway.Order{
		ID:        fmt.Sprintf("order_%03d", len(g.Orders)),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (g *Gateway) OrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Orders)
}

func (g *Gateway) Sign(orderID, paymentID string) string {
	return gateway.Sign(g.KeySecret, []byte(orderID+"|"+paymentID))
}

func (g *Gateway) VerifyPaymentSignature(orderID, paymentID, signature string) error {
	if g.Sign(orderID, paymentID) != signature {
		return gateway.ErrInvalidSignature
	}
	return nil
}

// WebhookVerifier checks bodies against Secret.
type WebhookVerifier struct {
	Secret string
}

func (v WebhookVerifier) Sign(body []byte) string {
	return gateway.Sign(v.Secret, body)
}

func (v WebhookVerifier) VerifyWebhookSignature(body []byte, signature string) error {
	if v.Sign(body) != signature {
		return gateway.ErrInvalidSignature
	}
	return nil
}

// ---------- Meetings ----------

type Meetings struct {
	Err   error
	mu    sync.Mutex
	Calls int
}

func (m *Meetings) Provision(_ context.Context, bookingID string) (meeting.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return meeting.Room{}, m.Err
	}
	code := "room-" + bookingID
	return meeting.Room{Code: code, URL: "https://meet.test/room/" + code}, nil
}

// ---------- Notifier ----------

type Notifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *Notifier) Submit(x models.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
	return true
}

func (n *Notifier) Sent() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

func (n *Notifier) Count(kind models.NotificationKind) int {
	c := 0
	for _, x := range n.Sent() {
		if x.Kind == kind {
			c++
		}
	}
	return c
}

// ---------- Earnings ----------

// Earnings is an in-memory earning.Store enforcing one entry per booking.
type Earnings struct {
	mu        sync.Mutex
	byBooking map[string]models.Earning
	// BeforeInsert runs outside the lock before each insert; tests use it
	// to widen race windows.
	BeforeInsert func()
}

func NewEarnings() *Earnings {
	return &Earnings{byBooking: map[string]models.Earning{}}
}

func (e *Earnings) FindByBooking(_ context.Context, bookingID string) (*models.Earning, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, ok := e.byBooking[bookingID]
	if !ok {
		return nil, apperr.NotFound("earning_not_found", "earning not found")
	}
	return &x, nil
}

func (e *Earnings) Insert(_ context.Context, x *models.Earning) error {
	if e.BeforeInsert != nil {
		e.BeforeInsert()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byBooking[x.BookingID]; ok {
		return apperr.Wrap(apperr.KindPersistence, "earning_exists", "earning already recorded", apperr.ErrDuplicate)
	}
	e.byBooking[x.BookingID] = *x
	return nil
}

func (e *Earnings) ListByTherapist(_ context.Context, therapistID string) ([]models.Earning, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []models.Earning{}
	for _, x := range e.byBooking {
		if x.TherapistID == therapistID {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID < out[j].BookingID })
	return out, nil
}

func (e *Earnings) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byBooking)
}

// ---------- Webhook events ----------

type Events struct {
	mu   sync.Mutex
	seen map[string]models.WebhookEvent
}

func NewEvents() *Events {
	return &Events{seen: map[string]models.WebhookEvent{}}
}

func (ev *Events) RecordEvent(_ context.Context, e models.WebhookEvent) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if _, ok := ev.seen[e.EventID]; ok {
		return fmt.Errorf("record event: %w", apperr.ErrDuplicate)
	}
	ev.seen[e.EventID] = e
	return nil
}

func (ev *Events) Len() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.seen)
}
