package booking

import (
	"context"
	"time"

	"theratreat/gateway"
	"theratreat/meeting"
	"theratreat/models"
)

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	UserID          string
	TherapistUserID string
	Status          models.BookingStatus
	PaymentStatus   models.PaymentStatus
	// EarningPending keeps only bookings without a recorded earning.
	EarningPending bool
	Limit          int64
}

// StatusChange carries the audit fields written with a status transition.
type StatusChange struct {
	ActorID string
	Reason  string
	At      time.Time
}

// PaidUpdate is the payment metadata written with the paid transition.
type PaidUpdate struct {
	PaymentID      string
	Signature      string
	Method         string
	CapturedAmount int64
	Via            string
	At             time.Time
}

// Store persists bookings. Every mutation is conditional: methods returning
// (booking, applied, err) report applied=false with the current record when
// the precondition no longer holds, and a NotFound error when the booking
// does not exist.
type Store interface {
	Insert(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Booking, error)
	List(ctx context.Context, f ListFilter) ([]models.Booking, error)

	// AttachOrder applies while the payment is not settled (paid or refunded).
	AttachOrder(ctx context.Context, id string, order models.PaymentOrder) (*models.Booking, bool, error)
	// MarkPaid applies while the payment is not settled.
	MarkPaid(ctx context.Context, id string, u PaidUpdate) (*models.Booking, bool, error)
	// TransitionStatus applies while status is one of from. A nil from
	// matches any current status.
	TransitionStatus(ctx context.Context, id string, from []models.BookingStatus, to models.BookingStatus, c StatusChange) (*models.Booking, bool, error)
	SetPaymentStatus(ctx context.Context, id string, to models.PaymentStatus, at time.Time) (*models.Booking, error)
	// SetRoom applies while the booking has no room code.
	SetRoom(ctx context.Context, id, roomCode, meetingURL string, at time.Time) (*models.Booking, bool, error)
	// AddParticipant applies while the participant is absent.
	AddParticipant(ctx context.Context, id string, j models.JoinedUser) (*models.Booking, bool, error)
	UpdateNotes(ctx context.Context, id, notes string, at time.Time) (*models.Booking, error)
	MarkEarningRecorded(ctx context.Context, id string, at time.Time) error
}

type TherapistDirectory interface {
	GetTherapist(ctx context.Context, id string) (*models.Therapist, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) error
	KeyID() string
}

type WebhookVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) error
}

type MeetingProvisioner interface {
	Provision(ctx context.Context, bookingID string) (meeting.Room, error)
}

// EarningRecorder is the ledger. created is false when an entry already
// existed for the booking.
type EarningRecorder interface {
	RecordEarning(ctx context.Context, e models.Earning) (rec *models.Earning, created bool, err error)
}

// Notifier accepts notifications without blocking. It returns false when the
// notification was dropped.
type Notifier interface {
	Submit(n models.Notification) bool
}

// EventLog is the webhook audit trail. A repeated event id returns an error
// wrapping apperr.ErrDuplicate.
type EventLog interface {
	RecordEvent(ctx context.Context, e models.WebhookEvent) error
}
