package models

import (
	"math"
	"time"
)

type BookingStatus string

const (
	StatusPending     BookingStatus = "pending"
	StatusConfirmed   BookingStatus = "confirmed"
	StatusCompleted   BookingStatus = "completed"
	StatusCancelled   BookingStatus = "cancelled"
	StatusRescheduled BookingStatus = "rescheduled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// Terminal statuses only move under an admin override.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Settled payments have been captured once and never take the paid
// transition again.
func (p PaymentStatus) Settled() bool {
	return p == PaymentPaid || p == PaymentRefunded
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type SessionType string

const (
	SessionVideo     SessionType = "video"
	SessionAudio     SessionType = "audio"
	SessionInPerson  SessionType = "in-person"
	SessionHomeVisit SessionType = "home-visit"
)

func (s SessionType) Valid() bool {
	switch s {
	case SessionVideo, SessionAudio, SessionInPerson, SessionHomeVisit:
		return true
	}
	return false
}

// Remote sessions need a meeting room.
func (s SessionType) Remote() bool {
	return s == SessionVideo || s == SessionAudio
}

// Where a paid transition came from.
const (
	PaidViaVerify  = "verify"
	PaidViaWebhook = "webhook"
	PaidViaAdmin   = "admin"
)

// PaymentOrder correlates gateway events back to a booking.
// Amount is in minor units (paise for INR).
type PaymentOrder struct {
	Provider  string    `json:"provider" bson:"provider"`
	OrderID   string    `json:"orderId" bson:"orderId"`
	Amount    int64     `json:"amount" bson:"amount"`
	Currency  string    `json:"currency" bson:"currency"`
	Receipt   string    `json:"receipt,omitempty" bson:"receipt,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type PaymentInfo struct {
	Provider       string        `json:"provider,omitempty" bson:"provider,omitempty"`
	Order          *PaymentOrder `json:"order,omitempty" bson:"order,omitempty"`
	PaymentID      string        `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	Signature      string        `json:"-" bson:"signature,omitempty"`
	CapturedAmount int64         `json:"capturedAmount,omitempty" bson:"capturedAmount,omitempty"`
	Method         string        `json:"method,omitempty" bson:"method,omitempty"`
	PaidVia        string        `json:"paidVia,omitempty" bson:"paidVia,omitempty"`
	VerifiedAt     *time.Time    `json:"verifiedAt,omitempty" bson:"verifiedAt,omitempty"`
	CapturedAt     *time.Time    `json:"capturedAt,omitempty" bson:"capturedAt,omitempty"`
}

type JoinedUser struct {
	ParticipantID   string    `json:"participantId" bson:"participantId"`
	ParticipantType string    `json:"participantType" bson:"participantType"`
	JoinedAt        time.Time `json:"joinedAt" bson:"joinedAt"`
}

// Booking is stored whole in the bookings collection; payment metadata is
// embedded since it is always read with the booking.
type Booking struct {
	ID                 string        `json:"id" bson:"id"`
	UserID             string        `json:"userId" bson:"userId"`
	TherapistID        string        `json:"therapistId" bson:"therapistId"`
	TherapistUserID    string        `json:"therapistUserId" bson:"therapistUserId"`
	ClinicID           string        `json:"clinicId,omitempty" bson:"clinicId,omitempty"`
	SessionType        SessionType   `json:"sessionType" bson:"sessionType"`
	Date               string        `json:"date" bson:"date"`
	TimeSlot           string        `json:"timeSlot" bson:"timeSlot"`
	Status             BookingStatus `json:"status" bson:"status"`
	PaymentStatus      PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	Payment            PaymentInfo   `json:"payment" bson:"payment"`
	Amount             float64       `json:"amount" bson:"amount"`
	Currency           string        `json:"currency" bson:"currency"`
	Notes              string        `json:"notes,omitempty" bson:"notes,omitempty"`
	RoomCode           string        `json:"roomCode,omitempty" bson:"roomCode,omitempty"`
	MeetingURL         string        `json:"meetingUrl,omitempty" bson:"meetingUrl,omitempty"`
	JoinedUsers        []JoinedUser  `json:"joinedUsers" bson:"joinedUsers"`
	CancellationReason string        `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
	CancelledBy        string        `json:"cancelledBy,omitempty" bson:"cancelledBy,omitempty"`
	EarningRecorded    bool          `json:"earningRecorded,omitempty" bson:"earningRecorded,omitempty"`
	CreatedAt          time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// IsParticipant reports whether userID is the owner or the assigned therapist.
func (b *Booking) IsParticipant(userID string) bool {
	return userID != "" && (b.UserID == userID || b.TherapistUserID == userID)
}

func (b *Booking) HasJoined(participantID string) bool {
	for _, j := range b.JoinedUsers {
		if j.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// ToMinorUnits converts a major-unit amount (rupees) to minor units (paise).
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}
