package models

import "time"

type NotificationKind string

const (
	NotifyBookingCreated   NotificationKind = "booking.created"
	NotifyBookingConfirmed NotificationKind = "booking.confirmed"
	NotifyBookingCancelled NotificationKind = "booking.cancelled"
	NotifyBookingCompleted NotificationKind = "booking.completed"
)

// Notification is handed to downstream SMS/email workers.
type Notification struct {
	ID         string            `json:"id"`
	Kind       NotificationKind  `json:"kind"`
	BookingID  string            `json:"bookingId"`
	Recipients []string          `json:"recipients"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
