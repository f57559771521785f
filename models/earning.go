package models

import "time"

type EarningStatus string

const (
	EarningPending     EarningStatus = "pending"
	EarningAvailable   EarningStatus = "available"
	EarningWithdrawing EarningStatus = "withdrawing"
	EarningWithdrawn   EarningStatus = "withdrawn"
)

// Earning is the ledger entry for one completed and paid booking.
// The bookingId index is unique.
type Earning struct {
	ID          string        `json:"id" bson:"id"`
	BookingID   string        `json:"bookingId" bson:"bookingId"`
	TherapistID string        `json:"therapistId" bson:"therapistId"`
	GrossAmount float64       `json:"grossAmount" bson:"grossAmount"`
	FeePercent  float64       `json:"feePercent" bson:"feePercent"`
	PlatformFee float64       `json:"platformFee" bson:"platformFee"`
	NetAmount   float64       `json:"netAmount" bson:"netAmount"`
	Currency    string        `json:"currency" bson:"currency"`
	Status      EarningStatus `json:"status" bson:"status"`
	ReleasedAt  *time.Time    `json:"releasedAt,omitempty" bson:"releasedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
}

type EarningTotals struct {
	Count int     `json:"count"`
	Gross float64 `json:"gross"`
	Fees  float64 `json:"fees"`
	Net   float64 `json:"net"`
}

type EarningSummary struct {
	TherapistID string                          `json:"therapistId"`
	Currency    string                          `json:"currency,omitempty"`
	Total       EarningTotals                   `json:"total"`
	ByStatus    map[EarningStatus]EarningTotals `json:"byStatus"`
}
