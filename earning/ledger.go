// Package earning keeps the therapist payout ledger: at most one entry per
// completed and paid booking.
package earning

import (
	"context"
	"errors"
	"math"
	"time"

	"theratreat/apperr"
	"theratreat/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists ledger entries. Insert must fail with an error wrapping
// apperr.ErrDuplicate when an entry for the booking already exists.
type Store interface {
	FindByBooking(ctx context.Context, bookingID string) (*models.Earning, error)
	Insert(ctx context.Context, e *models.Earning) error
	ListByTherapist(ctx context.Context, therapistID string) ([]models.Earning, error)
}

type Ledger struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewLedger(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.With().Str("component", "earning").Logger(),
	}
}

// Split returns the platform fee and the net payable for a gross amount.
func Split(gross, feePercent float64) (fee, net float64) {
	fee = math.Round(gross * feePercent / 100)
	net = gross - fee
	if net < 0 {
		net = 0
	}
	return fee, net
}

// RecordEarning writes the ledger entry for e.BookingID unless one exists.
// Only BookingID, TherapistID, GrossAmount, FeePercent and Currency are read
// from e. created is false when the entry was already there, including when a
// concurrent writer won the insert.
func (l *Ledger) RecordEarning(ctx context.Context, e models.Earning) (*models.Earning, bool, error) {
	if e.BookingID == "" || e.TherapistID == "" {
		return nil, false, apperr.Validation("invalid_earning", "booking and therapist are required")
	}
	if e.GrossAmount < 0 || math.IsNaN(e.GrossAmount) {
		return nil, false, apperr.Validation("invalid_amount", "gross amount must not be negative")
	}

	existing, err := l.store.FindByBooking(ctx, e.BookingID)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}

	now := l.now()
	fee, net := Split(e.GrossAmount, e.FeePercent)
	entry := &models.Earning{
		ID:          uuid.NewString(),
		BookingID:   e.BookingID,
		TherapistID: e.TherapistID,
		GrossAmount: e.GrossAmount,
		FeePercent:  e.FeePercent,
		PlatformFee: fee,
		NetAmount:   net,
		Currency:    e.Currency,
		Status:      models.EarningAvailable,
		ReleasedAt:  &now,
		CreatedAt:   now,
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		if !errors.Is(err, apperr.ErrDuplicate) {
			return nil, false, err
		}
		l.log.Info().Str("bookingId", e.BookingID).Msg("earning recorded concurrently")
		winner, ferr := l.store.FindByBooking(ctx, e.BookingID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	}

	l.log.Info().
		Str("bookingId", entry.BookingID).
		Str("therapistId", entry.TherapistID).
		Float64("net", entry.NetAmount).
		Msg("earning recorded")
	return entry, true, nil
}

func (l *Ledger) ListForTherapist(ctx context.Context, therapistID string) ([]models.Earning, error) {
	if therapistID == "" {
		return nil, apperr.Validation("missing_therapist_id", "therapist id is required")
	}
	return l.store.ListByTherapist(ctx, therapistID)
}

func (l *Ledger) Summary(ctx context.Context, therapistID string) (*models.EarningSummary, error) {
	entries, err := l.ListForTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	return Summarize(therapistID, entries), nil
}

// Summarize totals entries overall and per status.
func Summarize(therapistID string, entries []models.Earning) *models.EarningSummary {
	s := &models.EarningSummary{
		TherapistID: therapistID,
		ByStatus:    map[models.EarningStatus]models.EarningTotals{},
	}
	for _, e := range entries {
		if s.Currency == "" {
			s.Currency = e.Currency
		}
		s.Total = addTotals(s.Total, e)
		s.ByStatus[e.Status] = addTotals(s.ByStatus[e.Status], e)
	}
	return s
}

func addTotals(t models.EarningTotals, e models.Earning) models.EarningTotals {
	t.Count++
	t.Gross += e.GrossAmount
	t.Fees += e.PlatformFee
	t.Net += e.NetAmount
	return t
}
