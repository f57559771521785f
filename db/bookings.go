package db

import (
	"context"
	"errors"
	"time"

	"theratreat/apperr"
	"theratreat/booking"
	"theratreat/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BookingStore implements booking.Store. Each mutation is a single
// FindOneAndUpdate whose filter carries the precondition.
type BookingStore struct {
	s *Store
}

func NewBookingStore(s *Store) *BookingStore {
	return &BookingStore{s: s}
}

var _ booking.Store = (*BookingStore)(nil)

func (bs *BookingStore) Insert(ctx context.Context, b *models.Booking) error {
	if err := bs.s.InsertOne(ctx, BookingsCollection, b); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return apperr.Wrap(apperr.KindConflict, "duplicate_booking", "booking already exists", err)
		}
		return persistence("insert booking", err)
	}
	return nil
}

func (bs *BookingStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	return bs.findOne(ctx, bson.M{"id": id})
}

func (bs *BookingStore) FindByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	return bs.findOne(ctx, bson.M{"payment.order.orderId": orderID})
}

func (bs *BookingStore) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	var b models.Booking
	found, err := bs.s.FindOne(ctx, BookingsCollection, filter, &b)
	if err != nil {
		return nil, persistence("find booking", err)
	}
	if !found {
		return nil, apperr.NotFound("booking_not_found", "booking not found")
	}
	return &b, nil
}

func (bs *BookingStore) List(ctx context.Context, f booking.ListFilter) ([]models.Booking, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.TherapistUserID != "" {
		filter["therapistUserId"] = f.TherapistUserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.PaymentStatus != "" {
		filter["paymentStatus"] = f.PaymentStatus
	}
	if f.EarningPending {
		filter["earningRecorded"] = bson.M{"$ne": true}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}

	bookings := []models.Booking{}
	if err := bs.s.Find(ctx, BookingsCollection, filter, opts, &bookings); err != nil {
		return nil, persistence("list bookings", err)
	}
	return bookings, nil
}

// conditional runs a guarded update. On a miss it reads the booking back so
// callers can tell a failed precondition from a missing document.
func (bs *BookingStore) conditional(ctx context.Context, id string, guard, update bson.M) (*models.Booking, bool, error) {
	filter := bson.M{"id": id}
	for k, v := range guard {
		filter[k] = v
	}
	var b models.Booking
	found, err := bs.s.FindOneAndUpdate(ctx, BookingsCollection, filter, update, &b)
	if err != nil {
		return nil, false, persistence("update booking", err)
	}
	if found {
		return &b, true, nil
	}
	current, err := bs.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

var unsettled = bson.M{"paymentStatus": bson.M{"$nin": bson.A{models.PaymentPaid, models.PaymentRefunded}}}

func (bs *BookingStore) AttachOrder(ctx context.Context, id string, order models.PaymentOrder) (*models.Booking, bool, error) {
	guard := unsettled
	update := bson.M{"$set": bson.M{
		"payment.provider": order.Provider,
		"payment.order":    order,
		"updatedAt":        order.CreatedAt,
	}}
	return bs.conditional(ctx, id, guard, update)
}

func (bs *BookingStore) MarkPaid(ctx context.Context, id string, u booking.PaidUpdate) (*models.Booking, bool, error) {
	guard := unsettled
	set := bson.M{
		"paymentStatus":   models.PaymentPaid,
		"payment.paidVia": u.Via,
		"updatedAt":       u.At,
	}
	if u.PaymentID != "" {
		set["payment.paymentId"] = u.PaymentID
	}
	if u.Signature != "" {
		set["payment.signature"] = u.Signature
	}
	if u.Method != "" {
		set["payment.method"] = u.Method
	}
	if u.CapturedAmount > 0 {
		set["payment.capturedAmount"] = u.CapturedAmount
	}
	if u.Via == models.PaidViaWebhook {
		set["payment.capturedAt"] = u.At
	} else {
		set["payment.verifiedAt"] = u.At
	}
	return bs.conditional(ctx, id, guard, bson.M{"$set": set})
}

func (bs *BookingStore) TransitionStatus(ctx context.Context, id string, from []models.BookingStatus, to models.BookingStatus, c booking.StatusChange) (*models.Booking, bool, error) {
	guard := bson.M{}
	if from != nil {
		guard["status"] = bson.M{"$in": from}
	}
	set := bson.M{"status": to, "updatedAt": c.At}
	if to == models.StatusCancelled {
		set["cancellationReason"] = c.Reason
		set["cancelledBy"] = c.ActorID
	}
	return bs.conditional(ctx, id, guard, bson.M{"$set": set})
}

func (bs *BookingStore) SetPaymentStatus(ctx context.Context, id string, to models.PaymentStatus, at time.Time) (*models.Booking, error) {
	var b models.Booking
	found, err := bs.s.FindOneAndSet(ctx, BookingsCollection, bson.M{"id": id},
		bson.M{"paymentStatus": to, "updatedAt": at}, &b)
	if err != nil {
		return nil, persistence("set payment status", err)
	}
	if !found {
		return nil, apperr.NotFound("booking_not_found", "booking not found")
	}
	return &b, nil
}

func (bs *BookingStore) SetRoom(ctx context.Context, id, roomCode, meetingURL string, at time.Time) (*models.Booking, bool, error) {
	guard := bson.M{"$or": bson.A{
		bson.M{"roomCode": bson.M{"$exists": false}},
		bson.M{"roomCode": ""},
	}}
	update := bson.M{"$set": bson.M{"roomCode": roomCode, "meetingUrl": meetingURL, "updatedAt": at}}
	return bs.conditional(ctx, id, guard, update)
}

func (bs *BookingStore) AddParticipant(ctx context.Context, id string, j models.JoinedUser) (*models.Booking, bool, error) {
	guard := bson.M{"joinedUsers.participantId": bson.M{"$ne": j.ParticipantID}}
	update := bson.M{
		"$push": bson.M{"joinedUsers": j},
		"$set":  bson.M{"updatedAt": j.JoinedAt},
	}
	return bs.conditional(ctx, id, guard, update)
}

func (bs *BookingStore) UpdateNotes(ctx context.Context, id, notes string, at time.Time) (*models.Booking, error) {
	var b models.Booking
	found, err := bs.s.FindOneAndSet(ctx, BookingsCollection, bson.M{"id": id},
		bson.M{"notes": notes, "updatedAt": at}, &b)
	if err != nil {
		return nil, persistence("update notes", err)
	}
	if !found {
		return nil, apperr.NotFound("booking_not_found", "booking not found")
	}
	return &b, nil
}

func (bs *BookingStore) MarkEarningRecorded(ctx context.Context, id string, at time.Time) error {
	if _, err := bs.s.UpdateOne(ctx, BookingsCollection, bson.M{"id": id},
		bson.M{"$set": bson.M{"earningRecorded": true, "updatedAt": at}}); err != nil {
		return persistence("mark earning recorded", err)
	}
	return nil
}
