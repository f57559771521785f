package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"theratreat/apperr"
	"theratreat/booking"
	"theratreat/models"

	"github.com/google/uuid"
)

// These tests need a live MongoDB and run only when MONGO_TEST_URI is set.
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s, err := Connect(ctx, uri, "theratreat_test_"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.database.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func newBooking() *models.Booking {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Booking{
		ID:              uuid.NewString(),
		UserID:          "user-1",
		TherapistID:     "ther-1",
		TherapistUserID: "ther-user-1",
		SessionType:     models.SessionVideo,
		Date:            "2025-03-01",
		TimeSlot:        "10:00-10:30",
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentPending,
		Amount:          500,
		Currency:        "INR",
		JoinedUsers:     []models.JoinedUser{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestBookingStoreConditionalUpdates(t *testing.T) {
	s := testStore(t)
	bs := NewBookingStore(s)
	ctx := context.Background()

	b := newBooking()
	if err := bs.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	order := models.PaymentOrder{Provider: "razorpay", OrderID: "order_1", Amount: 50000, Currency: "INR", CreatedAt: time.Now()}
	if _, applied, err := bs.AttachOrder(ctx, b.ID, order); err != nil || !applied {
		t.Fatalf("attach order: applied=%v err=%v", applied, err)
	}
	found, err := bs.FindByOrderID(ctx, "order_1")
	if err != nil || found.ID != b.ID {
		t.Fatalf("find by order: %v %v", found, err)
	}

	paid := booking.PaidUpdate{PaymentID: "pay_1", Via: models.PaidViaVerify, At: time.Now()}
	if _, applied, err := bs.MarkPaid(ctx, b.ID, paid); err != nil || !applied {
		t.Fatalf("first mark paid: applied=%v err=%v", applied, err)
	}
	got, applied, err := bs.MarkPaid(ctx, b.ID, paid)
	if err != nil || applied {
		t.Fatalf("second mark paid should be a miss: applied=%v err=%v", applied, err)
	}
	if got.PaymentStatus != models.PaymentPaid {
		t.Fatalf("payment status = %s", got.PaymentStatus)
	}

	from := []models.BookingStatus{models.StatusPending}
	if _, applied, _ := bs.TransitionStatus(ctx, b.ID, from, models.StatusConfirmed, booking.StatusChange{At: time.Now()}); !applied {
		t.Fatal("pending -> confirmed should apply")
	}
	if _, applied, _ := bs.TransitionStatus(ctx, b.ID, from, models.StatusConfirmed, booking.StatusChange{At: time.Now()}); applied {
		t.Fatal("second pending -> confirmed should miss")
	}

	j := models.JoinedUser{ParticipantID: "user-1", ParticipantType: "patient", JoinedAt: time.Now()}
	if _, applied, _ := bs.AddParticipant(ctx, b.ID, j); !applied {
		t.Fatal("first join should apply")
	}
	got, applied, _ = bs.AddParticipant(ctx, b.ID, j)
	if applied || len(got.JoinedUsers) != 1 {
		t.Fatalf("second join: applied=%v joined=%d", applied, len(got.JoinedUsers))
	}

	if _, applied, _ := bs.SetRoom(ctx, b.ID, "abc", "https://meet/room/abc", time.Now()); !applied {
		t.Fatal("first room should apply")
	}
	got, applied, _ = bs.SetRoom(ctx, b.ID, "xyz", "https://meet/room/xyz", time.Now())
	if applied || got.RoomCode != "abc" {
		t.Fatalf("second room: applied=%v code=%s", applied, got.RoomCode)
	}

	if _, _, err := bs.MarkPaid(ctx, "missing", paid); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing booking: %v", err)
	}

	if _, err := bs.SetPaymentStatus(ctx, b.ID, models.PaymentRefunded, time.Now()); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got, applied, err := bs.MarkPaid(ctx, b.ID, paid); err != nil || applied || got.PaymentStatus != models.PaymentRefunded {
		t.Fatalf("mark paid after refund: applied=%v status=%v err=%v", applied, got, err)
	}
	if _, applied, err := bs.AttachOrder(ctx, b.ID, order); err != nil || applied {
		t.Fatalf("attach order after refund: applied=%v err=%v", applied, err)
	}
}

func TestBookingStoreEarningPendingFilter(t *testing.T) {
	s := testStore(t)
	bs := NewBookingStore(s)
	ctx := context.Background()

	ids := []string{}
	for i := 0; i < 2; i++ {
		b := newBooking()
		b.Status = models.StatusCompleted
		b.PaymentStatus = models.PaymentPaid
		if err := bs.Insert(ctx, b); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, b.ID)
	}
	if err := bs.MarkEarningRecorded(ctx, ids[0], time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := bs.List(ctx, booking.ListFilter{
		Status:         models.StatusCompleted,
		PaymentStatus:  models.PaymentPaid,
		EarningPending: true,
	})
	if err != nil || len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("pending = %v, %v", got, err)
	}
}

func TestIdempotencyKeysScopedPerUser(t *testing.T) {
	is := NewIdempotencyStore(testStore(t))
	ctx := context.Background()
	rec := func(userID, hash string) models.IdempotencyRecord {
		now := time.Now()
		return models.IdempotencyRecord{Key: "k-1", UserID: userID, RequestHash: hash, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	}

	if existing, err := is.Reserve(ctx, rec("user-1", "h1")); err != nil || existing != nil {
		t.Fatalf("user-1 reserve: %v %v", existing, err)
	}
	if existing, err := is.Reserve(ctx, rec("user-2", "h2")); err != nil || existing != nil {
		t.Fatalf("user-2 reserve: %v %v", existing, err)
	}
	if err := is.SaveResponse(ctx, "user-2", "k-1", map[string]interface{}{"status": 200}); err != nil {
		t.Fatalf("save: %v", err)
	}

	existing, err := is.Reserve(ctx, rec("user-1", "h1"))
	if err != nil || existing == nil || existing.RequestHash != "h1" || existing.Response != nil {
		t.Fatalf("user-1 retry: %+v %v", existing, err)
	}
}

func TestEarningStoreUniqueBooking(t *testing.T) {
	s := testStore(t)
	es := NewEarningStore(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = es.Insert(ctx, &models.Earning{
				ID:          uuid.NewString(),
				BookingID:   "booking-1",
				TherapistID: "ther-1",
				GrossAmount: 1000,
				NetAmount:   900,
				Status:      models.EarningAvailable,
				CreatedAt:   time.Now(),
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperr.ErrDuplicate):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d inserts succeeded, want 1", ok)
	}
	n, err := s.Count(ctx, EarningsCollection, map[string]any{"bookingId": "booking-1"})
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}
