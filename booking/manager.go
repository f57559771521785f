// Package booking owns the booking lifecycle: creation, payment, status
// transitions and the side effects tied to them, plus webhook reconciliation
// of gateway captures.
package booking

import (
	"context"
	"errors"
	"regexp"
	"time"

	"theratreat/apperr"
	"theratreat/gateway"
	"theratreat/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxNotesLen = 2000

type Deps struct {
	Store       Store
	Therapists  TherapistDirectory
	Gateway     Gateway
	Meetings    MeetingProvisioner
	Earnings    EarningRecorder
	Notifier    Notifier
	FeePercent  float64
	Currency    string
	CallTimeout time.Duration
	Now         func() time.Time
	Log         zerolog.Logger
	Tracer      trace.Tracer
}

// Manager is the single authority for mutating a booking's status and
// payment status.
type Manager struct {
	store       Store
	therapists  TherapistDirectory
	gateway     Gateway
	meetings    MeetingProvisioner
	earnings    EarningRecorder
	notifier    Notifier
	feePercent  float64
	currency    string
	callTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
	tracer      trace.Tracer
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		store:       d.Store,
		therapists:  d.Therapists,
		gateway:     d.Gateway,
		meetings:    d.Meetings,
		earnings:    d.Earnings,
		notifier:    d.Notifier,
		feePercent:  d.FeePercent,
		currency:    d.Currency,
		callTimeout: d.CallTimeout,
		now:         d.Now,
		log:         d.Log.With().Str("component", "booking").Logger(),
		tracer:      d.Tracer,
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("theratreat/booking")
	}
	if m.currency == "" {
		m.currency = "INR"
	}
	if m.callTimeout <= 0 {
		m.callTimeout = 12 * time.Second
	}
	return m
}

func (m *Manager) startSpan(ctx context.Context, name, bookingID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("booking.id", bookingID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}

// ---------- Create / read ----------

type CreateInput struct {
	TherapistID string
	SessionType models.SessionType
	Date        string
	TimeSlot    string
	Notes       string
	ClinicID    string
}

var timeSlotPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d-([01]\d|2[0-3]):[0-5]\d$`)

func validateCreate(in CreateInput) error {
	if in.TherapistID == "" {
		return apperr.Validation("missing_therapist_id", "therapistId is required")
	}
	if !in.SessionType.Valid() {
		return apperr.Validation("invalid_session_type", "sessionType must be video, audio, in-person or home-visit")
	}
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return apperr.Validation("invalid_date", "date must be YYYY-MM-DD")
	}
	if !timeSlotPattern.MatchString(in.TimeSlot) || in.TimeSlot[:5] >= in.TimeSlot[6:] {
		return apperr.Validation("invalid_time_slot", "timeSlot must be HH:MM-HH:MM with start before end")
	}
	if len(in.Notes) > maxNotesLen {
		return apperr.Validation("invalid_notes", "notes are too long")
	}
	return nil
}

func (m *Manager) Create(ctx context.Context, ownerID string, in CreateInput) (b *models.Booking, err error) {
	ctx, span := m.startSpan(ctx, "booking.Create", "")
	defer func() { endSpan(span, err) }()

	if ownerID == "" {
		return nil, apperr.Unauthorized("unauthorized", "sign in to book a session")
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	t, err := m.therapists.GetTherapist(ctx, in.TherapistID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, apperr.Validation("therapist_unavailable", "therapist is not accepting bookings")
	}
	if t.UserID == ownerID {
		return nil, apperr.Validation("self_booking", "therapists cannot book themselves")
	}

	currency := t.Currency
	if currency == "" {
		currency = m.currency
	}
	now := m.now()
	b = &models.Booking{
		ID:              uuid.NewString(),
		UserID:          ownerID,
		TherapistID:     t.ID,
		TherapistUserID: t.UserID,
		ClinicID:        in.ClinicID,
		SessionType:     in.SessionType,
		Date:            in.Date,
		TimeSlot:        in.TimeSlot,
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentPending,
		Amount:          t.FeeFor(in.SessionType),
		Currency:        currency,
		Notes:           in.Notes,
		JoinedUsers:     []models.JoinedUser{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))

	if err := m.store.Insert(ctx, b); err != nil {
		return nil, err
	}
	m.log.Info().Str("bookingId", b.ID).Str("therapistId", b.TherapistID).Msg("booking created")
	m.notify(models.NotifyBookingCreated, b, b.TherapistUserID)
	return b, nil
}

func (m *Manager) Get(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, apperr.Forbidden("forbidden", "not a participant of this booking")
	}
	return b, nil
}

type ListQuery struct {
	Status        models.BookingStatus
	PaymentStatus models.PaymentStatus
	Limit         int64
	// admin only
	UserID          string
	TherapistUserID string
}

// List returns the caller's bookings: the owner's own, a therapist's assigned
// sessions, or anything for an admin.
func (m *Manager) List(ctx context.Context, actor models.Actor, q ListQuery) ([]models.Booking, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation("invalid_status", "unknown status filter")
	}
	if q.PaymentStatus != "" && !q.PaymentStatus.Valid() {
		return nil, apperr.Validation("invalid_payment_status", "unknown paymentStatus filter")
	}
	f := ListFilter{Status: q.Status, PaymentStatus: q.PaymentStatus, Limit: q.Limit}
	switch actor.Role {
	case models.RoleAdmin:
		f.UserID, f.TherapistUserID = q.UserID, q.TherapistUserID
	case models.RoleTherapist:
		f.TherapistUserID = actor.ID
	default:
		f.UserID = actor.ID
	}
	return m.store.List(ctx, f)
}

// ---------- Payment ----------

type Checkout struct {
	Booking *models.Booking     `json:"booking"`
	Order   models.PaymentOrder `json:"order"`
	KeyID   string              `json:"keyId"`
	Reused  bool                `json:"reused"`
}

// RequestPayment creates (or reuses) the gateway order for the amount owed.
// A paid booking yields an AlreadyPaid error together with a Checkout
// carrying the booking.
func (m *Manager) RequestPayment(ctx context.Context, actor models.Actor, id string) (c *Checkout, err error) {
	ctx, span := m.startSpan(ctx, "booking.RequestPayment", id)
	defer func() { endSpan(span, err) }()

	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != b.UserID {
		return nil, apperr.Forbidden("not_owner", "only the booking owner can pay")
	}
	if b.PaymentStatus.Settled() {
		return &Checkout{Booking: b}, apperr.AlreadyPaid("booking is already paid")
	}
	if b.Status.Terminal() {
		return nil, apperr.Validation("booking_closed", "booking is "+string(b.Status))
	}
	if m.gateway.KeyID() == "" {
		return nil, apperr.Configuration("gateway_not_configured", "payment gateway credentials are not configured")
	}
	amount := models.ToMinorUnits(b.Amount)
	if amount <= 0 {
		return nil, apperr.Validation("invalid_amount", "booking has no amount owed")
	}

	if o := b.Payment.Order; o != nil && o.Amount == amount && o.Currency == b.Currency {
		return &Checkout{Booking: b, Order: *o, KeyID: m.gateway.KeyID(), Reused: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	order, err := m.gateway.CreateOrder(callCtx, gateway.OrderRequest{
		Amount:   amount,
		Currency: b.Currency,
		Receipt:  b.ID,
		Notes:    map[string]string{"bookingId": b.ID},
	})
	if err != nil {
		m.log.Warn().Err(err).Str("bookingId", b.ID).Msg("order creation failed")
		return nil, err
	}

	po := models.PaymentOrder{
		Provider:  gateway.Provider,
		OrderID:   order.ID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Receipt:   order.Receipt,
		CreatedAt: m.now(),
	}
	nb, applied, err := m.store.AttachOrder(ctx, b.ID, po)
	if err != nil {
		return nil, err
	}
	if !applied {
		// paid while the order was being created
		return &Checkout{Booking: nb}, apperr.AlreadyPaid("booking is already paid")
	}
	m.log.Info().Str("bookingId", b.ID).Str("orderId", po.OrderID).Int64("amount", po.Amount).Msg("payment order created")
	return &Checkout{Booking: nb, Order: po, KeyID: m.gateway.KeyID()}, nil
}

type VerifyInput struct {
	BookingID string
	PaymentID string
	OrderID   string
	Signature string
}

type VerifyResult struct {
	Booking     *models.Booking `json:"booking"`
	AlreadyPaid bool            `json:"alreadyPaid"`
	Confirmed   bool            `json:"confirmed"`
}

// VerifyPayment checks the client-side checkout signature, marks the booking
// paid and confirms it if it is still pending. Repeating a successful call is
// a no-op reporting AlreadyPaid.
func (m *Manager) VerifyPayment(ctx context.Context, actor models.Actor, in VerifyInput) (res *VerifyResult, err error) {
	ctx, span := m.startSpan(ctx, "booking.VerifyPayment", in.BookingID)
	defer func() { endSpan(span, err) }()

	if in.BookingID == "" || in.PaymentID == "" || in.OrderID == "" || in.Signature == "" {
		return nil, apperr.Validation("missing_fields", "bookingId, paymentId, orderId and signature are required")
	}
	b, err := m.store.Get(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != b.UserID {
		return nil, apperr.Forbidden("not_owner", "only the booking owner can verify payment")
	}
	if err := m.gateway.VerifyPaymentSignature(in.OrderID, in.PaymentID, in.Signature); err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			m.log.Warn().Str("bookingId", b.ID).Str("orderId", in.OrderID).Msg("payment signature mismatch")
			return nil, apperr.Validation("invalid_signature", "payment signature verification failed")
		}
		return nil, err
	}
	if b.Payment.Order == nil || b.Payment.Order.OrderID != in.OrderID {
		return nil, apperr.Validation("order_mismatch", "order does not belong to this booking")
	}

	res = &VerifyResult{Booking: b, AlreadyPaid: b.PaymentStatus.Settled()}
	if !res.AlreadyPaid {
		nb, applied, err := m.store.MarkPaid(ctx, b.ID, PaidUpdate{
			PaymentID: in.PaymentID,
			Signature: in.Signature,
			Via:       models.PaidViaVerify,
			At:        m.now(),
		})
		if err != nil {
			return nil, err
		}
		res.Booking, res.AlreadyPaid = nb, !applied
		if applied {
			m.log.Info().Str("bookingId", b.ID).Str("paymentId", in.PaymentID).Msg("payment verified")
		}
	}

	if res.Booking.Status == models.StatusPending && res.Booking.PaymentStatus == models.PaymentPaid {
		nb, confirmed, err := m.store.TransitionStatus(ctx, b.ID,
			[]models.BookingStatus{models.StatusPending}, models.StatusConfirmed,
			StatusChange{ActorID: actor.ID, At: m.now()})
		if err != nil {
			return nil, err
		}
		res.Booking = nb
		if confirmed {
			res.Confirmed = true
			res.Booking = m.afterConfirmed(ctx, nb)
		}
	}
	return res, nil
}

// SetPaymentStatus is the admin write on the payment axis. Paid on an
// unsettled booking goes through the same guarded transition as
// verification; everything else, including refunded back to paid, is a
// plain write with no side effects.
func (m *Manager) SetPaymentStatus(ctx context.Context, actor models.Actor, id string, to models.PaymentStatus) (b *models.Booking, err error) {
	ctx, span := m.startSpan(ctx, "booking.SetPaymentStatus", id)
	defer func() { endSpan(span, err) }()

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin_only", "only an admin can change payment status")
	}
	if !to.Valid() {
		return nil, apperr.Validation("invalid_payment_status", "unknown paymentStatus")
	}
	b, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == to {
		return b, nil
	}

	if to == models.PaymentPaid && !b.PaymentStatus.Settled() {
		nb, applied, err := m.store.MarkPaid(ctx, id, PaidUpdate{Via: models.PaidViaAdmin, At: m.now()})
		if err != nil {
			return nil, err
		}
		if applied && nb.Status == models.StatusCompleted {
			m.recordEarning(ctx, nb)
		}
		return nb, nil
	}

	nb, err := m.store.SetPaymentStatus(ctx, id, to, m.now())
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("bookingId", id).Str("actorId", actor.ID).Str("paymentStatus", string(to)).Msg("payment status overridden")
	return nb, nil
}

// ---------- Status ----------

// UpdateStatus applies a role-gated status change. Admins may set any status
// from any status; everyone else follows the transition table.
func (m *Manager) UpdateStatus(ctx context.Context, actor models.Actor, id string, to models.BookingStatus, reason string) (b *models.Booking, err error) {
	ctx, span := m.startSpan(ctx, "booking.UpdateStatus", id)
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, apperr.Validation("invalid_status", "unknown status")
	}
	b, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeStatus(actor, b, to); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && b.Status.Terminal() {
		return nil, apperr.Validation("invalid_transition", "booking is "+string(b.Status)+" and can no longer change")
	}
	if b.Status == to {
		return b, nil
	}
	if !actor.IsAdmin() {
		if err := checkTransition(actor, b, to); err != nil {
			return nil, err
		}
	}
	return m.transition(ctx, actor, b, to, reason)
}

// Cancel is the owner's cancellation path.
func (m *Manager) Cancel(ctx context.Context, actor models.Actor, id, reason string) (b *models.Booking, err error) {
	ctx, span := m.startSpan(ctx, "booking.Cancel", id)
	defer func() { endSpan(span, err) }()

	if len(reason) > maxNotesLen {
		return nil, apperr.Validation("invalid_reason", "reason is too long")
	}
	b, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.UserID {
		return nil, apperr.Forbidden("not_owner", "only the booking owner can cancel")
	}
	if b.Status.Terminal() {
		return nil, apperr.Validation("invalid_transition", "booking is already "+string(b.Status))
	}
	if !contains(ownerCancellable, b.Status) {
		return nil, apperr.Validation("invalid_transition", "only pending or confirmed bookings can be cancelled")
	}
	return m.transition(ctx, actor, b, models.StatusCancelled, reason)
}

// transition performs the guarded write from b's current status and fires
// the side effects of entering to. Only the caller whose write applied
// triggers them.
func (m *Manager) transition(ctx context.Context, actor models.Actor, b *models.Booking, to models.BookingStatus, reason string) (*models.Booking, error) {
	nb, applied, err := m.store.TransitionStatus(ctx, b.ID, []models.BookingStatus{b.Status}, to,
		StatusChange{ActorID: actor.ID, Reason: reason, At: m.now()})
	if err != nil {
		return nil, err
	}
	if !applied {
		if nb.Status == to {
			return nb, nil
		}
		return nil, apperr.Conflict("status_changed", "booking changed concurrently, reload and retry")
	}

	m.log.Info().
		Str("bookingId", nb.ID).
		Str("actorId", actor.ID).
		Str("from", string(b.Status)).
		Str("to", string(to)).
		Msg("booking status changed")

	switch to {
	case models.StatusConfirmed:
		nb = m.afterConfirmed(ctx, nb)
	case models.StatusCancelled:
		m.notify(models.NotifyBookingCancelled, nb, counterparties(nb, actor.ID)...)
	case models.StatusCompleted:
		if nb.PaymentStatus == models.PaymentPaid {
			m.recordEarning(ctx, nb)
		}
		m.notify(models.NotifyBookingCompleted, nb, nb.UserID)
	}
	return nb, nil
}

// ---------- Participants and rooms ----------

// MarkJoined records the caller in the joined-users list. inserted is false
// when they had already joined.
func (m *Manager) MarkJoined(ctx context.Context, actor models.Actor, id string) (*models.Booking, bool, error) {
	b, err := m.Get(ctx, actor, id)
	if err != nil {
		return nil, false, err
	}
	if b.Status != models.StatusConfirmed {
		return nil, false, apperr.Validation("not_joinable", "only confirmed sessions can be joined")
	}
	if b.HasJoined(actor.ID) {
		return b, false, nil
	}
	return m.store.AddParticipant(ctx, id, models.JoinedUser{
		ParticipantID:   actor.ID,
		ParticipantType: participantType(actor, b),
		JoinedAt:        m.now(),
	})
}

// EnsureRoom returns the booking with a meeting room, provisioning one for a
// confirmed remote session that lacks it.
func (m *Manager) EnsureRoom(ctx context.Context, actor models.Actor, id string) (b *models.Booking, err error) {
	ctx, span := m.startSpan(ctx, "booking.EnsureRoom", id)
	defer func() { endSpan(span, err) }()

	b, err = m.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !b.SessionType.Remote() {
		return nil, apperr.Validation("not_remote", "in-person sessions have no meeting room")
	}
	if b.RoomCode != "" {
		return b, nil
	}
	if b.Status != models.StatusConfirmed {
		return nil, apperr.Validation("not_confirmed", "room is available once the booking is confirmed")
	}
	if m.meetings == nil {
		return nil, apperr.Configuration("meetings_not_configured", "meeting provider is not configured")
	}
	return m.attachRoom(ctx, b)
}

func (m *Manager) attachRoom(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	room, err := m.meetings.Provision(callCtx, b.ID)
	if err != nil {
		return nil, err
	}
	nb, _, err := m.store.SetRoom(ctx, b.ID, room.Code, room.URL, m.now())
	if err != nil {
		return nil, err
	}
	return nb, nil
}

func (m *Manager) UpdateNotes(ctx context.Context, actor models.Actor, id, notes string) (*models.Booking, error) {
	if len(notes) > maxNotesLen {
		return nil, apperr.Validation("invalid_notes", "notes are too long")
	}
	if _, err := m.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return m.store.UpdateNotes(ctx, id, notes, m.now())
}

// ---------- Side effects ----------

// afterConfirmed provisions a room for remote sessions and notifies both
// parties. Failures are logged; the confirmation stands.
func (m *Manager) afterConfirmed(ctx context.Context, b *models.Booking) *models.Booking {
	if b.SessionType.Remote() && b.RoomCode == "" && m.meetings != nil {
		nb, err := m.attachRoom(ctx, b)
		if err != nil {
			m.log.Warn().Err(err).Str("bookingId", b.ID).Msg("meeting provisioning failed")
		} else {
			b = nb
		}
	}
	m.notify(models.NotifyBookingConfirmed, b, b.UserID, b.TherapistUserID)
	return b
}

func (m *Manager) recordEarning(ctx context.Context, b *models.Booking) bool {
	if m.earnings == nil {
		return false
	}
	gross := b.Amount
	if b.Payment.CapturedAmount > 0 {
		gross = models.FromMinorUnits(b.Payment.CapturedAmount)
	}
	_, created, err := m.earnings.RecordEarning(ctx, models.Earning{
		BookingID:   b.ID,
		TherapistID: b.TherapistID,
		GrossAmount: gross,
		FeePercent:  m.feePercent,
		Currency:    b.Currency,
	})
	if err != nil {
		m.log.Error().Err(err).Str("bookingId", b.ID).Msg("earning creation failed")
		return false
	}
	if err := m.store.MarkEarningRecorded(ctx, b.ID, m.now()); err != nil {
		m.log.Warn().Err(err).Str("bookingId", b.ID).Msg("earning marker not saved")
	}
	return created
}

// ReconcileEarnings records ledger entries for completed and paid bookings
// not yet marked as having one, covering payments that landed after
// completion.
func (m *Manager) ReconcileEarnings(ctx context.Context) (recorded int, err error) {
	ctx, span := m.startSpan(ctx, "booking.ReconcileEarnings", "")
	defer func() { endSpan(span, err) }()

	bookings, err := m.store.List(ctx, ListFilter{
		Status:         models.StatusCompleted,
		PaymentStatus:  models.PaymentPaid,
		EarningPending: true,
	})
	if err != nil {
		return 0, err
	}
	for i := range bookings {
		if ctx.Err() != nil {
			return recorded, ctx.Err()
		}
		if m.recordEarning(ctx, &bookings[i]) {
			recorded++
		}
	}
	return recorded, nil
}

// RunEarningSweep calls ReconcileEarnings every interval until ctx ends.
func (m *Manager) RunEarningSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.ReconcileEarnings(ctx)
			if err != nil && ctx.Err() == nil {
				m.log.Error().Err(err).Msg("earning sweep failed")
				continue
			}
			if n > 0 {
				m.log.Info().Int("recorded", n).Msg("earning sweep recorded entries")
			}
		}
	}
}

func counterparties(b *models.Booking, actorID string) []string {
	var out []string
	for _, id := range []string{b.UserID, b.TherapistUserID} {
		if id != "" && id != actorID {
			out = append(out, id)
		}
	}
	return out
}

// notify hands a notification to the dispatcher without waiting on delivery.
func (m *Manager) notify(kind models.NotificationKind, b *models.Booking, recipients ...string) {
	if m.notifier == nil || len(recipients) == 0 {
		return
	}
	n := models.Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		BookingID:  b.ID,
		Recipients: recipients,
		Data: map[string]string{
			"date":        b.Date,
			"timeSlot":    b.TimeSlot,
			"sessionType": string(b.SessionType),
			"status":      string(b.Status),
		},
		CreatedAt: m.now(),
	}
	if b.MeetingURL != "" {
		n.Data["meetingUrl"] = b.MeetingURL
	}
	if b.CancellationReason != "" {
		n.Data["reason"] = b.CancellationReason
	}
	if !m.notifier.Submit(n) {
		m.log.Warn().Str("bookingId", b.ID).Str("kind", string(kind)).Msg("notification not queued")
	}
}
