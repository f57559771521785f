package booking

import (
	"theratreat/apperr"
	"theratreat/models"
)

// transitions lists the status moves open to non-admin actors. Completed and
// cancelled have no entry; only an admin moves a booking out of them.
var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:     {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:   {models.StatusCompleted, models.StatusCancelled, models.StatusRescheduled},
	models.StatusRescheduled: {models.StatusConfirmed, models.StatusCancelled},
}

func canTransition(from, to models.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ownerCancellable are the statuses an owner may cancel from.
var ownerCancellable = []models.BookingStatus{models.StatusPending, models.StatusConfirmed}

var therapistSettable = map[models.BookingStatus]bool{
	models.StatusConfirmed: true,
	models.StatusCompleted: true,
	models.StatusCancelled: true,
}

// authorizeStatus decides whether actor may set to on b. It runs before any
// state check so a stranger learns nothing about the booking's state.
func authorizeStatus(actor models.Actor, b *models.Booking, to models.BookingStatus) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == models.RoleTherapist && actor.ID == b.TherapistUserID && therapistSettable[to] {
		return nil
	}
	if actor.ID == b.UserID && to == models.StatusCancelled {
		return nil
	}
	return apperr.Forbidden("forbidden_transition", "not allowed to set this status")
}

// checkTransition validates the move for a non-admin actor already authorized.
func checkTransition(actor models.Actor, b *models.Booking, to models.BookingStatus) error {
	if b.Status.Terminal() {
		return apperr.Validation("invalid_transition", "booking is "+string(b.Status)+" and can no longer change")
	}
	isTherapist := actor.Role == models.RoleTherapist && actor.ID == b.TherapistUserID
	if !isTherapist && actor.ID == b.UserID && !contains(ownerCancellable, b.Status) {
		return apperr.Validation("invalid_transition", "only pending or confirmed bookings can be cancelled")
	}
	if !canTransition(b.Status, to) {
		return apperr.Validation("invalid_transition", "cannot move from "+string(b.Status)+" to "+string(to))
	}
	// unpaid bookings are confirmed by VerifyPayment, not by hand
	if b.Status == models.StatusPending && to == models.StatusConfirmed && b.PaymentStatus != models.PaymentPaid {
		return apperr.Validation("payment_required", "booking can be confirmed once it is paid")
	}
	return nil
}

func contains(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func canView(actor models.Actor, b *models.Booking) bool {
	return actor.IsAdmin() || b.IsParticipant(actor.ID)
}

func participantType(actor models.Actor, b *models.Booking) string {
	switch {
	case actor.ID == b.UserID:
		return "patient"
	case actor.ID == b.TherapistUserID:
		return "therapist"
	default:
		return string(actor.Role)
	}
}
