package booking

import (
	"net/http"

	"theratreat/apperr"
	"theratreat/models"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/hlog"
)

type Handler struct {
	m *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{m: m}
}

// ---------- Request types ----------

type createRequest struct {
	TherapistID string `json:"therapistId" validate:"required,max=64"`
	SessionType string `json:"sessionType" validate:"required,oneof=video audio in-person home-visit"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot    string `json:"timeSlot" validate:"required"`
	Notes       string `json:"notes" validate:"max=2000"`
	ClinicID    string `json:"clinicId" validate:"max=64"`
}

type patchRequest struct {
	Status        *string `json:"status" validate:"omitempty,oneof=pending confirmed completed cancelled rescheduled"`
	PaymentStatus *string `json:"paymentStatus" validate:"omitempty,oneof=pending paid failed refunded"`
	Notes         *string `json:"notes" validate:"omitempty,max=2000"`
	Reason        string  `json:"reason" validate:"max=2000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled rescheduled"`
	Reason string `json:"reason" validate:"max=2000"`
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	utils.RespondWithAppError(w, err)
}

// ---------- Handlers ----------

// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.m.Create(r.Context(), utils.GetUserIDFromRequest(r), CreateInput{
		TherapistID: req.TherapistID,
		SessionType: models.SessionType(req.SessionType),
		Date:        req.Date,
		TimeSlot:    req.TimeSlot,
		Notes:       req.Notes,
		ClinicID:    req.ClinicID,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, b)
}

// GET /api/bookings
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	bookings, err := h.m.List(r.Context(), utils.ActorFromRequest(r), ListQuery{
		Status:          models.BookingStatus(q.Get("status")),
		PaymentStatus:   models.PaymentStatus(q.Get("paymentStatus")),
		UserID:          q.Get("userId"),
		TherapistUserID: q.Get("therapistUserId"),
		Limit:           utils.ParseLimit(r, 50, 200),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookings": bookings})
}

// GET /api/bookings/:id
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, err := h.m.Get(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// PATCH /api/bookings/:id
func (h *Handler) PatchBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req patchRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Status == nil && req.PaymentStatus == nil && req.Notes == nil {
		respondErr(w, r, apperr.Validation("empty_update", "nothing to update"))
		return
	}
	// each write is checked on its own, so one request may not carry both
	if req.Status != nil && req.PaymentStatus != nil {
		respondErr(w, r, apperr.Validation("conflicting_update", "update status and paymentStatus in separate requests"))
		return
	}

	ctx, actor, id := r.Context(), utils.ActorFromRequest(r), ps.ByName("id")
	var (
		b   *models.Booking
		err error
	)
	if req.PaymentStatus != nil {
		if b, err = h.m.SetPaymentStatus(ctx, actor, id, models.PaymentStatus(*req.PaymentStatus)); err != nil {
			respondErr(w, r, err)
			return
		}
	}
	if req.Status != nil {
		if b, err = h.m.UpdateStatus(ctx, actor, id, models.BookingStatus(*req.Status), req.Reason); err != nil {
			respondErr(w, r, err)
			return
		}
	}
	if req.Notes != nil {
		if b, err = h.m.UpdateNotes(ctx, actor, id, *req.Notes); err != nil {
			respondErr(w, r, err)
			return
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// PATCH /api/bookings/:id/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req cancelRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.m.Cancel(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"), req.Reason)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// PATCH /api/bookings/:id/status
func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req statusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.m.UpdateStatus(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"), models.BookingStatus(req.Status), req.Reason)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// POST /api/bookings/:id/join
func (h *Handler) JoinBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, inserted, err := h.m.MarkJoined(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"booking": b, "joined": inserted})
}

// GET /api/bookings/:id/room
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, err := h.m.EnsureRoom(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"bookingId":  b.ID,
		"roomCode":   b.RoomCode,
		"meetingUrl": b.MeetingURL,
	})
}
