package earning

import (
	"context"
	"net/http"

	"theratreat/apperr"
	"theratreat/models"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/hlog"
)

// ProfileLookup resolves the therapist profile behind a user account.
type ProfileLookup interface {
	FindByUserID(ctx context.Context, userID string) (*models.Therapist, error)
}

type Handler struct {
	ledger   *Ledger
	profiles ProfileLookup
}

func NewHandler(ledger *Ledger, profiles ProfileLookup) *Handler {
	return &Handler{ledger: ledger, profiles: profiles}
}

// GET /api/earnings
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	therapistID, err := h.resolveTherapist(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.ledger.ListForTherapist(r.Context(), therapistID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"earnings": entries,
		"summary":  Summarize(therapistID, entries),
	})
}

func (h *Handler) resolveTherapist(r *http.Request) (string, error) {
	actor := utils.ActorFromRequest(r)
	switch actor.Role {
	case models.RoleAdmin:
		id := r.URL.Query().Get("therapistId")
		if id == "" {
			return "", apperr.Validation("missing_therapist_id", "therapistId is required")
		}
		return id, nil
	case models.RoleTherapist:
		t, err := h.profiles.FindByUserID(r.Context(), actor.ID)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	default:
		return "", apperr.Forbidden("forbidden", "earnings are visible to therapists only")
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("earnings request failed")
	}
	utils.RespondWithAppError(w, err)
}
