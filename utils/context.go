package utils

import (
	"net/http"

	"theratreat/globals"
	"theratreat/models"
)

func GetUserIDFromRequest(r *http.Request) string {
	userID, ok := r.Context().Value(globals.UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func GetRoleFromRequest(r *http.Request) models.Role {
	role, ok := r.Context().Value(globals.RoleKey).(models.Role)
	if !ok {
		return ""
	}
	return role
}

// ActorFromRequest returns the authenticated caller set by the auth middleware.
func ActorFromRequest(r *http.Request) models.Actor {
	return models.Actor{ID: GetUserIDFromRequest(r), Role: GetRoleFromRequest(r)}
}
