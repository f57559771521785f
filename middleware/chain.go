package middleware

import (
	"net/http"

	"theratreat/models"
	"theratreat/utils"

	"github.com/julienschmidt/httprouter"
)

type Middleware func(httprouter.Handle) httprouter.Handle

// Chain composes mws so the first one listed runs first.
func Chain(mws ...Middleware) Middleware {
	return func(h httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// RequireRoles admits callers whose effective role is listed. It must run
// after Authenticate.
func RequireRoles(roles ...models.Role) Middleware {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			if !allowed[utils.GetRoleFromRequest(r)] {
				utils.RespondWithError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next(w, r, ps)
		}
	}
}
