package routes

import (
	"theratreat/booking"
	"theratreat/earning"
	"theratreat/middleware"
	"theratreat/models"
	"theratreat/pay"
	"theratreat/ratelim"

	"github.com/julienschmidt/httprouter"
)

func AddBookingRoutes(router *httprouter.Router, auth *middleware.Auth, rateLimiter *ratelim.RateLimiter, h *booking.Handler) {
	authed := middleware.Chain(rateLimiter.Limit, auth.Authenticate)

	router.POST("/api/bookings", authed(h.CreateBooking))
	router.GET("/api/bookings", authed(h.ListBookings))
	router.GET("/api/bookings/:id", authed(h.GetBooking))
	router.PATCH("/api/bookings/:id", authed(h.PatchBooking))
	router.PATCH("/api/bookings/:id/cancel", authed(h.CancelBooking))
	router.PATCH("/api/bookings/:id/status",
		middleware.Chain(
			rateLimiter.Limit,
			auth.Authenticate,
			middleware.RequireRoles(models.RoleTherapist, models.RoleAdmin),
		)(h.UpdateBookingStatus),
	)
	router.POST("/api/bookings/:id/join", authed(h.JoinBooking))
	router.GET("/api/bookings/:id/room", authed(h.GetRoom))
}

// AddPaymentRoutes wires checkout. The webhook carries no JWT; its HMAC
// signature is checked by the reconciler.
func AddPaymentRoutes(router *httprouter.Router, auth *middleware.Auth, rateLimiter *ratelim.RateLimiter, idem *pay.Idempotency, h *pay.Handler) {
	router.POST("/api/payments/order",
		middleware.Chain(
			rateLimiter.Limit,
			auth.Authenticate,
			idem.Middleware, // needs the user id for the request hash
		)(h.CreateOrder),
	)
	router.POST("/api/payments/verify",
		middleware.Chain(
			rateLimiter.Limit,
			auth.Authenticate,
		)(h.Verify),
	)
	router.POST("/api/payments/webhook", h.Webhook)
}

func AddEarningRoutes(router *httprouter.Router, auth *middleware.Auth, h *earning.Handler) {
	router.GET("/api/earnings",
		middleware.Chain(
			auth.Authenticate,
			middleware.RequireRoles(models.RoleTherapist, models.RoleAdmin),
		)(h.ListEarnings),
	)
}
