package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/seat-admission/internal/handler"
	"github.com/iliyamo/seat-admission/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Booking      *handler.BookingHandler
	Queue        *handler.QueueHandler
	Entitlements *handler.EntitlementHandler
	Admin        *handler.AdminHandler
	Readiness    *handler.ReadinessHandler
}

// Middleware carries the configured cross-cutting middleware.  RateLimit
// wraps every member route; Cache wraps the public seat reads.
type Middleware struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}

// Register installs the validator, the error handler and every route.
func Register(e *echo.Echo, h Handlers, mw Middleware) {
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = handler.ErrorHandler

	// probes and scraping
	e.GET("/healthz", handler.Health)
	if h.Readiness != nil {
		e.GET("/readyz", h.Readiness.Ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Seat status is public so the cached entry is shared by everyone
	// watching the seat map.
	e.GET("/v1/schedules/:id/seats", h.Booking.SeatMap, orPass(mw.Cache))
	e.GET("/v1/schedules/:id/seats/:seatId", h.Booking.Seat, orPass(mw.Cache))

	member := e.Group("/v1",
		middleware.JWTAuth(mw.JWTSecret),
		middleware.RequireRole(middleware.RoleMember, middleware.RoleOperator),
		orPass(mw.RateLimit),
	)
	member.POST("/schedules/:id/seats/:seatId/hold", h.Booking.Hold)
	member.GET("/reservations", h.Booking.ListReservations)
	member.GET("/reservations/:kind/:id", h.Booking.GetReservation)
	member.DELETE("/reservations/:kind/:id", h.Booking.CancelReservation)
	member.POST("/schedules/:id/entitlements", h.Entitlements.Grant)
	member.POST("/queues/:id/entries", h.Queue.Enter)
	member.GET("/queues/:id/entries/me", h.Queue.Position)
	member.DELETE("/queues/:id/entries/me", h.Queue.Leave)

	admin := e.Group("/v1/admin",
		middleware.JWTAuth(mw.JWTSecret),
		middleware.RequireRole(middleware.RoleOperator),
	)
	admin.POST("/schedules/:id/seats", h.Admin.MaterializeSeats)
	admin.POST("/schedules/:id/lottery-allocations", h.Admin.ImportAllocations)
	admin.POST("/payments/results", h.Admin.PaymentResult)
}
