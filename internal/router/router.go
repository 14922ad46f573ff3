package router // package router wires handlers and middleware onto Echo

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/metrics"
	"github.com/iliyamo/ticket-rush/internal/middleware"
)

// Deps collects what the routes need.  Queue is nil when the waiting room
// runs in another process; Passes then points at that process.
type Deps struct {
	JWTSecret    string
	ServiceKey   string
	RateLimit    config.RateLimitConfig
	Redis        redis.Scripter
	Queue        *handler.QueueHandler
	Reservations *handler.ReservationHandler
	Passes       middleware.PassValidator
	Ready        map[string]handler.PingFunc
}

// RegisterRoutes exposes the probes and the metrics endpoint.  None of
// them require authentication.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.PingFunc) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
	e.GET("/metrics", metrics.Handler())
}

// RegisterQueue mounts the waiting room.  Polling endpoints sit behind the
// token bucket; pass validation is for services holding the shared key.
func RegisterQueue(e *echo.Echo, d Deps) {
	auth := middleware.JWTAuth(d.JWTSecret)
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)

	g := e.Group("/queue")
	g.POST("/:eventId/enqueue", d.Queue.Enqueue, auth, limit)
	g.GET("/:eventId/status", d.Queue.Status, auth, limit)
	g.POST("/:eventId/validate-pass-token", d.Queue.ValidatePassToken, middleware.RequireServiceKey(d.ServiceKey))
	g.DELETE("/:eventId", d.Queue.Reset, auth, middleware.RequireRole(middleware.RoleAdmin))
}

// RegisterReservations mounts the purchase API.  Creating a reservation
// spends the caller's pass token first.
func RegisterReservations(e *echo.Echo, d Deps) {
	admin := middleware.RequireRole(middleware.RoleAdmin)

	g := e.Group("/reservations", middleware.JWTAuth(d.JWTSecret))
	g.POST("", d.Reservations.Create, middleware.RequirePassToken(d.Passes))
	g.GET("/my", d.Reservations.ListMine)
	g.GET("/saga/:sagaId", d.Reservations.GetBySaga, admin)
	g.GET("/stale", d.Reservations.ListStale, admin)
	g.GET("/:id", d.Reservations.Get)
	g.PUT("/:id/confirm", d.Reservations.Confirm, admin)
	g.PUT("/:id/cancel", d.Reservations.Cancel, admin)
}

// Register mounts everything in d.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.Ready)
	if d.Queue != nil {
		RegisterQueue(e, d)
	}
	if d.Reservations != nil {
		RegisterReservations(e, d)
	}
}
