package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4" // import the Echo web framework to handle routing
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/remote-lab-rental/internal/config"
    "github.com/iliyamo/remote-lab-rental/internal/handler"    // import the handlers that implement business logic
    "github.com/iliyamo/remote-lab-rental/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance: the health check and the public lab
// server catalogue.
func RegisterRoutes(e *echo.Echo, access *handler.AccessHandler) {
    // Health endpoint for load balancers and monitoring systems.
    e.GET("/healthz", handler.Health)
    // Guests may browse the catalogue before signing in.
    e.GET("/v1/servers", access.ListServers)
}

// RegisterMetering registers the session, balance and access-gate
// endpoints.  Everything lives under /v1 behind JWT authentication and
// the Redis token bucket; the rate limiter runs after JWTAuth so the
// bucket is keyed by user rather than by IP for authenticated traffic.
func RegisterMetering(e *echo.Echo, s *handler.SessionHandler, b *handler.BalanceHandler, a *handler.AccessHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
    v1 := e.Group("/v1")
    v1.Use(middleware.JWTAuth(jwtSecret))
    v1.Use(middleware.NewTokenBucket(rl, rdb))

    // Session lifecycle.  Start and resume are the only entries into
    // the active state; pause and end are the only exits.
    v1.POST("/sessions/start", s.Start)
    v1.POST("/sessions/:id/pause", s.Pause)
    v1.POST("/sessions/:id/resume", s.Resume)
    v1.POST("/sessions/:id/end", s.End)
    // Provisional projection plus a live verdict for page reloads.
    v1.GET("/sessions/active", s.Active)
    // On-demand verification and the refocus nudge from the client.
    v1.POST("/sessions/:id/verify", s.Verify)
    v1.POST("/sessions/refocus", s.Refocus)

    // The caller's own balance and audit history.
    v1.GET("/balance", b.GetBalance)
    v1.GET("/balance/history", b.GetHistory)

    // Access gate around the embedded lab surface.
    v1.GET("/servers/:id/access", a.AccessState)
    v1.POST("/servers/:id/events", a.ResourceEvent)
}

// RegisterAdmin registers the admin collaborator's ledger endpoints.
// They require the ADMIN role on the JWT and, on top of that, the
// bcrypt-checked X-Admin-Key header.
func RegisterAdmin(e *echo.Echo, h *handler.AdminBalanceHandler, jwtSecret, adminKeyHash string) {
    g := e.Group("/v1/admin")
    g.Use(middleware.JWTAuth(jwtSecret))
    g.Use(middleware.RequireRole("ADMIN"))
    g.Use(middleware.AdminKey(adminKeyHash))

    g.POST("/balance/credit", h.Credit)
    g.POST("/balance/debit", h.Debit)
    g.POST("/balance/batch-credit", h.BatchCredit)
}
