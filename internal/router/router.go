// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/shooter51/divestreams-server/internal/config"
	"github.com/shooter51/divestreams-server/internal/handler"
	"github.com/shooter51/divestreams-server/internal/middleware"
	"github.com/shooter51/divestreams-server/internal/model"
	"github.com/shooter51/divestreams-server/internal/repository"
)

// RegisterRoutes registers routes that need no tenant or authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the staff auth endpoints.  The organization is
// taken from the X-Org-Slug header since these routes carry no :slug
// parameter.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, store repository.Store) {
	g := e.Group("/v1/auth")
	g.Use(middleware.ResolveTenant(store))
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
}

// RegisterPublic registers the customer-facing reservation endpoints
// under /v1/orgs/:slug.  Availability reads go through the Redis response
// cache; admissions go through the per-tenant rate limiter.  Both degrade
// to plain handlers when rdb is nil.
func RegisterPublic(e *echo.Echo, av *handler.AvailabilityHandler, rh *handler.ReservationHandler,
	store repository.Store, rdb *redis.Client) {

	g := e.Group("/v1/orgs/:slug")
	g.Use(middleware.ResolveTenant(store))

	cacheCfg := config.LoadCacheConfig()
	limitCfg := config.LoadRateLimitConfig()

	g.GET("/trips/:id/availability", av.Get, middleware.NewRedisCache(cacheCfg, rdb))
	g.GET("/sessions/:id/availability", av.Get, middleware.NewRedisCache(cacheCfg, rdb))

	limited := middleware.NewTokenBucket(limitCfg, rdb)
	g.POST("/trips/:id/reservations", rh.Create, limited)
	g.POST("/sessions/:id/enrollments", rh.CreateEnrollment, limited)

	g.GET("/reservations/:number", rh.Get)
}

// RegisterStaff registers the lifecycle endpoints.  They require a staff
// token whose org claim matches the route's organization.
func RegisterStaff(e *echo.Echo, rh *handler.ReservationHandler, store repository.Store, jwtSecret string) {
	g := e.Group("/v1/orgs/:slug/reservations/:number")
	g.Use(middleware.ResolveTenant(store))
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
	g.Use(middleware.MatchTokenOrg())

	g.POST("/status", rh.UpdateStatus)
	g.POST("/payments", rh.RecordPayment)
	g.POST("/cancel", rh.Cancel)
}
