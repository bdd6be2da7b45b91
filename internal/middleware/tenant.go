package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shooter51/divestreams-server/internal/repository"
	"github.com/shooter51/divestreams-server/internal/tenant"
)

// ResolveTenant returns a middleware that resolves the :slug route
// parameter (or the X-Org-Slug header) to an organization and stores the
// resulting tenant.Scope in the request context.  Resolution is
// fail-closed: an unknown or missing slug never falls through to another
// organization's data, it is a 404.
func ResolveTenant(store repository.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			slug := c.Param("slug")
			if slug == "" {
				slug = c.Request().Header.Get("X-Org-Slug")
			}
			if slug == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing organization"})
			}

			org, err := store.GetOrganizationBySlug(c.Request().Context(), slug)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
				}
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}

			scope, err := tenant.Resolve(org.ID)
			if err != nil {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
			}
			c.Set(CtxScope, scope)
			return next(c)
		}
	}
}

// MatchTokenOrg returns a middleware that rejects staff tokens issued for
// a different organization than the one the route resolves to.  Must run
// after both JWTAuth and ResolveTenant.
func MatchTokenOrg() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope, ok := ScopeFrom(c)
			if !ok {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
			}
			orgID, ok := c.Get(CtxOrgID).(uint64)
			if !ok || orgID != scope.OrganizationID {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// ScopeFrom reads the tenant scope stored by ResolveTenant.
func ScopeFrom(c echo.Context) (tenant.Scope, bool) {
	scope, ok := c.Get(CtxScope).(tenant.Scope)
	if !ok || !scope.Valid() {
		return tenant.Scope{}, false
	}
	return scope, true
}
