// Package middleware contains reusable HTTP middleware: staff
// authentication, role checks, tenant resolution, response caching and
// rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys populated by the middleware in this package.
const (
	CtxUserID = "user_id" // uint64 staff user ID from the token's sub claim
	CtxOrgID  = "org_id"  // uint64 organization ID from the token's org claim
	CtxRole   = "role"    // STAFF or ADMIN
	CtxScope  = "scope"   // tenant.Scope resolved from the route
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the staff user ID, organization ID and role claims into the
// request context.  The provided secret must match the one used when
// issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			userID := claimUint64(claims, "sub")
			orgID := claimUint64(claims, "org")
			role, _ := claims["role"].(string)
			if userID == 0 || orgID == 0 || role == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			c.Set(CtxUserID, userID)
			c.Set(CtxOrgID, orgID)
			c.Set(CtxRole, role)
			return next(c)
		}
	}
}

// claimUint64 reads a numeric claim.  Claims round-trip through JSON, so
// numbers arrive as float64.
func claimUint64(claims jwt.MapClaims, key string) uint64 {
	switch v := claims[key].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case uint64:
		return v
	case int64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	}
	return 0
}
