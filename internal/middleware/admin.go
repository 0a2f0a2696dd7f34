package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// RequireAdmin guards the manual override and reporting endpoints with a
// shared token from ADMIN_API_TOKEN. If the token is not configured the
// admin surface is disabled entirely.
func RequireAdmin() echo.MiddlewareFunc {
	token := os.Getenv("ADMIN_API_TOKEN")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return echo.NewHTTPError(http.StatusForbidden, "Admin API is not configured")
			}
			provided := c.Request().Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin token")
			}
			return next(c)
		}
	}
}
