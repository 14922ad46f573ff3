package middleware

import (
    "crypto/subtle"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-rush/internal/admission"
)

const ServiceKeyHeader = admission.ServiceKeyHeader

// RequireServiceKey admits only callers presenting key.  An empty key
// configuration rejects everyone.
func RequireServiceKey(key string) echo.MiddlewareFunc {
    want := []byte(key)
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            got := []byte(c.Request().Header.Get(ServiceKeyHeader))
            if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid service key"})
            }
            return next(c)
        }
    }
}
