package middleware

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
)

const (
    PassTokenHeader = "X-Pass-Token"
    EventIDHeader   = "X-Event-Id"
)

// PassValidator checks and consumes a pass token.  Both the local admission
// controller and the remote client implement it; either returns false on any
// doubt.
type PassValidator interface {
    ValidatePass(ctx context.Context, eventID, clientKey, token string) bool
}

// RequirePassToken guards purchase routes: the caller must present the pass
// token issued to them for the event, and the token is spent by this check.
// The event comes from ?eventId= or the X-Event-Id header.
func RequirePassToken(v PassValidator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            token := strings.TrimSpace(c.Request().Header.Get(PassTokenHeader))
            eventID := c.QueryParam("eventId")
            if eventID == "" {
                eventID = c.Request().Header.Get(EventIDHeader)
            }
            client := ClientKey(c)
            if token == "" || eventID == "" || client == "" {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "pass token required"})
            }
            if !v.ValidatePass(c.Request().Context(), eventID, client, token) {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid or used pass token"})
            }
            return next(c)
        }
    }
}
