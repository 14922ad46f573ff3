package handler // handler defines the HTTP handlers of the ticket API

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-rush/internal/admission"
    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/repository"
    "github.com/iliyamo/ticket-rush/internal/service"
)

var errUnauthorized = errors.New("unauthorized")

// getUserID returns the authenticated caller stored by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
    id, ok := middleware.UserID(c)
    if !ok {
        return 0, errUnauthorized
    }
    return id, nil
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
    switch {
    case errors.Is(err, errUnauthorized):
        return http.StatusUnauthorized
    case errors.Is(err, model.ErrInvalidQuantity),
        errors.Is(err, admission.ErrInvalidEvent),
        errors.Is(err, admission.ErrInvalidClient):
        return http.StatusBadRequest
    case errors.Is(err, repository.ErrForbidden):
        return http.StatusForbidden
    case errors.Is(err, repository.ErrProductNotFound),
        errors.Is(err, repository.ErrReservationNotFound):
        return http.StatusNotFound
    case errors.Is(err, model.ErrInsufficientStock),
        errors.Is(err, model.ErrNotOnSale),
        errors.Is(err, model.ErrIllegalTransition),
        errors.Is(err, repository.ErrConflict):
        return http.StatusConflict
    case errors.Is(err, admission.ErrUnavailable),
        errors.Is(err, service.ErrPublish):
        return http.StatusServiceUnavailable
    }
    return http.StatusInternalServerError
}

// respondError writes {"error": ...}.  Internal details stay in the log.
func respondError(c echo.Context, err error) error {
    code := statusFor(err)
    msg := err.Error()
    switch code {
    case http.StatusInternalServerError:
        c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
        msg = "internal error"
    case http.StatusServiceUnavailable:
        c.Logger().Warnf("%s %s: %v", c.Request().Method, c.Path(), err)
        msg = "service temporarily unavailable"
    }
    return c.JSON(code, echo.Map{"error": msg})
}
