// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the saga to distinguish between different failure
// scenarios.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts to read a reservation
// they do not own. Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write collides with an existing row, such as
// a second payment for the same saga. Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

var (
    ErrProductNotFound     = errors.New("product not found")
    ErrReservationNotFound = errors.New("reservation not found")
    ErrPaymentNotFound     = errors.New("payment not found")
)
