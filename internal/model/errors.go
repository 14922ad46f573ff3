package model

import "errors"

var (
    // ErrIllegalTransition is returned when a reservation is asked to move to
    // a state its current state cannot reach.
    ErrIllegalTransition = errors.New("illegal reservation transition")
    // ErrInsufficientStock means fewer units are available than requested.
    ErrInsufficientStock = errors.New("insufficient stock")
    ErrInvalidQuantity   = errors.New("quantity must be positive")
    ErrNotOnSale         = errors.New("product is not on sale")
)
