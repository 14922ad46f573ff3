package model

import (
    "fmt"
    "time"

    "github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
    ReservationPending        ReservationStatus = "PENDING"
    ReservationPaymentPending ReservationStatus = "PAYMENT_PENDING"
    ReservationConfirmed      ReservationStatus = "CONFIRMED"
    ReservationCancelled      ReservationStatus = "CANCELLED"
)

// Reservation records a user's claim on a quantity of a product's stock.
// Its status follows the saga:
//
//  PENDING -> PAYMENT_PENDING -> CONFIRMED
//  PENDING | PAYMENT_PENDING -> CANCELLED (compensation)
//
// Fields:
//  ID          – primary key identifier.
//  SagaID      – correlation id shared by every event of the saga.
//  UserID      – user who made the reservation.
//  ProductID   – product being reserved.
//  ProductName – denormalised for responses; not persisted.
//  Quantity    – units taken from available stock.
//  TotalPrice  – price × quantity at reservation time.
//  Status      – lifecycle state.
type Reservation struct {
    ID          uint64            // reservations.id
    SagaID      string            // reservations.saga_id
    UserID      uint64            // reservations.user_id
    ProductID   uint64            // reservations.product_id
    ProductName string            // products.name (joined)
    Quantity    int               // reservations.quantity
    TotalPrice  decimal.Decimal   // reservations.total_price
    Status      ReservationStatus // reservations.status
    CreatedAt   time.Time         // reservations.created_at
    UpdatedAt   time.Time         // reservations.updated_at
}

// NewReservation builds a PENDING reservation for quantity units of p.
func NewReservation(sagaID string, userID uint64, p *Product, quantity int) (*Reservation, error) {
    if quantity <= 0 {
        return nil, ErrInvalidQuantity
    }
    return &Reservation{
        SagaID:      sagaID,
        UserID:      userID,
        ProductID:   p.ID,
        ProductName: p.Name,
        Quantity:    quantity,
        TotalPrice:  p.Price.Mul(decimal.NewFromInt(int64(quantity))),
        Status:      ReservationPending,
    }, nil
}

// AwaitPayment moves a fresh reservation to PAYMENT_PENDING.
func (r *Reservation) AwaitPayment() error {
    if r.Status != ReservationPending {
        return r.illegal(ReservationPaymentPending)
    }
    r.Status = ReservationPaymentPending
    return nil
}

// Confirm marks the reservation paid.  Confirming twice is a no-op and
// reports changed=false; confirming from any other state is illegal.
func (r *Reservation) Confirm() (changed bool, err error) {
    switch r.Status {
    case ReservationConfirmed:
        return false, nil
    case ReservationPaymentPending:
        r.Status = ReservationConfirmed
        return true, nil
    }
    return false, r.illegal(ReservationConfirmed)
}

// Cancel moves the reservation to CANCELLED.  A cancelled reservation stays
// cancelled and reports changed=false so compensation is not repeated.
func (r *Reservation) Cancel() (changed bool) {
    if r.Status == ReservationCancelled {
        return false
    }
    r.Status = ReservationCancelled
    return true
}

// Terminal reports whether no further saga transition is expected.
func (r *Reservation) Terminal() bool {
    return r.Status == ReservationConfirmed || r.Status == ReservationCancelled
}

func (r *Reservation) illegal(to ReservationStatus) error {
    return fmt.Errorf("%w: reservation %d %s -> %s", ErrIllegalTransition, r.ID, r.Status, to)
}
