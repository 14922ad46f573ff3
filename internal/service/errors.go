package service

import "errors"

var (
    // ErrReservationMissing means a payment event names a reservation that
    // does not exist.  It indicates data loss and is never retried.
    ErrReservationMissing = errors.New("reservation missing for saga event")
    ErrSagaMismatch       = errors.New("event saga id does not match reservation")
    // ErrPublish is returned by StartSaga when the reservation could not be
    // handed to the payment worker; the reservation has been rolled back.
    ErrPublish = errors.New("saga event not published")
)
