// Package queue defines the saga events exchanged over RabbitMQ together with
// the publisher and consumer that move them.
package queue

import (
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// Routing keys on the saga topic exchange.
const (
    TopicReservationCreated   = "saga.reservation.created"
    TopicPaymentCompleted     = "saga.payment.completed"
    TopicPaymentFailed        = "saga.payment.failed"
    TopicReservationCancelled = "saga.reservation.cancelled"
)

type SagaStatus string

const (
    SagaStarted      SagaStatus = "STARTED"
    SagaCompleted    SagaStatus = "COMPLETED"
    SagaFailed       SagaStatus = "FAILED"
    SagaCompensating SagaStatus = "COMPENSATING"
    SagaCompensated  SagaStatus = "COMPENSATED"
)

// SagaEvent is the envelope shared by every saga message.  EventID is unique
// per publication; SagaID correlates all messages of one purchase.
type SagaEvent struct {
    EventID   string     `json:"eventId"`
    SagaID    string     `json:"sagaId"`
    Timestamp time.Time  `json:"timestamp"`
    Status    SagaStatus `json:"status"`
}

// Meta exposes the envelope of any event embedding SagaEvent.
func (e SagaEvent) Meta() SagaEvent { return e }

// Event is anything that can travel on the saga exchange.
type Event interface {
    Meta() SagaEvent
}

func newSagaEvent(sagaID string, status SagaStatus, at time.Time) SagaEvent {
    return SagaEvent{EventID: uuid.NewString(), SagaID: sagaID, Timestamp: at.UTC(), Status: status}
}

// ReservationCreated asks the payment worker to charge Amount.
type ReservationCreated struct {
    SagaEvent
    ReservationID uint64          `json:"reservationId"`
    UserID        uint64          `json:"userId"`
    ProductID     uint64          `json:"productId"`
    Quantity      int             `json:"quantity"`
    Amount        decimal.Decimal `json:"amount"`
}

func NewReservationCreated(sagaID string, reservationID, userID, productID uint64, quantity int, amount decimal.Decimal, at time.Time) ReservationCreated {
    return ReservationCreated{
        SagaEvent:     newSagaEvent(sagaID, SagaStarted, at),
        ReservationID: reservationID,
        UserID:        userID,
        ProductID:     productID,
        Quantity:      quantity,
        Amount:        amount,
    }
}

type PaymentCompleted struct {
    SagaEvent
    PaymentID     uint64          `json:"paymentId"`
    ReservationID uint64          `json:"reservationId"`
    Amount        decimal.Decimal `json:"amount"`
    TransactionID string          `json:"transactionId"`
}

func NewPaymentCompleted(sagaID string, paymentID, reservationID uint64, amount decimal.Decimal, txID string, at time.Time) PaymentCompleted {
    return PaymentCompleted{
        SagaEvent:     newSagaEvent(sagaID, SagaCompleted, at),
        PaymentID:     paymentID,
        ReservationID: reservationID,
        Amount:        amount,
        TransactionID: txID,
    }
}

type PaymentFailed struct {
    SagaEvent
    ReservationID uint64 `json:"reservationId"`
    Reason        string `json:"reason"`
}

func NewPaymentFailed(sagaID string, reservationID uint64, reason string, at time.Time) PaymentFailed {
    return PaymentFailed{
        SagaEvent:     newSagaEvent(sagaID, SagaFailed, at),
        ReservationID: reservationID,
        Reason:        reason,
    }
}

// ReservationCancelled announces a finished compensation.
type ReservationCancelled struct {
    SagaEvent
    ReservationID uint64 `json:"reservationId"`
    Reason        string `json:"reason"`
}

func NewReservationCancelled(sagaID string, reservationID uint64, reason string, at time.Time) ReservationCancelled {
    return ReservationCancelled{
        SagaEvent:     newSagaEvent(sagaID, SagaCompensated, at),
        ReservationID: reservationID,
        Reason:        reason,
    }
}
