package model

import (
    "time"

    "github.com/shopspring/decimal"
)

type PaymentStatus string

const (
    PaymentPending    PaymentStatus = "PENDING"
    PaymentProcessing PaymentStatus = "PROCESSING"
    PaymentCompleted  PaymentStatus = "COMPLETED"
    PaymentFailed     PaymentStatus = "FAILED"
)

// Payment is owned by the payment worker.  There is at most one per saga.
type Payment struct {
    ID            uint64          // payments.id
    SagaID        string          // payments.saga_id (unique)
    ReservationID uint64          // payments.reservation_id
    UserID        uint64          // payments.user_id
    Amount        decimal.Decimal // payments.amount
    Status        PaymentStatus   // payments.status
    TransactionID *string         // payments.transaction_id (nullable)
    FailureReason *string         // payments.failure_reason (nullable)
    CreatedAt     time.Time       // payments.created_at
    CompletedAt   *time.Time      // payments.completed_at (nullable)
}

// Complete records a successful authorization.
func (p *Payment) Complete(txID string, at time.Time) {
    p.Status = PaymentCompleted
    p.TransactionID = &txID
    p.FailureReason = nil
    p.CompletedAt = &at
}

// Fail records a declined or broken authorization.
func (p *Payment) Fail(reason string, at time.Time) {
    p.Status = PaymentFailed
    p.FailureReason = &reason
    p.CompletedAt = &at
}

func (p *Payment) Terminal() bool {
    return p.Status == PaymentCompleted || p.Status == PaymentFailed
}
