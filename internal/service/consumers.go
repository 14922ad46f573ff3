package service

import (
    "context"
    "errors"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
)

// Durable queue names on the saga exchange.
const (
    OrchestratorQueue = "saga.orchestrator"
    PaymentQueue      = "saga.payment"
)

// RegisterSaga routes payment outcomes to s.
func RegisterSaga(c *queue.Consumer, s *SagaOrchestrator) {
    c.Handle(queue.TopicPaymentCompleted, queue.Decode(func(ctx context.Context, ev queue.PaymentCompleted) error {
        return classify(s.OnPaymentCompleted(ctx, ev))
    }))
    c.Handle(queue.TopicPaymentFailed, queue.Decode(func(ctx context.Context, ev queue.PaymentFailed) error {
        return classify(s.OnPaymentFailed(ctx, ev))
    }))
}

// RegisterPayment routes new reservations to w.
func RegisterPayment(c *queue.Consumer, w *PaymentWorker) {
    c.Handle(queue.TopicReservationCreated, queue.Decode(func(ctx context.Context, ev queue.ReservationCreated) error {
        return classify(w.OnReservationCreated(ctx, ev))
    }))
}

// classify marks errors that a redelivery cannot fix.
func classify(err error) error {
    switch {
    case err == nil:
        return nil
    case errors.Is(err, ErrReservationMissing),
        errors.Is(err, ErrSagaMismatch),
        errors.Is(err, model.ErrIllegalTransition):
        return queue.Permanent(err)
    }
    return err
}
