package service

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/labstack/gommon/log"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/ticket-rush/internal/clock"
    "github.com/iliyamo/ticket-rush/internal/metrics"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

// PaymentWorker charges reservations announced by the orchestrator and
// reports the outcome.  It owns the payments table.
type PaymentWorker struct {
    payments PaymentStore
    gateway  Gateway
    events   EventPublisher
    clock    clock.Clock
    log      *log.Logger
}

func NewPaymentWorker(payments PaymentStore, gateway Gateway, events EventPublisher, clk clock.Clock, logger *log.Logger) *PaymentWorker {
    if clk == nil {
        clk = clock.NewSystem()
    }
    if logger == nil {
        logger = log.New("payment")
    }
    return &PaymentWorker{payments: payments, gateway: gateway, events: events, clock: clk, log: logger}
}

// OnReservationCreated authorizes the charge for one saga.  When the payment
// already reached a final state the outcome is published again and the
// gateway is not called.
func (w *PaymentWorker) OnReservationCreated(ctx context.Context, ev queue.ReservationCreated) error {
    p, err := w.payments.GetBySagaID(ctx, ev.SagaID)
    switch {
    case err == nil && p.Terminal():
        w.log.Infof("saga=%s payment=%d already %s; re-publishing outcome", ev.SagaID, p.ID, p.Status)
        return w.publishOutcome(ctx, p)
    case err == nil:
        // a previous attempt died between insert and update
        w.log.Warnf("saga=%s payment=%d found %s; resuming", ev.SagaID, p.ID, p.Status)
    case errors.Is(err, repository.ErrPaymentNotFound):
        p = &model.Payment{
            SagaID:        ev.SagaID,
            ReservationID: ev.ReservationID,
            UserID:        ev.UserID,
            Amount:        ev.Amount,
            Status:        model.PaymentProcessing,
        }
        if err := w.payments.Create(ctx, p); err != nil {
            return fmt.Errorf("saga=%s create payment: %w", ev.SagaID, err)
        }
    default:
        return fmt.Errorf("saga=%s load payment: %w", ev.SagaID, err)
    }

    txID, err := w.authorize(ctx, ev.SagaID, p.Amount)
    if err != nil && ctx.Err() != nil {
        return ctx.Err()
    }
    now := w.clock.Now()
    if err != nil {
        w.log.Warnf("saga=%s payment=%d declined: %v", ev.SagaID, p.ID, err)
        p.Fail(err.Error(), now)
    } else {
        p.Complete(txID, now)
    }
    if err := w.payments.Update(ctx, p); err != nil {
        return fmt.Errorf("saga=%s update payment: %w", ev.SagaID, err)
    }
    return w.publishOutcome(ctx, p)
}

// authorize calls the gateway; a panic inside the gateway counts as a
// declined payment.
func (w *PaymentWorker) authorize(ctx context.Context, sagaID string, amount decimal.Decimal) (txID string, err error) {
    start := time.Now()
    defer func() {
        if r := recover(); r != nil {
            w.log.Errorf("saga=%s gateway panic: %v", sagaID, r)
            txID, err = "", fmt.Errorf("gateway error: %v", r)
        }
        if err == nil && txID == "" {
            err = errors.New("gateway returned no transaction id")
        }
        result := "approved"
        if err != nil {
            result = "declined"
        }
        metrics.Authorization(result, time.Since(start))
    }()
    return w.gateway.Authorize(ctx, sagaID, amount)
}

func (w *PaymentWorker) publishOutcome(ctx context.Context, p *model.Payment) error {
    at := w.clock.Now()
    if p.CompletedAt != nil {
        at = *p.CompletedAt
    }
    var (
        topic string
        ev    queue.Event
    )
    switch p.Status {
    case model.PaymentCompleted:
        txID := ""
        if p.TransactionID != nil {
            txID = *p.TransactionID
        }
        topic, ev = queue.TopicPaymentCompleted, queue.NewPaymentCompleted(p.SagaID, p.ID, p.ReservationID, p.Amount, txID, at)
    case model.PaymentFailed:
        reason := "unknown"
        if p.FailureReason != nil {
            reason = *p.FailureReason
        }
        topic, ev = queue.TopicPaymentFailed, queue.NewPaymentFailed(p.SagaID, p.ReservationID, reason, at)
    default:
        return fmt.Errorf("saga=%s payment=%d not final: %s", p.SagaID, p.ID, p.Status)
    }
    if err := w.events.Publish(ctx, topic, ev); err != nil {
        return fmt.Errorf("saga=%s publish %s: %w", p.SagaID, topic, err)
    }
    w.log.Infof("saga=%s payment=%d %s", p.SagaID, p.ID, p.Status)
    return nil
}
