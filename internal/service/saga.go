package service

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/ticket-rush/internal/clock"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

const (
    defaultListLimit  = 50
    defaultStaleLimit = 100
    publishTimeout    = 10 * time.Second
)

// SagaOrchestrator starts purchase sagas and reacts to payment outcomes.
// Local state changes commit before the matching event is published.
type SagaOrchestrator struct {
    products     ProductStore
    reservations ReservationStore
    events       EventPublisher
    clock        clock.Clock
    log          *log.Logger
}

func NewSagaOrchestrator(products ProductStore, reservations ReservationStore, events EventPublisher, clk clock.Clock, logger *log.Logger) *SagaOrchestrator {
    if clk == nil {
        clk = clock.NewSystem()
    }
    if logger == nil {
        logger = log.New("saga")
    }
    return &SagaOrchestrator{products: products, reservations: reservations, events: events, clock: clk, log: logger}
}

// StartSaga reserves quantity units of productID for userID and asks the
// payment worker to charge for them.
func (s *SagaOrchestrator) StartSaga(ctx context.Context, userID, productID uint64, quantity int) (*model.Reservation, error) {
    if quantity <= 0 {
        return nil, model.ErrInvalidQuantity
    }
    sagaID := uuid.NewString()

    var res *model.Reservation
    err := s.reservations.WithTx(ctx, func(ctx context.Context) error {
        p, err := s.products.GetByID(ctx, productID)
        if err != nil {
            return err
        }
        if !p.OnSale(s.clock.Now()) {
            return model.ErrNotOnSale
        }
        r, err := model.NewReservation(sagaID, userID, p, quantity)
        if err != nil {
            return err
        }
        if err := s.products.Decrease(ctx, p.ID, quantity); err != nil {
            return err
        }
        if err := r.AwaitPayment(); err != nil {
            return err
        }
        if err := s.reservations.Create(ctx, r); err != nil {
            return err
        }
        res = r
        return nil
    })
    if err != nil {
        return nil, err
    }

    ev := queue.NewReservationCreated(sagaID, res.ID, userID, productID, quantity, res.TotalPrice, s.clock.Now())
    if err := s.publish(ctx, queue.TopicReservationCreated, ev); err != nil {
        s.log.Errorf("saga=%s reservation=%d publish %s failed: %v", sagaID, res.ID, queue.TopicReservationCreated, err)
        if cerr := s.rollback(context.WithoutCancel(ctx), res.ID); cerr != nil {
            s.log.Errorj(log.JSON{
                "alert": "fatal", "saga_id": sagaID, "reservation_id": res.ID,
                "error": cerr.Error(), "msg": "reservation left PAYMENT_PENDING without a payment request",
            })
        }
        return nil, fmt.Errorf("%w: %v", ErrPublish, err)
    }
    s.log.Infof("saga=%s started reservation=%d user=%d product=%d qty=%d total=%s",
        sagaID, res.ID, userID, productID, quantity, res.TotalPrice.StringFixed(2))
    return res, nil
}

// publish sends ev detached from the caller: once the reservation is
// committed, a client that hangs up must not turn a delivered event into a
// compensated saga.
func (s *SagaOrchestrator) publish(ctx context.Context, topic string, ev queue.Event) error {
    ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
    defer cancel()
    return s.events.Publish(ctx, topic, ev)
}

// rollback undoes a reservation whose ReservationCreated never left.
func (s *SagaOrchestrator) rollback(ctx context.Context, reservationID uint64) error {
    _, err := s.cancel(ctx, reservationID)
    return err
}

// OnPaymentCompleted confirms the reservation.  Re-deliveries are no-ops.
func (s *SagaOrchestrator) OnPaymentCompleted(ctx context.Context, ev queue.PaymentCompleted) error {
    changed := false
    err := s.reservations.WithTx(ctx, func(ctx context.Context) error {
        res, err := s.load(ctx, ev.SagaID, ev.ReservationID)
        if err != nil {
            return err
        }
        if changed, err = res.Confirm(); err != nil || !changed {
            return err
        }
        return s.reservations.UpdateStatus(ctx, res.ID, res.Status)
    })
    if err != nil {
        s.report(queue.TopicPaymentCompleted, ev.SagaID, ev.ReservationID, err)
        return err
    }
    if !changed {
        s.log.Infof("saga=%s reservation=%d already confirmed; duplicate %s ignored", ev.SagaID, ev.ReservationID, queue.TopicPaymentCompleted)
        return nil
    }
    s.log.Infof("saga=%s reservation=%d confirmed tx=%s", ev.SagaID, ev.ReservationID, ev.TransactionID)
    return nil
}

// OnPaymentFailed compensates: stock goes back and the reservation is
// cancelled, then ReservationCancelled is published.  A second delivery for
// an already cancelled reservation changes nothing and publishes nothing.
func (s *SagaOrchestrator) OnPaymentFailed(ctx context.Context, ev queue.PaymentFailed) error {
    changed := false
    err := s.reservations.WithTx(ctx, func(ctx context.Context) error {
        res, err := s.load(ctx, ev.SagaID, ev.ReservationID)
        if err != nil {
            return err
        }
        if res.Status == model.ReservationConfirmed {
            return fmt.Errorf("%w: reservation %d is CONFIRMED, payment failure ignored", model.ErrIllegalTransition, res.ID)
        }
        if changed = res.Cancel(); !changed {
            return nil
        }
        if err := s.products.Increase(ctx, res.ProductID, res.Quantity); err != nil {
            return err
        }
        return s.reservations.UpdateStatus(ctx, res.ID, res.Status)
    })
    if err != nil {
        s.report(queue.TopicPaymentFailed, ev.SagaID, ev.ReservationID, err)
        return err
    }
    if !changed {
        s.log.Infof("saga=%s reservation=%d already cancelled; duplicate %s ignored", ev.SagaID, ev.ReservationID, queue.TopicPaymentFailed)
        return nil
    }

    reason := "payment failed: " + ev.Reason
    out := queue.NewReservationCancelled(ev.SagaID, ev.ReservationID, reason, s.clock.Now())
    if err := s.publish(ctx, queue.TopicReservationCancelled, out); err != nil {
        // compensation is committed; the notification is best effort
        s.log.Errorj(log.JSON{
            "alert": "publish", "saga_id": ev.SagaID, "reservation_id": ev.ReservationID,
            "topic": queue.TopicReservationCancelled, "error": err.Error(),
        })
        return nil
    }
    s.log.Infof("saga=%s reservation=%d compensated: %s", ev.SagaID, ev.ReservationID, reason)
    return nil
}

// load fetches and locks the reservation an event refers to.
func (s *SagaOrchestrator) load(ctx context.Context, sagaID string, reservationID uint64) (*model.Reservation, error) {
    res, err := s.reservations.GetByIDForUpdate(ctx, reservationID)
    if errors.Is(err, repository.ErrReservationNotFound) {
        return nil, fmt.Errorf("%w: saga=%s reservation=%d", ErrReservationMissing, sagaID, reservationID)
    }
    if err != nil {
        return nil, err
    }
    if res.SagaID != sagaID {
        return nil, fmt.Errorf("%w: event saga=%s reservation=%d belongs to saga=%s", ErrSagaMismatch, sagaID, reservationID, res.SagaID)
    }
    return res, nil
}

func (s *SagaOrchestrator) report(topic, sagaID string, reservationID uint64, err error) {
    if errors.Is(err, ErrReservationMissing) {
        s.log.Errorj(log.JSON{
            "alert": "fatal", "saga_id": sagaID, "reservation_id": reservationID,
            "topic": topic, "error": err.Error(),
        })
        return
    }
    s.log.Errorf("saga=%s reservation=%d %s: %v", sagaID, reservationID, topic, err)
}

func (s *SagaOrchestrator) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
    return s.reservations.GetByID(ctx, id)
}

func (s *SagaOrchestrator) GetBySagaID(ctx context.Context, sagaID string) (*model.Reservation, error) {
    return s.reservations.GetBySagaID(ctx, sagaID)
}

func (s *SagaOrchestrator) ListByUser(ctx context.Context, userID uint64) ([]*model.Reservation, error) {
    return s.reservations.ListByUser(ctx, userID, defaultListLimit)
}

// ListStale returns sagas that have not progressed for olderThan, oldest
// first, for a reconciliation sweep.
func (s *SagaOrchestrator) ListStale(ctx context.Context, olderThan time.Duration) ([]*model.Reservation, error) {
    before := s.clock.Now().Add(-olderThan)
    statuses := []model.ReservationStatus{model.ReservationPending, model.ReservationPaymentPending}
    return s.reservations.ListStale(ctx, statuses, before, defaultStaleLimit)
}

// Confirm is an administrative override that confirms a reservation
// without waiting for the payment worker.
func (s *SagaOrchestrator) Confirm(ctx context.Context, id uint64) (*model.Reservation, error) {
    var res *model.Reservation
    err := s.reservations.WithTx(ctx, func(ctx context.Context) error {
        r, err := s.reservations.GetByIDForUpdate(ctx, id)
        if err != nil {
            return err
        }
        changed, err := r.Confirm()
        if err != nil {
            return err
        }
        res = r
        if !changed {
            return nil
        }
        return s.reservations.UpdateStatus(ctx, r.ID, r.Status)
    })
    if err != nil {
        return nil, err
    }
    s.log.Infof("saga=%s reservation=%d confirmed by admin", res.SagaID, res.ID)
    return res, nil
}

// Cancel is an administrative override.  Stock is restored only when the
// reservation actually moves to CANCELLED.  No saga event is emitted.
func (s *SagaOrchestrator) Cancel(ctx context.Context, id uint64) (*model.Reservation, error) {
    res, err := s.cancel(ctx, id)
    if err != nil {
        return nil, err
    }
    s.log.Infof("saga=%s reservation=%d cancelled by admin", res.SagaID, res.ID)
    return res, nil
}

func (s *SagaOrchestrator) cancel(ctx context.Context, id uint64) (*model.Reservation, error) {
    var res *model.Reservation
    err := s.reservations.WithTx(ctx, func(ctx context.Context) error {
        r, err := s.reservations.GetByIDForUpdate(ctx, id)
        if err != nil {
            return err
        }
        res = r
        if !r.Cancel() {
            return nil
        }
        if err := s.products.Increase(ctx, r.ProductID, r.Quantity); err != nil {
            return err
        }
        return s.reservations.UpdateStatus(ctx, r.ID, r.Status)
    })
    return res, err
}
