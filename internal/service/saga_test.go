package service

import (
    "context"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/shopspring/decimal"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticket-rush/internal/clock"
    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

var now = time.Date(2026, 4, 10, 18, 0, 0, 0, time.UTC)

func product(stock int) *model.Product {
    return &model.Product{ID: 7, Name: "Finals Day Pass", Price: decimal.RequireFromString("49.90"), TotalStock: stock, AvailableStock: stock}
}

type sagaFixture struct {
    db     *fakeDB
    events *fakePublisher
    clock  *clock.Manual
    saga   *SagaOrchestrator
}

func newSagaFixture(p *model.Product) *sagaFixture {
    db := newFakeDB(p)
    events := &fakePublisher{}
    clk := clock.NewManual(now)
    return &sagaFixture{db: db, events: events, clock: clk,
        saga: NewSagaOrchestrator(db, fakeReservations{db}, events, clk, nil)}
}

// started returns the reservation and its ReservationCreated event.
func (f *sagaFixture) started(t *testing.T, qty int) (*model.Reservation, queue.ReservationCreated) {
    t.Helper()
    res, err := f.saga.StartSaga(context.Background(), 42, 7, qty)
    require.NoError(t, err)
    require.NotEmpty(t, f.events.out)
    ev, ok := f.events.out[len(f.events.out)-1].ev.(queue.ReservationCreated)
    require.True(t, ok)
    return res, ev
}

func TestStartSaga_ReservesAndPublishes(t *testing.T) {
    f := newSagaFixture(product(10))

    res, ev := f.started(t, 2)

    assert.Equal(t, model.ReservationPaymentPending, res.Status)
    assert.Equal(t, "99.80", res.TotalPrice.StringFixed(2))
    assert.Equal(t, 8, f.db.stock(7))
    assert.NotEmpty(t, res.SagaID)

    assert.Equal(t, []string{queue.TopicReservationCreated}, f.events.topics())
    assert.Equal(t, res.SagaID, ev.SagaID)
    assert.Equal(t, res.ID, ev.ReservationID)
    assert.Equal(t, uint64(42), ev.UserID)
    assert.Equal(t, 2, ev.Quantity)
    assert.True(t, ev.Amount.Equal(decimal.RequireFromString("99.8")))
    assert.Equal(t, queue.SagaStarted, ev.Status)
}

func TestStartSaga_InsufficientStockWritesNothing(t *testing.T) {
    f := newSagaFixture(product(1))

    _, err := f.saga.StartSaga(context.Background(), 42, 7, 2)
    assert.ErrorIs(t, err, model.ErrInsufficientStock)
    assert.Equal(t, 1, f.db.stock(7))
    assert.Empty(t, f.db.reservations)
    assert.Empty(t, f.events.out)
}

func TestStartSaga_Rejections(t *testing.T) {
    f := newSagaFixture(product(5))

    _, err := f.saga.StartSaga(context.Background(), 42, 7, 0)
    assert.ErrorIs(t, err, model.ErrInvalidQuantity)

    _, err = f.saga.StartSaga(context.Background(), 42, 99, 1)
    assert.ErrorIs(t, err, repository.ErrProductNotFound)

    later := now.Add(time.Hour)
    f.db.products[7].SaleStartAt = &later
    _, err = f.saga.StartSaga(context.Background(), 42, 7, 1)
    assert.ErrorIs(t, err, model.ErrNotOnSale)

    assert.Equal(t, 5, f.db.stock(7))
    assert.Empty(t, f.events.out)
}

func TestStartSaga_PublishFailureRollsBackReservation(t *testing.T) {
    f := newSagaFixture(product(5))
    f.events.err = errBroker

    _, err := f.saga.StartSaga(context.Background(), 42, 7, 3)
    assert.ErrorIs(t, err, ErrPublish)

    assert.Equal(t, 5, f.db.stock(7))
    require.Len(t, f.db.reservations, 1)
    for _, r := range f.db.reservations {
        assert.Equal(t, model.ReservationCancelled, r.Status)
    }
}

func TestStartSaga_ConcurrentBuyersNeverOversell(t *testing.T) {
    f := newSagaFixture(product(5))

    var ok atomic.Int32
    var wg sync.WaitGroup
    for i := 0; i < 40; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if _, err := f.saga.StartSaga(context.Background(), 42, 7, 1); err == nil {
                ok.Add(1)
            }
        }()
    }
    wg.Wait()

    assert.Equal(t, int32(5), ok.Load())
    assert.Equal(t, 0, f.db.stock(7))
    assert.Len(t, f.events.topics(), 5)
}

func TestOnPaymentCompleted_ConfirmsOnce(t *testing.T) {
    f := newSagaFixture(product(5))
    res, created := f.started(t, 1)

    ev := queue.NewPaymentCompleted(created.SagaID, 1, res.ID, created.Amount, "TXN-1", now)
    require.NoError(t, f.saga.OnPaymentCompleted(context.Background(), ev))
    require.NoError(t, f.saga.OnPaymentCompleted(context.Background(), ev))

    got, err := f.saga.Get(context.Background(), res.ID)
    require.NoError(t, err)
    assert.Equal(t, model.ReservationConfirmed, got.Status)
    assert.Equal(t, 4, f.db.stock(7))
    assert.Len(t, f.events.out, 1)
}

func TestOnPaymentCompleted_MissingReservationIsPermanent(t *testing.T) {
    f := newSagaFixture(product(5))

    err := f.saga.OnPaymentCompleted(context.Background(), queue.NewPaymentCompleted("saga-x", 1, 404, decimal.NewFromInt(1), "TXN", now))
    assert.ErrorIs(t, err, ErrReservationMissing)
    assert.True(t, queue.IsPermanent(classify(err)))
}

func TestOnPaymentCompleted_SagaMismatch(t *testing.T) {
    f := newSagaFixture(product(5))
    res, _ := f.started(t, 1)

    err := f.saga.OnPaymentCompleted(context.Background(), queue.NewPaymentCompleted("other-saga", 1, res.ID, decimal.NewFromInt(1), "TXN", now))
    assert.ErrorIs(t, err, ErrSagaMismatch)
    assert.True(t, queue.IsPermanent(classify(err)))

    got, _ := f.saga.Get(context.Background(), res.ID)
    assert.Equal(t, model.ReservationPaymentPending, got.Status)
}

func TestOnPaymentFailed_CompensatesExactlyOnce(t *testing.T) {
    f := newSagaFixture(product(5))
    res, created := f.started(t, 3)
    require.Equal(t, 2, f.db.stock(7))

    ev := queue.NewPaymentFailed(created.SagaID, res.ID, "card declined", now)
    require.NoError(t, f.saga.OnPaymentFailed(context.Background(), ev))
    require.NoError(t, f.saga.OnPaymentFailed(context.Background(), ev))

    got, err := f.saga.GetBySagaID(context.Background(), created.SagaID)
    require.NoError(t, err)
    assert.Equal(t, model.ReservationCancelled, got.Status)
    assert.Equal(t, 5, f.db.stock(7))
    assert.Equal(t, 1, f.db.increases)

    assert.Equal(t, []string{queue.TopicReservationCreated, queue.TopicReservationCancelled}, f.events.topics())
    cancelled := f.events.out[1].ev.(queue.ReservationCancelled)
    assert.Equal(t, created.SagaID, cancelled.SagaID)
    assert.Equal(t, "payment failed: card declined", cancelled.Reason)
    assert.Equal(t, queue.SagaCompensated, cancelled.Status)
}

func TestOnPaymentFailed_AfterConfirmIsIllegal(t *testing.T) {
    f := newSagaFixture(product(5))
    res, created := f.started(t, 1)
    require.NoError(t, f.saga.OnPaymentCompleted(context.Background(),
        queue.NewPaymentCompleted(created.SagaID, 1, res.ID, created.Amount, "TXN-1", now)))

    err := f.saga.OnPaymentFailed(context.Background(), queue.NewPaymentFailed(created.SagaID, res.ID, "late", now))
    assert.ErrorIs(t, err, model.ErrIllegalTransition)
    assert.True(t, queue.IsPermanent(classify(err)))
    assert.Equal(t, 4, f.db.stock(7))
}

func TestOnPaymentFailed_PublishFailureStillCommits(t *testing.T) {
    f := newSagaFixture(product(5))
    res, created := f.started(t, 2)
    f.events.err = errBroker

    require.NoError(t, f.saga.OnPaymentFailed(context.Background(), queue.NewPaymentFailed(created.SagaID, res.ID, "declined", now)))
    assert.Equal(t, 5, f.db.stock(7))
}

func TestAdminOverrides(t *testing.T) {
    f := newSagaFixture(product(5))
    first, _ := f.started(t, 2)
    second, _ := f.started(t, 1)
    require.Equal(t, 2, f.db.stock(7))

    got, err := f.saga.Cancel(context.Background(), first.ID)
    require.NoError(t, err)
    assert.Equal(t, model.ReservationCancelled, got.Status)
    _, err = f.saga.Cancel(context.Background(), first.ID)
    require.NoError(t, err)
    assert.Equal(t, 4, f.db.stock(7))
    assert.Equal(t, 1, f.db.increases)

    got, err = f.saga.Confirm(context.Background(), second.ID)
    require.NoError(t, err)
    assert.Equal(t, model.ReservationConfirmed, got.Status)

    _, err = f.saga.Confirm(context.Background(), first.ID)
    assert.ErrorIs(t, err, model.ErrIllegalTransition)

    _, err = f.saga.Cancel(context.Background(), 404)
    assert.ErrorIs(t, err, repository.ErrReservationNotFound)

    // admin actions never emit saga events
    assert.Equal(t, []string{queue.TopicReservationCreated, queue.TopicReservationCreated}, f.events.topics())
}

func TestListStaleAndByUser(t *testing.T) {
    f := newSagaFixture(product(5))
    res, _ := f.started(t, 1)
    f.db.reservations[res.ID].UpdatedAt = now.Add(-20 * time.Minute)

    stale, err := f.saga.ListStale(context.Background(), 10*time.Minute)
    require.NoError(t, err)
    require.Len(t, stale, 1)
    assert.Equal(t, res.SagaID, stale[0].SagaID)

    stale, err = f.saga.ListStale(context.Background(), time.Hour)
    require.NoError(t, err)
    assert.Empty(t, stale)

    mine, err := f.saga.ListByUser(context.Background(), 42)
    require.NoError(t, err)
    assert.Len(t, mine, 1)
}

func TestStartSaga_CallerHangingUpAfterSendKeepsReservation(t *testing.T) {
    f := newSagaFixture(product(5))
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    f.events.afterSend = cancel

    res, err := f.saga.StartSaga(ctx, 42, 7, 1)
    require.NoError(t, err)
    assert.Equal(t, []string{queue.TopicReservationCreated}, f.events.topics())
    assert.Equal(t, model.ReservationPaymentPending, f.db.reservations[res.ID].Status)
    assert.Equal(t, 4, f.db.stock(7))
}

// purchase wires an orchestrator and a payment worker together through
// their publishers, delivering every event until both sides go quiet.
type purchase struct {
    *sagaFixture
    worker       *PaymentWorker
    workerEvents *fakePublisher
    sagaTopics   []string
    workerTopics []string
}

func newPurchase(stock int, gw Gateway) *purchase {
    f := newSagaFixture(product(stock))
    events := &fakePublisher{}
    return &purchase{
        sagaFixture:  f,
        worker:       NewPaymentWorker(newFakePayments(), gw, events, f.clock, nil),
        workerEvents: events,
    }
}

func (p *purchase) deliver(t *testing.T) {
    t.Helper()
    ctx := context.Background()
    for {
        fromSaga, fromWorker := p.events.drain(), p.workerEvents.drain()
        if len(fromSaga) == 0 && len(fromWorker) == 0 {
            return
        }
        for _, m := range fromSaga {
            p.sagaTopics = append(p.sagaTopics, m.topic)
            if ev, ok := m.ev.(queue.ReservationCreated); ok {
                require.NoError(t, p.worker.OnReservationCreated(ctx, ev))
            }
        }
        for _, m := range fromWorker {
            p.workerTopics = append(p.workerTopics, m.topic)
            switch ev := m.ev.(type) {
            case queue.PaymentCompleted:
                require.NoError(t, p.saga.OnPaymentCompleted(ctx, ev))
            case queue.PaymentFailed:
                require.NoError(t, p.saga.OnPaymentFailed(ctx, ev))
            }
        }
    }
}

func TestPurchase_PaidEndToEnd(t *testing.T) {
    p := newPurchase(5, &gatewayFunc{fn: approve})

    res, err := p.saga.StartSaga(context.Background(), 42, 7, 1)
    require.NoError(t, err)
    p.deliver(t)

    assert.Equal(t, model.ReservationConfirmed, p.db.reservations[res.ID].Status)
    assert.Equal(t, 4, p.db.stock(7))
    assert.Equal(t, []string{queue.TopicReservationCreated}, p.sagaTopics)
    assert.Equal(t, []string{queue.TopicPaymentCompleted}, p.workerTopics)
}

func TestPurchase_DeclinedPaymentRestoresStock(t *testing.T) {
    gw := &gatewayFunc{fn: func(decimal.Decimal) (string, error) { return "", ErrDeclined }}
    p := newPurchase(5, gw)

    res, err := p.saga.StartSaga(context.Background(), 42, 7, 1)
    require.NoError(t, err)
    assert.Equal(t, 4, p.db.stock(7))
    p.deliver(t)

    assert.Equal(t, model.ReservationCancelled, p.db.reservations[res.ID].Status)
    assert.Equal(t, 5, p.db.stock(7))
    assert.Equal(t, []string{queue.TopicReservationCreated, queue.TopicReservationCancelled}, p.sagaTopics)
    assert.Equal(t, []string{queue.TopicPaymentFailed}, p.workerTopics)
    assert.Equal(t, 1, gw.calls)
}
