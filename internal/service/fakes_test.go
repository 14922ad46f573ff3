package service

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

// fakeDB is an in-memory ProductStore and ReservationStore.  WithTx
// serializes callers and rolls back every change when fn fails.
type fakeDB struct {
    mu           sync.Mutex
    products     map[uint64]*model.Product
    reservations map[uint64]*model.Reservation
    nextID       uint64
    increases    int
}

func newFakeDB(products ...*model.Product) *fakeDB {
    db := &fakeDB{products: map[uint64]*model.Product{}, reservations: map[uint64]*model.Reservation{}}
    for _, p := range products {
        db.products[p.ID] = p
    }
    return db
}

func (f *fakeDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
    f.mu.Lock()
    defer f.mu.Unlock()

    products := make(map[uint64]*model.Product, len(f.products))
    for k, v := range f.products {
        cp := *v
        products[k] = &cp
    }
    reservations := make(map[uint64]*model.Reservation, len(f.reservations))
    for k, v := range f.reservations {
        cp := *v
        reservations[k] = &cp
    }
    nextID, increases := f.nextID, f.increases

    if err := fn(ctx); err != nil {
        f.products, f.reservations, f.nextID, f.increases = products, reservations, nextID, increases
        return err
    }
    return nil
}

func (f *fakeDB) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
    p, ok := f.products[id]
    if !ok {
        return nil, repository.ErrProductNotFound
    }
    cp := *p
    return &cp, nil
}

func (f *fakeDB) Decrease(ctx context.Context, productID uint64, qty int) error {
    p, ok := f.products[productID]
    if !ok {
        return repository.ErrProductNotFound
    }
    return p.DecreaseStock(qty)
}

func (f *fakeDB) Increase(ctx context.Context, productID uint64, qty int) error {
    p, ok := f.products[productID]
    if !ok {
        return repository.ErrProductNotFound
    }
    f.increases++
    return p.IncreaseStock(qty)
}

func (f *fakeDB) stock(id uint64) int { return f.products[id].AvailableStock }

// reservation store; the methods below are exposed through reservationsOf.

type fakeReservations struct{ *fakeDB }

func (r fakeReservations) Create(ctx context.Context, res *model.Reservation) error {
    for _, existing := range r.reservations {
        if existing.SagaID == res.SagaID {
            return repository.ErrConflict
        }
    }
    r.nextID++
    res.ID = r.nextID
    res.CreatedAt = time.Now().UTC()
    res.UpdatedAt = res.CreatedAt
    cp := *res
    r.reservations[res.ID] = &cp
    return nil
}

func (r fakeReservations) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
    res, ok := r.reservations[id]
    if !ok {
        return nil, repository.ErrReservationNotFound
    }
    cp := *res
    return &cp, nil
}

func (r fakeReservations) GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error) {
    return r.GetByID(ctx, id)
}

func (r fakeReservations) GetBySagaID(ctx context.Context, sagaID string) (*model.Reservation, error) {
    for _, res := range r.reservations {
        if res.SagaID == sagaID {
            cp := *res
            return &cp, nil
        }
    }
    return nil, repository.ErrReservationNotFound
}

func (r fakeReservations) ListByUser(ctx context.Context, userID uint64, limit int) ([]*model.Reservation, error) {
    var out []*model.Reservation
    for _, res := range r.reservations {
        if res.UserID == userID && len(out) < limit {
            cp := *res
            out = append(out, &cp)
        }
    }
    return out, nil
}

func (r fakeReservations) ListStale(ctx context.Context, statuses []model.ReservationStatus, before time.Time, limit int) ([]*model.Reservation, error) {
    var out []*model.Reservation
    for _, res := range r.reservations {
        for _, s := range statuses {
            if res.Status == s && res.UpdatedAt.Before(before) && len(out) < limit {
                cp := *res
                out = append(out, &cp)
            }
        }
    }
    return out, nil
}

func (r fakeReservations) UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus) error {
    res, ok := r.reservations[id]
    if !ok {
        return repository.ErrReservationNotFound
    }
    res.Status = status
    return nil
}

type published struct {
    topic string
    ev    queue.Event
}

// fakePublisher records events.  afterSend, when set, runs once the event
// is recorded; the publish then fails if ctx has ended by that point, the
// way a broker confirm wait does.
type fakePublisher struct {
    mu        sync.Mutex
    out       []published
    err       error
    afterSend func()
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, ev queue.Event) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.err != nil {
        return p.err
    }
    p.out = append(p.out, published{topic: topic, ev: ev})
    if p.afterSend != nil {
        p.afterSend()
    }
    return ctx.Err()
}

// drain removes and returns everything published so far.
func (p *fakePublisher) drain() []published {
    p.mu.Lock()
    defer p.mu.Unlock()
    out := p.out
    p.out = nil
    return out
}

func (p *fakePublisher) topics() []string {
    p.mu.Lock()
    defer p.mu.Unlock()
    out := make([]string, 0, len(p.out))
    for _, e := range p.out {
        out = append(out, e.topic)
    }
    return out
}

type fakePayments struct {
    mu        sync.Mutex
    bySaga    map[string]*model.Payment
    nextID    uint64
    createErr error
}

func newFakePayments() *fakePayments { return &fakePayments{bySaga: map[string]*model.Payment{}} }

func (f *fakePayments) Create(ctx context.Context, p *model.Payment) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.createErr != nil {
        return f.createErr
    }
    if _, ok := f.bySaga[p.SagaID]; ok {
        return repository.ErrConflict
    }
    f.nextID++
    p.ID = f.nextID
    cp := *p
    f.bySaga[p.SagaID] = &cp
    return nil
}

func (f *fakePayments) GetBySagaID(ctx context.Context, sagaID string) (*model.Payment, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    p, ok := f.bySaga[sagaID]
    if !ok {
        return nil, repository.ErrPaymentNotFound
    }
    cp := *p
    return &cp, nil
}

func (f *fakePayments) Update(ctx context.Context, p *model.Payment) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if _, ok := f.bySaga[p.SagaID]; !ok {
        return repository.ErrPaymentNotFound
    }
    cp := *p
    f.bySaga[p.SagaID] = &cp
    return nil
}

// gatewayFunc adapts a function to Gateway and counts calls.
type gatewayFunc struct {
    mu    sync.Mutex
    calls int
    fn    func(amount decimal.Decimal) (string, error)
}

func (g *gatewayFunc) Authorize(ctx context.Context, sagaID string, amount decimal.Decimal) (string, error) {
    g.mu.Lock()
    g.calls++
    g.mu.Unlock()
    return g.fn(amount)
}

var errBroker = errors.New("broker unreachable")
