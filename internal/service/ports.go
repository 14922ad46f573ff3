// Package service holds the saga orchestrator that owns reservations and the
// payment worker that owns payments.  Both talk to each other only through
// events on the broker.
package service

import (
    "context"
    "time"

    "github.com/shopspring/decimal"

    "github.com/iliyamo/ticket-rush/internal/model"
    "github.com/iliyamo/ticket-rush/internal/queue"
)

// ProductStore is the inventory ledger.  Calls made inside WithTx run on the
// surrounding transaction.
type ProductStore interface {
    GetByID(ctx context.Context, id uint64) (*model.Product, error)
    Decrease(ctx context.Context, productID uint64, qty int) error
    Increase(ctx context.Context, productID uint64, qty int) error
}

type ReservationStore interface {
    WithTx(ctx context.Context, fn func(ctx context.Context) error) error
    Create(ctx context.Context, res *model.Reservation) error
    GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
    GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error)
    GetBySagaID(ctx context.Context, sagaID string) (*model.Reservation, error)
    ListByUser(ctx context.Context, userID uint64, limit int) ([]*model.Reservation, error)
    ListStale(ctx context.Context, statuses []model.ReservationStatus, before time.Time, limit int) ([]*model.Reservation, error)
    UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus) error
}

type PaymentStore interface {
    Create(ctx context.Context, p *model.Payment) error
    GetBySagaID(ctx context.Context, sagaID string) (*model.Payment, error)
    Update(ctx context.Context, p *model.Payment) error
}

// EventPublisher is satisfied by *queue.Publisher.
type EventPublisher interface {
    Publish(ctx context.Context, topic string, ev queue.Event) error
}

// Gateway authorizes a charge and returns the provider transaction id.
type Gateway interface {
    Authorize(ctx context.Context, sagaID string, amount decimal.Decimal) (string, error)
}
