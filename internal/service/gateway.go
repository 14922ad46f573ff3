package service

import (
    "context"
    "errors"
    "math/rand"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/ticket-rush/internal/config"
)

var (
    ErrInvalidAmount = errors.New("amount must be positive")
    ErrDeclined      = errors.New("card declined")
)

// MockGateway stands in for a payment provider.  It declines a configurable
// share of charges and can add latency.
type MockGateway struct {
    failureRate float64
    latency     time.Duration
    roll        func() float64
}

func NewMockGateway(cfg config.GatewayConfig) *MockGateway {
    return &MockGateway{failureRate: cfg.FailureRate, latency: cfg.Latency, roll: rand.Float64}
}

func (g *MockGateway) Authorize(ctx context.Context, sagaID string, amount decimal.Decimal) (string, error) {
    if !amount.IsPositive() {
        return "", ErrInvalidAmount
    }
    if g.latency > 0 {
        t := time.NewTimer(g.latency)
        defer t.Stop()
        select {
        case <-ctx.Done():
            return "", ctx.Err()
        case <-t.C:
        }
    }
    if g.failureRate > 0 && g.roll() < g.failureRate {
        return "", ErrDeclined
    }
    return "TXN-" + uuid.NewString(), nil
}
