package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Product is a sellable item with a finite stock.  AvailableStock never
// drops below zero nor rises above TotalStock.
type Product struct {
    ID             uint64          // products.id
    Name           string          // products.name
    Description    string          // products.description
    Price          decimal.Decimal // products.price
    TotalStock     int             // products.total_stock
    AvailableStock int             // products.available_stock
    SaleStartAt    *time.Time      // products.sale_start_at (nullable)
    SaleEndAt      *time.Time      // products.sale_end_at (nullable)
    CreatedAt      time.Time
    UpdatedAt      time.Time
}

// DecreaseStock takes qty units; the stock is untouched on failure.
func (p *Product) DecreaseStock(qty int) error {
    if qty <= 0 {
        return ErrInvalidQuantity
    }
    if p.AvailableStock < qty {
        return ErrInsufficientStock
    }
    p.AvailableStock -= qty
    return nil
}

// IncreaseStock returns qty units, capped at TotalStock.
func (p *Product) IncreaseStock(qty int) error {
    if qty <= 0 {
        return ErrInvalidQuantity
    }
    p.AvailableStock += qty
    if p.AvailableStock > p.TotalStock {
        p.AvailableStock = p.TotalStock
    }
    return nil
}

// OnSale reports whether now falls inside the optional sale window.
func (p *Product) OnSale(now time.Time) bool {
    if p.SaleStartAt != nil && now.Before(*p.SaleStartAt) {
        return false
    }
    if p.SaleEndAt != nil && !now.Before(*p.SaleEndAt) {
        return false
    }
    return true
}
