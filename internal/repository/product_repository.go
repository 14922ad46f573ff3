package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    "github.com/iliyamo/ticket-rush/internal/model"
)

// ProductRepo is the inventory ledger.  Stock only moves through guarded
// UPDATE statements so concurrent sales can never push it below zero.
type ProductRepo struct {
    db *sql.DB
}

// NewProductRepo returns a new ProductRepo bound to the given database.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

const productColumns = `id, name, COALESCE(description, ''), price, total_stock, available_stock, sale_start_at, sale_end_at, created_at, updated_at`

// GetByID loads a product.  Inside a transaction the row is locked until commit.
func (r *ProductRepo) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
    q := forUpdate(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`)
    var (
        p          model.Product
        start, end sql.NullTime
    )
    err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
        &p.ID, &p.Name, &p.Description, &p.Price, &p.TotalStock, &p.AvailableStock,
        &start, &end, &p.CreatedAt, &p.UpdatedAt,
    )
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrProductNotFound
    }
    if err != nil {
        return nil, err
    }
    if start.Valid {
        p.SaleStartAt = &start.Time
    }
    if end.Valid {
        p.SaleEndAt = &end.Time
    }
    return &p, nil
}

// Decrease takes qty units of stock or fails with model.ErrInsufficientStock
// leaving the row untouched.
func (r *ProductRepo) Decrease(ctx context.Context, productID uint64, qty int) error {
    if qty <= 0 {
        return model.ErrInvalidQuantity
    }
    const q = `UPDATE products SET available_stock = available_stock - ? WHERE id = ? AND available_stock >= ?`
    res, err := conn(ctx, r.db).ExecContext(ctx, q, qty, productID, qty)
    if err != nil {
        return fmt.Errorf("decrease stock of product %d: %w", productID, err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        if err := r.mustExist(ctx, productID); err != nil {
            return err
        }
        return model.ErrInsufficientStock
    }
    return nil
}

// Increase returns qty units of stock, never exceeding total_stock.  It is
// only used to compensate a cancelled reservation.
func (r *ProductRepo) Increase(ctx context.Context, productID uint64, qty int) error {
    if qty <= 0 {
        return model.ErrInvalidQuantity
    }
    const q = `UPDATE products SET available_stock = LEAST(total_stock, available_stock + ?) WHERE id = ?`
    res, err := conn(ctx, r.db).ExecContext(ctx, q, qty, productID)
    if err != nil {
        return fmt.Errorf("increase stock of product %d: %w", productID, err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrProductNotFound
    }
    return nil
}

func (r *ProductRepo) mustExist(ctx context.Context, productID uint64) error {
    var one int
    err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&one)
    if errors.Is(err, sql.ErrNoRows) {
        return ErrProductNotFound
    }
    return err
}
