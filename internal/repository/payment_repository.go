package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/iliyamo/ticket-rush/internal/model"
)

// PaymentRepo stores payments.  saga_id is unique, which is what makes the
// payment worker safe against redelivered events.
type PaymentRepo struct {
    db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts p.  A second payment for the same saga yields ErrConflict.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
    now := time.Now().UTC().Truncate(time.Second)
    const q = `INSERT INTO payments (saga_id, reservation_id, user_id, amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`
    result, err := conn(ctx, r.db).ExecContext(ctx, q, p.SagaID, p.ReservationID, p.UserID, p.Amount, string(p.Status), now)
    if err != nil {
        if isDuplicateKey(err) {
            return fmt.Errorf("%w: payment for saga %s exists", ErrConflict, p.SagaID)
        }
        return err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    p.ID = uint64(id)
    p.CreatedAt = now
    return nil
}

// GetBySagaID returns the payment of a saga or ErrPaymentNotFound.
func (r *PaymentRepo) GetBySagaID(ctx context.Context, sagaID string) (*model.Payment, error) {
    const q = `SELECT id, saga_id, reservation_id, user_id, amount, status, transaction_id, failure_reason, created_at, completed_at
FROM payments WHERE saga_id = ?`
    var (
        p         model.Payment
        status    string
        txID      sql.NullString
        reason    sql.NullString
        completed sql.NullTime
    )
    err := conn(ctx, r.db).QueryRowContext(ctx, q, sagaID).Scan(
        &p.ID, &p.SagaID, &p.ReservationID, &p.UserID, &p.Amount, &status,
        &txID, &reason, &p.CreatedAt, &completed,
    )
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrPaymentNotFound
    }
    if err != nil {
        return nil, err
    }
    p.Status = model.PaymentStatus(status)
    if txID.Valid {
        p.TransactionID = &txID.String
    }
    if reason.Valid {
        p.FailureReason = &reason.String
    }
    if completed.Valid {
        p.CompletedAt = &completed.Time
    }
    return &p, nil
}

// Update writes the outcome fields of p.
func (r *PaymentRepo) Update(ctx context.Context, p *model.Payment) error {
    const q = `UPDATE payments SET status = ?, transaction_id = ?, failure_reason = ?, completed_at = ? WHERE id = ?`
    res, err := conn(ctx, r.db).ExecContext(ctx, q, string(p.Status), p.TransactionID, p.FailureReason, p.CompletedAt, p.ID)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrPaymentNotFound
    }
    return nil
}
