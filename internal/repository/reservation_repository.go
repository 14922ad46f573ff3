package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/ticket-rush/internal/model"
)

// ReservationRepo stores reservations.  Status changes go through
// UpdateStatus after the state machine in model.Reservation has approved
// them.  All timestamp fields are stored in UTC.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// WithTx runs fn in a transaction shared by every repository on the same database.
func (r *ReservationRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
    return WithTx(ctx, r.db, fn)
}

const reservationSelect = `SELECT r.id, r.saga_id, r.user_id, r.product_id, COALESCE(p.name, ''), r.quantity, r.total_price, r.status, r.created_at, r.updated_at
FROM reservations r LEFT JOIN products p ON p.id = r.product_id`

// the locking variant skips the join so only the reservation row is locked
const reservationSelectBare = `SELECT r.id, r.saga_id, r.user_id, r.product_id, '', r.quantity, r.total_price, r.status, r.created_at, r.updated_at
FROM reservations r`

type rowScanner interface {
    Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
    var (
        res    model.Reservation
        status string
    )
    err := row.Scan(&res.ID, &res.SagaID, &res.UserID, &res.ProductID, &res.ProductName,
        &res.Quantity, &res.TotalPrice, &status, &res.CreatedAt, &res.UpdatedAt)
    if err != nil {
        return nil, err
    }
    res.Status = model.ReservationStatus(status)
    return &res, nil
}

// Create inserts res and fills in its ID and timestamps.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
    now := time.Now().UTC().Truncate(time.Second)
    const q = `INSERT INTO reservations (saga_id, user_id, product_id, quantity, total_price, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
    result, err := conn(ctx, r.db).ExecContext(ctx, q,
        res.SagaID, res.UserID, res.ProductID, res.Quantity, res.TotalPrice, string(res.Status), now, now)
    if err != nil {
        if isDuplicateKey(err) {
            return fmt.Errorf("%w: saga %s already has a reservation", ErrConflict, res.SagaID)
        }
        return err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return err
    }
    res.ID = uint64(id)
    res.CreatedAt, res.UpdatedAt = now, now
    return nil
}

// GetByID loads one reservation with its product name.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
    return r.getOne(ctx, reservationSelect+` WHERE r.id = ?`, id)
}

// GetByIDForUpdate loads and, inside a transaction, locks the reservation row.
func (r *ReservationRepo) GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error) {
    return r.getOne(ctx, forUpdate(ctx, reservationSelectBare+` WHERE r.id = ?`), id)
}

// GetBySagaID loads the reservation a saga created.
func (r *ReservationRepo) GetBySagaID(ctx context.Context, sagaID string) (*model.Reservation, error) {
    return r.getOne(ctx, reservationSelect+` WHERE r.saga_id = ?`, sagaID)
}

func (r *ReservationRepo) getOne(ctx context.Context, q string, arg any) (*model.Reservation, error) {
    res, err := scanReservation(conn(ctx, r.db).QueryRowContext(ctx, q, arg))
    if errors.Is(err, sql.ErrNoRows) {
        return nil, ErrReservationNotFound
    }
    return res, err
}

// ListByUser returns a user's reservations, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]*model.Reservation, error) {
    if limit <= 0 || limit > 200 {
        limit = 50
    }
    return r.list(ctx, reservationSelect+` WHERE r.user_id = ? ORDER BY r.created_at DESC, r.id DESC LIMIT ?`, userID, limit)
}

// ListStale returns reservations still in one of statuses whose last update
// is older than before.  A reconciliation sweep uses it to find sagas whose
// event was lost.
func (r *ReservationRepo) ListStale(ctx context.Context, statuses []model.ReservationStatus, before time.Time, limit int) ([]*model.Reservation, error) {
    if len(statuses) == 0 {
        return nil, nil
    }
    if limit <= 0 {
        limit = 100
    }
    args := make([]any, 0, len(statuses)+2)
    for _, s := range statuses {
        args = append(args, string(s))
    }
    args = append(args, before.UTC(), limit)
    q := reservationSelect + ` WHERE r.status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `) AND r.updated_at < ? ORDER BY r.updated_at LIMIT ?`
    return r.list(ctx, q, args...)
}

func (r *ReservationRepo) list(ctx context.Context, q string, args ...any) ([]*model.Reservation, error) {
    rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []*model.Reservation
    for rows.Next() {
        res, err := scanReservation(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, res)
    }
    return out, rows.Err()
}

// UpdateStatus persists a transition already validated by the state machine.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, id uint64, status model.ReservationStatus) error {
    const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`
    res, err := conn(ctx, r.db).ExecContext(ctx, q, string(status), time.Now().UTC(), id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrReservationNotFound
    }
    return nil
}
