package repository

import (
    "context"
    "errors"
    "regexp"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/ticket-rush/internal/model"
)

func TestProductRepo_Decrease(t *testing.T) {
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    defer db.Close()
    repo := NewProductRepo(db)
    ctx := context.Background()

    decrease := regexp.QuoteMeta(`UPDATE products SET available_stock = available_stock - ? WHERE id = ? AND available_stock >= ?`)

    t.Run("takes stock", func(t *testing.T) {
        mock.ExpectExec(decrease).WithArgs(2, 7, 2).WillReturnResult(sqlmock.NewResult(0, 1))
        assert.NoError(t, repo.Decrease(ctx, 7, 2))
    })

    t.Run("insufficient stock", func(t *testing.T) {
        mock.ExpectExec(decrease).WithArgs(5, 7, 5).WillReturnResult(sqlmock.NewResult(0, 0))
        mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM products WHERE id = ?`)).WithArgs(7).
            WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
        assert.ErrorIs(t, repo.Decrease(ctx, 7, 5), model.ErrInsufficientStock)
    })

    t.Run("unknown product", func(t *testing.T) {
        mock.ExpectExec(decrease).WithArgs(1, 99, 1).WillReturnResult(sqlmock.NewResult(0, 0))
        mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM products WHERE id = ?`)).WithArgs(99).
            WillReturnRows(sqlmock.NewRows([]string{"1"}))
        assert.ErrorIs(t, repo.Decrease(ctx, 99, 1), ErrProductNotFound)
    })

    t.Run("rejects non-positive quantity", func(t *testing.T) {
        assert.ErrorIs(t, repo.Decrease(ctx, 7, 0), model.ErrInvalidQuantity)
    })

    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_IncreaseIsCapped(t *testing.T) {
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    defer db.Close()
    repo := NewProductRepo(db)

    mock.ExpectExec(regexp.QuoteMeta(`SET available_stock = LEAST(total_stock, available_stock + ?) WHERE id = ?`)).
        WithArgs(3, 7).WillReturnResult(sqlmock.NewResult(0, 1))
    assert.NoError(t, repo.Increase(context.Background(), 7, 3))

    mock.ExpectExec(regexp.QuoteMeta(`SET available_stock = LEAST(`)).
        WithArgs(3, 8).WillReturnResult(sqlmock.NewResult(0, 0))
    assert.ErrorIs(t, repo.Increase(context.Background(), 8, 3), ErrProductNotFound)

    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_GetByIDLocksInsideTx(t *testing.T) {
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    defer db.Close()
    repo := NewProductRepo(db)

    created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
    cols := []string{"id", "name", "description", "price", "total_stock", "available_stock", "sale_start_at", "sale_end_at", "created_at", "updated_at"}

    mock.ExpectBegin()
    mock.ExpectQuery(`FROM products WHERE id = \? FOR UPDATE`).WithArgs(7).
        WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "Finals Day Pass", "", "49.90", 100, 40, nil, created, created, created))
    mock.ExpectExec("UPDATE products SET available_stock = available_stock -").WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    err = WithTx(context.Background(), db, func(ctx context.Context) error {
        p, err := repo.GetByID(ctx, 7)
        if err != nil {
            return err
        }
        assert.Equal(t, "49.90", p.Price.StringFixed(2))
        assert.Equal(t, 40, p.AvailableStock)
        assert.Nil(t, p.SaleStartAt)
        require.NotNil(t, p.SaleEndAt)
        return repo.Decrease(ctx, p.ID, 1)
    })
    require.NoError(t, err)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepo_GetByIDNotFound(t *testing.T) {
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    defer db.Close()

    mock.ExpectQuery(`FROM products WHERE id = \?$`).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id"}))
    _, err = NewProductRepo(db).GetByID(context.Background(), 1)
    assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    defer db.Close()

    boom := errors.New("boom")
    mock.ExpectBegin()
    mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectRollback()

    err = WithTx(context.Background(), db, func(ctx context.Context) error {
        if err := NewProductRepo(db).Increase(ctx, 1, 1); err != nil {
            return err
        }
        // nested calls join the outer transaction
        return WithTx(ctx, db, func(context.Context) error { return boom })
    })
    assert.ErrorIs(t, err, boom)
    assert.NoError(t, mock.ExpectationsWereMet())
}
