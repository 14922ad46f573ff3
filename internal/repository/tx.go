package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/go-sql-driver/mysql"
)

type txKey struct{}

// DBTX is the subset of *sql.DB and *sql.Tx the repositories use.
type DBTX interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction carried by the returned context.  Every
// repository call made with that context joins the transaction.  A nested
// WithTx reuses the outer transaction.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
    if txFromContext(ctx) != nil {
        return fn(ctx)
    }

    tx, err := db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

func txFromContext(ctx context.Context) *sql.Tx {
    tx, _ := ctx.Value(txKey{}).(*sql.Tx)
    return tx
}

// conn returns the transaction in ctx, or db outside of one.
func conn(ctx context.Context, db *sql.DB) DBTX {
    if tx := txFromContext(ctx); tx != nil {
        return tx
    }
    return db
}

// forUpdate appends a row lock when running inside a transaction; outside of
// one the lock would be released immediately anyway.
func forUpdate(ctx context.Context, q string) string {
    if txFromContext(ctx) != nil {
        return q + " FOR UPDATE"
    }
    return q
}

func isDuplicateKey(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == 1062
}
