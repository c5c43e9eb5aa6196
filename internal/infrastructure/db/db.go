package db

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	_ "github.com/lib/pq"
)

var logger = loggo.GetLogger("ipam.db")

//go:embed schema.sql
var schema string

type DB struct {
	*sql.DB
}

func NewDB(db *sql.DB) *DB {
	return &DB{DB: db}
}

// Open connects to the PostgreSQL database described by dsn.
func Open(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open database")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Annotate(TranslateError(err), "failed to reach database")
	}
	return NewDB(sqlDB), nil
}

// Migrate creates the tables used by the static IP store if they are
// missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Annotate(TranslateError(err), "failed to apply schema")
	}
	logger.Infof("database schema is up to date")
	return nil
}

// Transact runs fn inside a SERIALIZABLE transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. Driver errors
// from begin and commit are translated; fn is expected to translate its
// own.
func (db *DB) Transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Annotate(TranslateError(err), "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return errors.Trace(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Annotate(TranslateError(err), "failed to commit transaction")
	}
	return nil
}
