package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransact(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer mockDB.Close()

	db := NewDB(mockDB)
	ctx := context.Background()

	t.Run("Commit on success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE foo").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.Transact(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "UPDATE foo SET bar = 1")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rollback on error", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := fmt.Errorf("boom")
		err := db.Transact(ctx, func(tx *sql.Tx) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Serialization failure on commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		err := db.Transact(ctx, func(tx *sql.Tx) error {
			return nil
		})
		assert.True(t, IsSerializationFailure(err), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Begin failure", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})

		err := db.Transact(ctx, func(tx *sql.Tx) error {
			t.Fatal("should not be called")
			return nil
		})
		require.Error(t, err)
		assert.False(t, IsSerializationFailure(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer mockDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cluster_interfaces").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewDB(mockDB).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
