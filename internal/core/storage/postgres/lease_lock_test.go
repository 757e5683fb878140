package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestLeaseLock_Acquire(t *testing.T) {
	t.Run("claims free lease", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		lock := NewLeaseLock(db, "dispatch")
		mock.ExpectQuery(regexp.QuoteMeta(queryAcquireLease)).
			WithArgs("dispatch", lock.holder, float64(300)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("dispatch"))

		ok, err := lock.Acquire(context.Background(), 5*time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held lease yields false without error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		lock := NewLeaseLock(db, "dispatch")
		mock.ExpectQuery(regexp.QuoteMeta(queryAcquireLease)).
			WithArgs("dispatch", lock.holder, float64(300)).
			WillReturnRows(sqlmock.NewRows([]string{"name"}))

		ok, err := lock.Acquire(context.Background(), 5*time.Minute)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestLeaseLock_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewLeaseLock(db, "dispatch")
	mock.ExpectExec(regexp.QuoteMeta(queryReleaseLease)).
		WithArgs("dispatch", lock.holder).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, lock.Release(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
