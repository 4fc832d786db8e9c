package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	_, err := NewPoolManager(nil, PoolConfig{}, nil)
	assert.Error(t, err)

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{}, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	pm, err := NewPoolManager(gormDB, PoolConfig{}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	pm, err := NewPoolManager(gormDB, PoolConfig{}, nil)
	require.NoError(t, err)

	calls := 0
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()
	err = pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error { return errors.New("syntax error") })
	assert.EqualError(t, err, "syntax error")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)
	pm, err := NewPoolManager(gormDB, PoolConfig{HealthCheckInterval: time.Hour}, nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.False(t, isRetryableError(errors.New("duplicate key")))
}

func TestOpen(t *testing.T) {
	_, err := Dialector("", "")
	assert.Error(t, err)
	_, err = Dialector("oracle", "")
	assert.Error(t, err)
	for _, d := range []string{DriverPostgres, DriverMySQL, DriverSQLite} {
		dl, err := Dialector(d, "dsn")
		require.NoError(t, err)
		assert.NotNil(t, dl)
	}

	pm, err := Open(DriverSQLite, "file::memory:", PoolConfig{MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	defer pm.Close()
	assert.NoError(t, pm.Ping(context.Background()))
}
