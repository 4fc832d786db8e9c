package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/structflow/config"
	"github.com/BaSui01/structflow/internal/database"
)

func TestParseDriver(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"postgres", database.DriverPostgres, false},
		{"PostgreSQL", database.DriverPostgres, false},
		{"pg", database.DriverPostgres, false},
		{"mariadb", database.DriverMySQL, false},
		{"sqlite3", database.DriverSQLite, false},
		{"", "", true},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDriver(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAvailable_EveryDialectShipsTheAttemptsTable(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		files, err := Available(driver)
		require.NoError(t, err, driver)
		require.NotEmpty(t, files, driver)
		assert.Equal(t, File{Version: 1, Name: "create_attempts"}, files[0], driver)
	}

	_, err := Available("oracle")
	assert.Error(t, err)
}

func TestNew_RequiresConnection(t *testing.T) {
	_, err := New(nil, "sqlite")
	assert.Error(t, err)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func openSQLite(t *testing.T) (*gorm.DB, *DefaultMigrator) {
	t.Helper()
	pool, err := database.Open(database.DriverSQLite, "file::memory:", database.PoolConfig{MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	sqlDB, err := pool.DB().DB()
	require.NoError(t, err)

	m, err := New(sqlDB, "sqlite3", WithTable("test_migrations"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return pool.DB(), m
}

func TestMigrator_SQLiteUpAndDown(t *testing.T) {
	db, m := openSQLite(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, db.Migrator().HasTable("structflow_attempts"))
	// 重复执行无变化
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), info.CurrentVersion)
	assert.Equal(t, 1, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable("structflow_attempts"))

	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}
