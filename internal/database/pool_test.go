package database

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/duochat/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func openMemory(t *testing.T) *PoolManager {
	t.Helper()
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = ":memory:"
	pm, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	return pm
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
	pm, err := NewPoolManager(gormDB, cfg, nil)
	require.NoError(t, err)

	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, cfg, pm.config)
	assert.Equal(t, 10, pm.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	require.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	require.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	tests := []struct {
		name    string
		fnErr   error
		prepare func(sqlmock.Sqlmock)
	}{
		{"commit", nil, func(m sqlmock.Sqlmock) { m.ExpectBegin(); m.ExpectCommit() }},
		{"rollback", assert.AnError, func(m sqlmock.Sqlmock) { m.ExpectBegin(); m.ExpectRollback() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, gormDB := setupMockDB(t)
			defer mockDB.Close()
			pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, nil)
			require.NoError(t, err)

			tt.prepare(mock)
			err = pm.WithTransaction(context.Background(), func(*gorm.DB) error { return tt.fnErr })
			if tt.fnErr != nil {
				assert.ErrorIs(t, err, tt.fnErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, pm.Ping(context.Background()))
	assert.Error(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }))
}

// =============================================================================
// 🧪 Open / Dialector 测试
// =============================================================================

func TestDialector(t *testing.T) {
	tests := []struct {
		driver string
		name   string
		err    bool
	}{
		{"sqlite", "sqlite", false},
		{"postgres", "postgres", false},
		{"mysql", "mysql", false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.DefaultDatabaseConfig()
			cfg.Driver = tt.driver
			d, err := Dialector(cfg)
			if tt.err {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported database driver")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestOpen_SQLiteMemory(t *testing.T) {
	pm := openMemory(t)
	require.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, "sqlite", pm.DB().Dialector.Name())
	assert.Equal(t, 1, pm.GetStats().MaxOpenConnections)
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := config.DatabaseConfig{MaxOpenConns: 20}
	pc := PoolConfigFrom(cfg)
	assert.Equal(t, 20, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Hour, pc.ConnMaxLifetime)
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = ":memory:"
	dialector, err := Dialector(cfg)
	require.NoError(t, err)
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	pc := DefaultPoolConfig()
	pc.MaxOpenConns = 1
	pc.HealthCheckInterval = 10 * time.Millisecond
	pm, err := NewPoolManager(db, pc, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	pm.OnStats(func(stats sql.DBStats) {
		if stats.MaxOpenConnections == 1 {
			calls.Add(1)
		}
	})

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pm.Close())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	pm := openMemory(t)

	var attempts int
	err := pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = pm.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		attempts++
		return errors.New("syntax error")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableError(t *testing.T) {
	tests := map[string]bool{
		"Deadlock found when trying to get lock":      true,
		"ERROR: could not serialize (SQLSTATE 40001)": true,
		"write: broken pipe":                          true,
		"database is locked":                          true,
		"driver: bad connection":                      true,
		"UNIQUE constraint failed":                    false,
	}
	for msg, want := range tests {
		assert.Equal(t, want, isRetryableError(errors.New(msg)), msg)
	}
	assert.False(t, isRetryableError(nil))
}
