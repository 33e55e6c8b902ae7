package db

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/everclearorg/mark-sub001/internal/logging"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	return &Store{db: gdb, log: logging.Noop()}, mock
}

func TestCheckHealth_ReportsHealthyOnSuccessfulPing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectPing()

	status := store.CheckHealth(context.Background())
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckHealth_ReportsUnhealthyOnPingError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	status := store.CheckHealth(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, assert.AnError.Error(), status.Error)
}

func TestGracefulShutdown_ClosesUnderlyingConnection(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectClose()

	require.NoError(t, store.GracefulShutdown(time.Second))
	require.NoError(t, mock.ExpectationsWereMet())
}
