package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockRegistryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RegistryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewRegistryRepository(db, logger)

	return db, mock, repo
}

func TestIsFlaggedDevice_Flagged(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"blind_spot"}).AddRow(true)
	mock.ExpectQuery(`SELECT blind_spot FROM devices`).
		WithArgs("D1").
		WillReturnRows(rows)

	flagged, err := repo.IsFlaggedDevice(context.Background(), "D1")

	require.NoError(t, err)
	assert.True(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsFlaggedDevice_NotFlagged(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"blind_spot"}).AddRow(false)
	mock.ExpectQuery(`SELECT blind_spot FROM devices`).
		WithArgs("D1").
		WillReturnRows(rows)

	flagged, err := repo.IsFlaggedDevice(context.Background(), "D1")

	require.NoError(t, err)
	assert.False(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsFlaggedDevice_NotFound_FailClosed(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	// 未登记的实体一律按未标记处理，不报错
	mock.ExpectQuery(`SELECT blind_spot FROM devices`).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	flagged, err := repo.IsFlaggedDevice(context.Background(), "unknown")

	require.NoError(t, err)
	assert.False(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsFlaggedDevice_StoreError_Propagates(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT blind_spot FROM devices`).
		WithArgs("D1").
		WillReturnError(fmt.Errorf("connection refused"))

	flagged, err := repo.IsFlaggedDevice(context.Background(), "D1")

	assert.Error(t, err)
	assert.False(t, flagged)
	assert.Contains(t, err.Error(), "failed to query device flag")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsFlaggedDevice_EmptyID(t *testing.T) {
	db, _, repo := setupMockRegistryDB(t)
	defer db.Close()

	_, err := repo.IsFlaggedDevice(context.Background(), "")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device_id is required")
}

func TestIsFlaggedBeacon_Flagged(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"blind_spot"}).AddRow(true)
	mock.ExpectQuery(`SELECT blind_spot FROM beacons`).
		WithArgs("B1").
		WillReturnRows(rows)

	flagged, err := repo.IsFlaggedBeacon(context.Background(), "B1")

	require.NoError(t, err)
	assert.True(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsFlaggedBeacon_NotFound_FailClosed(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT blind_spot FROM beacons`).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	flagged, err := repo.IsFlaggedBeacon(context.Background(), "unknown")

	require.NoError(t, err)
	assert.False(t, flagged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceContext_Success(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"device_name", "sector"}).
		AddRow("Gate tracker 3", "Cold chamber A")
	mock.ExpectQuery(`SELECT`).
		WithArgs("D1").
		WillReturnRows(rows)

	info, err := repo.GetDeviceContext(context.Background(), "D1")

	require.NoError(t, err)
	assert.Equal(t, "Gate tracker 3", info.DeviceName)
	assert.Equal(t, "Cold chamber A", info.Sector)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBeaconContext_Success(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"full_name", "sector"}).
		AddRow("J. Rivas", "Sector 7")
	mock.ExpectQuery(`SELECT`).
		WithArgs("B1").
		WillReturnRows(rows)

	info, err := repo.GetBeaconContext(context.Background(), "B1")

	require.NoError(t, err)
	assert.Equal(t, "J. Rivas", info.AssignedName)
	assert.Equal(t, "Sector 7", info.Sector)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBeaconContext_NotFound(t *testing.T) {
	db, mock, repo := setupMockRegistryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	info, err := repo.GetBeaconContext(context.Background(), "unknown")

	assert.Error(t, err)
	assert.Nil(t, info)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}
