package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"blindspot-alarm/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockIncidenceDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *IncidenceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewIncidenceRepository(db, logger)

	return db, mock, repo
}

func TestRecord_Success(t *testing.T) {
	db, mock, repo := setupMockIncidenceDB(t)
	defer db.Close()

	// 事件记录和呼叫历史在同一事务内
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO incidences`).
		WithArgs(sqlmock.AnyArg(), "D1", "B1", sqlmock.AnyArg(), "beacon").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO call_attempts`).
		WithArgs("D1", "B1", sqlmock.AnyArg(), models.CallStateInitiated, "beacon").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	incidenceID, err := repo.Record(context.Background(), "D1", "B1", models.DetectionBeacon)

	require.NoError(t, err)
	assert.NotEmpty(t, incidenceID)
	_, err = uuid.Parse(incidenceID)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_IncidenceInsertFails_RollsBack(t *testing.T) {
	db, mock, repo := setupMockIncidenceDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO incidences`).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	incidenceID, err := repo.Record(context.Background(), "D1", "B1", models.DetectionBeacon)

	assert.Error(t, err)
	assert.Empty(t, incidenceID)
	assert.Contains(t, err.Error(), "failed to insert incidence")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_CallAttemptInsertFails_RollsBack(t *testing.T) {
	db, mock, repo := setupMockIncidenceDB(t)
	defer db.Close()

	// 第二条插入失败时第一条也必须回滚
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO incidences`).
		WithArgs(sqlmock.AnyArg(), "D1", "B1", sqlmock.AnyArg(), "beacon").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO call_attempts`).
		WillReturnError(fmt.Errorf("constraint violation"))
	mock.ExpectRollback()

	incidenceID, err := repo.Record(context.Background(), "D1", "B1", models.DetectionBeacon)

	assert.Error(t, err)
	assert.Empty(t, incidenceID)
	assert.Contains(t, err.Error(), "failed to insert call attempt")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_EmptyDeviceID(t *testing.T) {
	db, _, repo := setupMockIncidenceDB(t)
	defer db.Close()

	_, err := repo.Record(context.Background(), "", "B1", models.DetectionBeacon)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device_id is required")
}

func TestRecord_EmptyBeaconID(t *testing.T) {
	db, _, repo := setupMockIncidenceDB(t)
	defer db.Close()

	_, err := repo.Record(context.Background(), "D1", "", models.DetectionBeacon)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "beacon_id is required")
}

func TestGetIncidence_Success(t *testing.T) {
	db, mock, repo := setupMockIncidenceDB(t)
	defer db.Close()

	incidenceID := uuid.New().String()
	entryTime := time.Now()

	rows := sqlmock.NewRows([]string{"incidence_id", "device_id", "beacon_id", "entry_time", "detection_type"}).
		AddRow(incidenceID, "D1", "B1", entryTime, "beacon")
	mock.ExpectQuery(`SELECT`).
		WithArgs(incidenceID).
		WillReturnRows(rows)

	inc, err := repo.GetIncidence(context.Background(), incidenceID)

	require.NoError(t, err)
	assert.Equal(t, incidenceID, inc.IncidenceID)
	assert.Equal(t, "D1", inc.DeviceID)
	assert.Equal(t, "B1", inc.BeaconID)
	assert.Equal(t, models.DetectionBeacon, inc.DetectionType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentIncidences_Success(t *testing.T) {
	db, mock, repo := setupMockIncidenceDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"incidence_id", "device_id", "beacon_id", "entry_time", "detection_type"}).
		AddRow(uuid.New().String(), "D1", "B1", now, "beacon").
		AddRow(uuid.New().String(), "D1", "B1", now.Add(-time.Minute), "sensor")
	mock.ExpectQuery(`SELECT`).
		WithArgs("D1", "B1", 10).
		WillReturnRows(rows)

	incidences, err := repo.ListRecentIncidences(context.Background(), "D1", "B1", 10)

	require.NoError(t, err)
	assert.Len(t, incidences, 2)
	assert.Equal(t, models.DetectionBeacon, incidences[0].DetectionType)
	assert.Equal(t, models.DetectionSensor, incidences[1].DetectionType)
	require.NoError(t, mock.ExpectationsWereMet())
}
