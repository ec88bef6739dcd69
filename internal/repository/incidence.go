package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"blindspot-alarm/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncidenceRepository 盲区事件仓库（只追加）
// 每次接受的检测写入一条事件记录和一条并行的呼叫历史记录，
// 两条插入在同一事务内，要么都成功，要么都回滚
type IncidenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidenceRepository 创建盲区事件仓库
func NewIncidenceRepository(db *sql.DB, logger *zap.Logger) *IncidenceRepository {
	return &IncidenceRepository{
		db:     db,
		logger: logger,
	}
}

// Record 持久化一次接受的检测
// 返回新事件的 incidence_id；任一插入失败整体回滚并上抛 —— 审计记录
// 写不进去时不允许静默丢弃
func (r *IncidenceRepository) Record(ctx context.Context, deviceID, beaconID string, detType models.DetectionType) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device_id is required")
	}
	if beaconID == "" {
		return "", fmt.Errorf("beacon_id is required")
	}

	incidenceID := uuid.New().String()
	now := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidences (incidence_id, device_id, beacon_id, entry_time, detection_type)
		 VALUES ($1, $2, $3, $4, $5)`,
		incidenceID, deviceID, beaconID, now, string(detType),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert incidence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO call_attempts (device_id, beacon_id, timestamp, call_state, detection_type)
		 VALUES ($1, $2, $3, $4, $5)`,
		deviceID, beaconID, now, models.CallStateInitiated, string(detType),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert call attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit incidence: %w", err)
	}

	r.logger.Info("Incidence recorded",
		zap.String("incidence_id", incidenceID),
		zap.String("device_id", deviceID),
		zap.String("beacon_id", beaconID),
		zap.String("detection_type", string(detType)),
	)

	return incidenceID, nil
}

// GetIncidence 按 incidence_id 读取单条事件（运维排查用）
func (r *IncidenceRepository) GetIncidence(ctx context.Context, incidenceID string) (*models.Incidence, error) {
	if incidenceID == "" {
		return nil, fmt.Errorf("incidence_id is required")
	}

	query := `
		SELECT incidence_id, device_id, beacon_id, entry_time, detection_type
		FROM incidences
		WHERE incidence_id = $1
	`

	var inc models.Incidence
	var detType string
	err := r.db.QueryRowContext(ctx, query, incidenceID).Scan(
		&inc.IncidenceID,
		&inc.DeviceID,
		&inc.BeaconID,
		&inc.EntryTime,
		&detType,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incidence not found: %s", incidenceID)
		}
		return nil, fmt.Errorf("failed to get incidence: %w", err)
	}
	inc.DetectionType = models.DetectionType(detType)

	return &inc, nil
}

// ListRecentIncidences 按对键查询最近事件（审计用，按进入时间倒序）
func (r *IncidenceRepository) ListRecentIncidences(ctx context.Context, deviceID, beaconID string, limit int) ([]*models.Incidence, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if beaconID == "" {
		return nil, fmt.Errorf("beacon_id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT incidence_id, device_id, beacon_id, entry_time, detection_type
		FROM incidences
		WHERE device_id = $1 AND beacon_id = $2
		ORDER BY entry_time DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, beaconID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidences: %w", err)
	}
	defer rows.Close()

	incidences := []*models.Incidence{}
	for rows.Next() {
		var inc models.Incidence
		var detType string
		if err := rows.Scan(&inc.IncidenceID, &inc.DeviceID, &inc.BeaconID, &inc.EntryTime, &detType); err != nil {
			return nil, fmt.Errorf("failed to scan incidence: %w", err)
		}
		inc.DetectionType = models.DetectionType(detType)
		incidences = append(incidences, &inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidences: %w", err)
	}

	return incidences, nil
}
