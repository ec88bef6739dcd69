package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// RegistryRepository 设备/信标注册表（只读标志位查询）
// 未登记的实体一律按"非盲区"处理（fail-closed）
type RegistryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRegistryRepository 创建注册表仓库
func NewRegistryRepository(db *sql.DB, logger *zap.Logger) *RegistryRepository {
	return &RegistryRepository{
		db:     db,
		logger: logger,
	}
}

// IsFlaggedDevice 查询上报设备是否被标记为盲区传感器
// 记录不存在返回 (false, nil)；连接类错误原样上抛，由调用方记录后按未标记处理
func (r *RegistryRepository) IsFlaggedDevice(ctx context.Context, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("device_id is required")
	}

	var flagged bool
	err := r.db.QueryRowContext(ctx,
		`SELECT blind_spot FROM devices WHERE device_id = $1`,
		deviceID,
	).Scan(&flagged)

	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query device flag: %w", err)
	}

	return flagged, nil
}

// IsFlaggedBeacon 查询信标是否被标记为盲区标签
func (r *RegistryRepository) IsFlaggedBeacon(ctx context.Context, beaconID string) (bool, error) {
	if beaconID == "" {
		return false, fmt.Errorf("beacon_id is required")
	}

	var flagged bool
	err := r.db.QueryRowContext(ctx,
		`SELECT blind_spot FROM beacons WHERE beacon_id = $1`,
		beaconID,
	).Scan(&flagged)

	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query beacon flag: %w", err)
	}

	return flagged, nil
}

// DeviceContext 设备的告警文案上下文
type DeviceContext struct {
	DeviceName string
	Sector     string
}

// BeaconContext 信标的告警文案上下文（信标当前登记位置的分区 + 佩戴人）
type BeaconContext struct {
	AssignedName string
	Sector       string
}

// GetDeviceContext 获取设备的分区和显示名（sensor 类检测的短信文案用）
func (r *RegistryRepository) GetDeviceContext(ctx context.Context, deviceID string) (*DeviceContext, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			COALESCE(device_name, device_id),
			COALESCE(sector, '')
		FROM devices
		WHERE device_id = $1
	`

	var info DeviceContext
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&info.DeviceName, &info.Sector)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device not found: %s", deviceID)
		}
		return nil, fmt.Errorf("failed to query device context: %w", err)
	}

	return &info, nil
}

// GetBeaconContext 获取信标登记位置的分区和佩戴人（beacon 类检测的短信文案用）
func (r *RegistryRepository) GetBeaconContext(ctx context.Context, beaconID string) (*BeaconContext, error) {
	if beaconID == "" {
		return nil, fmt.Errorf("beacon_id is required")
	}

	query := `
		SELECT
			COALESCE(p.full_name, b.beacon_id),
			COALESCE(b.sector, '')
		FROM beacons b
		LEFT JOIN personnel p ON b.assigned_person_id = p.person_id
		WHERE b.beacon_id = $1
	`

	var info BeaconContext
	err := r.db.QueryRowContext(ctx, query, beaconID).Scan(&info.AssignedName, &info.Sector)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("beacon not found: %s", beaconID)
		}
		return nil, fmt.Errorf("failed to query beacon context: %w", err)
	}

	return &info, nil
}
