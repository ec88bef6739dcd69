package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"blindspot-alarm/internal/models"

	"go.uber.org/zap"
)

// SmsLogRepository 短信发送日志仓库
// 维护两张表：sms_attempts（每次派发的结果，只追加）和
// last_sms_sent（每个 (device, beacon) 对最近一次实际发送时刻，upsert）。
// 最小发送间隔基于 last_sms_sent 判定，持久化，进程重启不丢失
type SmsLogRepository struct {
	db          *sql.DB
	minInterval time.Duration
	logger      *zap.Logger
}

// NewSmsLogRepository 创建短信日志仓库
func NewSmsLogRepository(db *sql.DB, minInterval time.Duration, logger *zap.Logger) *SmsLogRepository {
	return &SmsLogRepository{
		db:          db,
		minInterval: minInterval,
		logger:      logger,
	}
}

// CanSend 判断该对键是否允许再次发送短信
// 没有发送记录 → 允许；距上次发送已超过最小间隔 → 允许；否则拒绝
func (r *SmsLogRepository) CanSend(ctx context.Context, deviceID, beaconID string) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("device_id is required")
	}
	if beaconID == "" {
		return false, fmt.Errorf("beacon_id is required")
	}

	var sentAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT sent_at FROM last_sms_sent WHERE device_id = $1 AND beacon_id = $2`,
		deviceID, beaconID,
	).Scan(&sentAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("failed to query last sms marker: %w", err)
	}

	return time.Since(sentAt) >= r.minInterval, nil
}

// MarkSent 将该对键的最近发送时刻更新为当前时间（insert-or-update）
func (r *SmsLogRepository) MarkSent(ctx context.Context, deviceID, beaconID string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if beaconID == "" {
		return fmt.Errorf("beacon_id is required")
	}

	query := `
		INSERT INTO last_sms_sent (device_id, beacon_id, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, beacon_id)
		DO UPDATE SET sent_at = EXCLUDED.sent_at
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, beaconID, time.Now()); err != nil {
		return fmt.Errorf("failed to upsert last sms marker: %w", err)
	}

	return nil
}

// RecordAttempt 追加一条短信派发结果（成功或失败各写一行）
func (r *SmsLogRepository) RecordAttempt(ctx context.Context, attempt *models.SmsAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt is required")
	}
	if attempt.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if attempt.BeaconID == "" {
		return fmt.Errorf("beacon_id is required")
	}

	query := `
		INSERT INTO sms_attempts (device_id, beacon_id, timestamp, delivery_state, error_detail, detection_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.DeviceID,
		attempt.BeaconID,
		attempt.Timestamp,
		attempt.DeliveryState,
		attempt.ErrorDetail,
		string(attempt.DetectionType),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sms attempt: %w", err)
	}

	r.logger.Debug("Sms attempt recorded",
		zap.String("device_id", attempt.DeviceID),
		zap.String("beacon_id", attempt.BeaconID),
		zap.String("delivery_state", attempt.DeliveryState),
	)

	return nil
}
