package dispatcher

import (
	"context"
	"fmt"
	"time"

	"blindspot-alarm/internal/config"
	"blindspot-alarm/internal/models"
	"blindspot-alarm/internal/repository"

	"go.uber.org/zap"
)

// ModemClient modem 控制面（由 internal/modem 实现）
type ModemClient interface {
	CheckConnection(ctx context.Context) error
	SendSms(ctx context.Context, phoneNumber, message string) error
}

// EmailSender 邮件通知（由 internal/notifier 实现）
type EmailSender interface {
	Send(ctx context.Context, subject, body string) error
}

// SmsLog 短信限流与结果记录（由 repository.SmsLogRepository 实现）
type SmsLog interface {
	CanSend(ctx context.Context, deviceID, beaconID string) (bool, error)
	MarkSent(ctx context.Context, deviceID, beaconID string) error
	RecordAttempt(ctx context.Context, attempt *models.SmsAttempt) error
}

// ContextSource 告警文案上下文来源（由 repository.RegistryRepository 实现）
type ContextSource interface {
	GetDeviceContext(ctx context.Context, deviceID string) (*repository.DeviceContext, error)
	GetBeaconContext(ctx context.Context, beaconID string) (*repository.BeaconContext, error)
}

// DispatchError 派发序列的未恢复失败
// 返回给调用方之前必定已写入一条 error 状态的结果记录
type DispatchError struct {
	Stage string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed at %s: %v", e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher 告警派发编排器
// 序列：限流检查 → modem 连通性探测 → 激活短信 → 确认短信 →
// 告警短信逐个接收人 → 邮件 → 结果落库。步骤间的固定延迟服务于
// 厂家设备自身的处理节奏。单个接收人失败记录后继续；modem 分支
// 整体失败不影响邮件分支。每次通过限流闸门的调用恰好产生一条
// 结果记录，成功或失败
type Dispatcher struct {
	cfg      *config.Config
	modem    ModemClient
	email    EmailSender
	smsLog   SmsLog
	registry ContextSource
	logger   *zap.Logger
}

// NewDispatcher 创建派发编排器
func NewDispatcher(
	cfg *config.Config,
	modem ModemClient,
	email EmailSender,
	smsLog SmsLog,
	registry ContextSource,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		modem:    modem,
		email:    email,
		smsLog:   smsLog,
		registry: registry,
		logger:   logger,
	}
}

// Dispatch 对一次已接受的检测执行完整通知序列
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, beaconID string, detType models.DetectionType) error {
	// 1. 限流检查：拒绝时直接返回，不产生结果记录（没有发生过尝试）
	allowed, err := d.smsLog.CanSend(ctx, deviceID, beaconID)
	if err != nil {
		return fmt.Errorf("failed to check sms rate limit: %w", err)
	}
	if !allowed {
		d.logger.Info("Sms dispatch suppressed by rate limit",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", beaconID),
		)
		return nil
	}

	alertMessage := d.buildAlertMessage(ctx, deviceID, beaconID, detType)

	// 2-5. modem 分支：探测、激活、确认、逐个接收人
	var seqErr error
	stage := ""
	if err := d.runModemLeg(ctx, alertMessage); err != nil {
		seqErr = err
		stage = "modem"
		d.logger.Error("Modem leg failed",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", beaconID),
			zap.Error(err),
		)
	}

	// 6. 邮件分支：无论 modem 分支结果如何都执行
	subject, body := d.buildEmail(deviceID, beaconID, detType, alertMessage)
	if err := d.email.Send(ctx, subject, body); err != nil {
		d.logger.Error("Email leg failed",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", beaconID),
			zap.Error(err),
		)
		if seqErr == nil {
			seqErr = err
			stage = "email"
		}
	}

	// 7. 结果落库：恰好一条，成功或失败
	attempt := &models.SmsAttempt{
		DeviceID:      deviceID,
		BeaconID:      beaconID,
		Timestamp:     time.Now(),
		DeliveryState: models.SmsStateSent,
		DetectionType: detType,
	}
	if seqErr != nil {
		detail := seqErr.Error()
		attempt.DeliveryState = models.SmsStateError
		attempt.ErrorDetail = &detail
	}
	if err := d.smsLog.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Error("Failed to record sms attempt",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", beaconID),
			zap.Error(err),
		)
	}

	if seqErr != nil {
		return &DispatchError{Stage: stage, Err: seqErr}
	}

	// 8. 仅在完整成功后推进限流标记
	if err := d.smsLog.MarkSent(ctx, deviceID, beaconID); err != nil {
		d.logger.Error("Failed to update last sms marker",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", beaconID),
			zap.Error(err),
		)
	}

	d.logger.Info("Alert dispatch completed",
		zap.String("device_id", deviceID),
		zap.String("beacon_id", beaconID),
		zap.String("detection_type", string(detType)),
	)

	return nil
}

// runModemLeg 执行 modem 短信分支
// 探测、激活、确认任一失败即中止本分支；告警短信逐个接收人独立发送，
// 单个失败记录后继续下一个
func (d *Dispatcher) runModemLeg(ctx context.Context, alertMessage string) error {
	if err := wait(ctx, d.cfg.Modem.ProbeDelay); err != nil {
		return err
	}
	if err := d.modem.CheckConnection(ctx); err != nil {
		return err
	}

	if err := d.modem.SendSms(ctx, d.cfg.Modem.ActivationNumber, d.cfg.Modem.ActivationMessage); err != nil {
		return fmt.Errorf("activation sms: %w", err)
	}
	if err := wait(ctx, d.cfg.Modem.PostActivationDelay); err != nil {
		return err
	}

	if err := d.modem.SendSms(ctx, d.cfg.Modem.ConfirmationNumber, d.cfg.Modem.ConfirmationMessage); err != nil {
		return fmt.Errorf("confirmation sms: %w", err)
	}
	if err := wait(ctx, d.cfg.Modem.PostConfirmationDelay); err != nil {
		return err
	}

	for i, recipient := range d.cfg.Modem.AlertRecipients {
		if err := d.modem.SendSms(ctx, recipient, alertMessage); err != nil {
			// 部分送达是可接受的结果，不中止序列
			d.logger.Error("Alert sms failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err),
			)
		}
		if i < len(d.cfg.Modem.AlertRecipients)-1 {
			if err := wait(ctx, d.cfg.Modem.InterSendDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

// buildAlertMessage 构建告警文案
// sensor 类：分区 + 设备名；beacon 类：分区 + 佩戴人。
// 上下文查询失败时退回只带标识符的文案，不阻塞派发
func (d *Dispatcher) buildAlertMessage(ctx context.Context, deviceID, beaconID string, detType models.DetectionType) string {
	switch detType {
	case models.DetectionSensor:
		info, err := d.registry.GetDeviceContext(ctx, deviceID)
		if err != nil {
			d.logger.Warn("Failed to resolve device context for alert message",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			break
		}
		return fmt.Sprintf("Blind spot intrusion: sector %s, device %s", info.Sector, info.DeviceName)
	case models.DetectionBeacon:
		info, err := d.registry.GetBeaconContext(ctx, beaconID)
		if err != nil {
			d.logger.Warn("Failed to resolve beacon context for alert message",
				zap.String("beacon_id", beaconID),
				zap.Error(err),
			)
			break
		}
		return fmt.Sprintf("Blind spot intrusion: sector %s, assigned to %s", info.Sector, info.AssignedName)
	}

	return fmt.Sprintf("Blind spot intrusion: device %s, beacon %s", deviceID, beaconID)
}

// buildEmail 构建事件邮件
func (d *Dispatcher) buildEmail(deviceID, beaconID string, detType models.DetectionType, alertMessage string) (string, string) {
	subject := "Blind spot intrusion detected"
	body := fmt.Sprintf(
		"%s\n\nDevice: %s\nBeacon: %s\nDetection type: %s\nDetected at: %s\n",
		alertMessage,
		deviceID,
		beaconID,
		detType,
		time.Now().Format(time.RFC3339),
	)
	return subject, body
}

// wait 可取消的固定延迟
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
