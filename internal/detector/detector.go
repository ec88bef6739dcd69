package detector

import (
	"context"
	"sync"
	"time"

	"blindspot-alarm/internal/config"
	"blindspot-alarm/internal/cooldown"
	"blindspot-alarm/internal/models"

	"go.uber.org/zap"
)

// FlagLookup 注册表标志位查询（由 cache.FlagCache 或 repository.RegistryRepository 实现）
type FlagLookup interface {
	IsFlaggedDevice(ctx context.Context, deviceID string) (bool, error)
	IsFlaggedBeacon(ctx context.Context, beaconID string) (bool, error)
}

// Recorder 事件持久化（由 repository.IncidenceRepository 实现）
type Recorder interface {
	Record(ctx context.Context, deviceID, beaconID string, detType models.DetectionType) (string, error)
}

// AlertDispatcher 告警派发（由 dispatcher.Dispatcher 实现）
type AlertDispatcher interface {
	Dispatch(ctx context.Context, deviceID, beaconID string, detType models.DetectionType) error
}

// Broadcaster 新事件实时广播（由 notifier.Broadcaster 实现），可为 nil
type Broadcaster interface {
	PublishIncidence(ctx context.Context, incidence *models.Incidence) error
}

// Detector 盲区检测编排器（遥测事件的入口）
// 对每条事件：确认上报设备是盲区传感器 → 逐个信标做标志位、
// 信号强度、冷却窗口三层过滤 → 通过的信标先落库再异步派发告警。
// 派发在独立 goroutine 上执行，modem 慢或不可达不会阻塞采集路径
type Detector struct {
	cfg         *config.Config
	flags       FlagLookup
	recorder    Recorder
	dispatcher  AlertDispatcher
	broadcaster Broadcaster
	cooldown    *cooldown.Tracker
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewDetector 创建检测编排器
func NewDetector(
	cfg *config.Config,
	flags FlagLookup,
	recorder Recorder,
	dispatcher AlertDispatcher,
	broadcaster Broadcaster,
	tracker *cooldown.Tracker,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		cfg:         cfg,
		flags:       flags,
		recorder:    recorder,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		cooldown:    tracker,
		logger:      logger,
	}
}

// OnTelemetryEvent 处理一条解码后的遥测事件
// 信标之间相互独立：一个信标的失败不影响同一事件里的其余信标
func (d *Detector) OnTelemetryEvent(ctx context.Context, event *models.TelemetryEvent) {
	if event == nil || event.DeviceID == "" {
		return
	}

	flagged, err := d.flags.IsFlaggedDevice(ctx, event.DeviceID)
	if err != nil {
		// fail-closed：查询失败按未标记处理，但必须先记录
		d.logger.Error("Device flag lookup failed",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
		return
	}
	if !flagged {
		return
	}

	if len(event.Beacons) == 0 {
		return
	}

	for _, sighting := range event.Beacons {
		d.processBeacon(ctx, event.DeviceID, sighting)
	}
}

// processBeacon 对单个信标观测执行过滤与触发
func (d *Detector) processBeacon(ctx context.Context, deviceID string, sighting models.BeaconSighting) {
	if sighting.BeaconID == "" {
		return
	}

	flagged, err := d.flags.IsFlaggedBeacon(ctx, sighting.BeaconID)
	if err != nil {
		d.logger.Error("Beacon flag lookup failed",
			zap.String("beacon_id", sighting.BeaconID),
			zap.Error(err),
		)
		return
	}
	if !flagged {
		return
	}

	if sighting.RSSI <= d.cfg.Detection.RSSIThreshold {
		d.logger.Debug("Sighting below rssi threshold",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", sighting.BeaconID),
			zap.Int("rssi", sighting.RSSI),
		)
		return
	}

	if !d.cooldown.TryAcquire(deviceID, sighting.BeaconID) {
		d.logger.Debug("Detection suppressed by cooldown",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", sighting.BeaconID),
		)
		return
	}

	incidenceID, err := d.recorder.Record(ctx, deviceID, sighting.BeaconID, models.DetectionBeacon)
	if err != nil {
		// 审计记录写不进去是硬失败：不派发告警，继续处理其余信标
		d.logger.Error("Failed to record incidence",
			zap.String("device_id", deviceID),
			zap.String("beacon_id", sighting.BeaconID),
			zap.Error(err),
		)
		return
	}

	d.broadcast(ctx, &models.Incidence{
		IncidenceID:   incidenceID,
		DeviceID:      deviceID,
		BeaconID:      sighting.BeaconID,
		EntryTime:     time.Now(),
		DetectionType: models.DetectionBeacon,
	})

	// 派发序列含固定延迟和外部调用，挂到独立 goroutine 上，
	// 且不继承采集路径的上下文：采集端的取消不应撤销通知
	d.wg.Add(1)
	go func(deviceID, beaconID string) {
		defer d.wg.Done()
		if err := d.dispatcher.Dispatch(context.Background(), deviceID, beaconID, models.DetectionBeacon); err != nil {
			d.logger.Error("Alert dispatch failed",
				zap.String("device_id", deviceID),
				zap.String("beacon_id", beaconID),
				zap.Error(err),
			)
		}
	}(deviceID, sighting.BeaconID)
}

// broadcast 尽力而为的新事件广播，失败只记日志
func (d *Detector) broadcast(ctx context.Context, incidence *models.Incidence) {
	if d.broadcaster == nil {
		return
	}
	if err := d.broadcaster.PublishIncidence(ctx, incidence); err != nil {
		d.logger.Warn("Failed to broadcast incidence",
			zap.String("incidence_id", incidence.IncidenceID),
			zap.Error(err),
		)
	}
}

// Wait 等待所有在途派发完成（关闭服务时调用）
func (d *Detector) Wait() {
	d.wg.Wait()
}
