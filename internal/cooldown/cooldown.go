package cooldown

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker 冷却窗口跟踪器
// 以 (device_id, beacon_id) 对为键，记录最近一次接受告警的时刻；
// 窗口内的重复检测被抑制。纯内存状态，进程重启即清空 —— 只影响
// 通知频率，持久化的事件记录不受影响
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	timers  map[string]*time.Timer
	logger  *zap.Logger
}

// NewTracker 创建冷却跟踪器
func NewTracker(window time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		window:  window,
		entries: make(map[string]time.Time),
		timers:  make(map[string]*time.Timer),
		logger:  logger,
	}
}

// pairKey 构建 (device, beacon) 键
func pairKey(deviceID, beaconID string) string {
	return deviceID + "|" + beaconID
}

// TryAcquire 原子地检查并占用冷却窗口
// 未被占用时登记当前时刻、调度到期删除并返回 true（调用方可继续）；
// 已被占用时返回 false（调用方必须抑制）。检查和写入在同一把锁内完成，
// 并发事件对同一对键只会有一个成功
func (t *Tracker) TryAcquire(deviceID, beaconID string) bool {
	key := pairKey(deviceID, beaconID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		return false
	}

	t.entries[key] = time.Now()
	t.timers[key] = time.AfterFunc(t.window, func() {
		t.expire(key)
	})

	t.logger.Debug("Cooldown armed",
		zap.String("device_id", deviceID),
		zap.String("beacon_id", beaconID),
		zap.Duration("window", t.window),
	)

	return true
}

// expire 到期删除冷却项
func (t *Tracker) expire(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
	delete(t.timers, key)
}

// Len 当前被占用的键数量
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop 取消所有未到期的定时器（服务关闭时调用）
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
		delete(t.entries, key)
	}
}
