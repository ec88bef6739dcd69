package models

import "time"

// DetectionType 检测类型：beacon（信标近场触发）或 sensor（传感器触发）
type DetectionType string

const (
	DetectionBeacon DetectionType = "beacon"
	DetectionSensor DetectionType = "sensor"
)

// 呼叫与短信投递状态
const (
	CallStateInitiated = "initiated"

	SmsStateSent  = "sent"
	SmsStateError = "error"
)

// Incidence 盲区入侵事件（对应 incidences 表，只追加，不更新）
// 关闭/离开时间由其他模块写入，本服务不负责
type Incidence struct {
	IncidenceID   string        `json:"incidence_id" db:"incidence_id"`
	DeviceID      string        `json:"device_id" db:"device_id"`
	BeaconID      string        `json:"beacon_id" db:"beacon_id"`
	EntryTime     time.Time     `json:"entry_time" db:"entry_time"`
	DetectionType DetectionType `json:"detection_type" db:"detection_type"`
}

// CallAttempt 呼叫历史记录（对应 call_attempts 表，与 Incidence 一一对应）
type CallAttempt struct {
	DeviceID      string        `json:"device_id" db:"device_id"`
	BeaconID      string        `json:"beacon_id" db:"beacon_id"`
	Timestamp     time.Time     `json:"timestamp" db:"timestamp"`
	CallState     string        `json:"call_state" db:"call_state"`
	DetectionType DetectionType `json:"detection_type" db:"detection_type"`
}

// SmsAttempt 短信派发结果记录（对应 sms_attempts 表）
// 每次通过限流闸门的派发恰好写一行，成功或失败
type SmsAttempt struct {
	DeviceID      string        `json:"device_id" db:"device_id"`
	BeaconID      string        `json:"beacon_id" db:"beacon_id"`
	Timestamp     time.Time     `json:"timestamp" db:"timestamp"`
	DeliveryState string        `json:"delivery_state" db:"delivery_state"` // sent / error
	ErrorDetail   *string       `json:"error_detail,omitempty" db:"error_detail"`
	DetectionType DetectionType `json:"detection_type" db:"detection_type"`
}
