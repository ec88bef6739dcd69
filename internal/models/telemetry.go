package models

import "time"

// TelemetryEvent 一条解码后的遥测事件（由上游采集端投递，只消费一次）
type TelemetryEvent struct {
	DeviceID  string           `json:"device_id"`
	Beacons   []BeaconSighting `json:"beacons"`
	Timestamp time.Time        `json:"timestamp"`
}

// BeaconSighting 设备上报的单个 Beacon 观测
type BeaconSighting struct {
	BeaconID string `json:"beacon_id"`
	RSSI     int    `json:"rssi"`
	Kind     string `json:"kind,omitempty"` // iBeacon / Eddystone 等，可选
	MAC      string `json:"mac,omitempty"`
}
