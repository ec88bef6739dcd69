package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"blindspot-alarm/internal/config"
	"blindspot-alarm/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// EventHandler 遥测事件处理端（由 detector.Detector 实现）
type EventHandler interface {
	OnTelemetryEvent(ctx context.Context, event *models.TelemetryEvent)
}

// telemetryPayload 追踪设备经采集端解码后发布到 MQTT 的消息格式
type telemetryPayload struct {
	DeviceID  string          `json:"device_id"`
	Timestamp int64           `json:"timestamp"`
	Beacons   []beaconPayload `json:"beacons"`
}

type beaconPayload struct {
	ID   string `json:"id"`
	RSSI int    `json:"rssi"`
	Type string `json:"type,omitempty"`
	MAC  string `json:"mac,omitempty"`
}

// TelemetryConsumer MQTT 遥测消费者
// 订阅追踪设备的观测主题，解码后逐条交给检测编排器；
// 坏消息记日志丢弃，处理失败不中断订阅
type TelemetryConsumer struct {
	cfg     *config.Config
	client  mqtt.Client
	handler EventHandler
	logger  *zap.Logger
}

// NewTelemetryConsumer 创建并连接 MQTT 消费者
func NewTelemetryConsumer(cfg *config.Config, handler EventHandler, logger *zap.Logger) (*TelemetryConsumer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &TelemetryConsumer{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start 订阅遥测主题
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	topic := c.cfg.MQTT.Topic
	qos := c.cfg.MQTT.QoS

	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.Info("Telemetry consumer started",
		zap.String("topic", topic),
		zap.Uint8("qos", qos),
	)

	return nil
}

// handleMessage 解码并分发一条遥测消息
func (c *TelemetryConsumer) handleMessage(topic string, payload []byte) {
	event, err := decodeTelemetry(payload)
	if err != nil {
		c.logger.Warn("Dropping malformed telemetry message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	c.handler.OnTelemetryEvent(context.Background(), event)
}

// decodeTelemetry 将 MQTT 消息体解码为遥测事件
func decodeTelemetry(payload []byte) (*models.TelemetryEvent, error) {
	var raw telemetryPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry payload: %w", err)
	}

	if raw.DeviceID == "" {
		return nil, fmt.Errorf("telemetry payload missing device_id")
	}

	event := &models.TelemetryEvent{
		DeviceID:  raw.DeviceID,
		Timestamp: time.Unix(raw.Timestamp, 0),
	}

	for _, b := range raw.Beacons {
		if b.ID == "" {
			continue
		}
		event.Beacons = append(event.Beacons, models.BeaconSighting{
			BeaconID: b.ID,
			RSSI:     b.RSSI,
			Kind:     b.Type,
			MAC:      b.MAC,
		})
	}

	return event, nil
}

// Stop 取消订阅并断开连接
func (c *TelemetryConsumer) Stop() {
	if token := c.client.Unsubscribe(c.cfg.MQTT.Topic); token.Wait() && token.Error() != nil {
		c.logger.Error("Failed to unsubscribe",
			zap.String("topic", c.cfg.MQTT.Topic),
			zap.Error(token.Error()),
		)
	}
	c.client.Disconnect(250)
}
