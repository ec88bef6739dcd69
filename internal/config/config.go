package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（遥测接入）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// ModemConfig 蜂窝 modem 配置
// 各延迟是厂家设备内部处理节奏的要求，固定值，不做退避或抖动
type ModemConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration

	ActivationNumber    string
	ActivationMessage   string
	ConfirmationNumber  string
	ConfirmationMessage string
	AlertRecipients     []string

	ProbeDelay            time.Duration // 连通性探测前等待
	PostActivationDelay   time.Duration // 激活短信后等待
	PostConfirmationDelay time.Duration // 确认短信后等待
	InterSendDelay        time.Duration // 告警短信相邻接收人之间的间隔
}

// EmailConfig 事务邮件服务配置
type EmailConfig struct {
	APIBaseURL  string
	APIKey      string
	Sender      string
	Recipients  []string
	HTTPTimeout time.Duration
}

// DetectionConfig 检测与限流配置
type DetectionConfig struct {
	CooldownWindow   time.Duration // 同一 (device, beacon) 对的去重窗口
	MinSmsInterval   time.Duration // 同一对两次实际短信发送的最小间隔（持久化判定）
	RSSIThreshold    int           // 信号强度阈值，<= 阈值的观测丢弃
	FlagCacheTTL     time.Duration // 注册表标志位的 Redis 缓存 TTL
	BroadcastChannel string        // 新事件实时广播频道
}

// Config 盲区告警服务配置
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Modem     ModemConfig
	Email     EmailConfig
	Detection DetectionConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（进程启动时读取一次，不支持热更新）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "facilities")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "blindspot-alarm")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "trackers/+/sightings")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Modem.BaseURL = getEnv("MODEM_BASE_URL", "http://192.168.8.1")
	cfg.Modem.HTTPTimeout = getEnvSeconds("MODEM_HTTP_TIMEOUT", 10)
	cfg.Modem.ActivationNumber = getEnv("MODEM_ACTIVATION_NUMBER", "")
	cfg.Modem.ActivationMessage = getEnv("MODEM_ACTIVATION_MESSAGE", "ACTIVATE")
	cfg.Modem.ConfirmationNumber = getEnv("MODEM_CONFIRMATION_NUMBER", "")
	cfg.Modem.ConfirmationMessage = getEnv("MODEM_CONFIRMATION_MESSAGE", "CONFIRM")
	cfg.Modem.AlertRecipients = getEnvList("MODEM_ALERT_RECIPIENTS", nil)
	cfg.Modem.ProbeDelay = getEnvSeconds("MODEM_PROBE_DELAY", 1)
	cfg.Modem.PostActivationDelay = getEnvSeconds("MODEM_POST_ACTIVATION_DELAY", 2)
	cfg.Modem.PostConfirmationDelay = getEnvSeconds("MODEM_POST_CONFIRMATION_DELAY", 5)
	cfg.Modem.InterSendDelay = getEnvSeconds("MODEM_INTER_SEND_DELAY", 10)

	cfg.Email.APIBaseURL = getEnv("EMAIL_API_BASE_URL", "")
	cfg.Email.APIKey = getEnv("EMAIL_API_KEY", "")
	cfg.Email.Sender = getEnv("EMAIL_SENDER", "alerts@facilities.local")
	cfg.Email.Recipients = getEnvList("EMAIL_RECIPIENTS", nil)
	cfg.Email.HTTPTimeout = getEnvSeconds("EMAIL_HTTP_TIMEOUT", 15)

	cfg.Detection.CooldownWindow = getEnvSeconds("DETECTION_COOLDOWN_SECONDS", 35)
	cfg.Detection.MinSmsInterval = getEnvSeconds("DETECTION_MIN_SMS_INTERVAL_SECONDS", 35)
	cfg.Detection.RSSIThreshold = getEnvInt("DETECTION_RSSI_THRESHOLD", -90)
	cfg.Detection.FlagCacheTTL = getEnvSeconds("DETECTION_FLAG_CACHE_TTL", 60)
	cfg.Detection.BroadcastChannel = getEnv("DETECTION_BROADCAST_CHANNEL", "blindspot:incidences")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

// getEnvList 解析逗号分隔的列表，空白项丢弃
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
