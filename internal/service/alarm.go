package service

import (
	"context"
	"database/sql"
	"fmt"

	"blindspot-alarm/internal/cache"
	"blindspot-alarm/internal/config"
	"blindspot-alarm/internal/consumer"
	"blindspot-alarm/internal/cooldown"
	"blindspot-alarm/internal/detector"
	"blindspot-alarm/internal/dispatcher"
	"blindspot-alarm/internal/modem"
	"blindspot-alarm/internal/notifier"
	"blindspot-alarm/internal/repository"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// AlarmService 盲区告警服务（整合各层）
type AlarmService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	registryRepo  *repository.RegistryRepository
	incidenceRepo *repository.IncidenceRepository
	smsLogRepo    *repository.SmsLogRepository
	flagCache     *cache.FlagCache
	tracker       *cooldown.Tracker
	modemClient   *modem.Client
	emailNotifier *notifier.EmailNotifier
	broadcaster   *notifier.Broadcaster
	dispatcher    *dispatcher.Dispatcher
	detector      *detector.Detector
	consumer      *consumer.TelemetryConsumer
}

// NewAlarmService 创建盲区告警服务
func NewAlarmService(cfg *config.Config, logger *zap.Logger) (*AlarmService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	if cfg.Database.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
	}

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	registryRepo := repository.NewRegistryRepository(db, logger)
	incidenceRepo := repository.NewIncidenceRepository(db, logger)
	smsLogRepo := repository.NewSmsLogRepository(db, cfg.Detection.MinSmsInterval, logger)

	// 4. 缓存与冷却状态
	flagCache := cache.NewFlagCache(registryRepo, redisClient, cfg.Detection.FlagCacheTTL, logger)
	tracker := cooldown.NewTracker(cfg.Detection.CooldownWindow, logger)

	// 5. 外部通道客户端
	modemClient := modem.NewClient(cfg.Modem.BaseURL, cfg.Modem.HTTPTimeout, logger)
	emailNotifier := notifier.NewEmailNotifier(
		cfg.Email.APIBaseURL,
		cfg.Email.APIKey,
		cfg.Email.Sender,
		cfg.Email.Recipients,
		cfg.Email.HTTPTimeout,
		logger,
	)
	broadcaster := notifier.NewBroadcaster(redisClient, cfg.Detection.BroadcastChannel, logger)

	// 6. 编排层
	alertDispatcher := dispatcher.NewDispatcher(cfg, modemClient, emailNotifier, smsLogRepo, registryRepo, logger)
	det := detector.NewDetector(cfg, flagCache, incidenceRepo, alertDispatcher, broadcaster, tracker, logger)

	// 7. 遥测接入
	telemetryConsumer, err := consumer.NewTelemetryConsumer(cfg, det, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry consumer: %w", err)
	}

	return &AlarmService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		logger:        logger,
		registryRepo:  registryRepo,
		incidenceRepo: incidenceRepo,
		smsLogRepo:    smsLogRepo,
		flagCache:     flagCache,
		tracker:       tracker,
		modemClient:   modemClient,
		emailNotifier: emailNotifier,
		broadcaster:   broadcaster,
		dispatcher:    alertDispatcher,
		detector:      det,
		consumer:      telemetryConsumer,
	}, nil
}

// Start 启动服务
func (s *AlarmService) Start(ctx context.Context) error {
	s.logger.Info("Starting blindspot alarm service",
		zap.String("mqtt_topic", s.config.MQTT.Topic),
		zap.Duration("cooldown_window", s.config.Detection.CooldownWindow),
		zap.Int("rssi_threshold", s.config.Detection.RSSIThreshold),
	)

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry consumer: %w", err)
	}

	return nil
}

// Stop 停止服务：先停接入，等在途派发完成，再关连接
func (s *AlarmService) Stop() error {
	s.logger.Info("Stopping blindspot alarm service")

	s.consumer.Stop()
	s.detector.Wait()
	s.tracker.Stop()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
