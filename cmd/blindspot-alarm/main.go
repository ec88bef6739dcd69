package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blindspot-alarm/internal/config"
	"blindspot-alarm/internal/logger"
	"blindspot-alarm/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "blindspot-alarm")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	alarmService, err := service.NewAlarmService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create alarm service",
			zap.Error(err),
		)
	}
	defer alarmService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务
	if err := alarmService.Start(ctx); err != nil {
		log.Fatal("Failed to start alarm service",
			zap.Error(err),
		)
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	log.Info("Blindspot alarm service stopped")
}
