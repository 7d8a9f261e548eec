package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/storagecollectorpro/storagecollectorpro/api/handler"
	"github.com/storagecollectorpro/storagecollectorpro/api/router"
	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/service"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/internal/telemetry"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

const version = "1.0.0"

func main() {
	// 加载配置
	configPath := "configs/config.yaml"
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(logConfig(cfg)); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting Storage Collector Pro Server", "version", version)
	logger.Info("Telemetry schedule settings",
		"collection_interval", cfg.Telemetry.PerformanceCollectionInterval,
		"retry_interval", cfg.Telemetry.FailedTaskRetryInterval,
		"sweep_interval", cfg.Telemetry.FailedTaskSweepInterval,
		"max_retry", cfg.Telemetry.MaxFailedTaskRetryCount,
		"workers", cfg.Telemetry.WorkerCount)

	// 初始化数据库
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatal("Failed to initialize database", "error", err)
	}
	defer database.Close()

	// 存储层
	storageStore := store.NewStorageStore()
	taskStore := store.NewTaskStore()
	failedStore := store.NewFailedTaskStore()
	poolStore := store.NewPoolStore()
	volumeStore := store.NewVolumeStore()
	alertStore := store.NewAlertStore()
	metricStore := store.NewMetricStore()

	// 驱动管理器与归档
	driverManager := driver.NewManager(storageStore)
	defer driverManager.Shutdown()
	archiveWriter := service.NewArchiveWriter(cfg)

	// 遥测执行端与调度核心
	telemetryService := service.NewTelemetryService(cfg, driverManager, metricStore, archiveWriter)
	collectionHandler := telemetry.NewCollectionHandler(
		taskStore, failedStore, telemetryService, nil, cfg.Telemetry.FailedTaskRetryInterval)
	failedHandler := telemetry.NewFailedCollectionHandler(
		taskStore, failedStore, telemetryService, cfg.Telemetry.MaxFailedTaskRetryCount, nil)
	scheduler := telemetry.NewScheduler(
		cfg.Telemetry, collectionHandler, failedHandler, taskStore, failedStore, nil)

	ctx := context.Background()
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start telemetry scheduler", "error", err)
	}
	defer scheduler.Stop()

	// 业务服务
	resourceService := service.NewResourceService(storageStore, poolStore, volumeStore, driverManager)
	alertService := service.NewAlertService(alertStore, driverManager)
	storageService := service.NewStorageService(cfg,
		storageStore, taskStore, failedStore, poolStore, volumeStore,
		alertStore, metricStore, driverManager, resourceService, alertService, scheduler)

	// 设置路由
	r := router.SetupRouter(cfg.Server.Mode, router.Handlers{
		Storage: handler.NewStorageHandler(storageService, poolStore, volumeStore),
		Alert:   handler.NewAlertHandler(alertService),
		Metric:  handler.NewMetricHandler(metricStore),
		Task:    handler.NewTaskHandler(taskStore, failedStore),
		System:  handler.NewSystemHandler(scheduler, version),
	})

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// 启动服务器
	go func() {
		logger.Info("Server starting", "addr", server.Addr, "mode", cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// 配置文件监听与热更新
	go watchConfig(configPath, cfg)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	// 优雅关闭：先停HTTP入口，再等在途采集跑完
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}

// watchConfig 监听配置文件变更并热更新。采集周期等调度参数只对
// 之后注册的任务生效，日志配置立即生效。
func watchConfig(path string, cfg *config.Config) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Config watch init failed", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warn("Config watch add failed", "error", err)
		return
	}

	var debounce *time.Timer
	debounceInterval := 300 * time.Millisecond
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warn("Config reload failed", "error", err)
			return
		}
		// 原地覆盖，保持指针不变
		*cfg = *newCfg
		// 刷新日志配置
		_ = logger.Init(logConfig(cfg))
		logger.Info("Config reloaded")
	}

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, trigger)
			}
		case err := <-watcher.Errors:
			logger.Warn("Config watch error", "error", err)
		}
	}
}

func logConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}
}
