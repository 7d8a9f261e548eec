package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// TelemetryService 遥测采集执行端：把调度核心派发的窗口变成一次
// 驱动调用，指标点入库，并按配置归档窗口快照。
type TelemetryService struct {
	cfg     *config.Config
	drivers *driver.Manager
	metrics *store.MetricStore
	archive ArchiveWriter
}

// NewTelemetryService 创建遥测执行端
func NewTelemetryService(cfg *config.Config, drivers *driver.Manager, metrics *store.MetricStore, archive ArchiveWriter) *TelemetryService {
	return &TelemetryService{
		cfg:     cfg,
		drivers: drivers,
		metrics: metrics,
		archive: archive,
	}
}

// CollectTelemetry 执行一次采集任务。返回值语义：
// (true, nil) 本次窗口处理完成；其余情况由调度核心落失败记录补采。
func (s *TelemetryService) CollectTelemetry(ctx context.Context, storageID, taskMethod, args string, startMs, endMs int64) (bool, error) {
	switch taskMethod {
	case model.TaskMethodPerformanceCollection:
		return s.collectPerformance(ctx, storageID, args, startMs, endMs)
	default:
		return false, fmt.Errorf("unsupported task method: %s", taskMethod)
	}
}

func (s *TelemetryService) collectPerformance(ctx context.Context, storageID, args string, startMs, endMs int64) (bool, error) {
	drv, err := s.drivers.GetDriver(ctx, storageID)
	if err != nil {
		return false, fmt.Errorf("failed to get driver for storage %s: %w", storageID, err)
	}

	spec, err := model.DecodeMetricSpec(args)
	if err != nil {
		return false, fmt.Errorf("invalid metric spec: %w", err)
	}

	// 单次驱动调用设硬超时，慢设备不能占着工作协程不放
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Telemetry.DriverTimeout)
	defer cancel()
	points, err := drv.CollectPerfMetrics(callCtx, spec, startMs, endMs)
	if err != nil {
		return false, err
	}

	// 窗口内没有样本不算失败，设备侧本来就可能是空闲的
	if len(points) == 0 {
		logger.Debug("No metric points in window",
			"storage_id", storageID, "start_time", startMs, "end_time", endMs)
		return true, nil
	}

	for i := range points {
		points[i].StorageID = storageID
	}
	if err := s.metrics.UpsertPoints(ctx, points); err != nil {
		return false, fmt.Errorf("failed to persist metric points: %w", err)
	}

	s.archiveWindow(storageID, model.TaskMethodPerformanceCollection, points, startMs, endMs)

	logger.Debug("Performance collection completed",
		"storage_id", storageID, "points", len(points),
		"start_time", startMs, "end_time", endMs)
	return true, nil
}

// windowSnapshot 归档的窗口快照结构
type windowSnapshot struct {
	StorageID   string              `json:"storage_id"`
	Method      string              `json:"method"`
	StartTime   int64               `json:"start_time"`
	EndTime     int64               `json:"end_time"`
	CollectedAt int64               `json:"collected_at"`
	Points      []model.MetricPoint `json:"points"`
}

// archiveWindow 尽力而为地归档窗口快照，失败只打日志不影响采集结果
func (s *TelemetryService) archiveWindow(storageID, method string, points []model.MetricPoint, startMs, endMs int64) {
	if s.archive == nil {
		return
	}

	snapshot := windowSnapshot{
		StorageID:   storageID,
		Method:      method,
		StartTime:   startMs,
		EndTime:     endMs,
		CollectedAt: time.Now().UnixMilli(),
		Points:      points,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Warn("Failed to encode window snapshot", "storage_id", storageID, "error", err)
		return
	}

	// 归档独立于采集调用的生命周期，给它自己的超时
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	obj, err := s.archive.Write(ctx, ArchiveMeta{
		StorageID: storageID,
		Method:    method,
		StartMs:   startMs,
		EndMs:     endMs,
	}, data)
	if err != nil {
		logger.Warn("Failed to archive window snapshot",
			"storage_id", storageID, "end_time", endMs, "error", err)
		return
	}
	logger.Debug("Window snapshot archived", "uri", obj.URI, "size", obj.Size)
}
