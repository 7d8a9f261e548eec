package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver/fakedevice"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
)

// setupTelemetryTest 建临时库、注册一台假设备并返回遥测执行端
func setupTelemetryTest(t *testing.T) (*TelemetryService, *store.MetricStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "collector.db")
	require.NoError(t, database.InitSQLite(config.SQLiteConfig{Path: dbPath}))
	t.Cleanup(func() {
		_ = database.Close()
	})

	ctx := context.Background()
	storages := store.NewStorageStore()
	storage := &model.Storage{
		ID:     "st-telemetry-1",
		Name:   "fake-array",
		Vendor: fakedevice.Vendor,
		Model:  fakedevice.Model,
		Status: model.StorageStatusNormal,
	}
	access := &model.AccessInfo{
		StorageID: storage.ID,
		Vendor:    fakedevice.Vendor,
		Model:     fakedevice.Model,
		Protocol:  "fake",
		Host:      "10.0.0.8",
		Port:      443,
	}
	require.NoError(t, storages.Create(ctx, storage, access))

	cfg := &config.Config{}
	cfg.Telemetry.DriverTimeout = 10 * time.Second
	metrics := store.NewMetricStore()
	manager := driver.NewManager(storages)
	t.Cleanup(manager.Shutdown)

	return NewTelemetryService(cfg, manager, metrics, nil), metrics, storage.ID
}

// TestCollectTelemetryPersistsWindow 一次成功采集把窗口内样本入库
func TestCollectTelemetryPersistsWindow(t *testing.T) {
	svc, metrics, storageID := setupTelemetryTest(t)
	ctx := context.Background()

	startMs := int64(1700000000000)
	endMs := startMs + 300*1000
	ok, err := svc.CollectTelemetry(ctx, storageID, model.TaskMethodPerformanceCollection, "", startMs, endMs)
	require.NoError(t, err)
	assert.True(t, ok)

	points, err := metrics.Query(ctx, store.MetricQuery{StorageID: storageID})
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.Equal(t, storageID, p.StorageID)
		assert.GreaterOrEqual(t, p.Timestamp, startMs)
		assert.Less(t, p.Timestamp, endMs, "样本不应越过窗口终点")
	}
}

// TestCollectTelemetryIdempotentRecovery 同一窗口补采两次不产生重复点，
// 模拟恢复处理器在入库后、删记录前崩溃再重跑的场景
func TestCollectTelemetryIdempotentRecovery(t *testing.T) {
	svc, metrics, storageID := setupTelemetryTest(t)
	ctx := context.Background()

	startMs := int64(1700000000000)
	endMs := startMs + 60*1000

	ok, err := svc.CollectTelemetry(ctx, storageID, model.TaskMethodPerformanceCollection, "", startMs, endMs)
	require.NoError(t, err)
	require.True(t, ok)
	first, err := metrics.Query(ctx, store.MetricQuery{StorageID: storageID})
	require.NoError(t, err)

	ok, err = svc.CollectTelemetry(ctx, storageID, model.TaskMethodPerformanceCollection, "", startMs, endMs)
	require.NoError(t, err)
	require.True(t, ok)
	second, err := metrics.Query(ctx, store.MetricQuery{StorageID: storageID})
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "重复补采不应增加数据点")
}

// TestCollectTelemetryScopedSpec 指定采集规格时只采规格内的指标
func TestCollectTelemetryScopedSpec(t *testing.T) {
	svc, metrics, storageID := setupTelemetryTest(t)
	ctx := context.Background()

	args, err := model.EncodeMetricSpec(model.MetricSpec{
		model.ResourceTypeStorage: {model.MetricCPUUsage},
	})
	require.NoError(t, err)

	startMs := int64(1700000000000)
	ok, err := svc.CollectTelemetry(ctx, storageID, model.TaskMethodPerformanceCollection, args, startMs, startMs+60*1000)
	require.NoError(t, err)
	require.True(t, ok)

	points, err := metrics.Query(ctx, store.MetricQuery{StorageID: storageID})
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.Equal(t, model.ResourceTypeStorage, p.ResourceType)
		assert.Equal(t, model.MetricCPUUsage, p.MetricName)
	}
}

// TestCollectTelemetryUnknownMethod 未知任务方法返回失败
func TestCollectTelemetryUnknownMethod(t *testing.T) {
	svc, _, storageID := setupTelemetryTest(t)

	ok, err := svc.CollectTelemetry(context.Background(), storageID, "no_such_method", "", 0, 1000)
	assert.False(t, ok)
	assert.Error(t, err)
}

// TestCollectTelemetryUnknownStorage 无接入信息的设备直接失败，
// 由调度核心落失败记录
func TestCollectTelemetryUnknownStorage(t *testing.T) {
	svc, _, _ := setupTelemetryTest(t)

	ok, err := svc.CollectTelemetry(context.Background(), "missing-storage",
		model.TaskMethodPerformanceCollection, "", 0, 1000)
	assert.False(t, ok)
	assert.Error(t, err)
}
