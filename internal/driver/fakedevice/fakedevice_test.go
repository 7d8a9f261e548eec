package fakedevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

func newTestDriver(t *testing.T) driver.Driver {
	t.Helper()
	d, err := New(&model.AccessInfo{Host: "10.0.0.8", Port: 8443})
	require.NoError(t, err)
	return d
}

// TestDriverRegistered init 注册后可按厂商/型号查到工厂
func TestDriverRegistered(t *testing.T) {
	factory, err := driver.GetFactory(Vendor, Model)
	require.NoError(t, err)

	d, err := factory(&model.AccessInfo{Host: "10.0.0.8", Port: 8443})
	require.NoError(t, err)
	defer d.Close()

	storage, err := d.GetStorage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake_storage_10.0.0.8", storage.Name)
}

// TestResourceInventory 资源清单数量固定且容量自洽
func TestResourceInventory(t *testing.T) {
	d := newTestDriver(t)

	storage, err := d.GetStorage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake-sn-10.0.0.8-8443", storage.SerialNumber)
	assert.Equal(t, model.StorageStatusNormal, storage.Status)
	assert.Equal(t, storage.TotalCapacity, storage.UsedCapacity+storage.FreeCapacity)
	assert.Greater(t, storage.RawCapacity, storage.TotalCapacity)

	pools, err := d.ListStoragePools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, poolCount)
	poolIDs := make(map[string]bool)
	for _, p := range pools {
		poolIDs[p.NativeStoragePoolID] = true
		assert.Equal(t, p.TotalCapacity, p.UsedCapacity+p.FreeCapacity)
	}

	volumes, err := d.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, volumeCount)
	for _, v := range volumes {
		assert.True(t, poolIDs[v.NativeStoragePoolID], "卷应挂在已知的池上")
		assert.Equal(t, v.TotalCapacity, v.UsedCapacity+v.FreeCapacity)
		assert.NotEmpty(t, v.WWN)
	}
}

// TestListAlertsQueryFilter 告警按固定基线排布，query 过滤发生时刻
func TestListAlertsQueryFilter(t *testing.T) {
	d := newTestDriver(t)

	// 测试用例1：不带过滤返回全部告警
	alerts, err := d.ListAlerts(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, alerts, alertCount)
	assert.Equal(t, int64(alertBaseOccurSec)*1000, alerts[0].OccurTime)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, model.CategoryFault, alerts[0].Category)

	// 测试用例2：起点过滤掉基线上的第一条
	alerts, err = d.ListAlerts(context.Background(), &driver.AlertQuery{
		BeginTime: alertBaseOccurSec + alertOccurStepSec,
	})
	require.NoError(t, err)
	require.Len(t, alerts, alertCount-1)
	assert.Equal(t, "fake-alert-1", alerts[0].AlertID)

	// 测试用例3：两端同时过滤
	alerts, err = d.ListAlerts(context.Background(), &driver.AlertQuery{
		BeginTime: alertBaseOccurSec + alertOccurStepSec,
		EndTime:   alertBaseOccurSec + 2*alertOccurStepSec,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
}

// TestCollectPerfMetricsWindow 采样覆盖半开窗口，分钟步长
func TestCollectPerfMetricsWindow(t *testing.T) {
	d := newTestDriver(t)
	startMs := int64(1700000000) * 1000
	endMs := startMs + 3*metricSampleStepMs

	spec := model.MetricSpec{
		model.ResourceTypeStorage: {model.MetricReadThroughput},
	}
	points, err := d.CollectPerfMetrics(context.Background(), spec, startMs, endMs)
	require.NoError(t, err)
	require.Len(t, points, 3, "三分钟窗口产生三个采样点")

	for i, p := range points {
		assert.Equal(t, model.ResourceTypeStorage, p.ResourceType)
		assert.Equal(t, "fake-sn-10.0.0.8-8443", p.ResourceID)
		assert.Equal(t, model.MetricReadThroughput, p.MetricName)
		assert.Equal(t, startMs+int64(i)*metricSampleStepMs, p.Timestamp)
		assert.Equal(t, "MB/s", p.Unit)
		assert.GreaterOrEqual(t, p.Value, 0.0)
		assert.Less(t, p.Value, 1000.0)
	}

	// 右边界之外不出点
	last := points[len(points)-1]
	assert.Less(t, last.Timestamp, endMs)
}

// TestCollectPerfMetricsDeterministic 同一窗口补采得到同一批点
func TestCollectPerfMetricsDeterministic(t *testing.T) {
	d := newTestDriver(t)
	startMs := int64(1700000000) * 1000
	endMs := startMs + 2*metricSampleStepMs
	spec := model.MetricSpec{
		model.ResourceTypeVolume: {model.MetricReadIOPS, model.MetricWriteLatency},
	}

	first, err := d.CollectPerfMetrics(context.Background(), spec, startMs, endMs)
	require.NoError(t, err)
	second, err := d.CollectPerfMetrics(context.Background(), spec, startMs, endMs)
	require.NoError(t, err)

	assert.Equal(t, first, second, "同参数重复采集应逐点一致")
	assert.Len(t, first, volumeCount*2*2)
}

// TestCollectPerfMetricsDefaultSpec 未指定规格时覆盖三级资源
func TestCollectPerfMetricsDefaultSpec(t *testing.T) {
	d := newTestDriver(t)
	startMs := int64(1700000000) * 1000
	endMs := startMs + metricSampleStepMs

	points, err := d.CollectPerfMetrics(context.Background(), nil, startMs, endMs)
	require.NoError(t, err)
	// 设备 3 项 + 池 3x4 项 + 卷 5x4 项
	assert.Len(t, points, 3+poolCount*4+volumeCount*4)

	types := make(map[string]bool)
	for _, p := range points {
		types[p.ResourceType] = true
	}
	assert.True(t, types[model.ResourceTypeStorage])
	assert.True(t, types[model.ResourceTypeStoragePool])
	assert.True(t, types[model.ResourceTypeVolume])
}

// TestNoopOperations 假设备的清除告警与连接管理永远成功
func TestNoopOperations(t *testing.T) {
	d := newTestDriver(t)
	assert.NoError(t, d.ClearAlert(context.Background(), "1000"))
	assert.NoError(t, d.ResetConnection(context.Background()))
	assert.NoError(t, d.Close())
}
