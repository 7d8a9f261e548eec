// Package fakedevice 提供一个无需真实硬件的内置驱动，资源清单、
// 告警与性能数据全部确定性生成。联调、演示与回归测试都依赖它。
package fakedevice

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

// Vendor 与 Model 构成注册键
const (
	Vendor = "fake_storage"
	Model  = "fake_driver"
)

const (
	poolCount   = 3
	volumeCount = 5
	alertCount  = 4

	// 资源规格，字节
	poolCapacity   = int64(4) << 40
	volumeCapacity = int64(512) << 30

	// 告警时间基线（秒），告警按固定步长向后排布
	alertBaseOccurSec  = 1700000000
	alertOccurStepSec  = 600
	metricSampleStepMs = 60_000
)

func init() {
	driver.Register(Vendor, Model, New)
}

// Driver 假设备驱动实例，绑定到单个注册设备
type Driver struct {
	access *model.AccessInfo
}

// New 创建假设备驱动，任何接入凭据都接受
func New(access *model.AccessInfo) (driver.Driver, error) {
	return &Driver{access: access}, nil
}

// GetStorage 返回确定性的设备信息
func (d *Driver) GetStorage(_ context.Context) (*model.Storage, error) {
	total := poolCapacity * poolCount
	used := total / 3
	return &model.Storage{
		Name:            fmt.Sprintf("fake_storage_%s", d.access.Host),
		Vendor:          Vendor,
		Model:           Model,
		Status:          model.StorageStatusNormal,
		SerialNumber:    fmt.Sprintf("fake-sn-%s-%d", d.access.Host, d.access.Port),
		FirmwareVersion: "1.0.0",
		Location:        "lab",
		TotalCapacity:   total,
		RawCapacity:     total + total/8,
		UsedCapacity:    used,
		FreeCapacity:    total - used,
	}, nil
}

// ListStoragePools 返回固定数量的存储池
func (d *Driver) ListStoragePools(_ context.Context) ([]model.StoragePool, error) {
	pools := make([]model.StoragePool, 0, poolCount)
	for i := 0; i < poolCount; i++ {
		used := poolCapacity / int64(i+2)
		storageType := model.StorageTypeBlock
		if i%2 == 1 {
			storageType = model.StorageTypeFile
		}
		pools = append(pools, model.StoragePool{
			NativeStoragePoolID: fmt.Sprintf("fake-pool-%d", i),
			Name:                fmt.Sprintf("fake_pool_%d", i),
			Status:              model.StoragePoolStatusNormal,
			StorageType:         storageType,
			TotalCapacity:       poolCapacity,
			UsedCapacity:        used,
			FreeCapacity:        poolCapacity - used,
		})
	}
	return pools, nil
}

// ListVolumes 返回固定数量的卷，轮流挂到各个池上
func (d *Driver) ListVolumes(_ context.Context) ([]model.Volume, error) {
	volumes := make([]model.Volume, 0, volumeCount)
	for i := 0; i < volumeCount; i++ {
		used := volumeCapacity / int64(i+2)
		volumeType := model.VolumeTypeThin
		if i%2 == 1 {
			volumeType = model.VolumeTypeThick
		}
		volumes = append(volumes, model.Volume{
			NativeVolumeID:      fmt.Sprintf("fake-vol-%d", i),
			NativeStoragePoolID: fmt.Sprintf("fake-pool-%d", i%poolCount),
			Name:                fmt.Sprintf("fake_volume_%d", i),
			Status:              model.VolumeStatusAvailable,
			Type:                volumeType,
			WWN:                 fmt.Sprintf("60000000fa%02de%04d", i, i),
			TotalCapacity:       volumeCapacity,
			UsedCapacity:        used,
			FreeCapacity:        volumeCapacity - used,
		})
	}
	return volumes, nil
}

// ListAlerts 返回按固定时间基线排布的告警，query 过滤发生时刻
func (d *Driver) ListAlerts(_ context.Context, query *driver.AlertQuery) ([]model.Alert, error) {
	severities := []string{
		model.SeverityCritical,
		model.SeverityMajor,
		model.SeverityWarning,
		model.SeverityInformational,
	}
	alerts := make([]model.Alert, 0, alertCount)
	for i := 0; i < alertCount; i++ {
		occurMs := int64(alertBaseOccurSec+i*alertOccurStepSec) * 1000
		if !query.Matches(occurMs) {
			continue
		}
		alerts = append(alerts, model.Alert{
			AlertID:        fmt.Sprintf("fake-alert-%d", i),
			AlertName:      fmt.Sprintf("fake_alert_%d", i),
			Severity:       severities[i%len(severities)],
			Category:       model.CategoryFault,
			Type:           model.AlertTypeEquipmentAlarm,
			SequenceNumber: fmt.Sprintf("%d", 1000+i),
			OccurTime:      occurMs,
			Description:    fmt.Sprintf("simulated fault %d on %s", i, d.access.Host),
			ResourceType:   model.ResourceTypeStorage,
			Location:       fmt.Sprintf("enclosure-%d", i%2),
		})
	}
	return alerts, nil
}

// ClearAlert 假设备上清除告警永远成功
func (d *Driver) ClearAlert(_ context.Context, _ string) error {
	return nil
}

// defaultMetricSpec 未指定规格时的全量采集范围
func defaultMetricSpec() model.MetricSpec {
	return model.MetricSpec{
		model.ResourceTypeStorage: {
			model.MetricCPUUsage,
			model.MetricReadThroughput,
			model.MetricWriteThroughput,
		},
		model.ResourceTypeStoragePool: {
			model.MetricReadIOPS,
			model.MetricWriteIOPS,
			model.MetricReadThroughput,
			model.MetricWriteThroughput,
		},
		model.ResourceTypeVolume: {
			model.MetricReadIOPS,
			model.MetricWriteIOPS,
			model.MetricReadLatency,
			model.MetricWriteLatency,
		},
	}
}

// metricUnits 指标单位表
var metricUnits = map[string]string{
	model.MetricReadThroughput:  "MB/s",
	model.MetricWriteThroughput: "MB/s",
	model.MetricReadIOPS:        "IOPS",
	model.MetricWriteIOPS:       "IOPS",
	model.MetricReadLatency:     "ms",
	model.MetricWriteLatency:    "ms",
	model.MetricCPUUsage:        "%",
}

// CollectPerfMetrics 按分钟粒度生成窗口内的确定性样本。
// 同一资源、指标与时间戳的取值恒定，补采同一窗口得到同一批点。
func (d *Driver) CollectPerfMetrics(_ context.Context, spec model.MetricSpec, startMs, endMs int64) ([]model.MetricPoint, error) {
	if len(spec) == 0 {
		spec = defaultMetricSpec()
	}

	var points []model.MetricPoint
	for resourceType, metricNames := range spec {
		for _, resourceID := range d.resourceIDs(resourceType) {
			for _, metricName := range metricNames {
				for ts := startMs; ts < endMs; ts += metricSampleStepMs {
					points = append(points, model.MetricPoint{
						ResourceType: resourceType,
						ResourceID:   resourceID,
						MetricName:   metricName,
						Timestamp:    ts,
						Value:        sampleValue(resourceID, metricName, ts),
						Unit:         metricUnits[metricName],
					})
				}
			}
		}
	}
	return points, nil
}

func (d *Driver) resourceIDs(resourceType string) []string {
	switch resourceType {
	case model.ResourceTypeStorage:
		return []string{fmt.Sprintf("fake-sn-%s-%d", d.access.Host, d.access.Port)}
	case model.ResourceTypeStoragePool:
		ids := make([]string, poolCount)
		for i := range ids {
			ids[i] = fmt.Sprintf("fake-pool-%d", i)
		}
		return ids
	case model.ResourceTypeVolume:
		ids := make([]string, volumeCount)
		for i := range ids {
			ids[i] = fmt.Sprintf("fake-vol-%d", i)
		}
		return ids
	default:
		return nil
	}
}

// sampleValue 由资源、指标与时间戳散列出稳定取值
func sampleValue(resourceID, metricName string, tsMs int64) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%d", resourceID, metricName, tsMs/1000)
	return float64(h.Sum32()%10000) / 10.0
}

// ResetConnection 假设备没有会话可言
func (d *Driver) ResetConnection(_ context.Context) error {
	return nil
}

// Close 假设备没有连接可关
func (d *Driver) Close() error {
	return nil
}
