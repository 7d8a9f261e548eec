// Package driver 定义厂商驱动的能力契约：各厂商适配器把私有
// 接口返回归一化为统一的资源、告警与指标结构，上层只依赖该接口。
package driver

import (
	"context"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

// Driver 厂商驱动能力集。实例在创建时绑定到单个存储设备，
// 实现方负责维护会话（令牌续期、连接池）并保证并发调用安全。
type Driver interface {
	// GetStorage 返回设备基础信息与容量
	GetStorage(ctx context.Context) (*model.Storage, error)
	// ListStoragePools 返回全部存储池
	ListStoragePools(ctx context.Context) ([]model.StoragePool, error)
	// ListVolumes 返回全部卷
	ListVolumes(ctx context.Context) ([]model.Volume, error)
	// ListAlerts 返回时间范围内的标准化告警，query 为 nil 时返回全部
	ListAlerts(ctx context.Context, query *AlertQuery) ([]model.Alert, error)
	// ClearAlert 按流水号清除设备上的告警
	ClearAlert(ctx context.Context, sequenceNumber string) error
	// CollectPerfMetrics 采集 [startMs, endMs) 窗口内的性能指标
	CollectPerfMetrics(ctx context.Context, spec model.MetricSpec, startMs, endMs int64) ([]model.MetricPoint, error)
	// ResetConnection 丢弃现有会话并重建连接
	ResetConnection(ctx context.Context) error
	// Close 释放会话与连接
	Close() error
}

// AlertQuery 告警查询时间范围，秒级时间戳，0 表示该侧不设界
type AlertQuery struct {
	BeginTime int64 `json:"begin_time"`
	EndTime   int64 `json:"end_time"`
}

// Matches 判断毫秒级发生时刻是否落在查询范围内。
// 范围边界为秒，比较前换算到毫秒，两端均为闭区间。
func (q *AlertQuery) Matches(occurTimeMs int64) bool {
	if q == nil {
		return true
	}
	if q.BeginTime > 0 && occurTimeMs < q.BeginTime*1000 {
		return false
	}
	if q.EndTime > 0 && occurTimeMs > q.EndTime*1000 {
		return false
	}
	return true
}
