package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetricPoint 单个标准化性能指标点。
// (storage_id, resource_type, resource_id, metric_name, timestamp) 唯一，
// 写入走按键 upsert，重复补采同一窗口不会产生重复数据点。
type MetricPoint struct {
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	StorageID    string `json:"storage_id" gorm:"type:varchar(36);not null;uniqueIndex:uk_metric_point,priority:1"`
	ResourceType string `json:"resource_type" gorm:"type:varchar(32);not null;uniqueIndex:uk_metric_point,priority:2"`
	ResourceID   string `json:"resource_id" gorm:"type:varchar(128);not null;uniqueIndex:uk_metric_point,priority:3"`
	MetricName   string `json:"metric_name" gorm:"type:varchar(64);not null;uniqueIndex:uk_metric_point,priority:4"`
	Timestamp    int64  `json:"timestamp" gorm:"not null;uniqueIndex:uk_metric_point,priority:5"` // 毫秒时间戳
	Value        float64 `json:"value" gorm:"not null"`
	Unit         string  `json:"unit" gorm:"type:varchar(16)"`
	// Labels 附加维度（JSON 文本），例如控制器名称；不参与唯一键
	Labels    string    `json:"labels" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (MetricPoint) TableName() string {
	return "metric_points"
}

// MetricName 常用指标名枚举
const (
	MetricReadThroughput  = "readThroughput"
	MetricWriteThroughput = "writeThroughput"
	MetricReadIOPS        = "readIops"
	MetricWriteIOPS       = "writeIops"
	MetricReadLatency     = "readResponseTime"
	MetricWriteLatency    = "writeResponseTime"
	MetricCPUUsage        = "cpuUsage"
)

// MetricSpec 性能采集规格：resource_type -> 需要采集的指标名列表。
// 以 JSON 文本形式存放在 Task.Args 中，对调度核心不透明。
type MetricSpec map[string][]string

// EncodeMetricSpec 序列化采集规格，用于写入任务 Args
func EncodeMetricSpec(spec MetricSpec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode metric spec: %w", err)
	}
	return string(data), nil
}

// DecodeMetricSpec 从任务 Args 解析采集规格
func DecodeMetricSpec(args string) (MetricSpec, error) {
	if args == "" {
		return MetricSpec{}, nil
	}
	var spec MetricSpec
	if err := json.Unmarshal([]byte(args), &spec); err != nil {
		return nil, fmt.Errorf("failed to decode metric spec: %w", err)
	}
	return spec, nil
}

// EncodeLabels 序列化指标附加维度
func EncodeLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return ""
	}
	return string(data)
}
