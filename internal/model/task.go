package model

import (
	"time"
)

// Task 周期性遥测采集任务。每个注册存储设备至少持有一条性能采集任务，
// 调度器按 Interval 触发，采集处理器只改写 LastRunTime。
type Task struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	StorageID string `json:"storage_id" gorm:"type:varchar(36);not null;index"`
	// Args 驱动专用配置（JSON 文本）。性能采集方法下为 resource_type -> 指标名列表
	Args     string `json:"args" gorm:"type:text"`
	Interval int64  `json:"interval" gorm:"not null"` // 采集周期，秒，必须大于 0
	Method   string `json:"method" gorm:"type:varchar(64);not null"`
	// LastRunTime 最近一次成功采集时刻（秒级时间戳），0 表示尚未运行
	LastRunTime int64     `json:"last_run_time" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Task) TableName() string {
	return "tasks"
}

// TaskMethod 任务方法枚举，标识失败后由哪个恢复例程接手
const (
	TaskMethodPerformanceCollection = "performance_collection"
)

// FailedTask 一次错过的采集窗口的持久化记录，等待恢复处理器补采。
// 窗口取自失败当时计算出的 [StartTime, EndTime)，重试时不得重新计算。
type FailedTask struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID    uint   `json:"task_id" gorm:"not null;index"`
	StorageID string `json:"storage_id" gorm:"type:varchar(36);not null;index"`
	Method    string `json:"method" gorm:"type:varchar(64);not null"`
	StartTime int64  `json:"start_time" gorm:"not null"` // 毫秒时间戳
	EndTime   int64  `json:"end_time" gorm:"not null"`   // 毫秒时间戳，恒大于 StartTime
	// Interval 重试节奏（秒），创建时写入固定的周期重试常量
	Interval   int64     `json:"interval" gorm:"not null"`
	RetryCount int       `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (FailedTask) TableName() string {
	return "failed_tasks"
}
