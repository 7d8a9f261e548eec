package model

import (
	"time"
)

// Alert 标准化告警记录。各厂商驱动把原始事件归一化为该结构后返回，
// 返回后不再修改；入库用于查询与清除。
type Alert struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	StorageID      string    `json:"storage_id" gorm:"type:varchar(36);not null;index;uniqueIndex:uk_alert_seq,priority:1"`
	AlertID        string    `json:"alert_id" gorm:"type:varchar(128);not null"`
	AlertName      string    `json:"alert_name" gorm:"type:varchar(255)"`
	Severity       string    `json:"severity" gorm:"type:varchar(16);not null;default:'NotSpecified'"`
	Category       string    `json:"category" gorm:"type:varchar(16);not null;default:'Fault'"`
	Type           string    `json:"type" gorm:"type:varchar(32)"`
	SequenceNumber string    `json:"sequence_number" gorm:"type:varchar(128);not null;uniqueIndex:uk_alert_seq,priority:2"`
	OccurTime      int64     `json:"occur_time"` // 毫秒时间戳
	Description    string    `json:"description" gorm:"type:text"`
	ResourceType   string    `json:"resource_type" gorm:"type:varchar(32)"`
	Location       string    `json:"location" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (Alert) TableName() string {
	return "alerts"
}

// Severity 告警级别枚举
const (
	SeverityCritical      = "Critical"
	SeverityMajor         = "Major"
	SeverityWarning       = "Warning"
	SeverityFatal         = "Fatal"
	SeverityInformational = "Informational"
	SeverityNotSpecified  = "NotSpecified"
)

// Category 告警分类枚举
const (
	CategoryFault = "Fault"
	CategoryEvent = "Event"
	CategoryNew   = "New"
)

// AlertType 告警类型枚举
const (
	AlertTypeEquipmentAlarm       = "EquipmentAlarm"
	AlertTypeCommunicationsAlarm  = "CommunicationsAlarm"
	AlertTypeProcessingErrorAlarm = "ProcessingErrorAlarm"
	AlertTypeEnvironmentalAlarm   = "EnvironmentalAlarm"
)
