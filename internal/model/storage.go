package model

import (
	"time"
)

// Storage 存储设备
type Storage struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name            string    `json:"name" gorm:"type:varchar(255);not null"`
	Vendor          string    `json:"vendor" gorm:"type:varchar(64);not null;index"`
	Model           string    `json:"model" gorm:"type:varchar(64);not null"`
	Status          string    `json:"status" gorm:"type:varchar(16);not null;default:'normal'"`
	SerialNumber    string    `json:"serial_number" gorm:"type:varchar(128);index"`
	FirmwareVersion string    `json:"firmware_version" gorm:"type:varchar(64)"`
	Location        string    `json:"location" gorm:"type:varchar(255)"`
	TotalCapacity   int64     `json:"total_capacity"`
	RawCapacity     int64     `json:"raw_capacity"`
	UsedCapacity    int64     `json:"used_capacity"`
	FreeCapacity    int64     `json:"free_capacity"`
	// SyncStatus 资源同步状态：0 表示空闲，>0 表示仍在同步中的资源种类数
	SyncStatus int       `json:"sync_status" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Storage) TableName() string {
	return "storages"
}

// StorageStatus 存储设备状态枚举
const (
	StorageStatusNormal   = "normal"
	StorageStatusAbnormal = "abnormal"
	StorageStatusOffline  = "offline"
	StorageStatusDegraded = "degraded"
)

// AccessInfo 设备接入信息，注册时写入，驱动管理器据此重建驱动连接
type AccessInfo struct {
	StorageID string    `json:"storage_id" gorm:"primaryKey;type:varchar(36)"`
	Vendor    string    `json:"vendor" gorm:"type:varchar(64);not null"`
	Model     string    `json:"model" gorm:"type:varchar(64);not null"`
	Protocol  string    `json:"protocol" gorm:"type:varchar(16);not null"`
	Host      string    `json:"host" gorm:"type:varchar(64);not null"`
	Port      int       `json:"port" gorm:"not null"`
	Username  string    `json:"username" gorm:"type:varchar(64)"`
	Password  string    `json:"password" gorm:"type:varchar(256)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (AccessInfo) TableName() string {
	return "access_infos"
}

// AccessProtocol 接入协议枚举
const (
	AccessProtocolRest = "rest"
	AccessProtocolSSH  = "ssh"
	AccessProtocolFake = "fake"
)

// StoragePool 存储池
type StoragePool struct {
	ID                  string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	NativeStoragePoolID string    `json:"native_storage_pool_id" gorm:"type:varchar(128);not null;uniqueIndex:uk_pool_native,priority:2"`
	StorageID           string    `json:"storage_id" gorm:"type:varchar(36);not null;index;uniqueIndex:uk_pool_native,priority:1"`
	Name                string    `json:"name" gorm:"type:varchar(255);not null"`
	Status              string    `json:"status" gorm:"type:varchar(16);not null;default:'normal'"`
	StorageType         string    `json:"storage_type" gorm:"type:varchar(16)"`
	TotalCapacity       int64     `json:"total_capacity"`
	UsedCapacity        int64     `json:"used_capacity"`
	FreeCapacity        int64     `json:"free_capacity"`
	CreatedAt           time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (StoragePool) TableName() string {
	return "storage_pools"
}

// StoragePoolStatus 存储池状态枚举
const (
	StoragePoolStatusNormal   = "normal"
	StoragePoolStatusAbnormal = "abnormal"
	StoragePoolStatusOffline  = "offline"
)

// StorageType 存储类型枚举
const (
	StorageTypeBlock = "block"
	StorageTypeFile  = "file"
)

// Volume 卷
type Volume struct {
	ID                  string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	NativeVolumeID      string    `json:"native_volume_id" gorm:"type:varchar(128);not null;uniqueIndex:uk_volume_native,priority:2"`
	StorageID           string    `json:"storage_id" gorm:"type:varchar(36);not null;index;uniqueIndex:uk_volume_native,priority:1"`
	NativeStoragePoolID string    `json:"native_storage_pool_id" gorm:"type:varchar(128);index"`
	Name                string    `json:"name" gorm:"type:varchar(255);not null"`
	Status              string    `json:"status" gorm:"type:varchar(16);not null;default:'available'"`
	Type                string    `json:"type" gorm:"type:varchar(16)"`
	WWN                 string    `json:"wwn" gorm:"type:varchar(128)"`
	TotalCapacity       int64     `json:"total_capacity"`
	UsedCapacity        int64     `json:"used_capacity"`
	FreeCapacity        int64     `json:"free_capacity"`
	CreatedAt           time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Volume) TableName() string {
	return "volumes"
}

// VolumeStatus 卷状态枚举
const (
	VolumeStatusAvailable = "available"
	VolumeStatusError     = "error"
)

// VolumeType 卷类型枚举
const (
	VolumeTypeThin  = "thin"
	VolumeTypeThick = "thick"
)

// ResourceType 资源类型枚举（性能采集的 metric spec 以此为键）
const (
	ResourceTypeStorage     = "storage"
	ResourceTypeStoragePool = "storagePool"
	ResourceTypeVolume      = "volume"
	ResourceTypeController  = "controller"
)
