package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageStore 存储设备与接入信息存取
type StorageStore struct{}

// NewStorageStore 创建存储设备存取器
func NewStorageStore() *StorageStore {
	return &StorageStore{}
}

// Create 同一事务内写入设备与接入信息，避免注册中断留下残留数据
func (s *StorageStore) Create(ctx context.Context, storage *model.Storage, access *model.AccessInfo) error {
	err := database.TransactionWithRetry(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(storage).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Create(access).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to create storage %s: %w", storage.ID, err)
	}
	return nil
}

// Get 按 ID 获取设备，不存在时返回 ErrStorageNotFound
func (s *StorageStore) Get(ctx context.Context, storageID string) (*model.Storage, error) {
	var storage model.Storage
	err := database.GetDB().WithContext(ctx).First(&storage, "id = ?", storageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStorageNotFound
		}
		return nil, fmt.Errorf("failed to get storage %s: %w", storageID, err)
	}
	return &storage, nil
}

// StorageFilter 设备列表过滤条件
type StorageFilter struct {
	Name         string
	Vendor       string
	Status       string
	SerialNumber string
}

// List 列出设备
func (s *StorageStore) List(ctx context.Context, filter StorageFilter) ([]model.Storage, error) {
	query := database.GetDB().WithContext(ctx).Model(&model.Storage{})
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Vendor != "" {
		query = query.Where("vendor = ?", filter.Vendor)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.SerialNumber != "" {
		query = query.Where("serial_number = ?", filter.SerialNumber)
	}
	var storages []model.Storage
	if err := query.Order("created_at").Find(&storages).Error; err != nil {
		return nil, fmt.Errorf("failed to list storages: %w", err)
	}
	return storages, nil
}

// Update 保存设备全量字段
func (s *StorageStore) Update(ctx context.Context, storage *model.Storage) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Save(storage).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to update storage %s: %w", storage.ID, err)
	}
	return nil
}

// SetSyncStatus 设置同步状态计数
func (s *StorageStore) SetSyncStatus(ctx context.Context, storageID string, status int) error {
	var rows int64
	err := database.WithRetry(func(db *gorm.DB) error {
		res := db.WithContext(ctx).Model(&model.Storage{}).
			Where("id = ?", storageID).
			Update("sync_status", status)
		rows = res.RowsAffected
		return res.Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to set sync status of storage %s: %w", storageID, err)
	}
	if rows == 0 {
		return ErrStorageNotFound
	}
	return nil
}

// DecrSyncStatus 单个资源同步完成后递减计数，不会降到 0 以下
func (s *StorageStore) DecrSyncStatus(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Storage{}).
			Where("id = ? AND sync_status > 0", storageID).
			Update("sync_status", gorm.Expr("sync_status - 1")).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to decrement sync status of storage %s: %w", storageID, err)
	}
	return nil
}

// Delete 删除设备及其接入信息
func (s *StorageStore) Delete(ctx context.Context, storageID string) error {
	err := database.TransactionWithRetry(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Delete(&model.AccessInfo{}, "storage_id = ?", storageID).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Delete(&model.Storage{}, "id = ?", storageID).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete storage %s: %w", storageID, err)
	}
	return nil
}

// GetAccessInfo 获取设备接入信息
func (s *StorageStore) GetAccessInfo(ctx context.Context, storageID string) (*model.AccessInfo, error) {
	var access model.AccessInfo
	err := database.GetDB().WithContext(ctx).First(&access, "storage_id = ?", storageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStorageNotFound
		}
		return nil, fmt.Errorf("failed to get access info of storage %s: %w", storageID, err)
	}
	return &access, nil
}

// FindAccessByEndpoint 查找相同接入端点的记录，用于注册查重。
// 用户名不参与查重：同一设备换个账号仍然是同一设备。
func (s *StorageStore) FindAccessByEndpoint(ctx context.Context, protocol, host string, port int) (*model.AccessInfo, error) {
	var access model.AccessInfo
	err := database.GetDB().WithContext(ctx).
		Where("protocol = ? AND host = ? AND port = ?", protocol, host, port).
		First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStorageNotFound
		}
		return nil, fmt.Errorf("failed to find access info by endpoint: %w", err)
	}
	return &access, nil
}

// PoolStore 存储池存取
type PoolStore struct{}

// NewPoolStore 创建存储池存取器
func NewPoolStore() *PoolStore {
	return &PoolStore{}
}

// ListByStorage 列出设备的全部存储池
func (s *PoolStore) ListByStorage(ctx context.Context, storageID string) ([]model.StoragePool, error) {
	var pools []model.StoragePool
	err := database.GetDB().WithContext(ctx).
		Where("storage_id = ?", storageID).
		Order("native_storage_pool_id").
		Find(&pools).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pools of storage %s: %w", storageID, err)
	}
	return pools, nil
}

// Upsert 按 (storage_id, native_storage_pool_id) 写入或覆盖
func (s *PoolStore) Upsert(ctx context.Context, pools []model.StoragePool) error {
	if len(pools) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "storage_id"}, {Name: "native_storage_pool_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "status", "storage_type",
				"total_capacity", "used_capacity", "free_capacity", "updated_at",
			}),
		}).Create(&pools).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to upsert %d pools: %w", len(pools), err)
	}
	return nil
}

// DeleteByNativeIDs 删除已从设备上消失的存储池
func (s *PoolStore) DeleteByNativeIDs(ctx context.Context, storageID string, nativeIDs []string) error {
	if len(nativeIDs) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("storage_id = ? AND native_storage_pool_id IN ?", storageID, nativeIDs).
			Delete(&model.StoragePool{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete pools of storage %s: %w", storageID, err)
	}
	return nil
}

// DeleteByStorage 删除设备的全部存储池
func (s *PoolStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.StoragePool{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete pools of storage %s: %w", storageID, err)
	}
	return nil
}

// VolumeStore 卷存取
type VolumeStore struct{}

// NewVolumeStore 创建卷存取器
func NewVolumeStore() *VolumeStore {
	return &VolumeStore{}
}

// ListByStorage 列出设备的全部卷
func (s *VolumeStore) ListByStorage(ctx context.Context, storageID string) ([]model.Volume, error) {
	var volumes []model.Volume
	err := database.GetDB().WithContext(ctx).
		Where("storage_id = ?", storageID).
		Order("native_volume_id").
		Find(&volumes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes of storage %s: %w", storageID, err)
	}
	return volumes, nil
}

// Upsert 按 (storage_id, native_volume_id) 写入或覆盖
func (s *VolumeStore) Upsert(ctx context.Context, volumes []model.Volume) error {
	if len(volumes) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "storage_id"}, {Name: "native_volume_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "status", "type", "wwn", "native_storage_pool_id",
				"total_capacity", "used_capacity", "free_capacity", "updated_at",
			}),
		}).Create(&volumes).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to upsert %d volumes: %w", len(volumes), err)
	}
	return nil
}

// DeleteByNativeIDs 删除已从设备上消失的卷
func (s *VolumeStore) DeleteByNativeIDs(ctx context.Context, storageID string, nativeIDs []string) error {
	if len(nativeIDs) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("storage_id = ? AND native_volume_id IN ?", storageID, nativeIDs).
			Delete(&model.Volume{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete volumes of storage %s: %w", storageID, err)
	}
	return nil
}

// DeleteByStorage 删除设备的全部卷
func (s *VolumeStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.Volume{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete volumes of storage %s: %w", storageID, err)
	}
	return nil
}
