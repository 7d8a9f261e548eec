package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// resourceSyncCount 一次全量同步覆盖的资源种类数，写入 sync_status
const resourceSyncCount = 3

// ResourceService 资源同步服务：从驱动拉取设备端资源清单，
// 与库中记录比对后增改删，使本地清单跟上设备实际状态。
type ResourceService struct {
	storages *store.StorageStore
	pools    *store.PoolStore
	volumes  *store.VolumeStore
	drivers  *driver.Manager
}

// NewResourceService 创建资源同步服务
func NewResourceService(storages *store.StorageStore, pools *store.PoolStore, volumes *store.VolumeStore, drivers *driver.Manager) *ResourceService {
	return &ResourceService{
		storages: storages,
		pools:    pools,
		volumes:  volumes,
		drivers:  drivers,
	}
}

// SyncStorage 并行刷新设备基础信息、存储池与卷。同一设备同时只允许
// 一轮同步，sync_status 在开始时置为资源种类数，每类同步完减一。
func (s *ResourceService) SyncStorage(ctx context.Context, storageID string) error {
	storage, err := s.storages.Get(ctx, storageID)
	if err != nil {
		return err
	}
	if storage.SyncStatus > 0 {
		return fmt.Errorf("storage %s is already syncing", storageID)
	}

	drv, err := s.drivers.GetDriver(ctx, storageID)
	if err != nil {
		return err
	}
	if err := s.storages.SetSyncStatus(ctx, storageID, resourceSyncCount); err != nil {
		return err
	}

	// 各类资源相互独立，一类失败不取消其余同步
	var g errgroup.Group
	g.Go(func() error {
		defer s.decrSync(storageID)
		return s.syncStorageInfo(ctx, storage, drv)
	})
	g.Go(func() error {
		defer s.decrSync(storageID)
		return s.syncPools(ctx, storageID, drv)
	})
	g.Go(func() error {
		defer s.decrSync(storageID)
		return s.syncVolumes(ctx, storageID, drv)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Resource sync finished with errors", "storage_id", storageID, "error", err)
		return err
	}
	logger.Info("Resource sync completed", "storage_id", storageID)
	return nil
}

// decrSync 回落同步计数。父上下文可能已取消，计数回落用独立上下文，
// 否则设备会永远卡在同步中状态。
func (s *ResourceService) decrSync(storageID string) {
	if err := s.storages.DecrSyncStatus(context.Background(), storageID); err != nil {
		logger.Error("Failed to decrement sync status", "storage_id", storageID, "error", err)
	}
}

func (s *ResourceService) syncStorageInfo(ctx context.Context, storage *model.Storage, drv driver.Driver) error {
	latest, err := drv.GetStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to get storage info: %w", err)
	}

	if latest.Name != "" {
		storage.Name = latest.Name
	}
	if latest.Status != "" {
		storage.Status = latest.Status
	}
	storage.SerialNumber = latest.SerialNumber
	storage.FirmwareVersion = latest.FirmwareVersion
	storage.Location = latest.Location
	storage.TotalCapacity = latest.TotalCapacity
	storage.RawCapacity = latest.RawCapacity
	storage.UsedCapacity = latest.UsedCapacity
	storage.FreeCapacity = latest.FreeCapacity

	if err := s.storages.Update(ctx, storage); err != nil {
		return fmt.Errorf("failed to update storage info: %w", err)
	}
	return nil
}

func (s *ResourceService) syncPools(ctx context.Context, storageID string, drv driver.Driver) error {
	latest, err := drv.ListStoragePools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list storage pools: %w", err)
	}
	existing, err := s.pools.ListByStorage(ctx, storageID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(latest))
	for i := range latest {
		latest[i].StorageID = storageID
		if latest[i].ID == "" {
			latest[i].ID = uuid.New().String()
		}
		seen[latest[i].NativeStoragePoolID] = struct{}{}
	}
	if len(latest) > 0 {
		if err := s.pools.Upsert(ctx, latest); err != nil {
			return fmt.Errorf("failed to upsert storage pools: %w", err)
		}
	}

	var stale []string
	for i := range existing {
		if _, ok := seen[existing[i].NativeStoragePoolID]; !ok {
			stale = append(stale, existing[i].NativeStoragePoolID)
		}
	}
	if len(stale) > 0 {
		if err := s.pools.DeleteByNativeIDs(ctx, storageID, stale); err != nil {
			return fmt.Errorf("failed to delete stale storage pools: %w", err)
		}
	}

	logger.Debug("Storage pools synced",
		"storage_id", storageID, "reported", len(latest), "removed", len(stale))
	return nil
}

func (s *ResourceService) syncVolumes(ctx context.Context, storageID string, drv driver.Driver) error {
	latest, err := drv.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}
	existing, err := s.volumes.ListByStorage(ctx, storageID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(latest))
	for i := range latest {
		latest[i].StorageID = storageID
		if latest[i].ID == "" {
			latest[i].ID = uuid.New().String()
		}
		seen[latest[i].NativeVolumeID] = struct{}{}
	}
	if len(latest) > 0 {
		if err := s.volumes.Upsert(ctx, latest); err != nil {
			return fmt.Errorf("failed to upsert volumes: %w", err)
		}
	}

	var stale []string
	for i := range existing {
		if _, ok := seen[existing[i].NativeVolumeID]; !ok {
			stale = append(stale, existing[i].NativeVolumeID)
		}
	}
	if len(stale) > 0 {
		if err := s.volumes.DeleteByNativeIDs(ctx, storageID, stale); err != nil {
			return fmt.Errorf("failed to delete stale volumes: %w", err)
		}
	}

	logger.Debug("Volumes synced",
		"storage_id", storageID, "reported", len(latest), "removed", len(stale))
	return nil
}
