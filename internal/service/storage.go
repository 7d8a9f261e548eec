package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/internal/telemetry"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// ErrStorageExists 接入端点已被其他设备占用
var ErrStorageExists = errors.New("storage already registered")

// ErrStorageSyncing 设备正在同步，不允许删除
var ErrStorageSyncing = errors.New("storage is syncing")

// RegisterRequest 设备注册请求
type RegisterRequest struct {
	Name     string `json:"name"`
	Vendor   string `json:"vendor" binding:"required"`
	Model    string `json:"model" binding:"required"`
	Protocol string `json:"protocol" binding:"required"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Interval 性能采集周期（秒），0 取配置默认值，小于下限时被抬升
	Interval int64 `json:"interval"`
	// MetricSpec 性能采集规格，空时由驱动决定采集范围
	MetricSpec model.MetricSpec `json:"metric_spec"`
}

// StorageService 设备生命周期服务：注册、注销、触发同步。
// 注册成功即建立性能采集节拍，注销时级联清理所有关联数据。
type StorageService struct {
	cfg       *config.Config
	storages  *store.StorageStore
	tasks     *store.TaskStore
	failed    *store.FailedTaskStore
	pools     *store.PoolStore
	volumes   *store.VolumeStore
	alerts    *store.AlertStore
	metrics   *store.MetricStore
	drivers   *driver.Manager
	resources *ResourceService
	alertSvc  *AlertService
	scheduler *telemetry.Scheduler
}

// NewStorageService 创建设备生命周期服务
func NewStorageService(
	cfg *config.Config,
	storages *store.StorageStore,
	tasks *store.TaskStore,
	failed *store.FailedTaskStore,
	pools *store.PoolStore,
	volumes *store.VolumeStore,
	alerts *store.AlertStore,
	metrics *store.MetricStore,
	drivers *driver.Manager,
	resources *ResourceService,
	alertSvc *AlertService,
	scheduler *telemetry.Scheduler,
) *StorageService {
	return &StorageService{
		cfg:       cfg,
		storages:  storages,
		tasks:     tasks,
		failed:    failed,
		pools:     pools,
		volumes:   volumes,
		alerts:    alerts,
		metrics:   metrics,
		drivers:   drivers,
		resources: resources,
		alertSvc:  alertSvc,
		scheduler: scheduler,
	}
}

// Register 注册存储设备：查重接入端点、用驱动试连取回设备信息、
// 落库并建立性能采集任务，最后异步做首轮资源与告警同步。
func (s *StorageService) Register(ctx context.Context, req *RegisterRequest) (*model.Storage, error) {
	req.Protocol = strings.ToLower(strings.TrimSpace(req.Protocol))
	req.Vendor = strings.TrimSpace(req.Vendor)
	req.Model = strings.TrimSpace(req.Model)
	req.Host = strings.TrimSpace(req.Host)

	// 同一端点只允许注册一次，账号不同不算新设备
	existing, err := s.storages.FindAccessByEndpoint(ctx, req.Protocol, req.Host, req.Port)
	if err != nil && !errors.Is(err, store.ErrStorageNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: endpoint %s://%s:%d used by storage %s",
			ErrStorageExists, req.Protocol, req.Host, req.Port, existing.StorageID)
	}

	access := &model.AccessInfo{
		Vendor:   req.Vendor,
		Model:    req.Model,
		Protocol: req.Protocol,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	}

	// 注册前试连：建不起驱动或取不到设备信息都视为接入信息有误
	probe, err := driver.BuildDriver(access)
	if err != nil {
		return nil, fmt.Errorf("unsupported or invalid access info: %w", err)
	}
	defer probe.Close()
	device, err := probe.GetStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to access storage device: %w", err)
	}

	storage := device
	storage.ID = uuid.New().String()
	storage.Vendor = req.Vendor
	storage.Model = req.Model
	if req.Name != "" {
		storage.Name = req.Name
	}
	if storage.Status == "" {
		storage.Status = model.StorageStatusNormal
	}
	access.StorageID = storage.ID

	if err := s.storages.Create(ctx, storage, access); err != nil {
		return nil, err
	}

	task, err := s.createCollectionTask(ctx, storage.ID, req)
	if err != nil {
		// 任务建不起来就回滚整个注册，半注册状态最难排查
		if derr := s.storages.Delete(ctx, storage.ID); derr != nil {
			logger.Error("Failed to roll back storage registration",
				"storage_id", storage.ID, "error", derr)
		}
		return nil, err
	}
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleTask(task); err != nil {
			logger.Error("Failed to schedule collection task",
				"task_id", task.ID, "storage_id", storage.ID, "error", err)
		}
	}

	// 首轮同步不阻塞注册响应
	go s.initialSync(storage.ID)

	logger.Info("Storage registered",
		"storage_id", storage.ID, "name", storage.Name,
		"vendor", storage.Vendor, "model", storage.Model,
		"endpoint", fmt.Sprintf("%s://%s:%d", req.Protocol, req.Host, req.Port))
	return storage, nil
}

// createCollectionTask 建立性能采集任务，周期低于下限时抬升到下限
func (s *StorageService) createCollectionTask(ctx context.Context, storageID string, req *RegisterRequest) (*model.Task, error) {
	interval := req.Interval
	if interval <= 0 {
		interval = s.cfg.Telemetry.PerformanceCollectionInterval
	}
	if interval < s.cfg.Telemetry.MinCollectionInterval {
		logger.Warn("Collection interval below minimum, raising",
			"storage_id", storageID, "requested", interval,
			"minimum", s.cfg.Telemetry.MinCollectionInterval)
		interval = s.cfg.Telemetry.MinCollectionInterval
	}

	args := ""
	if len(req.MetricSpec) > 0 {
		encoded, err := model.EncodeMetricSpec(req.MetricSpec)
		if err != nil {
			return nil, err
		}
		args = encoded
	}

	task := &model.Task{
		StorageID: storageID,
		Method:    model.TaskMethodPerformanceCollection,
		Interval:  interval,
		Args:      args,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create collection task: %w", err)
	}
	return task, nil
}

// initialSync 注册后的首轮资源与告警同步
func (s *StorageService) initialSync(storageID string) {
	ctx := context.Background()
	if err := s.resources.SyncStorage(ctx, storageID); err != nil {
		logger.Error("Initial resource sync failed", "storage_id", storageID, "error", err)
	}
	if _, err := s.alertSvc.SyncAlerts(ctx, storageID, nil); err != nil {
		logger.Error("Initial alert sync failed", "storage_id", storageID, "error", err)
	}
}

// Get 查询单个设备
func (s *StorageService) Get(ctx context.Context, storageID string) (*model.Storage, error) {
	return s.storages.Get(ctx, storageID)
}

// List 按条件查询设备
func (s *StorageService) List(ctx context.Context, filter store.StorageFilter) ([]model.Storage, error) {
	return s.storages.List(ctx, filter)
}

// Sync 触发单个设备的资源同步
func (s *StorageService) Sync(ctx context.Context, storageID string) error {
	return s.resources.SyncStorage(ctx, storageID)
}

// SyncAll 触发全部设备的资源同步，受并发上限约束
func (s *StorageService) SyncAll(ctx context.Context) error {
	storages, err := s.storages.List(ctx, store.StorageFilter{})
	if err != nil {
		return err
	}

	g := &errgroup.Group{}
	g.SetLimit(4)
	for i := range storages {
		storageID := storages[i].ID
		g.Go(func() error {
			if err := s.resources.SyncStorage(ctx, storageID); err != nil {
				// 单台失败不拦住其他设备的同步
				logger.Error("Resource sync failed", "storage_id", storageID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Delete 注销设备：撤掉采集节拍后级联删除任务、失败记录、资源、
// 告警、指标与接入信息，最后关闭缓存的驱动连接。
func (s *StorageService) Delete(ctx context.Context, storageID string) error {
	storage, err := s.storages.Get(ctx, storageID)
	if err != nil {
		return err
	}
	if storage.SyncStatus > 0 {
		return fmt.Errorf("%w: storage %s", ErrStorageSyncing, storageID)
	}

	tasks, err := s.tasks.List(ctx, storageID)
	if err != nil {
		return err
	}
	if s.scheduler != nil {
		for i := range tasks {
			s.scheduler.UnscheduleTask(tasks[i].ID)
		}
	}

	if err := s.tasks.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.failed.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.pools.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.volumes.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.alerts.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.metrics.DeleteByStorage(ctx, storageID); err != nil {
		return err
	}
	if err := s.storages.Delete(ctx, storageID); err != nil {
		return err
	}
	s.drivers.Remove(storageID)

	logger.Info("Storage deleted", "storage_id", storageID, "tasks_removed", len(tasks))
	return nil
}
