package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// AlertService 告警服务：从设备拉取标准化告警入库，对外提供查询
// 与清除。清除先下发设备，设备成功后才删本地记录。
type AlertService struct {
	alerts  *store.AlertStore
	drivers *driver.Manager
}

// NewAlertService 创建告警服务
func NewAlertService(alerts *store.AlertStore, drivers *driver.Manager) *AlertService {
	return &AlertService{alerts: alerts, drivers: drivers}
}

// SyncAlerts 按时间范围拉取设备告警并入库，query 为 nil 时同步全部。
// 以 storage_id + sequence_number 去重，重复同步不产生重复记录。
func (s *AlertService) SyncAlerts(ctx context.Context, storageID string, query *driver.AlertQuery) (int, error) {
	drv, err := s.drivers.GetDriver(ctx, storageID)
	if err != nil {
		return 0, err
	}

	alerts, err := drv.ListAlerts(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to list alerts from device: %w", err)
	}
	for i := range alerts {
		alerts[i].StorageID = storageID
	}
	if len(alerts) > 0 {
		if err := s.alerts.Upsert(ctx, alerts); err != nil {
			return 0, fmt.Errorf("failed to persist alerts: %w", err)
		}
	}

	logger.Info("Alerts synced", "storage_id", storageID, "count", len(alerts))
	return len(alerts), nil
}

// List 查询本地告警记录
func (s *AlertService) List(ctx context.Context, storageID string, filter store.AlertFilter) ([]model.Alert, error) {
	return s.alerts.ListByStorage(ctx, storageID, filter)
}

// ClearAlert 清除一条告警：先在设备上清除，成功后删除本地记录。
// 设备不支持清除时仅删本地记录。
func (s *AlertService) ClearAlert(ctx context.Context, storageID, sequenceNumber string) error {
	drv, err := s.drivers.GetDriver(ctx, storageID)
	if err != nil {
		return err
	}

	if err := drv.ClearAlert(ctx, sequenceNumber); err != nil {
		if !errors.Is(err, driver.ErrNotSupported) {
			return fmt.Errorf("failed to clear alert on device: %w", err)
		}
		logger.Debug("Driver does not support alert clearing, removing local record only",
			"storage_id", storageID, "sequence_number", sequenceNumber)
	}

	if err := s.alerts.DeleteBySequence(ctx, storageID, sequenceNumber); err != nil {
		return err
	}
	logger.Info("Alert cleared", "storage_id", storageID, "sequence_number", sequenceNumber)
	return nil
}
