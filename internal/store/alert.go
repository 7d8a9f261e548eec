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

// AlertStore 告警记录存取
type AlertStore struct{}

// NewAlertStore 创建告警存取器
func NewAlertStore() *AlertStore {
	return &AlertStore{}
}

// Upsert 按 (storage_id, sequence_number) 写入或覆盖，
// 重复同步同一时间段不会堆积重复告警
func (s *AlertStore) Upsert(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "storage_id"}, {Name: "sequence_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"alert_id", "alert_name", "severity", "category", "type",
				"occur_time", "description", "resource_type", "location",
			}),
		}).Create(&alerts).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to upsert %d alerts: %w", len(alerts), err)
	}
	return nil
}

// AlertFilter 告警查询条件，时间均为秒级时间戳，0 表示不限
type AlertFilter struct {
	Severity  string
	BeginTime int64
	EndTime   int64
}

// ListByStorage 列出设备告警，按发生时间倒序
func (s *AlertStore) ListByStorage(ctx context.Context, storageID string, filter AlertFilter) ([]model.Alert, error) {
	query := database.GetDB().WithContext(ctx).Where("storage_id = ?", storageID)
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.BeginTime > 0 {
		query = query.Where("occur_time >= ?", filter.BeginTime*1000)
	}
	if filter.EndTime > 0 {
		query = query.Where("occur_time <= ?", filter.EndTime*1000)
	}
	var alerts []model.Alert
	if err := query.Order("occur_time desc").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts of storage %s: %w", storageID, err)
	}
	return alerts, nil
}

// GetBySequence 按流水号获取告警
func (s *AlertStore) GetBySequence(ctx context.Context, storageID, sequenceNumber string) (*model.Alert, error) {
	var alert model.Alert
	err := database.GetDB().WithContext(ctx).
		Where("storage_id = ? AND sequence_number = ?", storageID, sequenceNumber).
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s/%s: %w", storageID, sequenceNumber, err)
	}
	return &alert, nil
}

// DeleteBySequence 删除已确认清除的告警
func (s *AlertStore) DeleteBySequence(ctx context.Context, storageID, sequenceNumber string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("storage_id = ? AND sequence_number = ?", storageID, sequenceNumber).
			Delete(&model.Alert{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete alert %s/%s: %w", storageID, sequenceNumber, err)
	}
	return nil
}

// DeleteByStorage 删除设备的全部告警
func (s *AlertStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.Alert{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete alerts of storage %s: %w", storageID, err)
	}
	return nil
}
