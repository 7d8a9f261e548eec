package store

import (
	"context"
	"fmt"

	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetricStore 性能指标点存取。写入按唯一键 upsert，
// 同一窗口被重复采集（失败恢复重放）时不会产生重复数据点。
type MetricStore struct{}

// NewMetricStore 创建指标存取器
func NewMetricStore() *MetricStore {
	return &MetricStore{}
}

// UpsertPoints 批量写入指标点，冲突时覆盖数值列
func (s *MetricStore) UpsertPoints(ctx context.Context, points []model.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "storage_id"},
				{Name: "resource_type"},
				{Name: "resource_id"},
				{Name: "metric_name"},
				{Name: "timestamp"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "unit", "labels"}),
		}).Create(&points).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to upsert %d metric points: %w", len(points), err)
	}
	return nil
}

// MetricQuery 指标查询条件
type MetricQuery struct {
	StorageID    string
	ResourceType string
	ResourceID   string
	MetricName   string
	StartMs      int64 // 含
	EndMs        int64 // 不含，0 表示不设上界
	Limit        int
}

// Query 按条件查询指标点，按时间升序返回
func (s *MetricStore) Query(ctx context.Context, q MetricQuery) ([]model.MetricPoint, error) {
	query := database.GetDB().WithContext(ctx).Model(&model.MetricPoint{})
	if q.StorageID != "" {
		query = query.Where("storage_id = ?", q.StorageID)
	}
	if q.ResourceType != "" {
		query = query.Where("resource_type = ?", q.ResourceType)
	}
	if q.ResourceID != "" {
		query = query.Where("resource_id = ?", q.ResourceID)
	}
	if q.MetricName != "" {
		query = query.Where("metric_name = ?", q.MetricName)
	}
	if q.StartMs > 0 {
		query = query.Where("timestamp >= ?", q.StartMs)
	}
	if q.EndMs > 0 {
		query = query.Where("timestamp < ?", q.EndMs)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var points []model.MetricPoint
	if err := query.Order("timestamp").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to query metric points: %w", err)
	}
	return points, nil
}

// DeleteByStorage 删除指定存储设备的全部指标点
func (s *MetricStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.MetricPoint{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete metric points of storage %s: %w", storageID, err)
	}
	return nil
}
