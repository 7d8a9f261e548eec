package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"gorm.io/gorm"
)

// FailedTaskStore 失败任务记录的单记录存取
type FailedTaskStore struct{}

// NewFailedTaskStore 创建失败任务存取器
func NewFailedTaskStore() *FailedTaskStore {
	return &FailedTaskStore{}
}

// Create 创建失败任务记录
func (s *FailedTaskStore) Create(ctx context.Context, failedTask *model.FailedTask) error {
	if failedTask.EndTime <= failedTask.StartTime {
		return fmt.Errorf("failed task window invalid: start=%d end=%d",
			failedTask.StartTime, failedTask.EndTime)
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(failedTask).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to create failed task: %w", err)
	}
	return nil
}

// Get 按 ID 获取失败任务，不存在时返回 ErrFailedTaskNotFound
func (s *FailedTaskStore) Get(ctx context.Context, failedTaskID uint) (*model.FailedTask, error) {
	var failedTask model.FailedTask
	err := database.GetDB().WithContext(ctx).First(&failedTask, failedTaskID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFailedTaskNotFound
		}
		return nil, fmt.Errorf("failed to get failed task %d: %w", failedTaskID, err)
	}
	return &failedTask, nil
}

// UpdateRetryCount 写入新的重试次数，记录已被并发删除时返回 ErrFailedTaskNotFound
func (s *FailedTaskStore) UpdateRetryCount(ctx context.Context, failedTaskID uint, retryCount int) error {
	var rows int64
	err := database.WithRetry(func(db *gorm.DB) error {
		res := db.WithContext(ctx).Model(&model.FailedTask{}).
			Where("id = ?", failedTaskID).
			Update("retry_count", retryCount)
		rows = res.RowsAffected
		return res.Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to update failed task %d retry count: %w", failedTaskID, err)
	}
	if rows == 0 {
		return ErrFailedTaskNotFound
	}
	return nil
}

// List 列出全部失败任务记录
func (s *FailedTaskStore) List(ctx context.Context) ([]model.FailedTask, error) {
	var failedTasks []model.FailedTask
	if err := database.GetDB().WithContext(ctx).Order("id").Find(&failedTasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	return failedTasks, nil
}

// Delete 删除失败任务记录；记录不存在视为已被其他工作协程处理，不算错误
func (s *FailedTaskStore) Delete(ctx context.Context, failedTaskID uint) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Delete(&model.FailedTask{}, failedTaskID).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete failed task %d: %w", failedTaskID, err)
	}
	return nil
}

// DeleteByTask 删除某个任务的全部失败记录
func (s *FailedTaskStore) DeleteByTask(ctx context.Context, taskID uint) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&model.FailedTask{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete failed tasks of task %d: %w", taskID, err)
	}
	return nil
}

// DeleteByStorage 删除指定存储设备的全部失败记录
func (s *FailedTaskStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.FailedTask{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete failed tasks of storage %s: %w", storageID, err)
	}
	return nil
}
