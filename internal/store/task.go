package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"gorm.io/gorm"
)

const (
	writeRetryAttempts = 3
	writeRetrySleep    = 50 * time.Millisecond
)

// TaskStore 采集任务的单记录存取
type TaskStore struct{}

// NewTaskStore 创建任务存取器
func NewTaskStore() *TaskStore {
	return &TaskStore{}
}

// Create 创建采集任务
func (s *TaskStore) Create(ctx context.Context, task *model.Task) error {
	if task.Interval <= 0 {
		return fmt.Errorf("task interval must be positive, got %d", task.Interval)
	}
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(task).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get 按 ID 获取任务，不存在时返回 ErrTaskNotFound
func (s *TaskStore) Get(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	err := database.GetDB().WithContext(ctx).First(&task, taskID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}
	return &task, nil
}

// UpdateLastRunTime 更新任务的最近成功采集时刻（秒级时间戳）
func (s *TaskStore) UpdateLastRunTime(ctx context.Context, taskID uint, lastRunTime int64) error {
	var rows int64
	err := database.WithRetry(func(db *gorm.DB) error {
		res := db.WithContext(ctx).Model(&model.Task{}).
			Where("id = ?", taskID).
			Update("last_run_time", lastRunTime)
		rows = res.RowsAffected
		return res.Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to update task %d last_run_time: %w", taskID, err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 列出任务，storageID 为空时返回全部
func (s *TaskStore) List(ctx context.Context, storageID string) ([]model.Task, error) {
	var tasks []model.Task
	query := database.GetDB().WithContext(ctx).Model(&model.Task{})
	if storageID != "" {
		query = query.Where("storage_id = ?", storageID)
	}
	if err := query.Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Delete 删除任务
func (s *TaskStore) Delete(ctx context.Context, taskID uint) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Delete(&model.Task{}, taskID).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", taskID, err)
	}
	return nil
}

// DeleteByStorage 删除指定存储设备的全部任务
func (s *TaskStore) DeleteByStorage(ctx context.Context, storageID string) error {
	err := database.WithRetry(func(db *gorm.DB) error {
		return db.WithContext(ctx).Where("storage_id = ?", storageID).Delete(&model.Task{}).Error
	}, writeRetryAttempts, writeRetrySleep)
	if err != nil {
		return fmt.Errorf("failed to delete tasks of storage %s: %w", storageID, err)
	}
	return nil
}
