package telemetry

import (
	"context"
	"errors"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// GiveUpFunc 某条失败记录耗尽重试后的终态通知，每条记录至多回调一次
type GiveUpFunc func(failedTask *model.FailedTask)

// FailedCollectionHandler 补采一条失败记录对应的原始窗口。
// 窗口永远取记录里存的 [StartTime, EndTime)，不按当前时间重算：
// 目标是补上错过的那段数据，而不是再采一段新的。
type FailedCollectionHandler struct {
	tasks    TaskStore
	failed   FailedTaskStore
	executor Executor
	// maxRetryCount 重试上限：失败后计数超过该值即放弃
	maxRetryCount int
	// onGiveUp 终态回调，缺省只打日志
	onGiveUp GiveUpFunc
}

// NewFailedCollectionHandler 创建失败恢复处理器
func NewFailedCollectionHandler(tasks TaskStore, failed FailedTaskStore, executor Executor, maxRetryCount int, onGiveUp GiveUpFunc) *FailedCollectionHandler {
	return &FailedCollectionHandler{
		tasks:         tasks,
		failed:        failed,
		executor:      executor,
		maxRetryCount: maxRetryCount,
		onGiveUp:      onGiveUp,
	}
}

// Handle 对一条失败记录执行一次补采。与采集处理器一样不返回错误，
// 全部失败在内部消化。
func (h *FailedCollectionHandler) Handle(ctx context.Context, failedTaskID uint) {
	failedTask, err := h.failed.Get(ctx, failedTaskID)
	if err != nil {
		if errors.Is(err, store.ErrFailedTaskNotFound) {
			// 已被其他工作协程处理完，属于良性竞争
			logger.Debug("Failed task already resolved", "failed_task_id", failedTaskID)
			return
		}
		logger.Error("Failed to load failed task", "failed_task_id", failedTaskID, "error", err)
		return
	}

	task, err := h.tasks.Get(ctx, failedTask.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			// 父任务已注销，窗口失去意义，孤儿记录直接清掉
			logger.Warn("Parent task gone, dropping orphan failed task",
				"failed_task_id", failedTask.ID, "task_id", failedTask.TaskID)
			h.deleteRecord(ctx, failedTask.ID)
			return
		}
		logger.Error("Failed to load parent task for recovery",
			"failed_task_id", failedTask.ID, "task_id", failedTask.TaskID, "error", err)
		return
	}

	ok, err := h.executor.CollectTelemetry(ctx, failedTask.StorageID, failedTask.Method,
		task.Args, failedTask.StartTime, failedTask.EndTime)
	if err == nil && !ok {
		err = ErrTaskExec
	}
	if err == nil {
		logger.Info("Missed window recovered",
			"failed_task_id", failedTask.ID, "task_id", failedTask.TaskID,
			"start_time", failedTask.StartTime, "end_time", failedTask.EndTime,
			"retry_count", failedTask.RetryCount)
		h.deleteRecord(ctx, failedTask.ID)
		return
	}

	failedTask.RetryCount++
	if failedTask.RetryCount > h.maxRetryCount {
		// 重试耗尽：先删记录、删成功才发终态通知，保证通知至多一次
		logger.Error("Recovery retries exhausted, abandoning window",
			"failed_task_id", failedTask.ID, "task_id", failedTask.TaskID,
			"start_time", failedTask.StartTime, "end_time", failedTask.EndTime,
			"retry_count", failedTask.RetryCount, "error", err)
		if err := h.failed.Delete(ctx, failedTask.ID); err != nil {
			logger.Error("Failed to delete exhausted failed task",
				"failed_task_id", failedTask.ID, "error", err)
			return
		}
		if h.onGiveUp != nil {
			h.onGiveUp(failedTask)
		}
		return
	}

	logger.Warn("Recovery attempt failed, leaving record for next sweep",
		"failed_task_id", failedTask.ID, "task_id", failedTask.TaskID,
		"retry_count", failedTask.RetryCount, "error", err)
	if err := h.failed.UpdateRetryCount(ctx, failedTask.ID, failedTask.RetryCount); err != nil {
		if errors.Is(err, store.ErrFailedTaskNotFound) {
			logger.Debug("Failed task removed during retry", "failed_task_id", failedTask.ID)
			return
		}
		// 计数写失败：保持原记录等下一轮扫描
		logger.Error("Failed to update retry count", "failed_task_id", failedTask.ID, "error", err)
	}
}

func (h *FailedCollectionHandler) deleteRecord(ctx context.Context, failedTaskID uint) {
	if err := h.failed.Delete(ctx, failedTaskID); err != nil {
		// 删除失败则记录残留，下一轮扫描会再次走到终态分支
		logger.Error("Failed to delete failed task", "failed_task_id", failedTaskID, "error", err)
	}
}
