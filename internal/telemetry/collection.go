package telemetry

import (
	"context"
	"errors"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// ErrTaskExec 执行端报告采集未成功（而非传输层失败）
var ErrTaskExec = errors.New("telemetry task execution failed")

// TaskStore 采集处理器消费的任务存取契约
type TaskStore interface {
	Get(ctx context.Context, taskID uint) (*model.Task, error)
	UpdateLastRunTime(ctx context.Context, taskID uint, lastRunTime int64) error
}

// FailedTaskStore 失败任务记录存取契约
type FailedTaskStore interface {
	Create(ctx context.Context, failedTask *model.FailedTask) error
	Get(ctx context.Context, failedTaskID uint) (*model.FailedTask, error)
	UpdateRetryCount(ctx context.Context, failedTaskID uint, retryCount int) error
	Delete(ctx context.Context, failedTaskID uint) error
	List(ctx context.Context) ([]model.FailedTask, error)
}

// Executor 遥测采集执行端：完成驱动调用与结果落盘，
// 返回本次采集是否成功
type Executor interface {
	CollectTelemetry(ctx context.Context, storageID, taskMethod, args string, startMs, endMs int64) (bool, error)
}

// CollectionHandler 执行单个任务的一次计划采集：算窗口、发起采集、
// 成功则更新任务书签，失败则落盘失败记录。任何失败都不越过该边界，
// 单个坏任务不会阻塞调度循环。
type CollectionHandler struct {
	tasks    TaskStore
	failed   FailedTaskStore
	executor Executor
	clock    Clock
	// retryInterval 写入失败记录的固定重试节奏（秒）
	retryInterval int64
}

// NewCollectionHandler 创建采集处理器
func NewCollectionHandler(tasks TaskStore, failed FailedTaskStore, executor Executor, clock Clock, retryInterval int64) *CollectionHandler {
	if clock == nil {
		clock = SystemClock()
	}
	return &CollectionHandler{
		tasks:         tasks,
		failed:        failed,
		executor:      executor,
		clock:         clock,
		retryInterval: retryInterval,
	}
}

// Handle 执行一次采集。没有返回值：所有失败在内部转化为
// 失败记录或日志，调度器只负责触发。
func (h *CollectionHandler) Handle(ctx context.Context, taskID uint) {
	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			// 任务已被注销，触发残留属正常时序
			logger.Warn("Collection skipped, task no longer exists", "task_id", taskID)
			return
		}
		logger.Error("Failed to load task for collection", "task_id", taskID, "error", err)
		return
	}

	// 只取一次当前时刻：书签与窗口必须出自同一时间样本
	nowT := h.clock.Now()
	now := nowT.Unix()
	window := ComputeWindow(nowT, task.Interval)

	ok, err := h.executor.CollectTelemetry(ctx, task.StorageID, task.Method, task.Args,
		window.StartMs, window.EndMs)
	if err == nil && !ok {
		err = ErrTaskExec
	}
	if err != nil {
		logger.Error("Telemetry collection failed, queueing window for recovery",
			"task_id", task.ID, "storage_id", task.StorageID,
			"window", window.String(), "error", err)
		h.enqueueFailedWindow(ctx, task, window)
		return
	}

	if err := h.tasks.UpdateLastRunTime(ctx, task.ID, now); err != nil {
		// 书签写失败不影响已入库的数据点，下个周期照常推进
		logger.Error("Failed to update task last run time", "task_id", task.ID, "error", err)
		return
	}
	logger.Debug("Telemetry collection finished",
		"task_id", task.ID, "storage_id", task.StorageID, "window", window.String())
}

// enqueueFailedWindow 把错过的窗口落成失败记录，交由恢复扫描补采
func (h *CollectionHandler) enqueueFailedWindow(ctx context.Context, task *model.Task, window Window) {
	failedTask := &model.FailedTask{
		TaskID:     task.ID,
		StorageID:  task.StorageID,
		Method:     task.Method,
		StartTime:  window.StartMs,
		EndTime:    window.EndMs,
		Interval:   h.retryInterval,
		RetryCount: 0,
	}
	if err := h.failed.Create(ctx, failedTask); err != nil {
		// 失败记录都写不进去时该窗口只能丢弃
		logger.Error("Failed to persist failed task, window lost",
			"task_id", task.ID, "window", window.String(), "error", err)
	}
}
