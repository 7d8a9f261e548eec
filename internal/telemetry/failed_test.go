package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

// TestFailedHandlerRecoverySuccess 补采成功后删除失败记录
func TestFailedHandlerRecoverySuccess(t *testing.T) {
	tasks := newMemTaskStore(model.Task{
		ID:        3,
		StorageID: "storage-2",
		Method:    model.TaskMethodPerformanceCollection,
		Args:      `{"volume":["readThroughput"]}`,
		Interval:  60,
	})
	failed := newMemFailedTaskStore()
	failed.put(model.FailedTask{
		ID:         11,
		TaskID:     3,
		StorageID:  "storage-2",
		Method:     model.TaskMethodPerformanceCollection,
		StartTime:  1700000240000,
		EndTime:    1700000300000,
		Interval:   180,
		RetryCount: 2,
		CreatedAt:  time.Unix(1700000300, 0),
	})
	executor := newFakeExecutor()

	var gaveUp []*model.FailedTask
	handler := NewFailedCollectionHandler(tasks, failed, executor, 3, func(ft *model.FailedTask) {
		gaveUp = append(gaveUp, ft)
	})
	handler.Handle(context.Background(), 11)

	require.Equal(t, 1, executor.callCount(), "应恰好发起一次补采")
	call := executor.lastCall()
	assert.Equal(t, int64(1700000240000), call.startMs, "补采必须使用记录里的原始窗口起点")
	assert.Equal(t, int64(1700000300000), call.endMs, "补采必须使用记录里的原始窗口终点")
	assert.Equal(t, `{"volume":["readThroughput"]}`, call.args, "补采参数取自父任务")

	assert.Equal(t, 0, failed.count(), "补采成功后记录应被删除")
	assert.Empty(t, gaveUp, "成功路径不应触发终态通知")
}

// TestFailedHandlerRetryExhaustion 首次尝试加上限次重试后放弃窗口，
// 终态通知恰好一次
func TestFailedHandlerRetryExhaustion(t *testing.T) {
	const maxRetry = 2
	tasks := newMemTaskStore(model.Task{
		ID:        9,
		StorageID: "storage-4",
		Method:    model.TaskMethodPerformanceCollection,
		Interval:  300,
	})
	failed := newMemFailedTaskStore()
	failed.put(model.FailedTask{
		ID:        21,
		TaskID:    9,
		StorageID: "storage-4",
		Method:    model.TaskMethodPerformanceCollection,
		StartTime: 1700000000000,
		EndTime:   1700000300000,
		Interval:  180,
		CreatedAt: time.Unix(1700000300, 0),
	})
	executor := newFakeExecutor()
	executor.fallback = execResult{ok: false, err: errors.New("device unreachable")}

	var mu sync.Mutex
	var gaveUp []*model.FailedTask
	handler := NewFailedCollectionHandler(tasks, failed, executor, maxRetry, func(ft *model.FailedTask) {
		mu.Lock()
		gaveUp = append(gaveUp, ft)
		mu.Unlock()
	})

	// 测试用例1：前 maxRetry 次失败只累加计数，记录保留
	for attempt := 1; attempt <= maxRetry; attempt++ {
		handler.Handle(context.Background(), 21)
		record, err := failed.Get(context.Background(), 21)
		require.NoError(t, err, "未到上限时记录应保留")
		assert.Equal(t, attempt, record.RetryCount, "每次失败后计数加一")
	}

	// 测试用例2：再失败一次即超过上限，删除记录并通知终态
	handler.Handle(context.Background(), 21)
	assert.Equal(t, 0, failed.count(), "超过上限后记录应被删除")
	require.Len(t, gaveUp, 1, "终态通知应恰好一次")
	assert.Equal(t, uint(21), gaveUp[0].ID)
	assert.Equal(t, maxRetry+1, gaveUp[0].RetryCount)
	assert.Equal(t, maxRetry+1, executor.callCount(), "总尝试次数应为上限加一")

	// 测试用例3：记录删除后再触发是无害的空操作
	handler.Handle(context.Background(), 21)
	assert.Equal(t, maxRetry+1, executor.callCount(), "记录不存在时不应再发起补采")
	assert.Len(t, gaveUp, 1, "终态通知不应重复")
}

// TestFailedHandlerRecordGone 记录已被处理完属于良性竞争
func TestFailedHandlerRecordGone(t *testing.T) {
	tasks := newMemTaskStore()
	failed := newMemFailedTaskStore()
	executor := newFakeExecutor()

	handler := NewFailedCollectionHandler(tasks, failed, executor, 3, nil)
	handler.Handle(context.Background(), 42)

	assert.Equal(t, 0, executor.callCount(), "记录不存在时不应发起补采")
}

// TestFailedHandlerOrphanRecord 父任务已注销的孤儿记录直接清除
func TestFailedHandlerOrphanRecord(t *testing.T) {
	tasks := newMemTaskStore()
	failed := newMemFailedTaskStore()
	failed.put(model.FailedTask{
		ID:        7,
		TaskID:    100,
		StorageID: "storage-gone",
		Method:    model.TaskMethodPerformanceCollection,
		StartTime: 1700000000000,
		EndTime:   1700000060000,
		Interval:  180,
		CreatedAt: time.Unix(1700000060, 0),
	})
	executor := newFakeExecutor()

	called := false
	handler := NewFailedCollectionHandler(tasks, failed, executor, 3, func(*model.FailedTask) { called = true })
	handler.Handle(context.Background(), 7)

	assert.Equal(t, 0, executor.callCount(), "孤儿记录不应发起补采")
	assert.Equal(t, 0, failed.count(), "孤儿记录应被删除")
	assert.False(t, called, "孤儿清理不属于重试耗尽，不应触发终态通知")
}

// TestFailedHandlerExecReportedFailure 执行端报告不成功计入一次失败重试
func TestFailedHandlerExecReportedFailure(t *testing.T) {
	tasks := newMemTaskStore(model.Task{
		ID:        2,
		StorageID: "storage-1",
		Method:    model.TaskMethodPerformanceCollection,
		Interval:  300,
	})
	failed := newMemFailedTaskStore()
	failed.put(model.FailedTask{
		ID:        5,
		TaskID:    2,
		StorageID: "storage-1",
		Method:    model.TaskMethodPerformanceCollection,
		StartTime: 1700000000000,
		EndTime:   1700000300000,
		Interval:  180,
		CreatedAt: time.Unix(1700000300, 0),
	})
	executor := newFakeExecutor()
	executor.script = []execResult{{ok: false, err: nil}}

	handler := NewFailedCollectionHandler(tasks, failed, executor, 3, nil)
	handler.Handle(context.Background(), 5)

	record, err := failed.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, record.RetryCount, "报告失败应与出错一样累加重试计数")
}
