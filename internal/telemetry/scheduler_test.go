package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

func schedulerTestConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		PerformanceCollectionInterval: 900,
		MinCollectionInterval:         300,
		FailedTaskRetryInterval:       180,
		FailedTaskSweepInterval:       3600, // 测试内手动触发扫描，周期放大避免干扰
		MaxFailedTaskRetryCount:       3,
		WorkerCount:                   2,
		DriverTimeout:                 time.Second,
		DispatchWaitTimeout:           50 * time.Millisecond,
	}
}

// TestSchedulerLifecycle 启动时装载既有任务，重复启动报错，停止幂等
func TestSchedulerLifecycle(t *testing.T) {
	tasks := newMemTaskStore(
		model.Task{ID: 1, StorageID: "storage-1", Method: model.TaskMethodPerformanceCollection, Interval: 3600},
		model.Task{ID: 2, StorageID: "storage-2", Method: model.TaskMethodPerformanceCollection, Interval: 3600},
	)
	failedStore := newMemFailedTaskStore()
	executor := newFakeExecutor()
	clock := newFakeClock(time.Unix(1700000000, 0))

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(schedulerTestConfig(), collection, recovery, tasks, failedStore, clock)

	require.NoError(t, s.Start(context.Background()))
	stats := s.Stats()
	assert.Equal(t, 2, stats["scheduled"], "启动时应为库中每个任务建立节拍")
	assert.Error(t, s.Start(context.Background()), "重复启动应报错")

	s.UnscheduleTask(1)
	assert.Equal(t, 1, s.Stats()["scheduled"], "撤销后节拍数应减一")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "重复停止应为空操作")
	assert.Error(t, s.ScheduleTask(&model.Task{ID: 3, Interval: 60}), "停止后不应再接受任务")
}

// TestSchedulerSkipWhileRunning 上一次采集未结束时跳过本拍，不排队
func TestSchedulerSkipWhileRunning(t *testing.T) {
	tasks := newMemTaskStore(model.Task{
		ID: 1, StorageID: "storage-1", Method: model.TaskMethodPerformanceCollection, Interval: 3600,
	})
	failedStore := newMemFailedTaskStore()
	executor := newFakeExecutor()
	executor.started = make(chan struct{}, 4)
	executor.block = make(chan struct{})
	clock := newFakeClock(time.Unix(1700000000, 0))

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(schedulerTestConfig(), collection, recovery, tasks, failedStore, clock)
	require.NoError(t, s.Start(context.Background()))

	s.dispatchCollection(1)
	<-executor.started // 第一次已进入执行端并阻塞

	// 测试用例1：同一任务再次触发被直接丢弃
	s.dispatchCollection(1)
	s.dispatchCollection(1)

	close(executor.block)
	require.Eventually(t, func() bool { return executor.callCount() == 1 }, 2*time.Second, 10*time.Millisecond,
		"被跳过的触发不应补跑")
	require.Eventually(t, func() bool { return s.Stats()["inflight"] == 0 }, 2*time.Second, 10*time.Millisecond)

	// 测试用例2：在途执行结束后下一拍恢复正常
	s.dispatchCollection(1)
	require.Eventually(t, func() bool { return executor.callCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
}

// TestSchedulerWorkerSaturation 工作协程池满时计划采集直接丢弃
func TestSchedulerWorkerSaturation(t *testing.T) {
	tasks := newMemTaskStore(
		model.Task{ID: 1, StorageID: "storage-1", Method: model.TaskMethodPerformanceCollection, Interval: 3600},
		model.Task{ID: 2, StorageID: "storage-2", Method: model.TaskMethodPerformanceCollection, Interval: 3600},
	)
	failedStore := newMemFailedTaskStore()
	executor := newFakeExecutor()
	executor.started = make(chan struct{}, 4)
	executor.block = make(chan struct{})
	clock := newFakeClock(time.Unix(1700000000, 0))

	cfg := schedulerTestConfig()
	cfg.WorkerCount = 1

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(cfg, collection, recovery, tasks, failedStore, clock)
	require.NoError(t, s.Start(context.Background()))

	s.dispatchCollection(1)
	<-executor.started // 唯一的工作协程被占用

	s.dispatchCollection(2) // 池满，应被丢弃且不占用去重键
	assert.True(t, s.tryAcquire("task:2"), "被丢弃的触发应立即释放去重键")
	s.release("task:2")

	close(executor.block)
	require.Eventually(t, func() bool { return s.Stats()["inflight"] == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, executor.callCount(), "被丢弃的触发不应执行")

	require.NoError(t, s.Stop())
}

// TestSchedulerCollectDue 失败记录按自身重试节奏判定到期，
// 新记录从创建时间起算，消失的记录被清出尝试表
func TestSchedulerCollectDue(t *testing.T) {
	tasks := newMemTaskStore()
	failedStore := newMemFailedTaskStore()
	executor := newFakeExecutor()
	clock := newFakeClock(time.Unix(1700010000, 0))

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(schedulerTestConfig(), collection, recovery, tasks, failedStore, clock)

	now := clock.Now()
	records := []model.FailedTask{
		{ID: 1, Interval: 180, CreatedAt: now.Add(-181 * time.Second)},
		{ID: 2, Interval: 180, CreatedAt: now.Add(-60 * time.Second)},
		{ID: 3, Interval: 60, CreatedAt: now.Add(-60 * time.Second)},
	}
	s.amu.Lock()
	s.lastAttempt[9] = now // 记录 9 已不存在，应被清理
	s.amu.Unlock()

	// 测试用例1：超过自身节奏的记录到期，恰好等于节奏的也到期
	due := s.collectDue(records, now)
	assert.Equal(t, []uint{1, 3}, due, "只有距上次尝试超过自身节奏的记录到期")

	s.amu.Lock()
	_, stale := s.lastAttempt[9]
	_, seeded := s.lastAttempt[2]
	s.amu.Unlock()
	assert.False(t, stale, "已消失记录的尝试时间应被清理")
	assert.True(t, seeded, "新记录的尝试时间应以创建时间起算")

	// 测试用例2：刚尝试过的记录要再等满一个节奏
	s.markAttempt(1, now)
	s.markAttempt(3, now)
	assert.Empty(t, s.collectDue(records, now.Add(59*time.Second)), "节奏未满时不应重试")
	assert.Equal(t, []uint{3}, s.collectDue(records, now.Add(60*time.Second)), "各记录按自身节奏独立到期")
	assert.Equal(t, []uint{1, 2, 3}, s.collectDue(records, now.Add(180*time.Second)))
}

// TestSchedulerSweepDispatch 扫描派发到期重试并记录尝试时间
func TestSchedulerSweepDispatch(t *testing.T) {
	tasks := newMemTaskStore(model.Task{
		ID: 1, StorageID: "storage-1", Method: model.TaskMethodPerformanceCollection, Interval: 900,
	})
	failedStore := newMemFailedTaskStore()
	clock := newFakeClock(time.Unix(1700010000, 0))
	failedStore.put(model.FailedTask{
		ID:        4,
		TaskID:    1,
		StorageID: "storage-1",
		Method:    model.TaskMethodPerformanceCollection,
		StartTime: 1700000100000,
		EndTime:   1700001000000,
		Interval:  180,
		CreatedAt: clock.Now().Add(-200 * time.Second),
	})
	executor := newFakeExecutor()

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(schedulerTestConfig(), collection, recovery, tasks, failedStore, clock)
	require.NoError(t, s.Start(context.Background()))

	s.sweepFailedTasks()
	require.Eventually(t, func() bool { return executor.callCount() == 1 }, 2*time.Second, 10*time.Millisecond,
		"到期记录应被派发补采")
	call := executor.lastCall()
	assert.Equal(t, int64(1700000100000), call.startMs, "补采应使用记录保存的原始窗口")
	assert.Equal(t, int64(1700001000000), call.endMs)

	require.Eventually(t, func() bool { return failedStore.count() == 0 }, 2*time.Second, 10*time.Millisecond,
		"补采成功后记录应被删除")

	// 记录删除后再次扫描不应派发任何东西
	s.sweepFailedTasks()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, executor.callCount())

	require.NoError(t, s.Stop())
}

// TestSchedulerRecoveryWaitTimeout 等不到空闲工作协程时把记录留给下一轮
func TestSchedulerRecoveryWaitTimeout(t *testing.T) {
	tasks := newMemTaskStore(
		model.Task{ID: 1, StorageID: "storage-1", Method: model.TaskMethodPerformanceCollection, Interval: 3600},
	)
	failedStore := newMemFailedTaskStore()
	clock := newFakeClock(time.Unix(1700010000, 0))
	failedStore.put(model.FailedTask{
		ID:        8,
		TaskID:    1,
		StorageID: "storage-1",
		Method:    model.TaskMethodPerformanceCollection,
		StartTime: 1700000100000,
		EndTime:   1700001000000,
		Interval:  180,
		CreatedAt: clock.Now().Add(-300 * time.Second),
	})
	executor := newFakeExecutor()
	executor.started = make(chan struct{}, 4)
	executor.block = make(chan struct{})

	cfg := schedulerTestConfig()
	cfg.WorkerCount = 1

	collection := NewCollectionHandler(tasks, failedStore, executor, clock, 180)
	recovery := NewFailedCollectionHandler(tasks, failedStore, executor, 3, nil)
	s := NewScheduler(cfg, collection, recovery, tasks, failedStore, clock)
	require.NoError(t, s.Start(context.Background()))

	s.dispatchCollection(1)
	<-executor.started // 占满唯一的工作协程

	assert.True(t, s.dispatchRecovery(8, clock.Now()), "等待超时不应中断整轮扫描")
	s.amu.Lock()
	_, attempted := s.lastAttempt[8]
	s.amu.Unlock()
	assert.False(t, attempted, "未实际派发不应计为一次尝试")
	assert.Equal(t, 1, failedStore.count(), "记录应原样留给下一轮扫描")

	close(executor.block)
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, executor.callCount(), "超时的派发不应执行补采")
}
