package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// TaskLister 调度器启动时加载既有任务的契约
type TaskLister interface {
	List(ctx context.Context, storageID string) ([]model.Task, error)
}

// Scheduler 遥测调度器：每个任务一个独立的节拍协程，外加一个
// 低频扫描协程驱动失败任务的重试。所有实际执行都经过共享的
// 工作协程池，单个设备变慢不会拖垮整体节奏。
type Scheduler struct {
	cfg        config.TelemetryConfig
	collection *CollectionHandler
	failed     *FailedCollectionHandler
	lister     TaskLister
	failedList FailedTaskStore
	clock      Clock

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	workers  chan struct{}
	runners  map[uint]chan struct{}

	// inflight 去重键：同一任务/失败记录在前一次执行结束前不再派发
	imu      sync.Mutex
	inflight map[string]struct{}

	// lastAttempt 失败记录上次尝试时间，仅存在于内存，
	// 进程重启后从记录创建时间重新起算
	amu         sync.Mutex
	lastAttempt map[uint]time.Time
}

// NewScheduler 创建调度器
func NewScheduler(cfg config.TelemetryConfig, collection *CollectionHandler, failed *FailedCollectionHandler, lister TaskLister, failedList FailedTaskStore, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{
		cfg:         cfg,
		collection:  collection,
		failed:      failed,
		lister:      lister,
		failedList:  failedList,
		clock:       clock,
		inflight:    make(map[string]struct{}),
		lastAttempt: make(map[uint]time.Time),
	}
}

// Start 启动调度：为库中已有任务建立节拍，并启动失败任务扫描
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("telemetry scheduler is already running")
	}

	s.stopChan = make(chan struct{})
	s.workers = make(chan struct{}, s.cfg.WorkerCount)
	s.runners = make(map[uint]chan struct{})
	s.running = true

	tasks, err := s.lister.List(ctx, "")
	if err != nil {
		s.running = false
		return fmt.Errorf("failed to load telemetry tasks: %w", err)
	}
	for i := range tasks {
		s.scheduleLocked(&tasks[i])
	}

	s.wg.Add(1)
	go s.sweepLoop()

	logger.Info("Telemetry scheduler started",
		"tasks", len(tasks),
		"workers", s.cfg.WorkerCount,
		"sweep_interval", s.cfg.FailedTaskSweepInterval)
	return nil
}

// Stop 停止调度并等待在途采集完成。已经开始的驱动调用不会被
// 中途取消，超时由执行端自行控制。
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	for taskID, stop := range s.runners {
		close(stop)
		delete(s.runners, taskID)
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("Telemetry scheduler stopped")
	return nil
}

// ScheduleTask 为任务建立采集节拍。同一任务重复注册时替换旧节拍，
// 用于采集周期变更场景。
func (s *Scheduler) ScheduleTask(task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("telemetry scheduler is not running")
	}
	if task == nil || task.Interval <= 0 {
		return fmt.Errorf("invalid telemetry task")
	}
	s.scheduleLocked(task)
	return nil
}

func (s *Scheduler) scheduleLocked(task *model.Task) {
	if stop, ok := s.runners[task.ID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	s.runners[task.ID] = stop

	s.wg.Add(1)
	go s.runLoop(task.ID, task.Interval, stop)

	logger.Info("Telemetry task scheduled",
		"task_id", task.ID,
		"storage_id", task.StorageID,
		"method", task.Method,
		"interval", task.Interval)
}

// UnscheduleTask 撤掉任务节拍；在途的一次采集会自然跑完
func (s *Scheduler) UnscheduleTask(taskID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stop, ok := s.runners[taskID]; ok {
		close(stop)
		delete(s.runners, taskID)
		logger.Info("Telemetry task unscheduled", "task_id", taskID)
	}
}

// runLoop 单任务节拍循环。首次触发发生在一个完整周期之后，
// 周期起点即任务注册时刻。
func (s *Scheduler) runLoop(taskID uint, intervalSec int64, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-stop:
			return
		case <-ticker.C:
			s.dispatchCollection(taskID)
		}
	}
}

// dispatchCollection 派发一次计划采集。上一次还没跑完就跳过本拍，
// 工作协程池满时直接丢弃，两种情况都不排队：丢掉的窗口由失败
// 恢复机制按需补采。
func (s *Scheduler) dispatchCollection(taskID uint) {
	key := fmt.Sprintf("task:%d", taskID)
	if !s.tryAcquire(key) {
		logger.Debug("Previous collection still running, skipping tick", "task_id", taskID)
		return
	}

	select {
	case s.workers <- struct{}{}:
	default:
		s.release(key)
		logger.Debug("Worker pool saturated, dropping collection tick", "task_id", taskID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		defer s.release(key)
		s.collection.Handle(context.Background(), taskID)
	}()
}

// sweepLoop 失败任务扫描循环，频率低于采集节拍
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.FailedTaskSweepInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepFailedTasks()
		}
	}
}

// sweepFailedTasks 扫描失败任务记录，把到期的重试派发出去。
// 记录自带的重试节奏决定到期与否：距上次尝试已超过记录的
// interval 秒才算到期。
func (s *Scheduler) sweepFailedTasks() {
	ctx := context.Background()
	records, err := s.failedList.List(ctx)
	if err != nil {
		logger.Error("Failed to list failed telemetry tasks", "error", err)
		return
	}

	now := s.clock.Now()
	due := s.collectDue(records, now)
	if len(due) == 0 {
		return
	}

	logger.Debug("Dispatching failed task retries", "due", len(due), "total", len(records))
	for _, id := range due {
		if !s.dispatchRecovery(id, now) {
			return
		}
	}
}

// collectDue 筛出到期记录并清掉已消失记录的尝试时间
func (s *Scheduler) collectDue(records []model.FailedTask, now time.Time) []uint {
	s.amu.Lock()
	defer s.amu.Unlock()

	live := make(map[uint]struct{}, len(records))
	due := make([]uint, 0, len(records))
	for i := range records {
		record := &records[i]
		live[record.ID] = struct{}{}

		last, seen := s.lastAttempt[record.ID]
		if !seen {
			// 新记录从创建时间起算，先等满一个重试周期
			last = record.CreatedAt
			s.lastAttempt[record.ID] = last
		}
		if now.Sub(last) >= time.Duration(record.Interval)*time.Second {
			due = append(due, record.ID)
		}
	}
	for id := range s.lastAttempt {
		if _, ok := live[id]; !ok {
			delete(s.lastAttempt, id)
		}
	}
	return due
}

// dispatchRecovery 派发一次失败重试。等不到空闲工作协程时把记录
// 留给下一轮扫描；返回 false 表示调度器正在停止，本轮扫描终止。
func (s *Scheduler) dispatchRecovery(failedTaskID uint, now time.Time) bool {
	key := fmt.Sprintf("failed:%d", failedTaskID)
	if !s.tryAcquire(key) {
		logger.Debug("Previous recovery still running, skipping record", "failed_task_id", failedTaskID)
		return true
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DispatchWaitTimeout)
	defer cancel()
	select {
	case s.workers <- struct{}{}:
	case <-waitCtx.Done():
		s.release(key)
		logger.Debug("No idle worker for recovery, leaving record for next sweep",
			"failed_task_id", failedTaskID)
		return true
	case <-s.stopChan:
		s.release(key)
		return false
	}

	s.markAttempt(failedTaskID, now)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		defer s.release(key)
		s.failed.Handle(context.Background(), failedTaskID)
	}()
	return true
}

func (s *Scheduler) markAttempt(failedTaskID uint, now time.Time) {
	s.amu.Lock()
	s.lastAttempt[failedTaskID] = now
	s.amu.Unlock()
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.imu.Lock()
	defer s.imu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.imu.Lock()
	delete(s.inflight, key)
	s.imu.Unlock()
}

// Stats 返回调度器当前状态，供健康检查接口使用
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	running := s.running
	scheduled := len(s.runners)
	s.mu.Unlock()

	s.imu.Lock()
	inflight := len(s.inflight)
	s.imu.Unlock()

	return map[string]interface{}{
		"running":   running,
		"scheduled": scheduled,
		"inflight":  inflight,
		"workers":   s.cfg.WorkerCount,
	}
}
