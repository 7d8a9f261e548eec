// Package telemetry 实现周期性遥测采集的调度核心：按任务周期触发采集、
// 计算采集窗口、失败时落盘重试记录并在独立的低频扫描中补采错过的窗口。
package telemetry

import (
	"fmt"
	"time"
)

// Window 半开采集窗口 [StartMs, EndMs)，毫秒时间戳
type Window struct {
	StartMs int64
	EndMs   int64
}

// ComputeWindow 由当前时刻与采集周期推出本次采集窗口。
// 结束时刻取整秒再换算毫秒，起始时刻回退恰好一个周期：
// 无论调度抖动多大，窗口宽度恒等于 interval，下游拿到的是等宽样本。
func ComputeWindow(now time.Time, intervalSec int64) Window {
	endMs := now.Unix() * 1000
	return Window{
		StartMs: endMs - intervalSec*1000,
		EndMs:   endMs,
	}
}

// Contains 判断毫秒时刻是否落在窗口内
func (w Window) Contains(tsMs int64) bool {
	return tsMs >= w.StartMs && tsMs < w.EndMs
}

// WidthSeconds 窗口宽度（秒）
func (w Window) WidthSeconds() int64 {
	return (w.EndMs - w.StartMs) / 1000
}

// String 便于日志输出
func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.StartMs, w.EndMs)
}
