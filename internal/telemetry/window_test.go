package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestComputeWindow 验证采集窗口的取整与宽度
func TestComputeWindow(t *testing.T) {
	// 测试用例1：调度带半秒抖动，结束时刻仍取整秒
	now := time.Unix(1700000000, 500*int64(time.Millisecond))
	w := ComputeWindow(now, 300)
	assert.Equal(t, int64(1700000000000), w.EndMs, "结束时刻应为整秒换算的毫秒值")
	assert.Equal(t, int64(1699999700000), w.StartMs, "起始时刻应恰好回退一个周期")
	assert.Equal(t, int64(300), w.WidthSeconds(), "窗口宽度恒等于采集周期")

	// 测试用例2：不同的亚秒抖动产生同一个窗口
	for _, nsec := range []int64{0, 1, 999 * int64(time.Millisecond)} {
		jittered := ComputeWindow(time.Unix(1700000000, nsec), 300)
		assert.Equal(t, w, jittered, "亚秒级抖动不应改变窗口")
	}

	// 测试用例3：窗口半开，含起点不含终点
	assert.True(t, w.Contains(w.StartMs), "窗口应包含起点")
	assert.True(t, w.Contains(w.EndMs-1), "窗口应包含终点前最后一毫秒")
	assert.False(t, w.Contains(w.EndMs), "窗口不应包含终点")
	assert.False(t, w.Contains(w.StartMs-1), "窗口不应包含起点之前的时刻")
}

// TestComputeWindowContiguous 相邻两个周期的窗口首尾相接，不重叠不留缝
func TestComputeWindowContiguous(t *testing.T) {
	const interval = int64(900)
	base := time.Unix(1700000000, 0)

	prev := ComputeWindow(base, interval)
	next := ComputeWindow(base.Add(time.Duration(interval)*time.Second), interval)
	assert.Equal(t, prev.EndMs, next.StartMs, "下一窗口的起点应等于上一窗口的终点")

	// 即使下一次触发晚了几百毫秒，覆盖关系依然成立
	late := ComputeWindow(base.Add(time.Duration(interval)*time.Second+800*time.Millisecond), interval)
	assert.Equal(t, prev.EndMs, late.StartMs, "亚秒级迟到不应在窗口间留缝")
}

// TestWindowString 日志格式
func TestWindowString(t *testing.T) {
	w := Window{StartMs: 1000, EndMs: 2000}
	assert.Equal(t, "[1000, 2000)", w.String())
}
