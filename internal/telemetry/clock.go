package telemetry

import "time"

// Clock 时间源。调度核心所有取当前时刻的地方都经过它，
// 测试注入假时钟即可精确验证窗口计算。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 真实时间源
func SystemClock() Clock { return systemClock{} }
