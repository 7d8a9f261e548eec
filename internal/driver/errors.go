package driver

import (
	"errors"
	"fmt"
)

// ErrNotSupported 驱动未实现该能力（例如部分厂商不提供性能接口）
var ErrNotSupported = errors.New("capability not supported by driver")

// BackendError 设备侧失败：传输、认证或协议错误。
// 采集核心据此把一次失败归入可重试类别。
type BackendError struct {
	Vendor string
	Op     string
	Err    error
}

// NewBackendError 包装一次设备调用失败
func NewBackendError(vendor, op string, err error) *BackendError {
	return &BackendError{Vendor: vendor, Op: op, Err: err}
}

// Error 实现 error 接口
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: vendor=%s op=%s: %v", e.Vendor, e.Op, e.Err)
}

// Unwrap 返回底层错误
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError 判断错误链中是否包含设备侧失败
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
