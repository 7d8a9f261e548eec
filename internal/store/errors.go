package store

import "errors"

// 单记录查询/更新未命中时返回的哨兵错误。
// 调用方用 errors.Is 区分"记录不存在"与持久层故障。
var (
	ErrStorageNotFound    = errors.New("storage not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrFailedTaskNotFound = errors.New("failed task not found")
	ErrAlertNotFound      = errors.New("alert not found")
)
