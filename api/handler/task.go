package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// TaskHandler 采集任务处理器，暴露任务与失败记录的只读视图
type TaskHandler struct {
	tasks  *store.TaskStore
	failed *store.FailedTaskStore
}

// NewTaskHandler 创建采集任务处理器
func NewTaskHandler(tasks *store.TaskStore, failed *store.FailedTaskStore) *TaskHandler {
	return &TaskHandler{tasks: tasks, failed: failed}
}

// ListTasks 查询采集任务
// @Summary 查询采集任务列表
// @Tags task
// @Produce json
// @Param storage_id query string false "按设备ID过滤"
// @Success 200 {object} SuccessResponse "任务列表"
// @Router /api/v1/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context(), c.Query("storage_id"))
	if err != nil {
		logger.Error("Failed to list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询任务失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total": len(tasks),
			"tasks": tasks,
		},
	})
}

// ListFailedTasks 查询待补采的失败记录
// @Summary 查询失败任务记录列表
// @Description 每条记录对应一个等待补采的采集窗口
// @Tags task
// @Produce json
// @Success 200 {object} SuccessResponse "失败记录列表"
// @Router /api/v1/failed-tasks [get]
func (h *TaskHandler) ListFailedTasks(c *gin.Context) {
	records, err := h.failed.List(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list failed tasks", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询失败记录失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total":        len(records),
			"failed_tasks": records,
		},
	})
}
