package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storagecollectorpro/storagecollectorpro/internal/database"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/telemetry"
)

// SystemHandler 系统状态处理器
type SystemHandler struct {
	scheduler *telemetry.Scheduler
	startTime time.Time
	version   string
}

// NewSystemHandler 创建系统状态处理器
func NewSystemHandler(scheduler *telemetry.Scheduler, version string) *SystemHandler {
	return &SystemHandler{
		scheduler: scheduler,
		startTime: time.Now(),
		version:   version,
	}
}

// Health 健康检查
// @Summary 健康检查
// @Description 返回数据库连通性与调度器状态
// @Tags system
// @Produce json
// @Success 200 {object} SuccessResponse "服务健康"
// @Failure 503 {object} ErrorResponse "依赖不可用"
// @Router /api/v1/health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "DATABASE_UNAVAILABLE",
			Message: "数据库不可用: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "服务正常",
		Data: gin.H{
			"status":    "healthy",
			"uptime":    time.Since(h.startTime).String(),
			"scheduler": h.scheduler.Stats(),
		},
	})
}

// Info 系统信息
// @Summary 系统信息
// @Description 返回版本、支持的驱动与数据库统计
// @Tags system
// @Produce json
// @Success 200 {object} SuccessResponse "系统信息"
// @Router /api/v1/system/info [get]
func (h *SystemHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"version":           h.version,
			"supported_drivers": driver.Supported(),
			"scheduler":         h.scheduler.Stats(),
			"database":          database.GetStats(),
		},
	})
}
