package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/service"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// AlertHandler 告警处理器
type AlertHandler struct {
	alertService *service.AlertService
}

// NewAlertHandler 创建告警处理器
func NewAlertHandler(alertService *service.AlertService) *AlertHandler {
	return &AlertHandler{alertService: alertService}
}

// ListAlerts 查询设备告警
// @Summary 查询设备告警列表
// @Description 查询本地告警记录，支持按级别与时间范围过滤
// @Tags alert
// @Produce json
// @Param id path string true "设备ID"
// @Param severity query string false "告警级别"
// @Param begin_time query int false "起始时间（秒级时间戳）"
// @Param end_time query int false "结束时间（秒级时间戳）"
// @Success 200 {object} SuccessResponse "告警列表"
// @Router /api/v1/storages/{id}/alerts [get]
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	storageID := c.Param("id")
	filter := store.AlertFilter{
		Severity:  c.Query("severity"),
		BeginTime: parseInt64Query(c, "begin_time"),
		EndTime:   parseInt64Query(c, "end_time"),
	}

	alerts, err := h.alertService.List(c.Request.Context(), storageID, filter)
	if err != nil {
		logger.Error("Failed to list alerts", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询告警失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total":  len(alerts),
			"alerts": alerts,
		},
	})
}

// SyncAlerts 从设备拉取并同步告警
// @Summary 同步设备告警
// @Description 按时间范围从设备拉取标准化告警并入库
// @Tags alert
// @Produce json
// @Param id path string true "设备ID"
// @Param begin_time query int false "起始时间（秒级时间戳）"
// @Param end_time query int false "结束时间（秒级时间戳）"
// @Success 200 {object} SuccessResponse "同步结果"
// @Router /api/v1/storages/{id}/alerts/sync [post]
func (h *AlertHandler) SyncAlerts(c *gin.Context) {
	storageID := c.Param("id")

	var query *driver.AlertQuery
	begin := parseInt64Query(c, "begin_time")
	end := parseInt64Query(c, "end_time")
	if begin > 0 || end > 0 {
		query = &driver.AlertQuery{BeginTime: begin, EndTime: end}
	}

	count, err := h.alertService.SyncAlerts(c.Request.Context(), storageID, query)
	if err != nil {
		if errors.Is(err, store.ErrStorageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "STORAGE_NOT_FOUND",
				Message: "设备不存在",
			})
			return
		}
		logger.Error("Failed to sync alerts", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "SYNC_FAILED",
			Message: "同步告警失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "告警同步成功",
		Data:    gin.H{"synced": count},
	})
}

// ClearAlert 清除告警
// @Summary 清除一条告警
// @Description 先在设备上清除，成功后删除本地记录
// @Tags alert
// @Produce json
// @Param id path string true "设备ID"
// @Param sequence path string true "告警序列号"
// @Success 200 {object} SuccessResponse "清除成功"
// @Failure 404 {object} ErrorResponse "告警不存在"
// @Router /api/v1/storages/{id}/alerts/{sequence} [delete]
func (h *AlertHandler) ClearAlert(c *gin.Context) {
	storageID := c.Param("id")
	sequence := c.Param("sequence")

	if err := h.alertService.ClearAlert(c.Request.Context(), storageID, sequence); err != nil {
		if errors.Is(err, store.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "ALERT_NOT_FOUND",
				Message: "告警不存在",
			})
			return
		}
		if errors.Is(err, store.ErrStorageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "STORAGE_NOT_FOUND",
				Message: "设备不存在",
			})
			return
		}
		logger.Error("Failed to clear alert",
			"storage_id", storageID, "sequence_number", sequence, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CLEAR_FAILED",
			Message: "清除告警失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "告警清除成功",
	})
}

// parseInt64Query 解析整型查询参数，缺失或非法时返回 0
func parseInt64Query(c *gin.Context, key string) int64 {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
