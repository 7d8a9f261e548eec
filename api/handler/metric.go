package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// maxMetricQueryLimit 单次指标查询返回的点数上限
const maxMetricQueryLimit = 10000

// MetricHandler 性能指标处理器
type MetricHandler struct {
	metrics *store.MetricStore
}

// NewMetricHandler 创建性能指标处理器
func NewMetricHandler(metrics *store.MetricStore) *MetricHandler {
	return &MetricHandler{metrics: metrics}
}

// QueryMetrics 查询设备性能指标
// @Summary 查询性能指标点
// @Description 按资源类型、资源ID、指标名与时间范围查询已采集的指标点
// @Tags metric
// @Produce json
// @Param id path string true "设备ID"
// @Param resource_type query string false "资源类型"
// @Param resource_id query string false "资源ID"
// @Param metric_name query string false "指标名"
// @Param start query int false "起始时间（毫秒时间戳，含）"
// @Param end query int false "结束时间（毫秒时间戳，不含）"
// @Param limit query int false "返回点数上限"
// @Success 200 {object} SuccessResponse "指标点列表"
// @Router /api/v1/storages/{id}/metrics [get]
func (h *MetricHandler) QueryMetrics(c *gin.Context) {
	storageID := c.Param("id")

	limit := maxMetricQueryLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v < maxMetricQueryLimit {
			limit = v
		}
	}

	query := store.MetricQuery{
		StorageID:    storageID,
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		MetricName:   c.Query("metric_name"),
		StartMs:      parseInt64Query(c, "start"),
		EndMs:        parseInt64Query(c, "end"),
		Limit:        limit,
	}

	points, err := h.metrics.Query(c.Request.Context(), query)
	if err != nil {
		logger.Error("Failed to query metric points", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询指标失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total":  len(points),
			"points": points,
		},
	})
}
