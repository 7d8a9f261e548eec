package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storagecollectorpro/storagecollectorpro/internal/service"
	"github.com/storagecollectorpro/storagecollectorpro/internal/store"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// StorageHandler 存储设备处理器
type StorageHandler struct {
	storageService *service.StorageService
	pools          *store.PoolStore
	volumes        *store.VolumeStore
}

// NewStorageHandler 创建存储设备处理器
func NewStorageHandler(storageService *service.StorageService, pools *store.PoolStore, volumes *store.VolumeStore) *StorageHandler {
	return &StorageHandler{
		storageService: storageService,
		pools:          pools,
		volumes:        volumes,
	}
}

// RegisterStorage 注册存储设备
// @Summary 注册新的存储设备
// @Description 校验接入信息并试连设备，成功后建立性能采集任务
// @Tags storage
// @Accept json
// @Produce json
// @Param storage body service.RegisterRequest true "设备接入信息"
// @Success 201 {object} SuccessResponse "注册成功"
// @Failure 400 {object} ErrorResponse "请求参数错误或设备不可达"
// @Failure 409 {object} ErrorResponse "接入端点已被占用"
// @Router /api/v1/storages [post]
func (h *StorageHandler) RegisterStorage(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid storage registration parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "注册参数无效: " + err.Error(),
		})
		return
	}

	if req.Port <= 0 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PORT",
			Message: "端口号必须在1-65535之间",
		})
		return
	}

	storage, err := h.storageService.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrStorageExists) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "STORAGE_EXISTS",
				Message: "设备已注册: " + err.Error(),
			})
			return
		}
		logger.Error("Failed to register storage", "host", req.Host, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "REGISTER_FAILED",
			Message: "设备注册失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Code:    "SUCCESS",
		Message: "设备注册成功",
		Data:    storage,
	})
}

// ListStorages 查询存储设备列表
// @Summary 查询存储设备列表
// @Description 支持按名称、厂商、状态过滤
// @Tags storage
// @Produce json
// @Param name query string false "设备名称"
// @Param vendor query string false "厂商"
// @Param status query string false "设备状态"
// @Success 200 {object} SuccessResponse "设备列表"
// @Router /api/v1/storages [get]
func (h *StorageHandler) ListStorages(c *gin.Context) {
	filter := store.StorageFilter{
		Name:   c.Query("name"),
		Vendor: c.Query("vendor"),
		Status: c.Query("status"),
	}

	storages, err := h.storageService.List(c.Request.Context(), filter)
	if err != nil {
		logger.Error("Failed to list storages", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询设备列表失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total":    len(storages),
			"storages": storages,
		},
	})
}

// GetStorage 查询存储设备详情
// @Summary 查询设备详情
// @Tags storage
// @Produce json
// @Param id path string true "设备ID"
// @Success 200 {object} SuccessResponse "设备信息"
// @Failure 404 {object} ErrorResponse "设备不存在"
// @Router /api/v1/storages/{id} [get]
func (h *StorageHandler) GetStorage(c *gin.Context) {
	storage, err := h.storageService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrStorageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "STORAGE_NOT_FOUND",
				Message: "设备不存在",
			})
			return
		}
		logger.Error("Failed to get storage", "storage_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "GET_FAILED",
			Message: "查询设备失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data:    storage,
	})
}

// DeleteStorage 注销存储设备
// @Summary 注销存储设备
// @Description 撤掉采集任务并级联删除设备的资源、告警与指标数据
// @Tags storage
// @Produce json
// @Param id path string true "设备ID"
// @Success 202 {object} SuccessResponse "注销完成"
// @Failure 404 {object} ErrorResponse "设备不存在"
// @Failure 409 {object} ErrorResponse "设备正在同步"
// @Router /api/v1/storages/{id} [delete]
func (h *StorageHandler) DeleteStorage(c *gin.Context) {
	storageID := c.Param("id")
	if err := h.storageService.Delete(c.Request.Context(), storageID); err != nil {
		if errors.Is(err, store.ErrStorageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "STORAGE_NOT_FOUND",
				Message: "设备不存在",
			})
			return
		}
		if errors.Is(err, service.ErrStorageSyncing) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Code:    "STORAGE_SYNCING",
				Message: "设备正在同步，稍后再试",
			})
			return
		}
		logger.Error("Failed to delete storage", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "DELETE_FAILED",
			Message: "设备注销失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{
		Code:    "SUCCESS",
		Message: "设备注销成功",
	})
}

// SyncStorage 触发单个设备的资源同步
// @Summary 同步单个设备资源
// @Tags storage
// @Produce json
// @Param id path string true "设备ID"
// @Success 202 {object} SuccessResponse "同步已触发"
// @Failure 404 {object} ErrorResponse "设备不存在"
// @Failure 409 {object} ErrorResponse "设备正在同步"
// @Router /api/v1/storages/{id}/sync [post]
func (h *StorageHandler) SyncStorage(c *gin.Context) {
	storageID := c.Param("id")

	// 先确认设备存在，同步本身异步执行
	if _, err := h.storageService.Get(c.Request.Context(), storageID); err != nil {
		if errors.Is(err, store.ErrStorageNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "STORAGE_NOT_FOUND",
				Message: "设备不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "SYNC_FAILED",
			Message: "触发同步失败: " + err.Error(),
		})
		return
	}

	// 响应返回后请求上下文即取消，异步同步用独立上下文
	go func() {
		if err := h.storageService.Sync(context.Background(), storageID); err != nil {
			logger.Error("Storage sync failed", "storage_id", storageID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, SuccessResponse{
		Code:    "SUCCESS",
		Message: "资源同步已触发",
		Data:    gin.H{"storage_id": storageID},
	})
}

// SyncAllStorages 触发全部设备的资源同步
// @Summary 同步全部设备资源
// @Tags storage
// @Produce json
// @Success 202 {object} SuccessResponse "同步已触发"
// @Router /api/v1/storages/sync [post]
func (h *StorageHandler) SyncAllStorages(c *gin.Context) {
	go func() {
		if err := h.storageService.SyncAll(context.Background()); err != nil {
			logger.Error("Sync all storages failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, SuccessResponse{
		Code:    "SUCCESS",
		Message: "全量资源同步已触发",
	})
}

// ListPools 查询设备存储池
// @Summary 查询设备存储池列表
// @Tags storage
// @Produce json
// @Param id path string true "设备ID"
// @Success 200 {object} SuccessResponse "存储池列表"
// @Router /api/v1/storages/{id}/pools [get]
func (h *StorageHandler) ListPools(c *gin.Context) {
	storageID := c.Param("id")
	pools, err := h.pools.ListByStorage(c.Request.Context(), storageID)
	if err != nil {
		logger.Error("Failed to list storage pools", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询存储池失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total": len(pools),
			"pools": pools,
		},
	})
}

// ListVolumes 查询设备卷
// @Summary 查询设备卷列表
// @Tags storage
// @Produce json
// @Param id path string true "设备ID"
// @Success 200 {object} SuccessResponse "卷列表"
// @Router /api/v1/storages/{id}/volumes [get]
func (h *StorageHandler) ListVolumes(c *gin.Context) {
	storageID := c.Param("id")
	volumes, err := h.volumes.ListByStorage(c.Request.Context(), storageID)
	if err != nil {
		logger.Error("Failed to list volumes", "storage_id", storageID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "LIST_FAILED",
			Message: "查询卷失败: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"total":   len(volumes),
			"volumes": volumes,
		},
	})
}
