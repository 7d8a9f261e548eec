package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storagecollectorpro/storagecollectorpro/api/handler"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// Handlers 路由注册需要的全部处理器
type Handlers struct {
	Storage *handler.StorageHandler
	Alert   *handler.AlertHandler
	Metric  *handler.MetricHandler
	Task    *handler.TaskHandler
	System  *handler.SystemHandler
}

// SetupRouter 设置路由
func SetupRouter(mode string, h Handlers) *gin.Engine {
	// 设置Gin模式
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由引擎
	r := gin.New()

	// 添加中间件
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	// 根路径
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Storage Collector Pro",
			"version": "1.0.0",
			"status":  "running",
		})
	})
	r.GET("/health", h.System.Health)

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 健康检查与系统信息
		v1.GET("/health", h.System.Health)
		v1.GET("/system/info", h.System.Info)

		// 存储设备生命周期
		storages := v1.Group("/storages")
		{
			storages.POST("", h.Storage.RegisterStorage)
			storages.GET("", h.Storage.ListStorages)
			storages.POST("/sync", h.Storage.SyncAllStorages)
			storages.GET("/:id", h.Storage.GetStorage)
			storages.DELETE("/:id", h.Storage.DeleteStorage)
			storages.POST("/:id/sync", h.Storage.SyncStorage)

			// 设备资源视图
			storages.GET("/:id/pools", h.Storage.ListPools)
			storages.GET("/:id/volumes", h.Storage.ListVolumes)

			// 告警
			storages.GET("/:id/alerts", h.Alert.ListAlerts)
			storages.POST("/:id/alerts/sync", h.Alert.SyncAlerts)
			storages.DELETE("/:id/alerts/:sequence", h.Alert.ClearAlert)

			// 性能指标
			storages.GET("/:id/metrics", h.Metric.QueryMetrics)
		}

		// 采集任务只读视图
		v1.GET("/tasks", h.Task.ListTasks)
		v1.GET("/failed-tasks", h.Task.ListFailedTasks)
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		start := time.Now()

		// 处理请求
		c.Next()

		// 计算处理时间
		duration := time.Since(start)

		// 获取请求信息
		requestID := c.GetString("request_id")
		method := c.Request.Method
		path := c.Request.URL.Path
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()

		// 记录日志
		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", statusCode,
			"duration", duration,
			"client_ip", clientIP,
		)

		// 如果是错误状态码，记录错误日志
		if statusCode >= 400 {
			logger.Error("HTTP Error",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", statusCode,
				"duration", duration,
				"client_ip", clientIP,
			)
		}
	}
}
