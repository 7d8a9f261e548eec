package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	SSH       SSHConfig       `mapstructure:"ssh"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// TelemetryConfig 遥测采集与失败恢复调度配置
type TelemetryConfig struct {
	// PerformanceCollectionInterval 注册设备时默认的性能采集周期（秒）
	PerformanceCollectionInterval int64 `mapstructure:"performance_collection_interval"`
	// MinCollectionInterval 允许的最小采集周期（秒），注册入参小于该值时被抬升
	MinCollectionInterval int64 `mapstructure:"min_collection_interval"`
	// FailedTaskRetryInterval 失败任务记录的固定重试节奏（秒），创建记录时写入
	FailedTaskRetryInterval int64 `mapstructure:"failed_task_retry_interval"`
	// FailedTaskSweepInterval 失败任务扫描周期（秒），低于采集频率
	FailedTaskSweepInterval int64 `mapstructure:"failed_task_sweep_interval"`
	// MaxFailedTaskRetryCount 重试次数上限，超过后删除记录并放弃该窗口
	MaxFailedTaskRetryCount int `mapstructure:"max_failed_task_retry_count"`
	// WorkerCount 采集工作协程数
	WorkerCount int `mapstructure:"worker_count"`
	// DriverTimeout 单次驱动调用超时
	DriverTimeout time.Duration `mapstructure:"driver_timeout"`
	// DispatchWaitTimeout 触发时等待空闲工作协程的上限，超时则丢弃本次触发
	DispatchWaitTimeout time.Duration `mapstructure:"dispatch_wait_timeout"`
}

// ArchiveConfig 采集窗口归档配置
type ArchiveConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Backend string             `mapstructure:"backend"` // local | minio
	Local   LocalArchiveConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalArchiveConfig 本地归档配置
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// SSHConfig SSH 接入配置（CLI 类驱动使用）
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	MaxSessions       int           `mapstructure:"max_sessions"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("STORAGE_COLLECTOR")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeTelemetry(&config.Telemetry)

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.sqlite.path", "./data/storagecollector.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 1)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "both")
	viper.SetDefault("log.file_path", "./logs/storagecollector.log")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.compress", true)

	// 遥测调度默认值：采集周期 900s，失败重试节奏 180s，
	// 失败扫描 240s，重试上限 5 次
	viper.SetDefault("telemetry.performance_collection_interval", int64(900))
	viper.SetDefault("telemetry.min_collection_interval", int64(300))
	viper.SetDefault("telemetry.failed_task_retry_interval", int64(180))
	viper.SetDefault("telemetry.failed_task_sweep_interval", int64(240))
	viper.SetDefault("telemetry.max_failed_task_retry_count", 5)
	viper.SetDefault("telemetry.worker_count", 10)
	viper.SetDefault("telemetry.driver_timeout", 60*time.Second)
	viper.SetDefault("telemetry.dispatch_wait_timeout", 5*time.Second)

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.backend", "local")
	viper.SetDefault("archive.local.base_dir", "./data/archives")
	viper.SetDefault("archive.minio.use_ssl", false)

	viper.SetDefault("ssh.connect_timeout", 10*time.Second)
	viper.SetDefault("ssh.command_timeout", 30*time.Second)
	viper.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	viper.SetDefault("ssh.cleanup_interval", 30*time.Second)
	viper.SetDefault("ssh.max_sessions", 4)
}

// normalizeTelemetry 把越界的调度参数拉回安全范围
func normalizeTelemetry(tc *TelemetryConfig) {
	if tc.MinCollectionInterval <= 0 {
		tc.MinCollectionInterval = 300
	}
	if tc.PerformanceCollectionInterval < tc.MinCollectionInterval {
		tc.PerformanceCollectionInterval = tc.MinCollectionInterval
	}
	if tc.FailedTaskRetryInterval <= 0 {
		tc.FailedTaskRetryInterval = 180
	}
	if tc.FailedTaskSweepInterval <= 0 {
		tc.FailedTaskSweepInterval = 240
	}
	if tc.MaxFailedTaskRetryCount <= 0 {
		tc.MaxFailedTaskRetryCount = 5
	}
	if tc.WorkerCount <= 0 {
		tc.WorkerCount = 10
	}
	if tc.DriverTimeout <= 0 {
		tc.DriverTimeout = 60 * time.Second
	}
	if tc.DispatchWaitTimeout <= 0 {
		tc.DispatchWaitTimeout = 5 * time.Second
	}
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
