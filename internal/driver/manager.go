package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// AccessInfoProvider 提供设备接入信息，由存储层实现
type AccessInfoProvider interface {
	GetAccessInfo(ctx context.Context, storageID string) (*model.AccessInfo, error)
}

// Manager 按存储设备缓存驱动实例。实例创建开销大（登录、建连），
// 同一设备的调用方共享一个实例，注销设备时关闭并移除。
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	access  AccessInfoProvider
}

// NewManager 创建驱动管理器
func NewManager(access AccessInfoProvider) *Manager {
	return &Manager{
		drivers: make(map[string]Driver),
		access:  access,
	}
}

// GetDriver 获取设备的驱动实例，缺失时按接入信息构建并缓存
func (m *Manager) GetDriver(ctx context.Context, storageID string) (Driver, error) {
	m.mu.RLock()
	d, ok := m.drivers[storageID]
	m.mu.RUnlock()
	if ok {
		return d, nil
	}

	access, err := m.access.GetAccessInfo(ctx, storageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load access info for storage %s: %w", storageID, err)
	}
	built, err := BuildDriver(access)
	if err != nil {
		return nil, err
	}

	// 构建发生在锁外（可能涉及网络握手），并发构建时保留先注册的实例
	m.mu.Lock()
	if existing, ok := m.drivers[storageID]; ok {
		m.mu.Unlock()
		if err := built.Close(); err != nil {
			logger.Warn("Failed to close duplicate driver instance", "storage_id", storageID, "error", err)
		}
		return existing, nil
	}
	m.drivers[storageID] = built
	m.mu.Unlock()
	return built, nil
}

// Remove 关闭并移除设备的驱动实例，设备注销时调用
func (m *Manager) Remove(storageID string) {
	m.mu.Lock()
	d, ok := m.drivers[storageID]
	if ok {
		delete(m.drivers, storageID)
	}
	m.mu.Unlock()
	if ok {
		if err := d.Close(); err != nil {
			logger.Warn("Failed to close driver", "storage_id", storageID, "error", err)
		}
	}
}

// ResetConnection 重建设备连接，会话失效时由上层触发
func (m *Manager) ResetConnection(ctx context.Context, storageID string) error {
	m.mu.RLock()
	d, ok := m.drivers[storageID]
	m.mu.RUnlock()
	if !ok {
		// 没有缓存实例则下次 GetDriver 自然重建
		return nil
	}
	return d.ResetConnection(ctx)
}

// Shutdown 关闭全部驱动实例
func (m *Manager) Shutdown() {
	m.mu.Lock()
	drivers := m.drivers
	m.drivers = make(map[string]Driver)
	m.mu.Unlock()
	for storageID, d := range drivers {
		if err := d.Close(); err != nil {
			logger.Warn("Failed to close driver", "storage_id", storageID, "error", err)
		}
	}
}

// BuildDriver 按接入信息构建驱动实例（不缓存），注册校验时直接使用
func BuildDriver(access *model.AccessInfo) (Driver, error) {
	factory, err := GetFactory(access.Vendor, access.Model)
	if err != nil {
		return nil, err
	}
	d, err := factory(access)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s/%s driver: %w", access.Vendor, access.Model, err)
	}
	return d, nil
}
