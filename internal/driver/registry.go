package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

// Factory 按接入信息构建驱动实例
type Factory func(access *model.AccessInfo) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func registryKey(vendor, deviceModel string) string {
	return strings.ToLower(vendor) + "/" + strings.ToLower(deviceModel)
}

// Register 注册厂商驱动工厂，各驱动包在 init 中调用
func Register(vendor, deviceModel string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey(vendor, deviceModel)] = factory
}

// GetFactory 查找厂商驱动工厂，未注册的厂商/型号返回错误
func GetFactory(vendor, deviceModel string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[registryKey(vendor, deviceModel)]
	if !ok {
		return nil, fmt.Errorf("no driver registered for vendor=%s model=%s", vendor, deviceModel)
	}
	return factory, nil
}

// Supported 返回已注册的厂商/型号列表
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
