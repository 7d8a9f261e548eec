package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

// TestAlertQueryMatches 告警时间范围过滤：查询边界为秒，
// 发生时刻为毫秒，两端闭区间
func TestAlertQueryMatches(t *testing.T) {
	query := &AlertQuery{BeginTime: 100, EndTime: 200}

	assert.True(t, query.Matches(150000), "150s 落在 [100s, 200s] 内")
	assert.False(t, query.Matches(50000), "50s 早于范围起点")
	assert.False(t, query.Matches(250000), "250s 晚于范围终点")
	assert.True(t, query.Matches(100000), "边界起点应命中")
	assert.True(t, query.Matches(200000), "边界终点应命中")
}

// TestAlertQueryUnbounded 缺省边界不过滤
func TestAlertQueryUnbounded(t *testing.T) {
	var nilQuery *AlertQuery
	assert.True(t, nilQuery.Matches(12345), "nil 查询不过滤任何告警")

	onlyBegin := &AlertQuery{BeginTime: 100}
	assert.True(t, onlyBegin.Matches(999999000), "只设起点时上界不限")
	assert.False(t, onlyBegin.Matches(99999))

	onlyEnd := &AlertQuery{EndTime: 200}
	assert.True(t, onlyEnd.Matches(1000), "只设终点时下界不限")
	assert.False(t, onlyEnd.Matches(200001))
}

// TestRegistryResolve 驱动注册表按 vendor/model 匹配，大小写不敏感
func TestRegistryResolve(t *testing.T) {
	called := false
	Register("Test_Vendor", "Test_Model", func(access *model.AccessInfo) (Driver, error) {
		called = true
		return nil, nil
	})

	factory, err := GetFactory("test_vendor", "TEST_MODEL")
	require.NoError(t, err)
	_, err = factory(&model.AccessInfo{})
	require.NoError(t, err)
	assert.True(t, called, "应调用注册的工厂")

	assert.Contains(t, Supported(), "test_vendor/test_model")

	_, err = GetFactory("unknown", "unknown")
	assert.Error(t, err, "未注册的厂商/型号应返回错误")
}
