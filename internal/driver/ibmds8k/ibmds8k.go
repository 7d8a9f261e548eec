// Package ibmds8k 实现 IBM DS8000 系列的 REST 驱动。
// 管理口以 X-Auth-Token 会话鉴权，令牌失效时重新登录一次再重试。
// 该系列管理口的 JSON 数值字段一律以字符串下发，解析时统一转换。
package ibmds8k

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver/restclient"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
)

// Vendor 与 Model 构成注册键
const (
	Vendor = "ibm"
	Model  = "ds8k"
)

const (
	tokenURL = "/api/v1/tokens"
	// eventTimeLayout 事件时间格式，带数字时区
	eventTimeLayout = "2006-01-02T15:04:05-0700"
)

func init() {
	driver.Register(Vendor, Model, New)
}

// Driver DS8000 驱动实例
type Driver struct {
	access *model.AccessInfo
	client *restclient.Client

	// mu 保护登录动作与令牌，并发请求共享同一次重登录
	mu    sync.Mutex
	token string
}

// New 创建驱动并立即登录校验接入信息
func New(access *model.AccessInfo) (driver.Driver, error) {
	client, err := restclient.New(restclient.Config{
		BaseURL: fmt.Sprintf("https://%s:%d", access.Host, access.Port),
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	d := &Driver{access: access, client: client}
	client.SetAuthHook(d.injectToken)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.login(ctx); err != nil {
		return nil, driver.NewBackendError(Vendor, "login", err)
	}
	return d, nil
}

func (d *Driver) injectToken(req *http.Request) error {
	d.mu.Lock()
	token := d.token
	d.mu.Unlock()
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	return nil
}

// login 获取新令牌。凭据错误与设备侧失败都原样返回给调用方。
func (d *Driver) login(ctx context.Context) error {
	body := map[string]interface{}{
		"request": map[string]interface{}{
			"params": map[string]string{
				"username": d.access.Username,
				"password": d.access.Password,
			},
		},
	}
	var out struct {
		Token struct {
			Token string `json:"token"`
		} `json:"token"`
	}
	if err := d.client.Post(ctx, tokenURL, body, &out); err != nil {
		return err
	}

	d.mu.Lock()
	d.token = out.Token.Token
	d.mu.Unlock()
	return nil
}

// get 发起查询，令牌过期时重新登录一次并重试
func (d *Driver) get(ctx context.Context, path string, out interface{}) error {
	err := d.client.Get(ctx, path, out)
	if restclient.IsUnauthorized(err) {
		logger.Debug("DS8K token expired, logging in again", "host", d.access.Host)
		if lerr := d.login(ctx); lerr != nil {
			return lerr
		}
		err = d.client.Get(ctx, path, out)
	}
	return err
}

type ds8kSystem struct {
	Name     string `json:"name"`
	MTM      string `json:"MTM"`
	SN       string `json:"sn"`
	Release  string `json:"release"`
	State    string `json:"state"`
	Cap      string `json:"cap"`
	CapRaw   string `json:"capraw"`
	CapAlloc string `json:"capalloc"`
	CapAvail string `json:"capavail"`
}

type ds8kPool struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StgType   string `json:"stgtype"`
	Cap       string `json:"cap"`
	CapAlloc  string `json:"capalloc"`
	CapAvail  string `json:"capavail"`
	Threshold string `json:"threshold"`
}

type ds8kVolume struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	StgType  string `json:"stgtype"`
	Cap      string `json:"cap"`
	CapAlloc string `json:"capalloc"`
	Pool     struct {
		ID string `json:"id"`
	} `json:"pool"`
}

type ds8kEvent struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Severity           string `json:"severity"`
	Description        string `json:"description"`
	FormattedParameter string `json:"formatted_parameter"`
	Time               string `json:"time"`
}

// parseCapacity 宽松解析字符串数值，空串与坏值按 0 处理
func parseCapacity(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetStorage 取第一套系统的基础信息，state 非 online 视为异常
func (d *Driver) GetStorage(ctx context.Context) (*model.Storage, error) {
	var resp struct {
		Data struct {
			Systems []ds8kSystem `json:"systems"`
		} `json:"data"`
	}
	if err := d.get(ctx, "/api/v1/systems", &resp); err != nil {
		return nil, driver.NewBackendError(Vendor, "get_storage", err)
	}
	if len(resp.Data.Systems) == 0 {
		return nil, driver.NewBackendError(Vendor, "get_storage",
			fmt.Errorf("no system returned by device"))
	}

	sys := resp.Data.Systems[0]
	status := model.StorageStatusNormal
	if sys.State != "online" {
		status = model.StorageStatusAbnormal
	}
	return &model.Storage{
		Name:            sys.Name,
		Vendor:          "IBM",
		Model:           sys.MTM,
		Status:          status,
		SerialNumber:    sys.SN,
		FirmwareVersion: sys.Release,
		TotalCapacity:   parseCapacity(sys.Cap),
		RawCapacity:     parseCapacity(sys.CapRaw),
		UsedCapacity:    parseCapacity(sys.CapAlloc),
		FreeCapacity:    parseCapacity(sys.CapAvail),
	}, nil
}

func (d *Driver) listPools(ctx context.Context) ([]ds8kPool, error) {
	var resp struct {
		Data struct {
			Pools []ds8kPool `json:"pools"`
		} `json:"data"`
	}
	if err := d.get(ctx, "/api/v1/pools", &resp); err != nil {
		return nil, err
	}
	return resp.Data.Pools, nil
}

// ListStoragePools 返回全部池，已分配比例越过阈值的池标为异常
func (d *Driver) ListStoragePools(ctx context.Context) ([]model.StoragePool, error) {
	rawPools, err := d.listPools(ctx)
	if err != nil {
		return nil, driver.NewBackendError(Vendor, "list_pools", err)
	}

	pools := make([]model.StoragePool, 0, len(rawPools))
	for _, p := range rawPools {
		total := parseCapacity(p.Cap)
		used := parseCapacity(p.CapAlloc)
		threshold := parseCapacity(p.Threshold)

		status := model.StoragePoolStatusNormal
		if total > 0 && threshold > 0 && used*100/total > threshold {
			status = model.StoragePoolStatusAbnormal
		}
		storageType := model.StorageTypeFile
		if p.StgType == "fb" {
			storageType = model.StorageTypeBlock
		}
		pools = append(pools, model.StoragePool{
			NativeStoragePoolID: p.ID,
			Name:                p.Name,
			Status:              status,
			StorageType:         storageType,
			TotalCapacity:       total,
			UsedCapacity:        used,
			FreeCapacity:        parseCapacity(p.CapAvail),
		})
	}
	return pools, nil
}

// ListVolumes 逐池拉取卷清单。设备侧卷名可能重复，展示名拼上卷号。
func (d *Driver) ListVolumes(ctx context.Context) ([]model.Volume, error) {
	rawPools, err := d.listPools(ctx)
	if err != nil {
		return nil, driver.NewBackendError(Vendor, "list_volumes", err)
	}

	var volumes []model.Volume
	for _, p := range rawPools {
		var resp struct {
			Data struct {
				Volumes []ds8kVolume `json:"volumes"`
			} `json:"data"`
		}
		url := fmt.Sprintf("/api/v1/pools/%s/volumes", p.ID)
		if err := d.get(ctx, url, &resp); err != nil {
			return nil, driver.NewBackendError(Vendor, "list_volumes", err)
		}

		for _, v := range resp.Data.Volumes {
			total := parseCapacity(v.Cap)
			used := parseCapacity(v.CapAlloc)
			status := model.VolumeStatusError
			if v.State == "normal" {
				status = model.VolumeStatusAvailable
			}
			volumeType := model.VolumeTypeThin
			if v.StgType == "fb" {
				volumeType = model.VolumeTypeThick
			}
			volumes = append(volumes, model.Volume{
				NativeVolumeID:      v.ID,
				NativeStoragePoolID: v.Pool.ID,
				Name:                fmt.Sprintf("%s_%s", v.Name, v.ID),
				Status:              status,
				Type:                volumeType,
				TotalCapacity:       total,
				UsedCapacity:        used,
				FreeCapacity:        total - used,
			})
		}
	}
	return volumes, nil
}

// severityMap 设备事件级别到标准级别
var severityMap = map[string]string{
	"error":   model.SeverityCritical,
	"warning": model.SeverityWarning,
	"info":    model.SeverityInformational,
}

// ListAlerts 拉取 warning 与 error 级别事件并归一化
func (d *Driver) ListAlerts(ctx context.Context, query *driver.AlertQuery) ([]model.Alert, error) {
	var resp struct {
		Data struct {
			Events []ds8kEvent `json:"events"`
		} `json:"data"`
	}
	if err := d.get(ctx, "/api/v1/events?severity=warning,error", &resp); err != nil {
		return nil, driver.NewBackendError(Vendor, "list_alerts", err)
	}

	alerts := make([]model.Alert, 0, len(resp.Data.Events))
	for _, event := range resp.Data.Events {
		occur, err := time.Parse(eventTimeLayout, event.Time)
		if err != nil {
			logger.Warn("Skipping event with unparsable time",
				"host", d.access.Host, "event_id", event.ID, "time", event.Time)
			continue
		}
		occurMs := occur.Unix() * 1000
		if !query.Matches(occurMs) {
			continue
		}

		severity, ok := severityMap[event.Severity]
		if !ok {
			severity = model.SeverityInformational
		}
		alerts = append(alerts, model.Alert{
			AlertID:        event.Type,
			AlertName:      event.Description,
			Severity:       severity,
			Category:       model.CategoryFault,
			Type:           model.AlertTypeEquipmentAlarm,
			SequenceNumber: event.ID,
			OccurTime:      occurMs,
			Description:    event.FormattedParameter,
			ResourceType:   model.ResourceTypeStorage,
		})
	}
	return alerts, nil
}

// ClearAlert 该系列管理口不提供告警清除接口
func (d *Driver) ClearAlert(_ context.Context, _ string) error {
	return driver.ErrNotSupported
}

// CollectPerfMetrics 该系列管理口不提供性能查询接口
func (d *Driver) CollectPerfMetrics(_ context.Context, _ model.MetricSpec, _, _ int64) ([]model.MetricPoint, error) {
	return nil, driver.ErrNotSupported
}

// ResetConnection 丢弃旧令牌并重新登录
func (d *Driver) ResetConnection(ctx context.Context) error {
	d.mu.Lock()
	d.token = ""
	d.mu.Unlock()
	if err := d.login(ctx); err != nil {
		return driver.NewBackendError(Vendor, "reset_connection", err)
	}
	return nil
}

// Close 注销会话，设备端会自行回收超时令牌，失败只记日志
func (d *Driver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.client.Delete(ctx, tokenURL); err != nil {
		logger.Debug("DS8K logout failed", "host", d.access.Host, "error", err)
	}
	return nil
}
