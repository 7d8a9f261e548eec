// Package flasharray 实现 Pure Storage FlashArray 的 REST 驱动。
// 接入 REST API 2.0：api_token 换取访问令牌，到期前自动续期；
// 阵列不分池，性能接口支持按窗口回读历史采样。
package flasharray

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

const (
	// Vendor 注册厂商名
	Vendor = "pure"
	// Model 注册型号名
	Model = "flasharray"

	loginURL = "/api/2.0/login"

	defaultHTTPSPort = 443
	requestTimeout   = 30 * time.Second
	// tokenRenewAhead 距离令牌过期多久就提前换发
	tokenRenewAhead = 5 * time.Minute
	// perfResolutionMs 性能回读采样粒度（毫秒）
	perfResolutionMs = int64(30000)
	// wwnPrefix Pure 卷 WWN 的固定 NAA 前缀
	wwnPrefix = "naa.624a9370"
)

// severityMap 设备告警级别到标准级别的映射
var severityMap = map[string]string{
	"critical": model.SeverityCritical,
	"warning":  model.SeverityWarning,
	"info":     model.SeverityInformational,
}

func init() {
	driver.Register(Vendor, Model, New)
}

// Driver Pure FlashArray REST 驱动。AccessInfo 的 Password 字段承载 api_token。
type Driver struct {
	access *model.AccessInfo
	client *restclient.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// faItems 列表响应的统一信封
type faItems[T any] struct {
	Items []T `json:"items"`
}

// faAuth 登录响应
type faAuth struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// faArray 阵列基础信息
type faArray struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	PurityVersion string `json:"purity_version"`
	Capacity      int64  `json:"capacity"`
}

// faArraySpace 阵列空间信息
type faArraySpace struct {
	Space struct {
		TotalPhysical    int64 `json:"total_physical"`
		TotalProvisioned int64 `json:"total_provisioned"`
		Shared           int64 `json:"shared"`
		Snapshots        int64 `json:"snapshots"`
		System           int64 `json:"system"`
	} `json:"space"`
	Capacity int64 `json:"capacity"`
}

// faController 控制器信息
type faController struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Model   string `json:"model"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// faVolume 卷信息
type faVolume struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provisioned int64  `json:"provisioned"`
	Serial      string `json:"serial"`
	Destroyed   bool   `json:"destroyed"`
	Space       struct {
		TotalPhysical int64 `json:"total_physical"`
		Unique        int64 `json:"unique"`
		Snapshots     int64 `json:"snapshots"`
	} `json:"space"`
}

// faAlert 告警信息，created 为毫秒时间戳
type faAlert struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Code          int    `json:"code"`
	Severity      string `json:"severity"`
	State         string `json:"state"`
	Created       int64  `json:"created"`
	ComponentName string `json:"component_name"`
	ComponentType string `json:"component_type"`
	Summary       string `json:"summary"`
	Description   string `json:"description"`
}

// faArrayPerf 阵列性能采样，time 为采样点毫秒时间戳
type faArrayPerf struct {
	Time             int64   `json:"time"`
	ReadsPerSec      int64   `json:"reads_per_sec"`
	WritesPerSec     int64   `json:"writes_per_sec"`
	ReadBytesPerSec  int64   `json:"read_bytes_per_sec"`
	WriteBytesPerSec int64   `json:"write_bytes_per_sec"`
	UsecPerReadOp    float64 `json:"usec_per_read_op"`
	UsecPerWriteOp   float64 `json:"usec_per_write_op"`
}

// faVolumePerf 卷性能采样
type faVolumePerf struct {
	Name             string  `json:"name"`
	Time             int64   `json:"time"`
	ReadsPerSec      int64   `json:"reads_per_sec"`
	WritesPerSec     int64   `json:"writes_per_sec"`
	ReadBytesPerSec  int64   `json:"read_bytes_per_sec"`
	WriteBytesPerSec int64   `json:"write_bytes_per_sec"`
	UsecPerReadOp    float64 `json:"usec_per_read_op"`
	UsecPerWriteOp   float64 `json:"usec_per_write_op"`
}

// New 创建驱动实例并立即换发访问令牌
func New(access *model.AccessInfo) (driver.Driver, error) {
	port := access.Port
	if port <= 0 {
		port = defaultHTTPSPort
	}
	client, err := restclient.New(restclient.Config{
		BaseURL:   fmt.Sprintf("https://%s:%d", access.Host, port),
		Timeout:   requestTimeout,
		VerifySSL: false,
	})
	if err != nil {
		return nil, err
	}

	d := &Driver{
		access: access,
		client: client,
	}
	client.SetAuthHook(d.injectToken)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.login(ctx); err != nil {
		return nil, driver.NewBackendError(Vendor, "login", err)
	}
	return d, nil
}

// login 用 api_token 换取访问令牌
func (d *Driver) login(ctx context.Context) error {
	body := map[string]string{
		"api_token": d.access.Password,
	}
	var auth faAuth
	if err := d.client.Post(ctx, loginURL, body, &auth); err != nil {
		return err
	}
	if auth.AccessToken == "" {
		return fmt.Errorf("empty access token in login response")
	}

	d.mu.Lock()
	d.accessToken = auth.AccessToken
	d.tokenExpiry = time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	d.mu.Unlock()

	logger.Debug("FlashArray token issued",
		"host", d.access.Host, "expires_in", auth.ExpiresIn)
	return nil
}

// injectToken 为请求附加访问令牌
func (d *Driver) injectToken(req *http.Request) error {
	d.mu.Lock()
	token := d.accessToken
	d.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("x-auth-token", token)
	}
	return nil
}

// ensureToken 令牌临近过期时提前换发
func (d *Driver) ensureToken(ctx context.Context) error {
	d.mu.Lock()
	expiry := d.tokenExpiry
	d.mu.Unlock()
	if time.Until(expiry) >= tokenRenewAhead {
		return nil
	}
	return d.login(ctx)
}

// get 发起查询，令牌失效时重新登录并重试一次
func (d *Driver) get(ctx context.Context, path string, out interface{}) error {
	if err := d.ensureToken(ctx); err != nil {
		logger.Warn("FlashArray token renewal failed",
			"host", d.access.Host, "error", err)
	}
	err := d.client.Get(ctx, path, out)
	if err == nil {
		return nil
	}
	if restclient.IsUnauthorized(err) {
		logger.Debug("FlashArray token rejected, re-login", "host", d.access.Host)
		if loginErr := d.login(ctx); loginErr != nil {
			return driver.NewBackendError(Vendor, "re-login", loginErr)
		}
		if err = d.client.Get(ctx, path, out); err == nil {
			return nil
		}
	}
	return driver.NewBackendError(Vendor, "GET "+path, err)
}

// GetStorage 聚合 arrays、arrays/space 与 controllers 三个端点
func (d *Driver) GetStorage(ctx context.Context) (*model.Storage, error) {
	var arrays faItems[faArray]
	if err := d.get(ctx, "/api/2.0/arrays", &arrays); err != nil {
		return nil, err
	}
	if len(arrays.Items) == 0 {
		return nil, driver.NewBackendError(Vendor, "GET /api/2.0/arrays",
			fmt.Errorf("no array info returned"))
	}
	array := arrays.Items[0]

	var space faItems[faArraySpace]
	if err := d.get(ctx, "/api/2.0/arrays/space", &space); err != nil {
		return nil, err
	}

	// 控制器型号与就绪状态，端点异常时不中断基础信息返回
	deviceModel := "FlashArray"
	status := model.StorageStatusNormal
	var controllers faItems[faController]
	if err := d.get(ctx, "/api/2.0/controllers", &controllers); err != nil {
		logger.Warn("FlashArray controllers query failed",
			"host", d.access.Host, "error", err)
	} else if len(controllers.Items) > 0 {
		ready := false
		for _, ctrl := range controllers.Items {
			if ctrl.Model != "" && deviceModel == "FlashArray" {
				deviceModel = ctrl.Model
			}
			if strings.EqualFold(ctrl.Status, "ready") {
				ready = true
			}
		}
		if !ready {
			status = model.StorageStatusAbnormal
		}
	}

	total := array.Capacity
	var used int64
	if len(space.Items) > 0 {
		if space.Items[0].Capacity > 0 {
			total = space.Items[0].Capacity
		}
		used = space.Items[0].Space.TotalPhysical
	}

	firmware := array.PurityVersion
	if firmware == "" {
		firmware = array.Version
	}

	return &model.Storage{
		Name:            array.Name,
		Vendor:          "PURE",
		Model:           deviceModel,
		Status:          status,
		SerialNumber:    array.ID,
		FirmwareVersion: firmware,
		TotalCapacity:   total,
		RawCapacity:     total,
		UsedCapacity:    used,
		FreeCapacity:    total - used,
	}, nil
}

// ListStoragePools FlashArray 是单一全局空间，没有池概念
func (d *Driver) ListStoragePools(ctx context.Context) ([]model.StoragePool, error) {
	return []model.StoragePool{}, nil
}

// ListVolumes 列出未销毁的卷。WWN 由固定 NAA 前缀加卷序列号构成。
func (d *Driver) ListVolumes(ctx context.Context) ([]model.Volume, error) {
	var volumes faItems[faVolume]
	if err := d.get(ctx, "/api/2.0/volumes", &volumes); err != nil {
		return nil, err
	}

	result := make([]model.Volume, 0, len(volumes.Items))
	for _, vol := range volumes.Items {
		if vol.Destroyed {
			continue
		}
		nativeID := vol.ID
		if nativeID == "" {
			nativeID = vol.Name
		}
		used := vol.Space.TotalPhysical
		result = append(result, model.Volume{
			NativeVolumeID: nativeID,
			Name:           vol.Name,
			Status:         model.VolumeStatusAvailable,
			Type:           model.VolumeTypeThin,
			WWN:            wwnPrefix + strings.ToLower(vol.Serial),
			TotalCapacity:  vol.Provisioned,
			UsedCapacity:   used,
			FreeCapacity:   vol.Provisioned - used,
		})
	}
	return result, nil
}

// ListAlerts 列出未关闭的告警
func (d *Driver) ListAlerts(ctx context.Context, query *driver.AlertQuery) ([]model.Alert, error) {
	var alerts faItems[faAlert]
	if err := d.get(ctx, "/api/2.0/alerts", &alerts); err != nil {
		return nil, err
	}

	result := make([]model.Alert, 0, len(alerts.Items))
	for _, item := range alerts.Items {
		if strings.EqualFold(item.State, "closed") {
			continue
		}
		if !query.Matches(item.Created) {
			continue
		}

		severity := model.SeverityNotSpecified
		if mapped, ok := severityMap[strings.ToLower(item.Severity)]; ok {
			severity = mapped
		}
		sequence := item.Name
		if sequence == "" {
			sequence = item.ID
		}
		description := item.Description
		if description == "" {
			description = item.Summary
		}

		result = append(result, model.Alert{
			AlertID:        strconv.Itoa(item.Code),
			AlertName:      item.Summary,
			Severity:       severity,
			Category:       model.CategoryFault,
			Type:           model.AlertTypeEquipmentAlarm,
			SequenceNumber: sequence,
			OccurTime:      item.Created,
			Description:    description,
			ResourceType:   model.ResourceTypeStorage,
			Location:       item.ComponentName,
		})
	}
	return result, nil
}

// ClearAlert 设备告警随故障消除自动关闭，REST 不提供删除操作
func (d *Driver) ClearAlert(ctx context.Context, sequenceNumber string) error {
	return driver.ErrNotSupported
}

// defaultMetricSpec 未指定规格时采集阵列与卷两级指标
func defaultMetricSpec() model.MetricSpec {
	return model.MetricSpec{
		model.ResourceTypeStorage: {
			model.MetricReadIOPS,
			model.MetricWriteIOPS,
			model.MetricReadThroughput,
			model.MetricWriteThroughput,
			model.MetricReadLatency,
			model.MetricWriteLatency,
		},
		model.ResourceTypeVolume: {
			model.MetricReadIOPS,
			model.MetricWriteIOPS,
			model.MetricReadLatency,
			model.MetricWriteLatency,
		},
	}
}

// metricUnits 指标单位表
var metricUnits = map[string]string{
	model.MetricReadThroughput:  "MB/s",
	model.MetricWriteThroughput: "MB/s",
	model.MetricReadIOPS:        "IOPS",
	model.MetricWriteIOPS:       "IOPS",
	model.MetricReadLatency:     "ms",
	model.MetricWriteLatency:    "ms",
}

// CollectPerfMetrics 按窗口回读历史性能采样。
// 设备可能返回窗口边缘之外的采样点，按 [startMs, endMs) 过滤。
func (d *Driver) CollectPerfMetrics(ctx context.Context, spec model.MetricSpec, startMs, endMs int64) ([]model.MetricPoint, error) {
	if len(spec) == 0 {
		spec = defaultMetricSpec()
	}

	var points []model.MetricPoint
	for resourceType, metricNames := range spec {
		if len(metricNames) == 0 {
			continue
		}
		switch resourceType {
		case model.ResourceTypeStorage:
			arrayPoints, err := d.collectArrayPerf(ctx, metricNames, startMs, endMs)
			if err != nil {
				return nil, err
			}
			points = append(points, arrayPoints...)
		case model.ResourceTypeVolume:
			volumePoints, err := d.collectVolumePerf(ctx, metricNames, startMs, endMs)
			if err != nil {
				return nil, err
			}
			points = append(points, volumePoints...)
		default:
			logger.Debug("FlashArray has no perf source for resource type",
				"resource_type", resourceType)
		}
	}
	return points, nil
}

// collectArrayPerf 回读阵列级采样
func (d *Driver) collectArrayPerf(ctx context.Context, metricNames []string, startMs, endMs int64) ([]model.MetricPoint, error) {
	var arrays faItems[faArray]
	if err := d.get(ctx, "/api/2.0/arrays", &arrays); err != nil {
		return nil, err
	}
	if len(arrays.Items) == 0 {
		return nil, driver.NewBackendError(Vendor, "GET /api/2.0/arrays",
			fmt.Errorf("no array info returned"))
	}
	resourceID := arrays.Items[0].ID
	if resourceID == "" {
		resourceID = arrays.Items[0].Name
	}

	path := fmt.Sprintf("/api/2.0/arrays/performance?start_time=%d&end_time=%d&resolution=%d",
		startMs, endMs, perfResolutionMs)
	var perf faItems[faArrayPerf]
	if err := d.get(ctx, path, &perf); err != nil {
		return nil, err
	}

	var points []model.MetricPoint
	for _, sample := range perf.Items {
		if sample.Time < startMs || sample.Time >= endMs {
			continue
		}
		values := perfSampleValues(sample.ReadsPerSec, sample.WritesPerSec,
			sample.ReadBytesPerSec, sample.WriteBytesPerSec,
			sample.UsecPerReadOp, sample.UsecPerWriteOp)
		points = appendPerfPoints(points, model.ResourceTypeStorage, resourceID,
			metricNames, sample.Time, values)
	}
	return points, nil
}

// collectVolumePerf 回读卷级采样，采样项按卷名区分
func (d *Driver) collectVolumePerf(ctx context.Context, metricNames []string, startMs, endMs int64) ([]model.MetricPoint, error) {
	path := fmt.Sprintf("/api/2.0/volumes/performance?start_time=%d&end_time=%d&resolution=%d",
		startMs, endMs, perfResolutionMs)
	var perf faItems[faVolumePerf]
	if err := d.get(ctx, path, &perf); err != nil {
		return nil, err
	}

	var points []model.MetricPoint
	for _, sample := range perf.Items {
		if sample.Name == "" || sample.Time < startMs || sample.Time >= endMs {
			continue
		}
		values := perfSampleValues(sample.ReadsPerSec, sample.WritesPerSec,
			sample.ReadBytesPerSec, sample.WriteBytesPerSec,
			sample.UsecPerReadOp, sample.UsecPerWriteOp)
		points = appendPerfPoints(points, model.ResourceTypeVolume, sample.Name,
			metricNames, sample.Time, values)
	}
	return points, nil
}

// perfSampleValues 把原始计数换算为标准指标值：
// 吞吐 bytes/s 换算 MB/s，时延 usec 换算 ms。
func perfSampleValues(readOps, writeOps, readBytes, writeBytes int64, readUsec, writeUsec float64) map[string]float64 {
	return map[string]float64{
		model.MetricReadIOPS:        float64(readOps),
		model.MetricWriteIOPS:       float64(writeOps),
		model.MetricReadThroughput:  float64(readBytes) / 1e6,
		model.MetricWriteThroughput: float64(writeBytes) / 1e6,
		model.MetricReadLatency:     readUsec / 1000,
		model.MetricWriteLatency:    writeUsec / 1000,
	}
}

// appendPerfPoints 按请求的指标名生成数据点，设备不提供的指标跳过
func appendPerfPoints(points []model.MetricPoint, resourceType, resourceID string, metricNames []string, tsMs int64, values map[string]float64) []model.MetricPoint {
	for _, name := range metricNames {
		value, ok := values[name]
		if !ok {
			continue
		}
		points = append(points, model.MetricPoint{
			ResourceType: resourceType,
			ResourceID:   resourceID,
			MetricName:   name,
			Timestamp:    tsMs,
			Value:        value,
			Unit:         metricUnits[name],
		})
	}
	return points
}

// ResetConnection 丢弃令牌并重新登录
func (d *Driver) ResetConnection(ctx context.Context) error {
	d.mu.Lock()
	d.accessToken = ""
	d.tokenExpiry = time.Time{}
	d.mu.Unlock()
	if err := d.login(ctx); err != nil {
		return driver.NewBackendError(Vendor, "re-login", err)
	}
	return nil
}

// Close 令牌到期自动失效，客户端无需注销
func (d *Driver) Close() error {
	d.mu.Lock()
	d.accessToken = ""
	d.mu.Unlock()
	return nil
}
