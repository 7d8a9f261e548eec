// Package hpe3par 实现 HPE 3PAR 系列的 CLI 驱动。
// 通过 SSH 执行 show 命令并解析冒号记录与列表输出，
// 告警清除走 removealert，性能接口 CLI 不提供。
package hpe3par

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/storagecollectorpro/storagecollectorpro/internal/config"
	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
	"github.com/storagecollectorpro/storagecollectorpro/internal/util"
	"github.com/storagecollectorpro/storagecollectorpro/pkg/logger"
	sshx "github.com/storagecollectorpro/storagecollectorpro/pkg/ssh"
)

const (
	// Vendor 注册厂商名
	Vendor = "hpe"
	// Model 注册型号名
	Model = "3par"

	cmdShowWsapi  = "showwsapi"
	cmdShowSys    = "showsys -d"
	cmdShowCpg    = "showcpg"
	cmdShowVV     = "showvv -showcols Id,Name,Prov,State,VSize_MB,Usr_Used_MB,VV_WWN"
	cmdShowAlert  = "showalert -d"
	cmdRemoveFmt  = "removealert -f %s"
	alertNotExist = "Unable to read alert"

	defaultSSHPort = 22
	mib            = 1024 * 1024
)

// severityMap CLI 告警级别到标准级别的映射
var severityMap = map[string]string{
	"fatal":         model.SeverityFatal,
	"critical":      model.SeverityCritical,
	"major":         model.SeverityMajor,
	"minor":         model.SeverityWarning,
	"degraded":      model.SeverityWarning,
	"informational": model.SeverityInformational,
}

// alertTimeLayouts showalert 时间字段的候选格式
var alertTimeLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

func init() {
	driver.Register(Vendor, Model, New)
}

// Driver HPE 3PAR CLI 驱动
type Driver struct {
	access *model.AccessInfo
	pool   *sshx.Pool
	info   *sshx.ConnectionInfo

	cmdTimeout time.Duration

	// wsapiVersion 登录探活时从 showwsapi 解析出的版本号
	wsapiVersion string
}

// New 创建驱动实例并用 showwsapi 做一次登录探活
func New(access *model.AccessInfo) (driver.Driver, error) {
	port := access.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	sshCfg := sshSettings()
	d := &Driver{
		access: access,
		info: &sshx.ConnectionInfo{
			Host:     access.Host,
			Port:     port,
			Username: access.Username,
			Password: access.Password,
		},
		cmdTimeout: sshCfg.CommandTimeout,
		pool: sshx.NewPool(&sshx.PoolConfig{
			MaxActive:       sshCfg.MaxSessions,
			IdleTimeout:     10 * time.Minute,
			CleanupInterval: sshCfg.CleanupInterval,
			SSHConfig: &sshx.Config{
				Timeout:   sshCfg.ConnectTimeout,
				KeepAlive: sshCfg.KeepAliveInterval,
			},
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), sshCfg.ConnectTimeout+d.cmdTimeout)
	defer cancel()
	version, err := d.probeVersion(ctx)
	if err != nil {
		d.pool.Close()
		return nil, err
	}
	d.wsapiVersion = version
	return d, nil
}

// sshSettings 取全局 SSH 配置，未加载配置文件时退回默认值
func sshSettings() config.SSHConfig {
	if cfg := config.Get(); cfg != nil {
		return cfg.SSH
	}
	return config.SSHConfig{
		ConnectTimeout:    10 * time.Second,
		CommandTimeout:    30 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		CleanupInterval:   30 * time.Second,
		MaxSessions:       4,
	}
}

// run 执行单条 CLI 命令并返回 UTF-8 规整后的输出
func (d *Driver) run(ctx context.Context, command string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cmdTimeout)
		defer cancel()
	}
	result, err := d.pool.ExecuteCommand(ctx, d.info, command)
	if err != nil {
		return "", driver.NewBackendError(Vendor, command, err)
	}
	output := util.EnsureUTF8(result.Output)
	logger.DebugCommandOutput(command, output, 5)
	// CLI 对未知命令返回提示文本而不是非零退出码
	if strings.Contains(output, "invalid command name") {
		return "", fmt.Errorf("%w: %s", driver.ErrNotSupported, command)
	}
	return output, nil
}

// probeVersion 执行 showwsapi 并解析版本列。
// 输出第一行为表头，第二行数据行的第 7 列是 WSAPI 版本。
func (d *Driver) probeVersion(ctx context.Context) (string, error) {
	output, err := d.run(ctx, cmdShowWsapi)
	if err != nil {
		return "", err
	}
	lines := strings.Split(output, "\n")
	if len(lines) > 1 {
		fields := strings.Fields(lines[1])
		if len(fields) > 6 {
			return fields[6], nil
		}
	}
	return "", driver.NewBackendError(Vendor, cmdShowWsapi,
		fmt.Errorf("unexpected output: %q", firstLine(output)))
}

// GetStorage 解析 showsys -d 的冒号记录
func (d *Driver) GetStorage(ctx context.Context) (*model.Storage, error) {
	output, err := d.run(ctx, cmdShowSys)
	if err != nil {
		return nil, err
	}
	storage, err := parseSystem(output, d.wsapiVersion)
	if err != nil {
		return nil, driver.NewBackendError(Vendor, cmdShowSys, err)
	}
	return storage, nil
}

// ListStoragePools 解析 showcpg 列表
func (d *Driver) ListStoragePools(ctx context.Context) ([]model.StoragePool, error) {
	output, err := d.run(ctx, cmdShowCpg)
	if err != nil {
		return nil, err
	}
	return parseCpgTable(output), nil
}

// ListVolumes 解析 showvv 的定制列输出
func (d *Driver) ListVolumes(ctx context.Context) ([]model.Volume, error) {
	output, err := d.run(ctx, cmdShowVV)
	if err != nil {
		return nil, err
	}
	return parseVolumeTable(output), nil
}

// ListAlerts 解析 showalert -d 的空行分隔冒号记录
func (d *Driver) ListAlerts(ctx context.Context, query *driver.AlertQuery) ([]model.Alert, error) {
	output, err := d.run(ctx, cmdShowAlert)
	if err != nil {
		return nil, err
	}
	return parseAlertRecords(output, query), nil
}

// parseSystem 把 showsys -d 输出转成标准设备信息。
// 容量段以 MiB 计数，故障容量非零时整机置为 degraded。
func parseSystem(output, wsapiVersion string) (*model.Storage, error) {
	attrs := parseColonRecord(output)
	if attrs["system_name"] == "" && attrs["serial_number"] == "" {
		return nil, fmt.Errorf("no system attributes in output")
	}

	total := parseMiB(attrs["total_capacity"])
	used := parseMiB(attrs["allocated_capacity"])
	free := parseMiB(attrs["free_capacity"])
	failed := parseMiB(attrs["failed_capacity"])

	status := model.StorageStatusNormal
	if failed > 0 {
		status = model.StorageStatusDegraded
	}

	return &model.Storage{
		Name:            attrs["system_name"],
		Vendor:          "HPE",
		Model:           attrs["system_model"],
		Status:          status,
		SerialNumber:    attrs["serial_number"],
		FirmwareVersion: wsapiVersion,
		Location:        attrs["location"],
		TotalCapacity:   total,
		RawCapacity:     total + failed,
		UsedCapacity:    used,
		FreeCapacity:    free,
	}, nil
}

// parseCpgTable 解析 showcpg 输出。
// 数据行末尾 6 列依次为 Usr/Snp/Adm 的 Total 与 Used（MiB），
// 三段求和得到容量，表头、分隔线与末尾汇总行跳过。
func parseCpgTable(output string) []model.StoragePool {
	pools := make([]model.StoragePool, 0)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 8 || !isDigits(fields[0]) || fields[1] == "total" {
			continue
		}
		n := len(fields)
		var totalMiB, usedMiB int64
		for i := n - 6; i < n; i += 2 {
			totalMiB += parseInt(fields[i])
			usedMiB += parseInt(fields[i+1])
		}
		total := totalMiB * mib
		used := usedMiB * mib
		pools = append(pools, model.StoragePool{
			NativeStoragePoolID: fields[0],
			Name:                fields[1],
			Status:              model.StoragePoolStatusNormal,
			StorageType:         model.StorageTypeBlock,
			TotalCapacity:       total,
			UsedCapacity:        used,
			FreeCapacity:        total - used,
		})
	}
	return pools
}

// parseVolumeTable 解析 showvv 定制列输出，
// 列为 Id Name Prov State VSize_MB Usr_Used_MB VV_WWN。
func parseVolumeTable(output string) []model.Volume {
	volumes := make([]model.Volume, 0)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) != 7 || !isDigits(fields[0]) || fields[1] == "total" {
			continue
		}
		total := parseInt(fields[4]) * mib
		used := parseInt(fields[5]) * mib

		volType := model.VolumeTypeThick
		switch strings.ToLower(fields[2]) {
		case "tpvv", "tdvv":
			volType = model.VolumeTypeThin
		}
		status := model.VolumeStatusError
		if strings.EqualFold(fields[3], "normal") {
			status = model.VolumeStatusAvailable
		}

		volumes = append(volumes, model.Volume{
			NativeVolumeID: fields[0],
			Name:           fields[1],
			Status:         status,
			Type:           volType,
			WWN:            strings.ToLower(fields[6]),
			TotalCapacity:  total,
			UsedCapacity:   used,
			FreeCapacity:   total - used,
		})
	}
	return volumes
}

// parseAlertRecords 解析 showalert -d 输出并按时间范围过滤。
// 时间无法解析的记录保留且 OccurTime 置 0，带范围查询时自然被滤掉。
func parseAlertRecords(output string, query *driver.AlertQuery) []model.Alert {
	alerts := make([]model.Alert, 0)
	for _, block := range splitRecords(output) {
		attrs := parseColonRecord(block)
		if attrs["id"] == "" {
			continue
		}

		occurMs := parseAlertTime(attrs["time"])
		if occurMs == 0 && attrs["time"] != "" {
			logger.Warn("Unparsable 3PAR alert time",
				"alert_id", attrs["id"], "time", attrs["time"])
		}
		if !query.Matches(occurMs) {
			continue
		}

		severity := model.SeverityNotSpecified
		if mapped, ok := severityMap[strings.ToLower(attrs["severity"])]; ok {
			severity = mapped
		}

		alerts = append(alerts, model.Alert{
			AlertID:        attrs["message_code"],
			AlertName:      attrs["type"],
			Severity:       severity,
			Category:       model.CategoryFault,
			Type:           model.AlertTypeEquipmentAlarm,
			SequenceNumber: attrs["id"],
			OccurTime:      occurMs,
			Description:    attrs["message"],
			ResourceType:   model.ResourceTypeStorage,
			Location:       attrs["component"],
		})
	}
	return alerts
}

// ClearAlert 执行 removealert。命令成功时无输出；
// 输出包含 alert 不存在提示时按幂等成功处理，其余输出视为失败。
func (d *Driver) ClearAlert(ctx context.Context, sequenceNumber string) error {
	if !isDigits(sequenceNumber) {
		return fmt.Errorf("invalid alert sequence number: %q", sequenceNumber)
	}
	output, err := d.run(ctx, fmt.Sprintf(cmdRemoveFmt, sequenceNumber))
	if err != nil {
		return err
	}
	if strings.TrimSpace(output) == "" {
		return nil
	}
	if strings.Contains(output, alertNotExist) {
		logger.Warn("3PAR alert already absent", "sequence_number", sequenceNumber)
		return nil
	}
	return driver.NewBackendError(Vendor, "removealert",
		fmt.Errorf("unexpected output: %q", firstLine(output)))
}

// CollectPerfMetrics CLI 不提供历史性能查询
func (d *Driver) CollectPerfMetrics(ctx context.Context, spec model.MetricSpec, startMs, endMs int64) ([]model.MetricPoint, error) {
	return nil, driver.ErrNotSupported
}

// ResetConnection 丢弃池中连接并重新探活
func (d *Driver) ResetConnection(ctx context.Context) error {
	if err := d.pool.CloseConnection(d.info); err != nil {
		logger.Debug("Close pooled 3PAR connection failed", "error", err)
	}
	version, err := d.probeVersion(ctx)
	if err != nil {
		return err
	}
	d.wsapiVersion = version
	return nil
}

// Close 关闭连接池
func (d *Driver) Close() error {
	return d.pool.Close()
}

// parseColonRecord 把 "Key Name : value" 形式的行解析为映射。
// 键统一小写、空格转下划线并去掉括号，值保留原样。
func parseColonRecord(block string) map[string]string {
	attrs := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := splitColon(line)
		if !ok {
			continue
		}
		attrs[key] = value
	}
	return attrs
}

// splitColon 按第一个冒号切分属性行
func splitColon(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(parts[0]))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "(", "")
	key = strings.ReplaceAll(key, ")", "")
	return key, strings.TrimSpace(parts[1]), true
}

// splitRecords 按空行把输出切成多个记录块
func splitRecords(output string) []string {
	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	blocks := make([]string, 0)
	current := make([]string, 0)
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = current[:0]
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// parseAlertTime 尝试候选格式解析告警时间，失败返回 0
func parseAlertTime(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	for _, layout := range alertTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// parseMiB 把 MiB 数值（可能带小数）换算为字节
func parseMiB(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(f * mib)
}

// parseInt 宽松解析整数列，无法解析时取 0
func parseInt(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// isDigits 判断字符串是否全为数字，用于行识别与命令参数校验
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// firstLine 取输出首个非空行用于错误信息
func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
