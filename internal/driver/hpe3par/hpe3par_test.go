package hpe3par

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagecollectorpro/storagecollectorpro/internal/driver"
	"github.com/storagecollectorpro/storagecollectorpro/internal/model"
)

const showsysOutput = `---------------------------General----------------------------
System Name       : 3par-lab01
System Model      : HPE 3PAR 8440
Serial Number     : 1620456
System ID         : 1620456
Number of Nodes   : 2
Master Node       : 0
Nodes Online      : 0,1
Nodes in Cluster  : 0,1
Location          : dc1-row3-rack12

--------------------------System IP---------------------------
IP Address        : 192.168.30.11
Netmask/PrefixLen : 255.255.255.0

------------------System Capacity (MiB)-----------------------
Total Capacity    : 9830400
Allocated Capacity: 5120000
Free Capacity     : 4587520
Failed Capacity   : 122880
`

const showcpgOutput = `                      -Volumes- -Usage- ------- Usr ------- ----- Snp ----- ----- Adm -----
 Id Name        Warn% VVs TPVVs TDVVs Usr Snp   Total    Used   Total   Used   Total   Used
  0 FC_r6       -      40    40     0  40   0  471040  444800    8192    256    8192    256
  1 SSD_r1      -       2     2     0   2   0   16384   12288    1024      0    1024      0
-------------------------------------------------------------------------------------------
  2 total                                      487424  457088    9216    256    9216    256
`

const showvvOutput = `Id Name      Prov State  VSize_MB Usr_Used_MB VV_WWN
 0 admin     full normal    10240       10240 60002AC0000000000000000A00001F90
 1 .srdata   full normal    81920       81920 60002AC0000000000000000B00001F90
 2 db_vol01  tpvv normal   102400       51200 60002AC0000000000000000C00001F90
 3 stale_vol tpvv failed     8192           0 60002AC0000000000000000D00001F90
--------------------------------------------------------------------------
 4 total                   202752      143360
`

const showalertOutput = `Id          : 1504
State       : New
Message Code: 0x0270001
Time        : 2025-03-10 14:22:05 UTC
Severity    : Degraded
Type        : Component state change
Message     : Node 0, Power Supply 1, Battery 0 Degraded (Expired)
Component   : ps1,bat0

Id          : 1505
State       : New
Message Code: 0x0450002
Time        : 2025-03-10 15:02:44 UTC
Severity    : Critical
Type        : Hardware failure
Message     : Magazine 3 failed
`

// TestParseSystem 验证 showsys -d 冒号记录解析与容量换算
func TestParseSystem(t *testing.T) {
	storage, err := parseSystem(showsysOutput, "1.7")
	require.NoError(t, err)

	assert.Equal(t, "3par-lab01", storage.Name)
	assert.Equal(t, "HPE", storage.Vendor)
	assert.Equal(t, "HPE 3PAR 8440", storage.Model)
	assert.Equal(t, "1620456", storage.SerialNumber)
	assert.Equal(t, "1.7", storage.FirmwareVersion)
	assert.Equal(t, "dc1-row3-rack12", storage.Location)

	// 容量按 MiB 换算为字节
	assert.Equal(t, int64(9830400)*mib, storage.TotalCapacity)
	assert.Equal(t, int64(5120000)*mib, storage.UsedCapacity)
	assert.Equal(t, int64(4587520)*mib, storage.FreeCapacity)
	assert.Equal(t, int64(9830400+122880)*mib, storage.RawCapacity)

	// 故障容量非零时整机降级
	assert.Equal(t, model.StorageStatusDegraded, storage.Status)
}

// TestParseSystemHealthy 无故障容量时状态为 normal
func TestParseSystemHealthy(t *testing.T) {
	output := `System Name       : 3par-lab02
Serial Number     : 1620457
Total Capacity    : 1024
Allocated Capacity: 512
Free Capacity     : 512
Failed Capacity   : 0
`
	storage, err := parseSystem(output, "1.6.5")
	require.NoError(t, err)
	assert.Equal(t, model.StorageStatusNormal, storage.Status)
	assert.Equal(t, int64(1024)*mib, storage.TotalCapacity)
	assert.Equal(t, int64(1024)*mib, storage.RawCapacity)
}

// TestParseSystemEmpty 输出里没有系统属性时报错
func TestParseSystemEmpty(t *testing.T) {
	_, err := parseSystem("command failed\n", "1.7")
	assert.Error(t, err)
}

// TestParseCpgTable 验证 showcpg 的表格解析
func TestParseCpgTable(t *testing.T) {
	pools := parseCpgTable(showcpgOutput)
	require.Len(t, pools, 2, "表头、分隔线与汇总行都应跳过")

	// 测试用例1：Usr/Snp/Adm 三段容量求和
	fc := pools[0]
	assert.Equal(t, "0", fc.NativeStoragePoolID)
	assert.Equal(t, "FC_r6", fc.Name)
	assert.Equal(t, model.StoragePoolStatusNormal, fc.Status)
	assert.Equal(t, model.StorageTypeBlock, fc.StorageType)
	assert.Equal(t, int64(471040+8192+8192)*mib, fc.TotalCapacity)
	assert.Equal(t, int64(444800+256+256)*mib, fc.UsedCapacity)
	assert.Equal(t, fc.TotalCapacity-fc.UsedCapacity, fc.FreeCapacity)

	// 测试用例2：第二个 CPG 独立解析
	ssd := pools[1]
	assert.Equal(t, "1", ssd.NativeStoragePoolID)
	assert.Equal(t, "SSD_r1", ssd.Name)
	assert.Equal(t, int64(16384+1024+1024)*mib, ssd.TotalCapacity)
	assert.Equal(t, int64(12288)*mib, ssd.UsedCapacity)
}

// TestParseVolumeTable 验证 showvv 定制列解析
func TestParseVolumeTable(t *testing.T) {
	volumes := parseVolumeTable(showvvOutput)
	require.Len(t, volumes, 4, "汇总行列数不同应被跳过")

	// 测试用例1：full 卷为厚置备
	admin := volumes[0]
	assert.Equal(t, "0", admin.NativeVolumeID)
	assert.Equal(t, "admin", admin.Name)
	assert.Equal(t, model.VolumeTypeThick, admin.Type)
	assert.Equal(t, model.VolumeStatusAvailable, admin.Status)
	assert.Equal(t, "60002ac0000000000000000a00001f90", admin.WWN, "WWN 统一小写")

	// 测试用例2：tpvv 为薄置备，容量按 MiB 换算
	db := volumes[2]
	assert.Equal(t, model.VolumeTypeThin, db.Type)
	assert.Equal(t, int64(102400)*mib, db.TotalCapacity)
	assert.Equal(t, int64(51200)*mib, db.UsedCapacity)
	assert.Equal(t, int64(51200)*mib, db.FreeCapacity)

	// 测试用例3：非 normal 状态归一化为 error
	assert.Equal(t, model.VolumeStatusError, volumes[3].Status)
}

// TestParseAlertRecords 验证 showalert -d 的记录切分与字段映射
func TestParseAlertRecords(t *testing.T) {
	alerts := parseAlertRecords(showalertOutput, nil)
	require.Len(t, alerts, 2)

	first := alerts[0]
	assert.Equal(t, "1504", first.SequenceNumber)
	assert.Equal(t, "0x0270001", first.AlertID)
	assert.Equal(t, "Component state change", first.AlertName)
	assert.Equal(t, model.SeverityWarning, first.Severity, "degraded 归一化为 Warning")
	assert.Equal(t, model.CategoryFault, first.Category)
	assert.Equal(t, model.AlertTypeEquipmentAlarm, first.Type)
	assert.Equal(t, "Node 0, Power Supply 1, Battery 0 Degraded (Expired)", first.Description)
	assert.Equal(t, "ps1,bat0", first.Location)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 22, 5, 0, time.UTC).UnixMilli(), first.OccurTime)

	second := alerts[1]
	assert.Equal(t, model.SeverityCritical, second.Severity)
	assert.Equal(t, "", second.Location, "缺失的字段保持为空")
}

// TestParseAlertRecordsTimeFilter 时间范围过滤
func TestParseAlertRecordsTimeFilter(t *testing.T) {
	// 起点设在第一条告警之后
	begin := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC).Unix()
	alerts := parseAlertRecords(showalertOutput, &driver.AlertQuery{BeginTime: begin})
	require.Len(t, alerts, 1)
	assert.Equal(t, "1505", alerts[0].SequenceNumber)
}

// TestParseAlertRecordsBadTime 时间无法解析时记录保留且时刻为 0
func TestParseAlertRecordsBadTime(t *testing.T) {
	output := `Id          : 9
Message Code: 0x01
Time        : not-a-time
Severity    : Minor
Type        : Test
Message     : msg
`
	alerts := parseAlertRecords(output, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(0), alerts[0].OccurTime)
	assert.Equal(t, model.SeverityWarning, alerts[0].Severity, "minor 归一化为 Warning")
}

// TestSplitColon 属性行按第一个冒号切分，键做规范化
func TestSplitColon(t *testing.T) {
	key, value, ok := splitColon("Message Code: 0x0270001")
	assert.True(t, ok)
	assert.Equal(t, "message_code", key)
	assert.Equal(t, "0x0270001", value)

	// 值里的冒号原样保留
	key, value, ok = splitColon("Time : 2025-03-10 14:22:05 UTC")
	assert.True(t, ok)
	assert.Equal(t, "time", key)
	assert.Equal(t, "2025-03-10 14:22:05 UTC", value)

	// 括号从键里剥离
	key, _, ok = splitColon("Total Capacity (MiB) : 100")
	assert.True(t, ok)
	assert.Equal(t, "total_capacity_mib", key)

	// 无冒号的行不产生键值
	_, _, ok = splitColon("------General------")
	assert.False(t, ok)
}

// TestSplitRecords 空行分块，CRLF 归一化
func TestSplitRecords(t *testing.T) {
	output := "Id : 1\r\nState : New\r\n\r\nId : 2\n\n\nId : 3\n"
	blocks := splitRecords(output)
	require.Len(t, blocks, 3)
	assert.Equal(t, "Id : 1\nState : New", blocks[0])
	assert.Equal(t, "Id : 2", blocks[1])

	// 全空输出不产生块
	assert.Empty(t, splitRecords("\n\n  \n"))
}

// TestIsDigits 流水号校验只放行纯数字
func TestIsDigits(t *testing.T) {
	assert.True(t, isDigits("1504"))
	assert.False(t, isDigits(""))
	assert.False(t, isDigits("15a4"))
	assert.False(t, isDigits("1504; rm -rf /"), "拼接进命令前必须拦截元字符")
}

// TestParseMiB 宽松解析 MiB 数值
func TestParseMiB(t *testing.T) {
	assert.Equal(t, int64(1024)*mib, parseMiB("1024"))
	assert.Equal(t, int64(9830400)*mib, parseMiB("9830400.0"), "小数形式也应解析")
	assert.Equal(t, int64(0), parseMiB(""))
	assert.Equal(t, int64(0), parseMiB("n/a"))
}
