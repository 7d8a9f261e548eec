package main

// 引入厂商驱动，触发各驱动的 init() 完成注册
import (
	_ "github.com/storagecollectorpro/storagecollectorpro/internal/driver/fakedevice"
	_ "github.com/storagecollectorpro/storagecollectorpro/internal/driver/flasharray"
	_ "github.com/storagecollectorpro/storagecollectorpro/internal/driver/hpe3par"
	_ "github.com/storagecollectorpro/storagecollectorpro/internal/driver/ibmds8k"
)
