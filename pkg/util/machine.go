package util

import (
	"os"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
)

var (
	machineID      string
	machineIDMutex sync.Mutex
)

// GetMachineID 获取当前机器的唯一标识符
// 用于设备初始化时生成默认设备名称
// 优先使用 machineid 库，失败则尝试读取主板序列号
// 返回值: 机器ID字符串，如果全部获取失败则返回空字符串
func GetMachineID() string {
	machineIDMutex.Lock()
	defer machineIDMutex.Unlock()

	if machineID != "" {
		return machineID
	}

	id, err := machineid.ID()
	if err == nil && id != "" {
		machineID = id
		return machineID
	}

	// 回退：读取主板序列号（仅 Linux）
	if content, err := os.ReadFile("/sys/class/dmi/id/board_serial"); err == nil {
		machineID = strings.TrimSpace(string(content))
		return machineID
	}

	return ""
}

// GetHostname 获取主机名，失败返回空字符串
func GetHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
