package api_router

import (
	"os"
	"runtime"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemHandler 系统信息处理器，仅挂载在私有端口
type SystemHandler struct {
	*Handler
}

// NewSystemHandler 创建系统信息处理器实例
func NewSystemHandler(a *app.App) *SystemHandler {
	return &SystemHandler{Handler: NewHandler(a)}
}

// RuntimeInfo Go 运行时信息
type RuntimeInfo struct {
	NumGoroutine int    `json:"numGoroutine"`
	MemAlloc     uint64 `json:"memAlloc"`
	MemSys       uint64 `json:"memSys"`
	HeapInuse    uint64 `json:"heapInuse"`
	NumGC        uint32 `json:"numGC"`
}

// CPUInfo CPU 信息
type CPUInfo struct {
	ModelName     string    `json:"modelName"`
	PhysicalCores int       `json:"physicalCores"`
	LogicalCores  int       `json:"logicalCores"`
	Percent       []float64 `json:"percent"`
	Load1         float64   `json:"load1"`
	Load5         float64   `json:"load5"`
	Load15        float64   `json:"load15"`
}

// MemoryInfo 内存信息
type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// HostInfo 主机信息
type HostInfo struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	Arch          string `json:"arch"`
	KernelVersion string `json:"kernelVersion"`
	Uptime        uint64 `json:"uptime"`
}

// ProcessInfo 进程信息
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float32 `json:"memoryPercent"`
}

// SystemInfo 系统与运行时信息
type SystemInfo struct {
	StartTime     time.Time   `json:"startTime"`
	Uptime        float64     `json:"uptime"`
	RuntimeStatus RuntimeInfo `json:"runtime"`
	CPU           CPUInfo     `json:"cpu"`
	Memory        MemoryInfo  `json:"memory"`
	Host          HostInfo    `json:"host"`
	Process       ProcessInfo `json:"process"`
}

// Info 系统信息接口
// @Summary 获取系统与运行时信息
// @Description 获取主机、进程与 Go 运行时数据，仅在私有端口提供
// @Tags 系统
// @Produce json
// @Success 200 {object} pkgapp.Res{data=SystemInfo} "成功"
// @Router /sysinfo [get]
func (h *SystemHandler) Info(c *gin.Context) {
	response := pkgapp.NewResponse(c)

	// Go Runtime
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// CPU
	cpuInfoList, _ := cpu.Info()
	cpuModel := ""
	if len(cpuInfoList) > 0 {
		cpuModel = cpuInfoList[0].ModelName
	}
	physCores, _ := cpu.Counts(false)
	logicCores, _ := cpu.Counts(true)
	cpuPercents, _ := cpu.Percent(time.Second, true)
	loadStat, _ := load.Avg()

	// Memory
	vMem, _ := mem.VirtualMemory()

	// Host
	hInfo, _ := host.Info()

	// Process
	p, _ := process.NewProcess(int32(os.Getpid()))
	pName, _ := p.Name()
	pCPU, _ := p.CPUPercent()
	pMem, _ := p.MemoryPercent()

	data := SystemInfo{
		StartTime: h.App.StartTime,
		Uptime:    time.Since(h.App.StartTime).Seconds(),
		RuntimeStatus: RuntimeInfo{
			NumGoroutine: runtime.NumGoroutine(),
			MemAlloc:     m.Alloc,
			MemSys:       m.Sys,
			HeapInuse:    m.HeapInuse,
			NumGC:        m.NumGC,
		},
		CPU: CPUInfo{
			ModelName:     cpuModel,
			PhysicalCores: physCores,
			LogicalCores:  logicCores,
			Percent:       cpuPercents,
			Load1:         loadStat.Load1,
			Load5:         loadStat.Load5,
			Load15:        loadStat.Load15,
		},
		Memory: MemoryInfo{
			Total:       vMem.Total,
			Available:   vMem.Available,
			Used:        vMem.Used,
			UsedPercent: vMem.UsedPercent,
		},
		Host: HostInfo{
			Hostname:      hInfo.Hostname,
			OS:            hInfo.OS,
			Platform:      hInfo.Platform,
			Arch:          hInfo.KernelArch,
			KernelVersion: hInfo.KernelVersion,
			Uptime:        hInfo.Uptime,
		},
		Process: ProcessInfo{
			PID:           p.Pid,
			Name:          pName,
			CPUPercent:    pCPU,
			MemoryPercent: pMem,
		},
	}

	response.ToResponse(code.Success.Clone().WithData(data))
}
