package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/metric"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// GPUReader supplies the GPU portion of a hardware snapshot. Hosts
// without a supported GPU run with a nil reader and those fields stay
// absent.
type GPUReader interface {
	Snapshot() (usagePercent, temperatureC, vramUsedBytes float64, err error)
}

// cpuTempSensors are tried in order; sensor naming varies by platform
var cpuTempSensors = []string{"coretemp_package", "k10temp_tctl", "k10temp", "cpu_thermal", "coretemp"}

// HardwareSource reads host sensors through gopsutil, plus the GPU
// through an optional reader. Network rates are deltas between passes,
// so the first pass never reports them.
type HardwareSource struct {
	gpu GPUReader

	mu            sync.Mutex
	lastNetAt     time.Time
	lastNetRx     uint64
	lastNetTx     uint64
	haveNetSample bool
}

func NewHardwareSource(gpu GPUReader) *HardwareSource {
	return &HardwareSource{gpu: gpu}
}

func (*HardwareSource) Name() string { return "hardware" }

// Collect gathers whatever sensors respond. Individual sensor failures
// leave single fields absent; only a total failure drops the section.
func (s *HardwareSource) Collect(ctx context.Context) (metric.RawSources, error) {
	raw := &metric.RawHardware{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		raw.CPUUsage = metric.Raw(percents[0])
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		raw.CPUClock = metric.Raw(infos[0].Mhz)
	}
	raw.CPUTemperature = readCPUTemperature(ctx)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		raw.MemUsedBytes = metric.Raw(float64(vm.Used))
		raw.MemTotalBytes = metric.Raw(float64(vm.Total))
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		raw.DiskUsed = metric.Raw(usage.UsedPercent)
	}

	raw.NetRxBps, raw.NetTxBps = s.readNetworkRates(ctx)

	if s.gpu != nil {
		usage, temp, vram, err := s.gpu.Snapshot()
		if err != nil {
			logger.Debug().Err(err).Msg("GPU snapshot failed")
		} else {
			raw.GPUUsage = metric.Raw(usage)
			raw.GPUTemperature = metric.Raw(temp)
			raw.GPUVRAMBytes = metric.Raw(vram)
		}
	}

	if *raw == (metric.RawHardware{}) {
		return metric.RawSources{}, errFactory.New(ErrSourceUnavailable)
	}

	return metric.RawSources{Hardware: raw}, nil
}

func readCPUTemperature(ctx context.Context) metric.RawValue {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		return metric.RawValue{}
	}

	for _, wanted := range cpuTempSensors {
		for _, t := range temps {
			if strings.Contains(t.SensorKey, wanted) && t.Temperature != 0 {
				return metric.Raw(t.Temperature)
			}
		}
	}

	return metric.RawValue{}
}

// readNetworkRates derives bytes/sec from the counter delta since the
// previous pass across all interfaces combined
func (s *HardwareSource) readNetworkRates(ctx context.Context) (rx, tx metric.RawValue) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return metric.RawValue{}, metric.RawValue{}
	}

	now := time.Now()
	curRx := counters[0].BytesRecv
	curTx := counters[0].BytesSent

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveNetSample {
		elapsed := now.Sub(s.lastNetAt).Seconds()
		if elapsed > 0 && curRx >= s.lastNetRx && curTx >= s.lastNetTx {
			rx = metric.Raw(float64(curRx-s.lastNetRx) / elapsed)
			tx = metric.Raw(float64(curTx-s.lastNetTx) / elapsed)
		}
	}

	s.lastNetAt = now
	s.lastNetRx = curRx
	s.lastNetTx = curTx
	s.haveNetSample = true

	return rx, tx
}
