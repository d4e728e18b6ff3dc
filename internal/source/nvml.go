package source

import (
	"codeberg.org/mutker/finshlink/internal/errors"
	"codeberg.org/mutker/finshlink/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	ErrGPUInitFailed    = errors.ErrorCode("source_gpu_init_failed")
	ErrGPUDeviceMissing = errors.ErrorCode("source_gpu_device_missing")
	ErrGPUReadFailed    = errors.ErrorCode("source_gpu_read_failed")
)

// nvmlReader reads utilization, temperature and VRAM through NVML
type nvmlReader struct {
	device nvml.Device
}

// NewNVMLReader initializes NVML and binds the device at the given
// index. Returns an error on hosts without a usable NVIDIA GPU; callers
// then run with a nil reader.
func NewNVMLReader(deviceIndex int) (GPUReader, func(), error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, nil, errFactory.WithData(ErrGPUInitFailed, nvml.ErrorString(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(deviceIndex)
	if ret != nvml.SUCCESS {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("NVML shutdown failed")
		}

		return nil, nil, errFactory.WithData(ErrGPUDeviceMissing, deviceIndex)
	}

	shutdown := func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("NVML shutdown failed")
		}
	}

	return &nvmlReader{device: device}, shutdown, nil
}

func (r *nvmlReader) Snapshot() (usagePercent, temperatureC, vramUsedBytes float64, err error) {
	util, ret := r.device.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return 0, 0, 0, errFactory.WithData(ErrGPUReadFailed, nvml.ErrorString(ret))
	}

	temp, ret := r.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return 0, 0, 0, errFactory.WithData(ErrGPUReadFailed, nvml.ErrorString(ret))
	}

	memInfo, ret := r.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, 0, 0, errFactory.WithData(ErrGPUReadFailed, nvml.ErrorString(ret))
	}

	return float64(util.Gpu), float64(temp), float64(memInfo.Used), nil
}
