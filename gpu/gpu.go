//go:build !nogpu

// Package gpu provides the GPU compute device for histeq.
//
// The device runs the equalization kernels as WGSL compute shaders through
// gogpu/wgpu (Pure Go, Vulkan backend).
//
// Usage:
//
//	eq, err := histeq.New(histeq.WithDevice(gpu.NewDevice(gpu.Config{})))
//
// If no GPU is available, New falls back to the software device and logs a
// warning.
package gpu

import (
	"github.com/gogpu/gpucontext"
	gpuimpl "github.com/gogpu/histeq/internal/gpu"
)

// Config selects and configures the GPU device.
type Config = gpuimpl.Config

// Device is a histeq.Device running on a GPU.
type Device = gpuimpl.Device

// DefaultFenceTimeout bounds every wait for GPU completion.
const DefaultFenceTimeout = gpuimpl.DefaultFenceTimeout

// NewDevice creates a GPU device for the platform and adapter selected by cfg.
// GPU resources are acquired when the Equalizer initialises the device.
func NewDevice(cfg Config) *Device {
	return gpuimpl.NewDevice(cfg)
}

// NewSharedDevice creates a GPU device that uses the device of an external
// provider (e.g., gogpu) instead of opening its own. The provider must also
// expose HAL types through HalDevice() and HalQueue(). The shared device is
// not destroyed when the Equalizer is closed.
func NewSharedDevice(provider gpucontext.DeviceProvider, cfg Config) (*Device, error) {
	d := gpuimpl.NewDevice(cfg)
	if err := d.SetDeviceProvider(provider); err != nil {
		return nil, err
	}
	return d, nil
}

// PlatformCount returns the number of platforms Config.Platform may select.
func PlatformCount() int {
	return gpuimpl.PlatformCount()
}
