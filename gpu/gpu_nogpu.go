//go:build nogpu

// Package gpu provides the GPU compute device for histeq.
// This build excludes GPU support; NewDevice returns a device whose Init
// always falls back to the CPU.
package gpu

import (
	"fmt"
	"time"

	"github.com/gogpu/histeq"
)

// Config selects and configures the GPU device.
type Config struct {
	Platform     int
	Device       int
	ScanWidth    int
	FenceTimeout time.Duration
}

// DefaultFenceTimeout bounds every wait for GPU completion.
const DefaultFenceTimeout = 5 * time.Second

// Device is a placeholder that never initialises.
type Device struct {
	histeq.SoftwareDevice
}

// NewDevice returns a device whose Init reports histeq.ErrFallbackToCPU.
func NewDevice(Config) *Device { return &Device{} }

func (d *Device) Name() string { return "gpu" }

func (d *Device) Init() error {
	return fmt.Errorf("%w: built with nogpu", histeq.ErrFallbackToCPU)
}

// PlatformCount returns 0 in nogpu builds.
func PlatformCount() int { return 0 }
