//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/histeq"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// DefaultFenceTimeout bounds every wait for GPU completion.
const DefaultFenceTimeout = 5 * time.Second

// platforms lists the HAL backends addressable by platform index.
var platforms = []gputypes.Backend{gputypes.BackendVulkan}

// PlatformCount returns the number of platforms a Config may select.
func PlatformCount() int { return len(platforms) }

// Config selects and configures the GPU device.
type Config struct {
	// Platform indexes the HAL backends (0 = Vulkan).
	Platform int

	// Device indexes the adapters of the platform. A negative index selects
	// the first discrete or integrated GPU.
	Device int

	// ScanWidth is the work-group size the scan kernels are compiled for
	// and the largest scan width a dispatch may request.
	// Zero means histeq.MaxScanWidth.
	ScanWidth int

	// FenceTimeout bounds each wait for GPU completion.
	// Zero means DefaultFenceTimeout.
	FenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanWidth <= 0 {
		c.ScanWidth = histeq.MaxScanWidth
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = DefaultFenceTimeout
	}
	return c
}

var errNotReady = errors.New("gpu: device not initialized")

// Device runs the equalization kernels on a GPU through wgpu/hal.
// It implements histeq.Device.
type Device struct {
	mu  sync.Mutex
	cfg Config

	logger atomic.Pointer[slog.Logger]

	instance       hal.Instance
	device         hal.Device
	queue          hal.Queue
	adapterName    string
	externalDevice bool // true when using shared device (don't destroy on Close)

	kernels kernelSet
	live    map[*buffer]struct{}
	ready   bool

	// openInstance creates the HAL instance of a platform.
	openInstance func(platform int) (hal.Instance, error)
}

var (
	_ histeq.Device              = (*Device)(nil)
	_ histeq.DeviceProviderAware = (*Device)(nil)
)

// NewDevice creates a GPU device. No GPU resources are acquired until Init.
func NewDevice(cfg Config) *Device {
	d := &Device{
		cfg:          cfg.withDefaults(),
		live:         make(map[*buffer]struct{}),
		openInstance: openPlatform,
	}
	d.logger.Store(nopLogger())
	return d
}

// Name returns "gpu" followed by the adapter name once known.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.adapterName == "" {
		return "gpu"
	}
	return "gpu:" + d.adapterName
}

// MaxScanWidth returns the scan work-group size the kernels are built for.
func (d *Device) MaxScanWidth() int {
	return d.cfg.ScanWidth
}

// Init opens the selected adapter, unless a shared device was provided, and
// builds every kernel.
//
// Errors wrapping histeq.ErrFallbackToCPU mean no usable GPU was found.
// A kernel that fails to build is returned as *histeq.BuildError.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ready {
		return nil
	}
	if d.device == nil {
		if err := d.open(); err != nil {
			d.releaseDevice()
			return err
		}
	}
	if err := d.kernels.build(d.device, d.cfg.ScanWidth, d.slogger()); err != nil {
		d.releaseDevice()
		return err
	}
	d.ready = true
	d.slogger().Info("gpu: device initialized",
		"adapter", d.adapterName,
		"platform", d.cfg.Platform,
		"scan_width", d.cfg.ScanWidth,
		"shared", d.externalDevice)
	return nil
}

// openPlatform creates a HAL instance for a platform index.
func openPlatform(platform int) (hal.Instance, error) {
	if platform < 0 || platform >= len(platforms) {
		return nil, fmt.Errorf("gpu: platform index %d out of range (%d platforms)", platform, len(platforms))
	}
	backend, ok := hal.GetBackend(platforms[platform])
	if !ok {
		return nil, fmt.Errorf("%w: backend %v not available", histeq.ErrFallbackToCPU, platforms[platform])
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", histeq.ErrFallbackToCPU, err)
	}
	return instance, nil
}

// open creates the instance and opens the selected adapter. The caller
// holds d.mu.
func (d *Device) open() error {
	instance, err := d.openInstance(d.cfg.Platform)
	if err != nil {
		return err
	}
	d.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	selected, err := selectAdapter(adapters, d.cfg.Device)
	if err != nil {
		return err
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("%w: open device: %w", histeq.ErrFallbackToCPU, err)
	}
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapterName = selected.Info.Name
	d.slogger().Info("gpu: adapter selected",
		"adapter", selected.Info.Name,
		"index", d.cfg.Device,
		"adapters", len(adapters))
	return nil
}

// selectAdapter picks adapters[index], or the first discrete or integrated
// GPU when index is negative.
func selectAdapter(adapters []hal.ExposedAdapter, index int) (*hal.ExposedAdapter, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: no GPU adapters found", histeq.ErrFallbackToCPU)
	}
	if index >= len(adapters) {
		return nil, fmt.Errorf("gpu: device index %d out of range (%d adapters)", index, len(adapters))
	}
	if index >= 0 {
		return &adapters[index], nil
	}
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i], nil
		}
	}
	return &adapters[0], nil
}

// Close releases every buffer, kernel and, unless shared, the device.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.live); n > 0 {
		d.slogger().Warn("gpu: closing with live buffers", "count", n)
	}
	for b := range d.live {
		d.device.DestroyBuffer(b.raw)
		b.raw = nil
	}
	clear(d.live)
	d.releaseDevice()
}

// releaseDevice destroys kernels and the owned device and instance.
// The caller holds d.mu.
func (d *Device) releaseDevice() {
	if d.device != nil {
		d.kernels.destroy(d.device)
	}
	if !d.externalDevice {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	d.ready = false
	d.externalDevice = false
}

// SetDeviceProvider switches the device to a shared GPU device from an
// external provider (e.g., gogpu). The provider must implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
//
// If the device is already initialised its kernels are rebuilt on the
// shared device.
func (d *Device) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.live) > 0 {
		return fmt.Errorf("gpu: cannot switch device with %d live buffers", len(d.live))
	}
	wasReady := d.ready
	d.releaseDevice()

	d.device = device
	d.queue = queue
	d.externalDevice = true
	d.adapterName = "shared"

	if wasReady {
		if err := d.kernels.build(d.device, d.cfg.ScanWidth, d.slogger()); err != nil {
			return fmt.Errorf("gpu: build kernels on shared device: %w", err)
		}
		d.ready = true
	}
	d.slogger().Info("gpu: switched to shared GPU device")
	return nil
}

// submission tracks the per-submit resources for cleanup.
type submission struct {
	device    hal.Device
	bindGroup hal.BindGroup
	uniform   hal.Buffer
	cmdBuf    hal.CommandBuffer
	fence     hal.Fence
}

// cleanup destroys all tracked resources.
func (s *submission) cleanup() {
	if s.fence != nil {
		s.device.DestroyFence(s.fence)
	}
	if s.cmdBuf != nil {
		s.device.FreeCommandBuffer(s.cmdBuf)
	}
	if s.bindGroup != nil {
		s.device.DestroyBindGroup(s.bindGroup)
	}
	if s.uniform != nil {
		s.device.DestroyBuffer(s.uniform)
	}
}

// submitAndWait submits the command buffer and waits for GPU completion.
// The caller holds d.mu.
func (d *Device) submitAndWait(s *submission) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	s.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{s.cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, d.cfg.FenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: GPU timeout after %v", d.cfg.FenceTimeout)
	}
	return nil
}
