package histeq

import "log/slog"

// DefaultScanWidth is the default work-group width of the scan kernels.
const DefaultScanWidth = 256

// MaxScanWidth is the largest scan width a device must support. It matches
// the minimum per-work-group invocation limit of WebGPU devices.
const MaxScanWidth = 256

// Option configures an Equalizer during creation.
//
// Example:
//
//	// Software device with default settings
//	eq, err := histeq.New()
//
//	// GPU device, saturating zero-variance images
//	eq, err := histeq.New(
//	    histeq.WithDevice(gpu.NewDevice(gpu.Config{})),
//	    histeq.WithDegeneratePolicy(histeq.DegenerateSaturate),
//	)
type Option func(*options)

// options holds optional configuration for Equalizer creation.
type options struct {
	device    Device
	bins      int
	scanWidth int
	policy    DegeneratePolicy
	profiler  Profiler
	logger    *slog.Logger
	workers   int
}

// defaultOptions returns the default equalizer options.
func defaultOptions() options {
	return options{
		device:    nil, // Will be set to SoftwareDevice if nil
		bins:      Bins,
		scanWidth: DefaultScanWidth,
		policy:    DegenerateIdentity,
	}
}

// validate checks the kernel geometry. It runs before any device work.
func (o *options) validate() error {
	if o.bins != Bins {
		return &ConfigurationError{Param: paramBins, Got: o.bins, Want: Bins}
	}
	if o.scanWidth < 1 || o.scanWidth > MaxScanWidth {
		return &ConfigurationError{Param: paramScanWidth, Got: o.scanWidth, Want: MaxScanWidth}
	}
	return nil
}

// params returns the uniform block shared by every stage of one run.
func (o *options) params(pixels int) Params {
	bins := uint32(o.bins)      //nolint:gosec // validated
	width := uint32(o.scanWidth) //nolint:gosec // validated
	return Params{
		PixelCount: uint32(pixels), //nolint:gosec // checked by Image.Validate
		Bins:       bins,
		ScanWidth:  width,
		Segments:   Workgroups(bins, width),
		Policy:     o.policy,
	}
}

// WithDevice sets the compute device of the Equalizer.
// The Equalizer takes ownership: it initialises the device in New and
// closes it in Close.
//
// If Init fails with an error wrapping ErrFallbackToCPU, New logs a warning
// and uses the software device instead.
//
// Example:
//
//	import "github.com/gogpu/histeq/gpu"
//
//	eq, err := histeq.New(histeq.WithDevice(gpu.NewDevice(gpu.Config{Device: 1})))
func WithDevice(d Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithBins sets the histogram bin count. Only 256 is supported; any other
// value makes New return a *ConfigurationError.
func WithBins(n int) Option {
	return func(o *options) {
		o.bins = n
	}
}

// WithScanWidth sets the work-group width of the scan kernels. The scan
// splits the bins into segments of this width. Valid widths are 1..MaxScanWidth.
func WithScanWidth(w int) Option {
	return func(o *options) {
		o.scanWidth = w
	}
}

// WithDegeneratePolicy selects the remap table for images in which every
// pixel has the same value.
func WithDegeneratePolicy(p DegeneratePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithProfiler records per-stage timings.
func WithProfiler(p Profiler) Option {
	return func(o *options) {
		o.profiler = p
	}
}

// WithLogger sets the logger of this Equalizer and its device.
// Without it the package logger (see SetLogger) is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorkers sets the worker count of the default software device and of
// the CPU fallback. 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}
