package histeq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Equalizer runs histogram equalization on a compute device.
//
// The pipeline has four stages executed in strict sequence: the histogram
// builder, the cumulative scan (two kernels), the normalizer and the
// look-up-table applicator. Every stage is a data-parallel dispatch; the
// Equalizer blocks on a read-back after each one before issuing the next.
//
// An Equalizer owns its device and processes one image at a time. Concurrent
// Equalize calls on the same Equalizer are serialised.
type Equalizer struct {
	mu     sync.Mutex
	opts   options
	dev    Device
	closed bool
	stats  Stats
}

// Stats holds cumulative counters of an Equalizer.
type Stats struct {
	// Runs is the number of Equalize calls that produced an image.
	Runs uint64

	// Failures is the number of Equalize calls that returned an error.
	Failures uint64

	// Pixels is the number of pixels equalized by successful runs.
	Pixels uint64
}

// Result is the output of EqualizeDetailed: the equalized image together
// with the intermediate tables read back from the device.
type Result struct {
	Output     *Image
	Histogram  Histogram
	Cumulative CumulativeHistogram
	Remap      RemapTable

	// CumMin is the cumulative count of the first occupied bin.
	CumMin uint32

	// Degenerate is true when every pixel of the input has the same value.
	Degenerate bool

	// Device is the name of the device that ran the pipeline.
	Device string

	// Run identifies the run in log records.
	Run string

	// Timings lists the duration of every stage in dispatch order.
	Timings []StageTiming
}

// Elapsed returns the sum of the stage durations.
func (r *Result) Elapsed() time.Duration {
	var total time.Duration
	for _, t := range r.Timings {
		total += t.Duration
	}
	return total
}

// scanWidthLimiter is implemented by devices whose scan kernels are compiled
// for a fixed maximum work-group width.
type scanWidthLimiter interface {
	MaxScanWidth() int
}

// New creates an Equalizer and initialises its device.
//
// The configuration is validated before the device is touched: a bin count
// other than 256 or an unsupported scan width returns *ConfigurationError.
// A kernel that fails to compile is returned as *BuildError.
func New(opts ...Option) (*Equalizer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.profiler == nil {
		o.profiler = nopProfiler{}
	}

	e := &Equalizer{opts: o}
	dev := o.device
	if dev == nil {
		dev = NewSoftwareDevice(o.workers)
	}

	if err := e.attach(dev); err != nil {
		if o.device == nil || !errors.Is(err, ErrFallbackToCPU) {
			return nil, err
		}
		e.log().Warn("histeq: device unavailable, using software device",
			"device", dev.Name(), "err", err)
		if err := e.attach(NewSoftwareDevice(o.workers)); err != nil {
			return nil, err
		}
	}

	e.log().Info("histeq: equalizer ready",
		"device", e.dev.Name(),
		"scan_width", o.scanWidth,
		"policy", o.policy.String())
	return e, nil
}

// attach initialises dev and makes it the Equalizer's device.
// On failure dev is closed and left detached.
func (e *Equalizer) attach(dev Device) error {
	if e.opts.logger != nil {
		propagateLogger(dev, e.opts.logger)
	} else {
		trackDevice(dev)
	}
	if err := dev.Init(); err != nil {
		untrackDevice(dev)
		dev.Close()
		return err
	}
	if lim, ok := dev.(scanWidthLimiter); ok && e.opts.scanWidth > lim.MaxScanWidth() {
		untrackDevice(dev)
		dev.Close()
		return &ConfigurationError{Param: paramScanWidth, Got: e.opts.scanWidth, Want: lim.MaxScanWidth()}
	}
	e.dev = dev
	return nil
}

func (e *Equalizer) log() *slog.Logger {
	if e.opts.logger != nil {
		return e.opts.logger
	}
	return Logger()
}

// Device returns the device the Equalizer dispatches to.
func (e *Equalizer) Device() Device {
	return e.dev
}

// Equalize returns a new image whose intensity distribution is spread over
// the full 0..255 range. The input is not modified.
//
// On error no image is returned. Device failures are reported as
// *DeviceError naming the failing stage.
func (e *Equalizer) Equalize(img *Image) (*Image, error) {
	res, err := e.EqualizeDetailed(img)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// EqualizeDetailed is like Equalize but also returns the histogram, the
// cumulative histogram, the remap table and the stage timings.
func (e *Equalizer) EqualizeDetailed(img *Image) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrDeviceClosed
	}
	if err := e.opts.validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Len() > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d pixels exceed the 32-bit counter range", ErrInvalidImage, img.Len())
	}

	run := uuid.NewString()
	log := e.log().With("run", run, "device", e.dev.Name())
	log.Debug("histeq: equalize",
		"width", img.Width,
		"height", img.Height,
		"pixels", img.Len())

	res, err := e.run(img, log)
	e.opts.profiler.ObserveRun(e.dev.Name(), img.Len(), err)
	if err != nil {
		e.stats.Failures++
		log.Debug("histeq: equalize failed", "err", err)
		return nil, err
	}
	res.Run = run
	e.stats.Runs++
	e.stats.Pixels += uint64(img.Len()) //nolint:gosec // Len > 0
	log.Debug("histeq: equalize done", "elapsed", res.Elapsed(), "degenerate", res.Degenerate)
	return res, nil
}

// Stats returns the cumulative counters.
func (e *Equalizer) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close releases the device. Close is safe to call multiple times.
func (e *Equalizer) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	untrackDevice(e.dev)
	e.dev.Close()
	return nil
}

// runBuffers tracks the buffers of one run so every exit path releases them.
type runBuffers struct {
	dev  Device
	live []Buffer
}

func (r *runBuffers) create(stage Stage, label string, size uint64, usage BufferUsage, zero bool) (Buffer, error) {
	b, err := r.dev.CreateBuffer(BufferDescriptor{
		Label:    label,
		Size:     size,
		Usage:    usage,
		ZeroInit: zero,
	})
	if err != nil {
		return nil, deviceErr(stage, "create buffer "+label, err)
	}
	r.live = append(r.live, b)
	return b, nil
}

// release destroys b before the end of the run.
func (r *runBuffers) release(b Buffer) {
	for i, lb := range r.live {
		if lb == b {
			r.live = append(r.live[:i], r.live[i+1:]...)
			r.dev.DestroyBuffer(b)
			return
		}
	}
}

func (r *runBuffers) releaseAll() {
	for i := len(r.live) - 1; i >= 0; i-- {
		r.dev.DestroyBuffer(r.live[i])
	}
	r.live = nil
}

// run executes the four stages. The caller holds e.mu.
func (e *Equalizer) run(img *Image, log *slog.Logger) (*Result, error) {
	dev := e.dev
	p := e.opts.params(img.Len())
	res := &Result{Device: dev.Name()}

	bufs := &runBuffers{dev: dev}
	defer bufs.releaseAll()

	// Pixels travel as bytes packed four per 32-bit word.
	pixBytes := uint64(padWords(len(img.Pix)))
	tableBytes := uint64(p.Bins) * 4
	offsetBytes := uint64(p.Segments) * 4

	log.Debug("histeq: buffers",
		"pixel_bytes", pixBytes,
		"bin_bytes", tableBytes,
		"segments", p.Segments)

	// Stage 1: histogram.
	start := time.Now()
	input, err := bufs.create(StageHistogram, "pixels", pixBytes, BufferUsageStorage|BufferUsageCopyDst, true)
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBuffer(input, img.Pix); err != nil {
		return nil, deviceErr(StageHistogram, "write pixels", err)
	}
	histBuf, err := bufs.create(StageHistogram, "histogram", tableBytes, BufferUsageStorage|BufferUsageCopySrc, true)
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(StageHistogram, p, input, histBuf); err != nil {
		return nil, err
	}
	words, err := readWords(dev, StageHistogram, histBuf, p.Bins)
	if err != nil {
		return nil, err
	}
	res.Histogram = Histogram(words)
	if sum := res.Histogram.Sum(); sum != uint64(p.PixelCount) {
		return nil, deviceErr(StageHistogram, "verify", fmt.Errorf("histogram counts %d pixels, want %d", sum, p.PixelCount))
	}
	e.observe(res, StageHistogram, start)

	// Stage 2: inclusive scan in two kernels.
	start = time.Now()
	cumBuf, err := bufs.create(StageScanSegments, "cumulative", tableBytes, BufferUsageStorage|BufferUsageCopySrc, true)
	if err != nil {
		return nil, err
	}
	offBuf, err := bufs.create(StageScanSegments, "offsets", offsetBytes, BufferUsageStorage, true)
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(StageScanSegments, p, histBuf, cumBuf, offBuf); err != nil {
		return nil, err
	}
	e.observe(res, StageScanSegments, start)

	start = time.Now()
	if err := e.dispatch(StageScanOffsets, p, cumBuf, offBuf); err != nil {
		return nil, err
	}
	words, err = readWords(dev, StageScanOffsets, cumBuf, p.Bins)
	if err != nil {
		return nil, err
	}
	res.Cumulative = CumulativeHistogram(words)
	if !res.Cumulative.IsMonotonic() || res.Cumulative.Total() != p.PixelCount {
		return nil, deviceErr(StageScanOffsets, "verify",
			fmt.Errorf("cumulative histogram ends at %d, want %d", res.Cumulative.Total(), p.PixelCount))
	}
	bufs.release(histBuf)
	bufs.release(offBuf)
	e.observe(res, StageScanOffsets, start)

	// Stage 3: normalize. cmin is taken from the read-back.
	start = time.Now()
	p.CumMin = res.Cumulative.MinNonZero()
	p.Total = res.Cumulative.Total()
	res.CumMin = p.CumMin
	res.Degenerate = p.Degenerate()
	if res.Degenerate {
		log.Debug("histeq: zero-variance image", "policy", p.Policy.String())
	}
	remapBuf, err := bufs.create(StageNormalize, "remap", tableBytes, BufferUsageStorage|BufferUsageCopySrc, false)
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(StageNormalize, p, cumBuf, remapBuf); err != nil {
		return nil, err
	}
	words, err = readWords(dev, StageNormalize, remapBuf, p.Bins)
	if err != nil {
		return nil, err
	}
	res.Remap = make(RemapTable, len(words))
	for i, v := range words {
		if v > 255 {
			return nil, deviceErr(StageNormalize, "verify", fmt.Errorf("remap[%d] = %d out of range", i, v))
		}
		res.Remap[i] = uint8(v)
	}
	bufs.release(cumBuf)
	e.observe(res, StageNormalize, start)

	// Stage 4: apply the table.
	start = time.Now()
	outBuf, err := bufs.create(StageLUT, "output", pixBytes, BufferUsageStorage|BufferUsageCopySrc, false)
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(StageLUT, p, input, remapBuf, outBuf); err != nil {
		return nil, err
	}
	out := NewImage(img.Width, img.Height)
	if err := dev.ReadBuffer(outBuf, out.Pix); err != nil {
		return nil, deviceErr(StageLUT, "read output", err)
	}
	e.observe(res, StageLUT, start)

	res.Output = out
	return res, nil
}

func (e *Equalizer) dispatch(stage Stage, p Params, bindings ...Buffer) error {
	err := e.dev.Dispatch(Dispatch{Stage: stage, Params: p, Bindings: bindings})
	if err != nil {
		return deviceErr(stage, "dispatch", err)
	}
	return nil
}

func (e *Equalizer) observe(res *Result, stage Stage, start time.Time) {
	d := time.Since(start)
	res.Timings = append(res.Timings, StageTiming{Stage: stage, Duration: d})
	e.opts.profiler.ObserveStage(stage, res.Device, d)
}

// readWords reads n little-endian 32-bit words from b.
func readWords(dev Device, stage Stage, b Buffer, n uint32) ([]uint32, error) {
	raw := make([]byte, int(n)*4)
	if err := dev.ReadBuffer(b, raw); err != nil {
		return nil, deviceErr(stage, "read "+b.Label(), err)
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

// padWords rounds a byte count up to whole 32-bit words.
func padWords(n int) int {
	return (n + 3) &^ 3
}
