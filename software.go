package histeq

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/histeq/internal/cpukernel"
	"github.com/gogpu/histeq/internal/parallel"
)

// SoftwareDevice runs the equalization kernels on the CPU.
//
// Buffers live in host memory as 32-bit words. Each dispatch is split into
// work-groups that run concurrently on a parallel.Queue, and shared counters
// are updated with atomic adds, so the software device exercises the same
// synchronization model as the GPU kernels.
type SoftwareDevice struct {
	mu      sync.Mutex
	workers int
	queue   *parallel.Queue
	live    map[*softBuffer]struct{}
}

var _ Device = (*SoftwareDevice)(nil)

// NewSoftwareDevice creates a software device with the given number of
// workers. If workers is 0 or negative, GOMAXPROCS is used.
func NewSoftwareDevice(workers int) *SoftwareDevice {
	return &SoftwareDevice{workers: workers}
}

func (d *SoftwareDevice) Name() string { return "software" }

func (d *SoftwareDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return nil
	}
	d.queue = parallel.NewQueue(d.workers)
	d.live = make(map[*softBuffer]struct{})
	Logger().Debug("software device: initialized", "workers", d.queue.Workers())
	return nil
}

func (d *SoftwareDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return
	}
	if n := len(d.live); n > 0 {
		Logger().Warn("software device: closing with live buffers", "count", n)
	}
	d.queue.Close()
	d.queue = nil
	d.live = nil
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *SoftwareDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// softBuffer is host memory addressed as 32-bit words so kernels can use
// atomic operations on it.
type softBuffer struct {
	label string
	size  uint64
	words []uint32
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Size() uint64  { return b.size }

// bytes returns the buffer contents as bytes, little-endian word order.
func (b *softBuffer) bytes() []byte {
	if len(b.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(b.words))), b.size) //nolint:gosec // size <= 4*len(words)
}

var errNotInitialized = errors.New("device not initialized")

func (d *SoftwareDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return nil, errNotInitialized
	}
	b := &softBuffer{
		label: desc.Label,
		size:  desc.Size,
		words: make([]uint32, (desc.Size+3)/4),
	}
	d.live[b] = struct{}{}
	return b, nil
}

func (d *SoftwareDevice) DestroyBuffer(b Buffer) {
	sb, ok := b.(*softBuffer)
	if !ok || sb == nil {
		return
	}
	d.mu.Lock()
	delete(d.live, sb)
	d.mu.Unlock()
	sb.words = nil
}

func (d *SoftwareDevice) buffer(b Buffer) (*softBuffer, error) {
	sb, ok := b.(*softBuffer)
	if !ok || sb == nil {
		return nil, fmt.Errorf("buffer %T does not belong to the software device", b)
	}
	if sb.words == nil && sb.size > 0 {
		return nil, fmt.Errorf("buffer %q used after destroy", sb.label)
	}
	return sb, nil
}

func (d *SoftwareDevice) WriteBuffer(b Buffer, data []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if uint64(len(data)) > sb.size {
		return fmt.Errorf("write of %d bytes into %q of %d bytes", len(data), sb.label, sb.size)
	}
	copy(sb.bytes(), data)
	return nil
}

func (d *SoftwareDevice) ReadBuffer(b Buffer, dst []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if uint64(len(dst)) > sb.size {
		return fmt.Errorf("read of %d bytes from %q of %d bytes", len(dst), sb.label, sb.size)
	}
	copy(dst, sb.bytes())
	return nil
}

// words returns the first n words of binding i.
func (d *SoftwareDevice) words(disp Dispatch, i int, n uint32) ([]uint32, error) {
	sb, err := d.buffer(disp.Bindings[i])
	if err != nil {
		return nil, err
	}
	if uint32(len(sb.words)) < n { //nolint:gosec // buffer sizes fit uint32
		return nil, fmt.Errorf("binding %d (%q) holds %d words, need %d", i, sb.label, len(sb.words), n)
	}
	return sb.words[:n], nil
}

// pixels returns the first n bytes of binding i.
func (d *SoftwareDevice) pixels(disp Dispatch, i int, n uint32) ([]uint8, error) {
	sb, err := d.buffer(disp.Bindings[i])
	if err != nil {
		return nil, err
	}
	if sb.size < uint64(n) {
		return nil, fmt.Errorf("binding %d (%q) holds %d bytes, need %d", i, sb.label, sb.size, n)
	}
	return sb.bytes()[:n], nil
}

func (d *SoftwareDevice) Dispatch(disp Dispatch) error {
	if err := disp.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	q := d.queue
	d.mu.Unlock()
	if q == nil {
		return errNotInitialized
	}

	p := disp.Params
	if p.Bins == 0 || p.ScanWidth == 0 || p.Segments != Workgroups(p.Bins, p.ScanWidth) {
		return fmt.Errorf("invalid params: bins=%d scan_width=%d segments=%d", p.Bins, p.ScanWidth, p.Segments)
	}
	width := int(p.ScanWidth)
	pixelGroups := int(Workgroups(p.PixelCount, cpukernel.HistogramGroupSize))
	pixelRange := func(g int) (int, int) {
		lo := g * cpukernel.HistogramGroupSize
		return lo, min(lo+cpukernel.HistogramGroupSize, int(p.PixelCount))
	}

	Logger().Debug("software device: dispatch",
		"stage", disp.Stage.String(),
		"pixels", p.PixelCount,
		"bins", p.Bins,
		"scan_width", p.ScanWidth)

	switch disp.Stage {
	case StageHistogram:
		pix, err := d.pixels(disp, 0, p.PixelCount)
		if err != nil {
			return err
		}
		hist, err := d.words(disp, 1, p.Bins)
		if err != nil {
			return err
		}
		return q.Dispatch(pixelGroups, func(g int) {
			lo, hi := pixelRange(g)
			cpukernel.Histogram(pix, hist, lo, hi)
		})

	case StageScanSegments:
		in, err := d.words(disp, 0, p.Bins)
		if err != nil {
			return err
		}
		out, err := d.words(disp, 1, p.Bins)
		if err != nil {
			return err
		}
		offsets, err := d.words(disp, 2, p.Segments)
		if err != nil {
			return err
		}
		return q.Dispatch(int(p.Segments), func(g int) {
			cpukernel.ScanSegment(in, out, offsets, g, width)
		})

	case StageScanOffsets:
		out, err := d.words(disp, 0, p.Bins)
		if err != nil {
			return err
		}
		offsets, err := d.words(disp, 1, p.Segments)
		if err != nil {
			return err
		}
		return q.Dispatch(int(p.Segments), func(g int) {
			cpukernel.ScanOffsets(out, offsets, g, width)
		})

	case StageNormalize:
		cum, err := d.words(disp, 0, p.Bins)
		if err != nil {
			return err
		}
		remap, err := d.words(disp, 1, p.Bins)
		if err != nil {
			return err
		}
		return q.Dispatch(int(p.Segments), func(g int) {
			lo := g * width
			hi := min(lo+width, int(p.Bins))
			cpukernel.Normalize(cum, remap, lo, hi, p.CumMin, p.Total, uint32(p.Policy))
		})

	case StageLUT:
		pix, err := d.pixels(disp, 0, p.PixelCount)
		if err != nil {
			return err
		}
		remap, err := d.words(disp, 1, p.Bins)
		if err != nil {
			return err
		}
		out, err := d.pixels(disp, 2, p.PixelCount)
		if err != nil {
			return err
		}
		return q.Dispatch(pixelGroups, func(g int) {
			lo, hi := pixelRange(g)
			cpukernel.LUT(pix, remap, out, lo, hi)
		})
	}
	return fmt.Errorf("unknown stage %s", disp.Stage)
}
