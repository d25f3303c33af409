package histeq

import (
	"encoding/binary"
	"fmt"
)

// Stage identifies one compute kernel of the equalization pipeline.
//
// Every stage reads the buffers bound before its output and writes a buffer
// no other stage writes. The binding order of each stage is fixed:
//
//	StageHistogram:    pixels, histogram
//	StageScanSegments: histogram, cumulative, offsets
//	StageScanOffsets:  cumulative, offsets
//	StageNormalize:    cumulative, remap
//	StageLUT:          pixels, remap, output
//
// Histogram, cumulative and offsets buffers are accumulated with atomic adds
// and must be zero-filled before dispatch.
type Stage int

const (
	// StageHistogram counts pixel intensities into Bins shared counters.
	StageHistogram Stage = iota

	// StageScanSegments computes the inclusive scan within each segment of
	// ScanWidth entries and adds each segment total to the offsets of every
	// later segment.
	StageScanSegments

	// StageScanOffsets adds the accumulated base offset of each segment to
	// its entries.
	StageScanOffsets

	// StageNormalize rescales the cumulative histogram into a remap table.
	StageNormalize

	// StageLUT maps every pixel through the remap table.
	StageLUT

	// StageCount is the number of stages.
	StageCount
)

// String returns the kernel name of the stage.
func (s Stage) String() string {
	switch s {
	case StageHistogram:
		return "histogram"
	case StageScanSegments:
		return "scan_segments"
	case StageScanOffsets:
		return "scan_offsets"
	case StageNormalize:
		return "normalize"
	case StageLUT:
		return "lut"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Bindings returns the number of buffers the stage expects.
func (s Stage) Bindings() int {
	switch s {
	case StageHistogram, StageScanOffsets, StageNormalize:
		return 2
	case StageScanSegments, StageLUT:
		return 3
	default:
		return 0
	}
}

// Params is the uniform block shared by all kernels.
// Its byte layout matches the Params struct in every WGSL kernel:
// eight consecutive u32 fields.
type Params struct {
	// PixelCount is the number of pixels in the image.
	PixelCount uint32

	// Bins is the number of histogram bins.
	Bins uint32

	// ScanWidth is the work-group size of the scan kernels.
	ScanWidth uint32

	// Segments is ceil(Bins / ScanWidth).
	Segments uint32

	// CumMin is the smallest non-zero cumulative count.
	CumMin uint32

	// Total is the last cumulative count, equal to PixelCount.
	Total uint32

	// Policy selects the remap table for zero-variance images.
	Policy DegeneratePolicy

	reserved uint32
}

// ParamsSize is the byte size of the encoded Params block.
const ParamsSize = 8 * 4

// Bytes encodes p in little-endian order for upload as a uniform buffer.
func (p Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.PixelCount)
	le.PutUint32(buf[4:8], p.Bins)
	le.PutUint32(buf[8:12], p.ScanWidth)
	le.PutUint32(buf[12:16], p.Segments)
	le.PutUint32(buf[16:20], p.CumMin)
	le.PutUint32(buf[20:24], p.Total)
	le.PutUint32(buf[24:28], uint32(p.Policy))
	le.PutUint32(buf[28:32], p.reserved)
	return buf
}

// Degenerate reports whether the normalizer must not divide.
func (p Params) Degenerate() bool {
	return p.Total <= p.CumMin
}

// Dispatch describes one kernel launch.
type Dispatch struct {
	Stage    Stage
	Params   Params
	Bindings []Buffer
}

// Validate checks the stage and its bindings against the stage layout.
func (d Dispatch) Validate() error {
	if d.Stage < 0 || d.Stage >= StageCount {
		return fmt.Errorf("unknown stage %d", int(d.Stage))
	}
	if want := d.Stage.Bindings(); len(d.Bindings) != want {
		return fmt.Errorf("%d bindings, want %d", len(d.Bindings), want)
	}
	for i, b := range d.Bindings {
		if b == nil {
			return fmt.Errorf("binding %d is nil", i)
		}
	}
	return nil
}

// Workgroups returns the number of work-groups of size wgSize needed to cover
// n invocations.
func Workgroups(n, wgSize uint32) uint32 {
	if n == 0 || wgSize == 0 {
		return 0
	}
	return (n + wgSize - 1) / wgSize
}
