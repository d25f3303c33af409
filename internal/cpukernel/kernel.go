package cpukernel

import "sync/atomic"

// Degenerate histogram policies. The values match the Policy field of the
// WGSL Params struct.
const (
	PolicyIdentity uint32 = 0
	PolicySaturate uint32 = 1
)

// HistogramGroupSize is the number of pixels one histogram work-group covers.
// Each work-group counts into private counters and flushes them to the shared
// histogram with one atomic add per occupied bin.
const HistogramGroupSize = 64 * 1024

// Histogram counts pix[lo:hi] into hist. hist must have at least 256
// entries and may be shared with concurrently running work-groups.
func Histogram(pix []uint8, hist []uint32, lo, hi int) {
	var local [256]uint32
	for _, p := range pix[lo:hi] {
		local[p]++
	}
	for b, n := range local {
		if n != 0 {
			atomic.AddUint32(&hist[b], n)
		}
	}
}

// ScanSegment runs work-group group of the segment scan. Every invocation l
// of the segment adds in[l] to out[k] for all k >= l inside the segment, then
// the segment total is added to the base offset of every later segment.
// out and offsets must be zero before the first work-group runs.
func ScanSegment(in, out, offsets []uint32, group, width int) {
	base := group * width
	end := base + width
	if end > len(in) {
		end = len(in)
	}
	var total uint32
	for l := base; l < end; l++ {
		v := in[l]
		total += v
		if v == 0 {
			continue
		}
		for k := l; k < end; k++ {
			atomic.AddUint32(&out[k], v)
		}
	}
	if total == 0 {
		return
	}
	for g := group + 1; g < len(offsets); g++ {
		atomic.AddUint32(&offsets[g], total)
	}
}

// ScanOffsets adds the base offset of segment group to its entries.
func ScanOffsets(out, offsets []uint32, group, width int) {
	off := offsets[group]
	if off == 0 {
		return
	}
	base := group * width
	end := base + width
	if end > len(out) {
		end = len(out)
	}
	for k := base; k < end; k++ {
		out[k] += off
	}
}

// Normalize writes remap[lo:hi] from the cumulative histogram.
func Normalize(cum, remap []uint32, lo, hi int, cmin, total, policy uint32) {
	for i := lo; i < hi; i++ {
		remap[i] = RemapValue(uint32(i), cum[i], cmin, total, policy) //nolint:gosec // i < 256
	}
}

// RemapValue computes one remap table entry:
//
//	round((cum - cmin) * 255 / (total - cmin))
//
// with round half up, in exact integer arithmetic. Entries below cmin map
// to 0. If total <= cmin the image has a single intensity and the policy
// decides: identity returns bin, saturate returns 255 for occupied and
// higher bins and 0 below.
func RemapValue(bin, cum, cmin, total, policy uint32) uint32 {
	if total <= cmin {
		if policy == PolicySaturate {
			if cum != 0 {
				return 255
			}
			return 0
		}
		if bin > 255 {
			return 255
		}
		return bin
	}
	if cum <= cmin {
		return 0
	}
	num := uint64(cum - cmin)
	den := uint64(total - cmin)
	v := (num*255*2 + den) / (2 * den)
	if v > 255 {
		v = 255
	}
	return uint32(v)
}

// LUT maps pix[lo:hi] through remap into out[lo:hi].
func LUT(pix []uint8, remap []uint32, out []uint8, lo, hi int) {
	for i := lo; i < hi; i++ {
		out[i] = uint8(remap[pix[i]]) //nolint:gosec // remap entries are <= 255
	}
}
