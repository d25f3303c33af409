package histeq

// Bins is the number of intensity levels of an 8-bit image and the only bin
// count the kernels support.
const Bins = 256

// Histogram maps each intensity to its number of occurrences.
type Histogram []uint32

// CumulativeHistogram holds the inclusive prefix sums of a Histogram.
type CumulativeHistogram []uint32

// RemapTable maps input intensities to output intensities.
type RemapTable []uint8

// Sum returns the total count, which equals the pixel count of the source
// image.
func (h Histogram) Sum() uint64 {
	var s uint64
	for _, v := range h {
		s += uint64(v)
	}
	return s
}

// Occupied returns the number of non-zero bins.
func (h Histogram) Occupied() int {
	n := 0
	for _, v := range h {
		if v != 0 {
			n++
		}
	}
	return n
}

// Total returns the last entry, or 0 for an empty histogram.
func (c CumulativeHistogram) Total() uint32 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1]
}

// MinNonZero returns the smallest non-zero entry. Because c is
// non-decreasing this is the cumulative count of the first occupied bin.
func (c CumulativeHistogram) MinNonZero() uint32 {
	for _, v := range c {
		if v != 0 {
			return v
		}
	}
	return 0
}

// IsMonotonic reports whether c never decreases.
func (c CumulativeHistogram) IsMonotonic() bool {
	for i := 1; i < len(c); i++ {
		if c[i] < c[i-1] {
			return false
		}
	}
	return true
}

// IsMonotonic reports whether t never decreases.
func (t RemapTable) IsMonotonic() bool {
	for i := 1; i < len(t); i++ {
		if t[i] < t[i-1] {
			return false
		}
	}
	return true
}

// ComputeHistogram counts intensities sequentially. It is the host reference
// for the histogram kernel.
func ComputeHistogram(img *Image) Histogram {
	h := make(Histogram, Bins)
	for _, p := range img.Pix {
		h[p]++
	}
	return h
}

// Scan returns the inclusive prefix sums of h. It is the host reference for
// the scan kernels.
func Scan(h Histogram) CumulativeHistogram {
	c := make(CumulativeHistogram, len(h))
	var acc uint32
	for i, v := range h {
		acc += v
		c[i] = acc
	}
	return c
}

// Apply maps every pixel of img through t and returns a new image.
func Apply(img *Image, t RemapTable) *Image {
	out := &Image{Width: img.Width, Height: img.Height, Pix: make([]uint8, len(img.Pix))}
	for i, p := range img.Pix {
		out.Pix[i] = t[p]
	}
	return out
}
