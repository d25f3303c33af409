// Package report computes contrast statistics of intensity images.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gogpu/histeq"
)

// levels holds the intensities 0..255 in ascending order.
var levels = func() []float64 {
	x := make([]float64, histeq.Bins)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}()

// Stats summarises the intensity distribution of one image.
type Stats struct {
	Pixels   int
	Min      int
	Max      int
	Occupied int
	Mean     float64
	StdDev   float64
	Median   float64
	P5       float64
	P95      float64
	// Entropy is the Shannon entropy of the histogram in bits.
	Entropy  float64
}

// Range returns the 5th to 95th percentile spread.
func (s Stats) Range() float64 { return s.P95 - s.P5 }

// FromHistogram computes statistics from a 256-bin histogram.
func FromHistogram(h histeq.Histogram) (Stats, error) {
	if len(h) != histeq.Bins {
		return Stats{}, fmt.Errorf("report: histogram has %d bins, want %d", len(h), histeq.Bins)
	}
	total := h.Sum()
	if total == 0 {
		return Stats{}, fmt.Errorf("report: %w", histeq.ErrInvalidImage)
	}

	w := make([]float64, len(h))
	for i, c := range h {
		w[i] = float64(c)
	}

	s := Stats{
		Pixels:   int(total), //nolint:gosec // bounded by image size
		Min:      -1,
		Occupied: h.Occupied(),
	}
	for i, c := range h {
		if c == 0 {
			continue
		}
		if s.Min < 0 {
			s.Min = i
		}
		s.Max = i
	}

	s.Mean, s.StdDev = stat.PopMeanStdDev(levels, w)
	s.Median = stat.Quantile(0.5, stat.Empirical, levels, w)
	s.P5 = stat.Quantile(0.05, stat.Empirical, levels, w)
	s.P95 = stat.Quantile(0.95, stat.Empirical, levels, w)

	p := make([]float64, len(w))
	floats.ScaleTo(p, 1/floats.Sum(w), w)
	s.Entropy = stat.Entropy(p) / math.Ln2
	return s, nil
}

// Of computes statistics of img.
func Of(img *histeq.Image) (Stats, error) {
	if err := img.Validate(); err != nil {
		return Stats{}, err
	}
	return FromHistogram(histeq.ComputeHistogram(img))
}

// Comparison holds statistics before and after equalization.
type Comparison struct {
	Before Stats
	After  Stats
}

// Compare computes statistics of both images.
func Compare(before, after *histeq.Image) (Comparison, error) {
	b, err := Of(before)
	if err != nil {
		return Comparison{}, fmt.Errorf("report: before: %w", err)
	}
	a, err := Of(after)
	if err != nil {
		return Comparison{}, fmt.Errorf("report: after: %w", err)
	}
	return Comparison{Before: b, After: a}, nil
}

// Write prints the comparison as an aligned table.
func (c Comparison) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tbefore\tafter\t")
	row := func(name string, b, a float64) {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t\n", name, b, a)
	}
	fmt.Fprintf(tw, "pixels\t%d\t%d\t\n", c.Before.Pixels, c.After.Pixels)
	fmt.Fprintf(tw, "min\t%d\t%d\t\n", c.Before.Min, c.After.Min)
	fmt.Fprintf(tw, "max\t%d\t%d\t\n", c.Before.Max, c.After.Max)
	fmt.Fprintf(tw, "levels\t%d\t%d\t\n", c.Before.Occupied, c.After.Occupied)
	row("mean", c.Before.Mean, c.After.Mean)
	row("stddev", c.Before.StdDev, c.After.StdDev)
	row("median", c.Before.Median, c.After.Median)
	row("p5-p95", c.Before.Range(), c.After.Range())
	row("entropy", c.Before.Entropy, c.After.Entropy)
	return tw.Flush()
}

// WriteHistogram prints the histogram and cumulative histogram, one bin per
// line, skipping bins whose count is zero unless all is set.
func WriteHistogram(w io.Writer, h histeq.Histogram, c histeq.CumulativeHistogram, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "bin\tcount\tcumulative\t")
	for i := range h {
		if h[i] == 0 && !all {
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t\n", i, h[i], c[i])
	}
	return tw.Flush()
}
