// Package histeq equalizes the histogram of 8-bit grayscale images with a
// data-parallel compute pipeline.
//
// # Overview
//
// Histogram equalization spreads the intensities of a low-contrast image
// over the full 0..255 range. histeq runs it as four kernel stages on a
// compute device, with the host waiting for each stage to complete before
// issuing the next:
//
//  1. histogram: count intensities into 256 shared bins with atomic adds
//  2. scan: inclusive prefix sum of the bins (segment scan, then offsets)
//  3. normalize: rescale the cumulative histogram into a remap table
//  4. lut: map every pixel through the remap table
//
// # Quick Start
//
//	import "github.com/gogpu/histeq"
//
//	eq, err := histeq.New()
//	if err != nil {
//	    return err
//	}
//	defer eq.Close()
//
//	out, err := eq.Equalize(img)
//
// # Devices
//
// The default device runs the kernels on a pool of CPU workers. The GPU
// device in github.com/gogpu/histeq/gpu runs them as WGSL compute shaders
// through gogpu/wgpu. When the GPU cannot be opened, New logs a warning and
// falls back to the CPU.
//
// # Normalization
//
// With cmin the cumulative count of the first occupied intensity and N the
// pixel count, every intensity i maps to
//
//	round((cdf[i] - cmin) * 255 / (N - cmin))
//
// computed in exact integer arithmetic with halves rounded up. Images in
// which every pixel has the same value have N == cmin; DegeneratePolicy
// decides their table instead of dividing by zero.
//
// # Errors
//
// Unsupported parameters return *ConfigurationError before any device work.
// Kernels that fail to compile return *BuildError from New. Failed device
// operations return *DeviceError naming the stage. No partial output is
// returned on error.
//
// # Logging
//
// histeq is silent by default. Use SetLogger or WithLogger to receive
// structured log records through log/slog.
package histeq
