//go:build !nogpu

package gpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/histeq"
)

// Embedded WGSL shader sources.

//go:embed shaders/params.wgsl
var paramsShaderSource string

//go:embed shaders/histogram.wgsl
var histogramShaderSource string

//go:embed shaders/scan_segments.wgsl
var scanSegmentsShaderSource string

//go:embed shaders/scan_offsets.wgsl
var scanOffsetsShaderSource string

//go:embed shaders/normalize.wgsl
var normalizeShaderSource string

//go:embed shaders/lut.wgsl
var lutShaderSource string

// stageSources maps every stage to its kernel body.
var stageSources = [histeq.StageCount]string{
	histeq.StageHistogram:    histogramShaderSource,
	histeq.StageScanSegments: scanSegmentsShaderSource,
	histeq.StageScanOffsets:  scanOffsetsShaderSource,
	histeq.StageNormalize:    normalizeShaderSource,
	histeq.StageLUT:          lutShaderSource,
}

// kernelSource assembles the complete WGSL module of a stage. The scan
// work-group width is fixed at build time through the WG_SIZE constant.
func kernelSource(stage histeq.Stage, wgSize int) string {
	return fmt.Sprintf("const WG_SIZE: u32 = %du;\n\n%s\n%s", wgSize, paramsShaderSource, stageSources[stage])
}
