//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/histeq"
	"github.com/gogpu/naga"
)

// Build statuses reported in histeq.BuildError.
const (
	buildStatusCompile  = "compile_error"
	buildStatusModule   = "module_error"
	buildStatusPipeline = "pipeline_error"
)

// program is a compiled kernel.
type program struct {
	stage   histeq.Stage
	options string
	spirv   []uint32
}

// buildOptions describes the compile-time settings of a kernel.
func buildOptions(wgSize int) string {
	return fmt.Sprintf("WG_SIZE=%d", wgSize)
}

// compileKernel compiles the WGSL source of stage to SPIR-V.
func compileKernel(stage histeq.Stage, wgSize int) (*program, error) {
	return compileWGSL(stage, kernelSource(stage, wgSize), buildOptions(wgSize))
}

// compileWGSL compiles src as the kernel of stage.
func compileWGSL(stage histeq.Stage, src, opts string) (*program, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, newBuildError(stage, buildStatusCompile, opts, err)
	}
	if len(spirvBytes) < 4 || len(spirvBytes)%4 != 0 {
		return nil, newBuildError(stage, buildStatusCompile, opts,
			fmt.Errorf("invalid SPIR-V length %d", len(spirvBytes)))
	}

	// SPIR-V is little-endian 32-bit words.
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	if spirv[0] != spirvMagic {
		return nil, newBuildError(stage, buildStatusCompile, opts,
			fmt.Errorf("bad SPIR-V magic %#08x", spirv[0]))
	}
	return &program{stage: stage, options: opts, spirv: spirv}, nil
}

const spirvMagic = 0x07230203

func newBuildError(stage histeq.Stage, status, opts string, err error) *histeq.BuildError {
	return &histeq.BuildError{
		Program: stage.String(),
		Status:  status,
		Options: opts,
		Log:     err.Error(),
		Err:     err,
	}
}
