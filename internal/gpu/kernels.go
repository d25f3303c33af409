//go:build !nogpu

package gpu

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/histeq"
	"github.com/gogpu/wgpu/hal"
)

// kernelSet holds the compute pipeline of every stage.
type kernelSet struct {
	shaderModules   [histeq.StageCount]hal.ShaderModule
	bgLayouts       [histeq.StageCount]hal.BindGroupLayout
	pipelineLayouts [histeq.StageCount]hal.PipelineLayout
	pipelines       [histeq.StageCount]hal.ComputePipeline
}

// stageLayoutEntries returns the bind group layout entries of a stage.
// They match the @group(0) @binding(N) declarations of its WGSL kernel.
func stageLayoutEntries(stage histeq.Stage) []gputypes.BindGroupLayoutEntry {
	// binding(0) = Params uniform buffer in every stage.
	paramsUniform := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case histeq.StageHistogram:
		// pixels, histogram (atomic)
		return []gputypes.BindGroupLayoutEntry{paramsUniform, storageRO(1), storageRW(2)}
	case histeq.StageScanSegments:
		// histogram, cumulative (atomic), offsets (atomic)
		return []gputypes.BindGroupLayoutEntry{paramsUniform, storageRO(1), storageRW(2), storageRW(3)}
	case histeq.StageScanOffsets:
		// cumulative, offsets
		return []gputypes.BindGroupLayoutEntry{paramsUniform, storageRW(1), storageRO(2)}
	case histeq.StageNormalize:
		// cumulative, remap
		return []gputypes.BindGroupLayoutEntry{paramsUniform, storageRO(1), storageRW(2)}
	case histeq.StageLUT:
		// pixels, remap, output
		return []gputypes.BindGroupLayoutEntry{paramsUniform, storageRO(1), storageRO(2), storageRW(3)}
	default:
		return nil
	}
}

// build compiles every kernel and creates its compute pipeline.
// On failure all partially created resources are released.
func (k *kernelSet) build(device hal.Device, wgSize int, log *slog.Logger) error {
	for i := histeq.Stage(0); i < histeq.StageCount; i++ {
		label := "histeq_" + i.String()

		// 1. Compile WGSL to SPIR-V.
		prog, err := compileKernel(i, wgSize)
		if err != nil {
			k.destroyPartial(device, i)
			return err
		}

		// 2. Create shader module.
		module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  label,
			Source: hal.ShaderSource{SPIRV: prog.spirv},
		})
		if err != nil {
			k.destroyPartial(device, i)
			return newBuildError(i, buildStatusModule, prog.options, err)
		}
		k.shaderModules[i] = module

		// 3. Create bind group layout for this stage's bindings.
		entries := stageLayoutEntries(i)
		bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   label + "_bgl",
			Entries: entries,
		})
		if err != nil {
			k.destroyPartial(device, i+1)
			return fmt.Errorf("gpu: create bind group layout for %s: %w", i, err)
		}
		k.bgLayouts[i] = bgLayout

		// 4. Create pipeline layout.
		pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            label + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			k.destroyPartial(device, i+1)
			return fmt.Errorf("gpu: create pipeline layout for %s: %w", i, err)
		}
		k.pipelineLayouts[i] = pipelineLayout

		// 5. Create compute pipeline.
		pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  label,
			Layout: pipelineLayout,
			Compute: hal.ComputeState{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			k.destroyPartial(device, i+1)
			return newBuildError(i, buildStatusPipeline, prog.options, err)
		}
		k.pipelines[i] = pipeline

		log.Debug("gpu: kernel built",
			"stage", i.String(),
			"bindings", len(entries),
			"spirv_words", len(prog.spirv),
			"options", prog.options)
	}

	log.Info("gpu: all kernels built", "stages", int(histeq.StageCount))
	return nil
}

// destroyPartial releases the resources of stages [0, upTo).
func (k *kernelSet) destroyPartial(device hal.Device, upTo histeq.Stage) {
	for j := histeq.Stage(0); j < upTo; j++ {
		if k.pipelines[j] != nil {
			device.DestroyComputePipeline(k.pipelines[j])
			k.pipelines[j] = nil
		}
		if k.pipelineLayouts[j] != nil {
			device.DestroyPipelineLayout(k.pipelineLayouts[j])
			k.pipelineLayouts[j] = nil
		}
		if k.bgLayouts[j] != nil {
			device.DestroyBindGroupLayout(k.bgLayouts[j])
			k.bgLayouts[j] = nil
		}
		if k.shaderModules[j] != nil {
			device.DestroyShaderModule(k.shaderModules[j])
			k.shaderModules[j] = nil
		}
	}
}

// destroy releases every kernel.
func (k *kernelSet) destroy(device hal.Device) {
	k.destroyPartial(device, histeq.StageCount)
}

// ready reports whether every pipeline exists.
func (k *kernelSet) ready() bool {
	for _, p := range k.pipelines {
		if p == nil {
			return false
		}
	}
	return true
}
