//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/histeq"
	"github.com/gogpu/wgpu/hal"
)

const (
	// pixelWorkgroupSize is the fixed work-group size of the per-pixel and
	// per-bin kernels.
	pixelWorkgroupSize = 256

	// maxWorkgroupsPerDimension is the WebGPU default limit.
	maxWorkgroupsPerDimension = 65535
)

// grid is a dispatch size in work-groups.
type grid struct{ x, y, z uint32 }

func (g grid) empty() bool { return g.x == 0 || g.y == 0 || g.z == 0 }

// split2D spreads n work-groups over x and y so no dimension exceeds the
// limit. Kernels recover the linear index as y*num_workgroups.x + x.
func split2D(n uint32) grid {
	if n <= maxWorkgroupsPerDimension {
		return grid{n, 1, 1}
	}
	return grid{maxWorkgroupsPerDimension, histeq.Workgroups(n, maxWorkgroupsPerDimension), 1}
}

// stageGrid returns the dispatch size of a stage.
func stageGrid(stage histeq.Stage, p histeq.Params) grid {
	switch stage {
	case histeq.StageHistogram:
		return split2D(histeq.Workgroups(p.PixelCount, pixelWorkgroupSize))
	case histeq.StageScanSegments:
		return grid{p.Segments, p.ScanWidth, p.Segments}
	case histeq.StageScanOffsets:
		return grid{p.Segments, 1, 1}
	case histeq.StageNormalize:
		return grid{histeq.Workgroups(p.Bins, pixelWorkgroupSize), 1, 1}
	case histeq.StageLUT:
		words := histeq.Workgroups(p.PixelCount, 4)
		return split2D(histeq.Workgroups(words, pixelWorkgroupSize))
	default:
		return grid{}
	}
}

// checkParams rejects parameters the compiled kernels cannot honour.
func (d *Device) checkParams(p histeq.Params) error {
	if p.Bins != histeq.Bins {
		return fmt.Errorf("gpu: kernels are built for %d bins, got %d", histeq.Bins, p.Bins)
	}
	if p.ScanWidth == 0 || int(p.ScanWidth) > d.cfg.ScanWidth {
		return fmt.Errorf("gpu: scan width %d outside 1..%d", p.ScanWidth, d.cfg.ScanWidth)
	}
	if p.Segments != histeq.Workgroups(p.Bins, p.ScanWidth) {
		return fmt.Errorf("gpu: %d segments for %d bins of width %d", p.Segments, p.Bins, p.ScanWidth)
	}
	return nil
}

// Dispatch runs one kernel and waits for it to complete.
func (d *Device) Dispatch(disp histeq.Dispatch) error {
	if err := disp.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready || !d.kernels.ready() {
		return errNotReady
	}
	if err := d.checkParams(disp.Params); err != nil {
		return err
	}

	g := stageGrid(disp.Stage, disp.Params)
	if g.empty() {
		return nil
	}

	res := &submission{device: d.device}
	defer res.cleanup()

	// Upload the params uniform.
	uniform, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "histeq_params",
		Size:  histeq.ParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create params buffer: %w", err)
	}
	res.uniform = uniform
	d.queue.WriteBuffer(uniform, 0, disp.Params.Bytes())

	entries := make([]gputypes.BindGroupEntry, 0, len(disp.Bindings)+1)
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  0,
		Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Offset: 0, Size: histeq.ParamsSize},
	})
	for i, hb := range disp.Bindings {
		b, err := d.lookup(hb)
		if err != nil {
			return fmt.Errorf("gpu: binding %d: %w", i+1, err)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 1), //nolint:gosec // at most 3 bindings
			Resource: gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: 0, Size: b.alloc},
		})
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("histeq_%s_bg", disp.Stage),
		Layout:  d.kernels.bgLayouts[disp.Stage],
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group for %s: %w", disp.Stage, err)
	}
	res.bindGroup = bg

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "histeq_" + disp.Stage.String(),
	})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("histeq_" + disp.Stage.String()); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: "histeq_" + disp.Stage.String(),
	})
	pass.SetPipeline(d.kernels.pipelines[disp.Stage])
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(g.x, g.y, g.z)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf

	if err := d.submitAndWait(res); err != nil {
		return err
	}

	d.slogger().Debug("gpu: dispatched stage",
		"stage", disp.Stage.String(),
		"workgroups", fmt.Sprintf("%dx%dx%d", g.x, g.y, g.z))
	return nil
}
