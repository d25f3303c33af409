//go:build !nogpu

// Package gpu implements the histeq compute device on top of gogpu/wgpu.
//
// The device runs the five equalization kernels as WGSL compute shaders
// through the wgpu HAL, in Pure Go (zero CGO) on the Vulkan backend.
//
// # Kernels
//
// Every kernel reads a uniform Params block at @group(0) @binding(0) and the
// stage buffers at the following bindings, in histeq.Stage binding order:
//
//	histogram      one invocation per pixel, workgroup-local counts flushed with atomicAdd
//	scan_segments  atomic-add inclusive scan within each segment, base offsets for later segments
//	scan_offsets   adds each segment's base offset to its entries
//	normalize      exact rounding with 64-bit products carried in two u32 words
//	lut            one invocation per packed word of four pixels
//
// Kernels are compiled from WGSL to SPIR-V with naga when the device is
// initialised. A kernel that fails to compile is reported as
// *histeq.BuildError carrying the compiler log.
//
// # Synchronisation
//
// Dispatch and ReadBuffer each submit one command buffer and wait on a fence,
// so every dispatch is complete before the host issues the next one.
//
// # Device selection
//
// The platform index selects a HAL backend and the device index selects an
// adapter of that backend. When no backend or adapter is available, Init
// returns an error wrapping histeq.ErrFallbackToCPU.
package gpu
