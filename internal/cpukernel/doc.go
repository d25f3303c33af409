// Package cpukernel implements the equalization compute kernels for the
// software device.
//
// Each function executes one work-group of the corresponding WGSL kernel in
// internal/gpu/shaders. Work-groups of one dispatch run concurrently on the
// worker pool, so every counter shared between work-groups is updated with
// sync/atomic, exactly where the WGSL kernels use atomicAdd.
package cpukernel
