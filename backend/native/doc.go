// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements gpucore.Device on gogpu/wgpu/hal, the Pure Go
// WebGPU HAL.
//
// Programs are SPIR-V modules with their storage buffers in group 0.
// WebGPU has neither push constants nor runtime specialization, so both
// are emulated with uniform buffers in group 1:
//
//	@group(1) @binding(0) var<uniform> push: Push;  // per dispatch
//	@group(1) @binding(1) var<uniform> spec: Spec;  // per program
//
// Command buffers keep a list of commands that is encoded into a fresh HAL
// command buffer on every Submit, so an executable buffer can be submitted
// repeatedly.
//
// The package registers itself as backend.Native on import.
//
// Build with the nogpu tag to leave the package empty.
package native
