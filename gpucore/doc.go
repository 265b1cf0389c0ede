// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the device abstraction consumed by the kompute
// runtime.
//
// The runtime never talks to a graphics API directly. Every buffer, program,
// command buffer and fence goes through the [Device] interface, which is
// implemented by thin adapters:
//
//	               +-----------------+
//	               |     kompute     |
//	               | (Tensor, Seq..) |
//	               +--------+--------+
//	                        |
//	                 gpucore.Device
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/native  |          | backend/software|
//	|  (hal.Device)   |          |   (CPU, Go)     |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	|  (Vulkan HAL)   |
//	+-----------------+
//
// # Resource Model
//
// Resources are referenced by opaque uint64 IDs. IDs are never reused by an
// adapter, so a stale ID is always detected instead of aliasing a newer
// resource. Command buffers keep IDs, not native handles, and resolve them
// at submission time: destroying a buffer that a recorded command buffer
// references makes the next submission fail with [ErrInvalidID] rather than
// touch freed memory.
//
// # Synchronization
//
// Barriers are expressed with the access and stage masks of the classic
// explicit APIs ([AccessFlags], [StageFlags]). Fences carry a monotonically
// increasing value: [Device.Submit] returns the value that will be signaled
// once the submission completes, and [Device.Wait] blocks until the fence
// reaches it.
package gpucore
