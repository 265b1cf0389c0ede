// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"time"
)

// Adapter errors shared by all implementations.
var (
	// ErrInvalidID is returned when an ID does not name a live resource.
	ErrInvalidID = errors.New("gpucore: invalid or destroyed resource id")

	// ErrOutOfRange is returned when a copy or host access exceeds a buffer.
	ErrOutOfRange = errors.New("gpucore: range exceeds buffer size")

	// ErrNotHostVisible is returned for host access to a device-local buffer.
	ErrNotHostVisible = errors.New("gpucore: buffer is not host visible")

	// ErrBindingMismatch is returned when a program is built with a binding
	// count that differs from the count declared by its shader.
	ErrBindingMismatch = errors.New("gpucore: binding count does not match program")

	// ErrPushSize is returned when a dispatch supplies constants whose size
	// differs from the program's push block.
	ErrPushSize = errors.New("gpucore: push constant size mismatch")

	// ErrNotRecording is returned when a command is recorded outside Begin/End.
	ErrNotRecording = errors.New("gpucore: command buffer is not recording")

	// ErrNotExecutable is returned when submitting a command buffer that was
	// never ended.
	ErrNotExecutable = errors.New("gpucore: command buffer is not executable")

	// ErrDeviceDestroyed is returned by any call on a destroyed device.
	ErrDeviceDestroyed = errors.New("gpucore: device destroyed")
)

// NoTimeout makes [Device.Wait] block until the fence signals.
const NoTimeout time.Duration = 0

// CommandBuffer records device commands for later submission.
//
// A command buffer moves through three states: initial, recording and
// executable. Begin moves it to recording, End to executable. Reset drops
// every recorded command and returns it to initial. An executable command
// buffer can be submitted any number of times.
//
// Implementations validate each command when it is recorded and resolve the
// referenced IDs again at submission.
type CommandBuffer interface {
	// Begin starts recording. Recorded commands from a previous Begin/End
	// bracket are discarded.
	Begin() error

	// CopyBuffer records a buffer-to-buffer copy.
	CopyBuffer(src, dst BufferID, regions ...BufferCopy) error

	// Barrier records buffer memory barriers.
	Barrier(barriers ...Barrier) error

	// Dispatch records a compute dispatch of program with the buffers of set
	// bound. push is copied at record time and must match the program's
	// push block size.
	Dispatch(program ProgramID, set BindSetID, push []byte, x, y, z uint32) error

	// End finishes recording.
	End() error

	// Reset returns the command buffer to the initial state.
	Reset() error
}

// Device abstracts a logical device together with its compute queue.
//
// Implementations must be safe for concurrent use.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying an unknown or already destroyed ID is a no-op
//   - IDs become invalid after destruction and are never reused
type Device interface {
	// Info describes the device.
	Info() DeviceInfo

	// === Buffers ===

	// CreateBuffer allocates a buffer. Contents are zeroed.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies len(dst) bytes from a host-visible buffer at offset.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// === Programs ===

	// CreateProgram builds the shader module, binding layouts and compute
	// pipeline for desc.
	CreateProgram(desc *ProgramDesc) (ProgramID, error)

	// DestroyProgram releases a program.
	DestroyProgram(id ProgramID)

	// CreateBindSet binds buffers, in order, to the program's storage
	// bindings. len(buffers) must equal the program's binding count.
	CreateBindSet(program ProgramID, buffers []BufferID) (BindSetID, error)

	// DestroyBindSet releases a bind set.
	DestroyBindSet(id BindSetID)

	// === Commands ===

	// CreateCommandPool creates a pool that command buffers are allocated
	// from. Destroying a pool frees every buffer allocated from it.
	CreateCommandPool() (CommandPoolID, error)

	// DestroyCommandPool releases a pool and its command buffers.
	DestroyCommandPool(id CommandPoolID)

	// AllocateCommandBuffer allocates a command buffer from pool.
	AllocateCommandBuffer(pool CommandPoolID) (CommandBuffer, error)

	// FreeCommandBuffer returns a command buffer to its pool.
	FreeCommandBuffer(cb CommandBuffer)

	// === Submission ===

	// CreateFence creates a fence with value zero.
	CreateFence() (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(id FenceID)

	// Submit submits an executable command buffer. The returned value is
	// signaled on fence once the device finishes the work.
	Submit(cb CommandBuffer, fence FenceID) (uint64, error)

	// Wait blocks until fence reaches value or timeout elapses. A timeout of
	// [NoTimeout] waits forever. Wait reports whether the value was reached.
	Wait(fence FenceID, value uint64, timeout time.Duration) (bool, error)

	// Destroy releases the device and every resource still alive on it.
	Destroy()
}
