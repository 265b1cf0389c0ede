// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "strings"

// Resource IDs
//
// These opaque IDs represent device resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// ProgramID is an opaque handle to a compiled compute program: the shader
// module together with its layouts and pipeline.
type ProgramID uint64

// BindSetID is an opaque handle to a set of buffers bound to a program.
type BindSetID uint64

// CommandPoolID is an opaque handle to a command pool.
type CommandPoolID uint64

// FenceID is an opaque handle to a host-waitable fence.
type FenceID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 0

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 1

	// BufferUsageStorage indicates the buffer can be bound as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 2

	// BufferUsageUniform indicates the buffer can be bound as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 3
)

// Contains reports whether all bits of other are set in u.
func (u BufferUsage) Contains(other BufferUsage) bool {
	return u&other == other
}

// AccessFlags is a bitmask of memory access types used in barriers.
type AccessFlags uint32

// Access flags.
const (
	AccessHostRead AccessFlags = 1 << iota
	AccessHostWrite
	AccessTransferRead
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
)

// String returns a "|"-joined list of the set flags.
func (a AccessFlags) String() string {
	names := []string{"HostRead", "HostWrite", "TransferRead", "TransferWrite", "ShaderRead", "ShaderWrite"}
	return flagString(uint32(a), names)
}

// StageFlags is a bitmask of pipeline stages used in barriers.
type StageFlags uint32

// Pipeline stage flags.
const (
	StageHost StageFlags = 1 << iota
	StageTransfer
	StageComputeShader
)

// String returns a "|"-joined list of the set flags.
func (s StageFlags) String() string {
	return flagString(uint32(s), []string{"Host", "Transfer", "ComputeShader"})
}

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "None"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes. Must be non-zero.
	Size uint64

	// Usage is the set of allowed usages.
	Usage BufferUsage

	// HostVisible requests memory the host can write and read through
	// [Device.WriteBuffer] and [Device.ReadBuffer]. Buffers without it are
	// device-local and only reachable through copies.
	HostVisible bool
}

// ProgramDesc describes a compute program to build.
type ProgramDesc struct {
	// Label is an optional debug label.
	Label string

	// Words is the compiled SPIR-V binary.
	Words []uint32

	// Bindings is the number of storage bindings the program expects in
	// group 0, numbered from zero. Adapters reject a mismatch with
	// [ErrBindingMismatch].
	Bindings int

	// PushSize is the size in bytes of the per-dispatch constant block.
	// Zero means the program takes no push constants.
	PushSize uint32

	// SpecData holds the specialization constants resolved at build time.
	SpecData []byte
}

// BufferCopy describes a single buffer-to-buffer copy region.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// Barrier is a buffer memory barrier.
type Barrier struct {
	Buffer    BufferID
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  StageFlags
	DstStage  StageFlags
}

// DeviceType classifies the device behind an adapter.
type DeviceType uint8

// Device types.
const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeDiscreteGPU
	DeviceTypeIntegratedGPU
	DeviceTypeVirtualGPU
	DeviceTypeCPU
)

// String returns the device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeDiscreteGPU:
		return "DiscreteGPU"
	case DeviceTypeIntegratedGPU:
		return "IntegratedGPU"
	case DeviceTypeVirtualGPU:
		return "VirtualGPU"
	case DeviceTypeCPU:
		return "CPU"
	default:
		return "Other"
	}
}

// DeviceInfo describes an opened device.
type DeviceInfo struct {
	// Name is the adapter name reported by the driver.
	Name string

	// Backend is the name of the adapter implementation ("native", "software").
	Backend string

	// Type is the device class.
	Type DeviceType

	// MaxBufferSize is the largest buffer the device accepts, in bytes.
	MaxBufferSize uint64

	// MaxWorkgroups is the maximum dispatch size per dimension.
	MaxWorkgroups [3]uint32
}
