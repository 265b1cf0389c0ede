// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/gogpu/kompute/gpucore"
)

// MemoryKind selects where a tensor's data lives.
type MemoryKind uint8

// Memory kinds.
const (
	// MemoryDevice is device-local memory paired with a host-visible staging
	// buffer. All host traffic goes through the staging buffer.
	MemoryDevice MemoryKind = iota

	// MemoryHost is a single host-visible buffer.
	MemoryHost

	// MemoryStorage is device-local memory with no host traffic. It is used
	// for intermediate results that never leave the device.
	MemoryStorage

	// MemoryDeviceAndHost is a single buffer that is both device-local and
	// host-visible, as offered by unified-memory devices.
	MemoryDeviceAndHost
)

// String returns the kind name.
func (k MemoryKind) String() string {
	switch k {
	case MemoryDevice:
		return "device"
	case MemoryHost:
		return "host"
	case MemoryStorage:
		return "storage"
	case MemoryDeviceAndHost:
		return "device-and-host"
	default:
		return fmt.Sprintf("MemoryKind(%d)", uint8(k))
	}
}

// hostVisible reports whether the primary buffer is host-visible.
func (k MemoryKind) hostVisible() bool {
	return k == MemoryHost || k == MemoryDeviceAndHost
}

const (
	tensorUsage  = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst
	stagingUsage = gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst
)

// Tensor is a typed, sized buffer with a host-side mirror.
//
// The mirror exists from construction and survives Destroy: reading a
// destroyed tensor returns the last synced values. Device buffers exist
// between Create and Destroy. Data only moves between the mirror and the
// device through recorded sync operations.
//
// Thread safety: Tensor is safe for concurrent use.
type Tensor struct {
	dev      gpucore.Device
	label    string
	dtype    DataType
	elemSize uint32
	count    uint32
	kind     MemoryKind

	mu          sync.Mutex
	mirror      []byte
	buf         *tensorBuffers
	initialized bool
}

// tensorBuffers are the device buffers of a tensor. They live apart from
// the Tensor so a cleanup can free them after the Tensor is unreachable.
type tensorBuffers struct {
	ref     *deviceRef
	primary gpucore.BufferID
	staging gpucore.BufferID
}

// release frees the buffers unless the device is already gone.
func (b *tensorBuffers) release() {
	if !b.ref.closed.Load() {
		if b.staging != gpucore.InvalidID {
			b.ref.dev.DestroyBuffer(b.staging)
		}
		if b.primary != gpucore.InvalidID {
			b.ref.dev.DestroyBuffer(b.primary)
		}
	}
	b.primary, b.staging = gpucore.InvalidID, gpucore.InvalidID
}

// elementCount returns the number of elemSize elements in n bytes. Counts
// are uint32 throughout, so larger tensors are rejected.
func elementCount(n uint64, elemSize uint32) (uint32, error) {
	if n%uint64(elemSize) != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a multiple of element size %d", ErrConfiguration, n, elemSize)
	}
	count := n / uint64(elemSize)
	if count > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d elements exceeds the %d element limit",
			ErrConfiguration, count, uint32(math.MaxUint32))
	}
	return uint32(count), nil
}

// newTensor builds an uninitialized tensor around a copy of data. Buffers
// of a tensor dropped without Destroy are freed when it is collected.
func newTensor(ref *deviceRef, label string, kind MemoryKind, dtype DataType, elemSize uint32, data []byte) (*Tensor, error) {
	if elemSize == 0 {
		return nil, fmt.Errorf("%w: tensor %q has zero element size", ErrConfiguration, label)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: tensor %q has no elements", ErrConfiguration, label)
	}
	count, err := elementCount(uint64(len(data)), elemSize)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", label, err)
	}
	if kind > MemoryDeviceAndHost {
		return nil, fmt.Errorf("%w: tensor %q: unknown memory kind %d", ErrConfiguration, label, kind)
	}
	t := &Tensor{
		dev:      ref.dev,
		label:    label,
		dtype:    dtype,
		elemSize: elemSize,
		count:    count,
		kind:     kind,
		mirror:   append([]byte(nil), data...),
		buf:      &tensorBuffers{ref: ref},
	}
	runtime.AddCleanup(t, (*tensorBuffers).release, t.buf)
	return t, nil
}

// Label returns the debug label.
func (t *Tensor) Label() string { return t.label }

// DataType returns the element type.
func (t *Tensor) DataType() DataType { return t.dtype }

// ElementSize returns the element size in bytes.
func (t *Tensor) ElementSize() uint32 { return t.elemSize }

// Size returns the number of elements.
func (t *Tensor) Size() uint32 { return t.count }

// ByteSize returns the size in bytes: Size() * ElementSize().
func (t *Tensor) ByteSize() uint64 { return uint64(t.count) * uint64(t.elemSize) }

// Kind returns the memory kind.
func (t *Tensor) Kind() MemoryKind { return t.kind }

// IsInit reports whether device buffers are allocated.
func (t *Tensor) IsInit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// Data returns a copy of the mirror bytes.
func (t *Tensor) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.mirror...)
}

// SetData replaces the mirror bytes. The length must equal ByteSize.
// The device copy is unchanged until the next sync to device.
func (t *Tensor) SetData(data []byte) error {
	if uint64(len(data)) != t.ByteSize() {
		return fmt.Errorf("%w: tensor %q: set %d bytes, size is %d", ErrConfiguration, t.label, len(data), t.ByteSize())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.mirror, data)
	return nil
}

// Float32s decodes the mirror as float32 values. Float16 and bfloat16
// tensors are widened. Other types return nil.
func (t *Tensor) Float32s() []float32 {
	data := t.Data()
	switch t.dtype {
	case DataTypeFloat32:
		return decode[float32](data)
	case DataTypeFloat16:
		return decodeFloat16(data)
	case DataTypeBFloat16:
		return decodeBFloat16(data)
	default:
		return nil
	}
}

// SetFloat32s encodes vals into the mirror of a float32, float16 or
// bfloat16 tensor.
func (t *Tensor) SetFloat32s(vals []float32) error {
	switch t.dtype {
	case DataTypeFloat32:
		return t.SetData(encode(vals))
	case DataTypeFloat16:
		return t.SetData(encodeFloat16(vals))
	case DataTypeBFloat16:
		return t.SetData(encodeBFloat16(vals))
	default:
		return fmt.Errorf("%w: tensor %q is %s, not a float type", ErrConfiguration, t.label, t.dtype)
	}
}

// Values returns the mirror of t decoded as T.
func Values[T Scalar](t *Tensor) ([]T, error) {
	if want := dataTypeOf[T](); t.dtype != want {
		return nil, fmt.Errorf("%w: tensor %q is %s, not %s", ErrConfiguration, t.label, t.dtype, want)
	}
	return decode[T](t.Data()), nil
}

// SetValues encodes vals into the mirror of t.
func SetValues[T Scalar](t *Tensor, vals []T) error {
	if want := dataTypeOf[T](); t.dtype != want {
		return fmt.Errorf("%w: tensor %q is %s, not %s", ErrConfiguration, t.label, t.dtype, want)
	}
	return t.SetData(encode(vals))
}

// Create allocates the device buffers for the tensor's memory kind and
// uploads the mirror into host-visible memory. Creating an initialized
// tensor frees its old buffers first.
func (t *Tensor) Create() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ByteSize() == 0 {
		return fmt.Errorf("%w: tensor %q is zero-sized", ErrConfiguration, t.label)
	}
	if t.initialized {
		t.destroyLocked()
	}

	primary, err := t.dev.CreateBuffer(&gpucore.BufferDesc{
		Label:       t.label,
		Size:        t.ByteSize(),
		Usage:       tensorUsage,
		HostVisible: t.kind.hostVisible(),
	})
	if err != nil {
		return deviceError("create tensor "+t.label, err)
	}

	staging := gpucore.BufferID(gpucore.InvalidID)
	if t.kind == MemoryDevice {
		staging, err = t.dev.CreateBuffer(&gpucore.BufferDesc{
			Label:       t.label + "_staging",
			Size:        t.ByteSize(),
			Usage:       stagingUsage,
			HostVisible: true,
		})
		if err != nil {
			t.dev.DestroyBuffer(primary)
			return deviceError("create staging for "+t.label, err)
		}
	}

	t.buf.primary, t.buf.staging = primary, staging
	t.initialized = true

	if host := t.hostBufferLocked(); host != gpucore.InvalidID {
		if err := t.dev.WriteBuffer(host, 0, t.mirror); err != nil {
			t.destroyLocked()
			return deviceError("upload "+t.label, err)
		}
	}

	Logger().Debug("kompute: tensor created",
		"label", t.label, "kind", t.kind.String(), "type", t.dtype.String(),
		"elements", t.count, "bytes", t.ByteSize())
	return nil
}

// Destroy frees the device buffers. The mirror is kept, so later reads
// observe the last synced values. Destroy is idempotent.
func (t *Tensor) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyLocked()
}

func (t *Tensor) destroyLocked() {
	if !t.initialized {
		return
	}
	t.buf.release()
	t.initialized = false
	Logger().Debug("kompute: tensor destroyed", "label", t.label)
}

// hostBufferLocked returns the buffer host traffic goes through, or
// InvalidID for storage tensors.
func (t *Tensor) hostBufferLocked() gpucore.BufferID {
	switch t.kind {
	case MemoryDevice:
		return t.buf.staging
	case MemoryHost, MemoryDeviceAndHost:
		return t.buf.primary
	default:
		return gpucore.InvalidID
	}
}

// primaryBuffer returns the primary buffer, failing when uninitialized.
func (t *Tensor) primaryBuffer() (gpucore.BufferID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return gpucore.InvalidID, t.notInit()
	}
	return t.buf.primary, nil
}

func (t *Tensor) notInit() error {
	return fmt.Errorf("%w: tensor %q is not initialized", ErrState, t.label)
}

// checkRegion validates a region of count elements starting at src in an
// extent of srcCount and at dst in an extent of dstCount.
func checkRegion(label string, srcCount, dstCount, src, dst, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: %s: element count is zero", ErrBounds, label)
	}
	if uint64(src)+uint64(count) > uint64(srcCount) {
		return fmt.Errorf("%w: %s: source [%d, %d) exceeds %d elements",
			ErrBounds, label, src, uint64(src)+uint64(count), srcCount)
	}
	if uint64(dst)+uint64(count) > uint64(dstCount) {
		return fmt.Errorf("%w: %s: destination [%d, %d) exceeds %d elements",
			ErrBounds, label, dst, uint64(dst)+uint64(count), dstCount)
	}
	return nil
}

func (t *Tensor) recordError(what string, err error) error {
	return deviceError("record "+what+" for "+t.label, err)
}

// RecordSyncToDevice records the transfer of the host-visible copy into
// the device buffer. The host-visible copy is written from the mirror by
// OpSyncDevice before submission.
func (t *Tensor) RecordSyncToDevice(rec gpucore.CommandBuffer) error {
	return t.RecordSyncRegionToDevice(rec, 0, 0, t.count)
}

// RecordSyncRegionToDevice records the transfer of count elements of the
// mirror starting at src into the device buffer starting at dst.
func (t *Tensor) RecordSyncRegionToDevice(rec gpucore.CommandBuffer, src, dst, count uint32) error {
	if err := checkRegion(t.label, t.count, t.count, src, dst, count); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	es := uint64(t.elemSize)
	switch t.kind {
	case MemoryDevice:
		err := rec.Barrier(gpucore.Barrier{
			Buffer:    t.buf.staging,
			SrcAccess: gpucore.AccessHostWrite, DstAccess: gpucore.AccessTransferRead,
			SrcStage: gpucore.StageHost, DstStage: gpucore.StageTransfer,
		})
		if err == nil {
			err = rec.CopyBuffer(t.buf.staging, t.buf.primary, gpucore.BufferCopy{
				SrcOffset: uint64(src) * es, DstOffset: uint64(dst) * es, Size: uint64(count) * es,
			})
		}
		if err == nil {
			err = rec.Barrier(gpucore.Barrier{
				Buffer:    t.buf.primary,
				SrcAccess: gpucore.AccessTransferWrite, DstAccess: gpucore.AccessShaderRead,
				SrcStage: gpucore.StageTransfer, DstStage: gpucore.StageComputeShader,
			})
		}
		if err != nil {
			return t.recordError("sync to device", err)
		}
	case MemoryHost, MemoryDeviceAndHost:
		err := rec.Barrier(gpucore.Barrier{
			Buffer:    t.buf.primary,
			SrcAccess: gpucore.AccessHostWrite, DstAccess: gpucore.AccessShaderRead,
			SrcStage: gpucore.StageHost, DstStage: gpucore.StageComputeShader,
		})
		if err != nil {
			return t.recordError("sync to device", err)
		}
	}
	return nil
}

// RecordSyncToHost records the transfer of the device buffer into
// host-visible memory. OpSyncLocal reads it into the mirror after the
// submission completes.
func (t *Tensor) RecordSyncToHost(rec gpucore.CommandBuffer) error {
	return t.RecordSyncRegionToHost(rec, 0, 0, t.count)
}

// RecordSyncRegionToHost records the transfer of count elements of the
// device buffer starting at src into host-visible memory destined for the
// mirror starting at dst.
func (t *Tensor) RecordSyncRegionToHost(rec gpucore.CommandBuffer, src, dst, count uint32) error {
	if err := checkRegion(t.label, t.count, t.count, src, dst, count); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	es := uint64(t.elemSize)
	switch t.kind {
	case MemoryDevice:
		err := rec.Barrier(gpucore.Barrier{
			Buffer:    t.buf.primary,
			SrcAccess: gpucore.AccessShaderWrite, DstAccess: gpucore.AccessTransferRead,
			SrcStage: gpucore.StageComputeShader, DstStage: gpucore.StageTransfer,
		})
		if err == nil {
			err = rec.CopyBuffer(t.buf.primary, t.buf.staging, gpucore.BufferCopy{
				SrcOffset: uint64(src) * es, DstOffset: uint64(dst) * es, Size: uint64(count) * es,
			})
		}
		if err == nil {
			err = rec.Barrier(gpucore.Barrier{
				Buffer:    t.buf.staging,
				SrcAccess: gpucore.AccessTransferWrite, DstAccess: gpucore.AccessHostRead,
				SrcStage: gpucore.StageTransfer, DstStage: gpucore.StageHost,
			})
		}
		if err != nil {
			return t.recordError("sync to host", err)
		}
	case MemoryHost, MemoryDeviceAndHost:
		err := rec.Barrier(gpucore.Barrier{
			Buffer:    t.buf.primary,
			SrcAccess: gpucore.AccessShaderWrite, DstAccess: gpucore.AccessHostRead,
			SrcStage: gpucore.StageComputeShader, DstStage: gpucore.StageHost,
		})
		if err != nil {
			return t.recordError("sync to host", err)
		}
	}
	return nil
}

// RecordCopyFrom records a device-to-device copy of src into t.
// Both tensors must be initialized and have the same byte size.
func (t *Tensor) RecordCopyFrom(rec gpucore.CommandBuffer, src *Tensor) error {
	if src.ByteSize() != t.ByteSize() {
		return fmt.Errorf("%w: copy %q (%d bytes) into %q (%d bytes)",
			ErrConfiguration, src.label, src.ByteSize(), t.label, t.ByteSize())
	}
	return t.recordCopy(rec, src, gpucore.BufferCopy{Size: t.ByteSize()})
}

// RecordCopyRegionFrom records a copy of count elements of src starting at
// srcOffset into t starting at dstOffset. Element sizes must match.
func (t *Tensor) RecordCopyRegionFrom(rec gpucore.CommandBuffer, src *Tensor, srcOffset, dstOffset, count uint32) error {
	if src.elemSize != t.elemSize {
		return fmt.Errorf("%w: copy region from %q (%d-byte elements) into %q (%d-byte elements)",
			ErrConfiguration, src.label, src.elemSize, t.label, t.elemSize)
	}
	if err := checkRegion(src.label+"->"+t.label, src.count, t.count, srcOffset, dstOffset, count); err != nil {
		return err
	}
	es := uint64(t.elemSize)
	return t.recordCopy(rec, src, gpucore.BufferCopy{
		SrcOffset: uint64(srcOffset) * es, DstOffset: uint64(dstOffset) * es, Size: uint64(count) * es,
	})
}

func (t *Tensor) recordCopy(rec gpucore.CommandBuffer, src *Tensor, region gpucore.BufferCopy) error {
	// src is locked on its own so two tensors are never locked together.
	srcBuf, err := src.primaryBuffer()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	err = rec.Barrier(gpucore.Barrier{
		Buffer:    srcBuf,
		SrcAccess: gpucore.AccessShaderWrite | gpucore.AccessTransferWrite, DstAccess: gpucore.AccessTransferRead,
		SrcStage: gpucore.StageComputeShader | gpucore.StageTransfer, DstStage: gpucore.StageTransfer,
	})
	if err == nil {
		err = rec.CopyBuffer(srcBuf, t.buf.primary, region)
	}
	if err == nil {
		err = rec.Barrier(gpucore.Barrier{
			Buffer:    t.buf.primary,
			SrcAccess: gpucore.AccessTransferWrite, DstAccess: gpucore.AccessShaderRead | gpucore.AccessTransferRead,
			SrcStage: gpucore.StageTransfer, DstStage: gpucore.StageComputeShader | gpucore.StageTransfer,
		})
	}
	if err != nil {
		return t.recordError("copy from "+src.label, err)
	}
	return nil
}

// RecordBarrier records an explicit barrier on the primary buffer, or on
// the staging buffer when staging is set. Tensors without a staging buffer
// ignore staging barriers.
func (t *Tensor) RecordBarrier(rec gpucore.CommandBuffer, srcAccess, dstAccess gpucore.AccessFlags, srcStage, dstStage gpucore.StageFlags, staging bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	buf := t.buf.primary
	if staging {
		if t.buf.staging == gpucore.InvalidID {
			return nil
		}
		buf = t.buf.staging
	}
	err := rec.Barrier(gpucore.Barrier{
		Buffer: buf, SrcAccess: srcAccess, DstAccess: dstAccess, SrcStage: srcStage, DstStage: dstStage,
	})
	if err != nil {
		return t.recordError("barrier", err)
	}
	return nil
}

// writeHostRegion writes count mirror elements starting at src into
// host-visible memory, at the offset the recorded device transfer for
// device element dst reads from.
func (t *Tensor) writeHostRegion(src, dst, count uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	es := uint64(t.elemSize)
	data := t.mirror[uint64(src)*es : uint64(src+count)*es]
	var err error
	switch t.kind {
	case MemoryDevice:
		err = t.dev.WriteBuffer(t.buf.staging, uint64(src)*es, data)
	case MemoryHost, MemoryDeviceAndHost:
		err = t.dev.WriteBuffer(t.buf.primary, uint64(dst)*es, data)
	}
	if err != nil {
		return deviceError("write "+t.label, err)
	}
	return nil
}

// readHostRegion reads count elements of host-visible memory holding
// device elements starting at src into the mirror starting at dst.
func (t *Tensor) readHostRegion(src, dst, count uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return t.notInit()
	}

	es := uint64(t.elemSize)
	out := t.mirror[uint64(dst)*es : uint64(dst+count)*es]
	var err error
	switch t.kind {
	case MemoryDevice:
		err = t.dev.ReadBuffer(t.buf.staging, uint64(dst)*es, out)
	case MemoryHost, MemoryDeviceAndHost:
		err = t.dev.ReadBuffer(t.buf.primary, uint64(src)*es, out)
	}
	if err != nil {
		return deviceError("read "+t.label, err)
	}
	return nil
}
