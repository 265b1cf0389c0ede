// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"

	"github.com/gogpu/kompute/gpucore"
)

// mirrorsShareable reports whether a device copy from src to dst should
// be reflected on the host. Storage mirrors never track device contents.
func mirrorsShareable(src, dst *Tensor) bool {
	return src.Kind() != MemoryStorage && dst.Kind() != MemoryStorage
}

// OpCopy copies the first tensor into every other tensor on the device.
// All operands must have the same byte size.
type OpCopy struct {
	Tensors []*Tensor
}

// NewOpCopy returns an OpCopy from src into dsts.
func NewOpCopy(src *Tensor, dsts ...*Tensor) *OpCopy {
	return &OpCopy{Tensors: append([]*Tensor{src}, dsts...)}
}

func (*OpCopy) isOp() {}

// Init checks arity, sizes and initialization.
func (op *OpCopy) Init() error {
	if err := checkOperands("copy", op.Tensors, 2); err != nil {
		return err
	}
	src := op.Tensors[0]
	for _, dst := range op.Tensors[1:] {
		if dst.ByteSize() != src.ByteSize() {
			return fmt.Errorf("%w: copy %q (%d bytes) into %q (%d bytes)",
				ErrConfiguration, src.Label(), src.ByteSize(), dst.Label(), dst.ByteSize())
		}
	}
	return checkInit("copy", op.Tensors)
}

// Record records one copy per destination.
func (op *OpCopy) Record(rec gpucore.CommandBuffer) error {
	src := op.Tensors[0]
	for _, dst := range op.Tensors[1:] {
		if err := dst.RecordCopyFrom(rec, src); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpCopy) PreEval() error {
	return checkInit("copy", op.Tensors)
}

// PostEval copies the source mirror into each destination mirror so the
// host view matches the device without a sync.
func (op *OpCopy) PostEval() error {
	src := op.Tensors[0]
	data := src.Data()
	for _, dst := range op.Tensors[1:] {
		if !mirrorsShareable(src, dst) {
			continue
		}
		if err := dst.SetData(data); err != nil {
			return err
		}
	}
	return nil
}

// OpCopyRegion copies element ranges of Src into other tensors. For each
// region, Region.Src indexes Src and Region.Dst indexes Region.Tensor.
type OpCopyRegion struct {
	Src     *Tensor
	Regions []Region
}

// NewOpCopyRegion returns an OpCopyRegion from src.
func NewOpCopyRegion(src *Tensor, regions ...Region) *OpCopyRegion {
	return &OpCopyRegion{Src: src, Regions: regions}
}

func (*OpCopyRegion) isOp() {}

// Init checks every region against both extents.
func (op *OpCopyRegion) Init() error {
	if op.Src == nil {
		return fmt.Errorf("%w: copy region has no source", ErrConfiguration)
	}
	if len(op.Regions) == 0 {
		return fmt.Errorf("%w: copy region needs at least one region", ErrConfiguration)
	}
	for i, r := range op.Regions {
		if r.Tensor == nil {
			return fmt.Errorf("%w: copy region %d has no tensor", ErrConfiguration, i)
		}
		if r.Tensor.ElementSize() != op.Src.ElementSize() {
			return fmt.Errorf("%w: copy region from %q (%d-byte elements) into %q (%d-byte elements)",
				ErrConfiguration, op.Src.Label(), op.Src.ElementSize(), r.Tensor.Label(), r.Tensor.ElementSize())
		}
		label := op.Src.Label() + "->" + r.Tensor.Label()
		if err := checkRegion(label, op.Src.Size(), r.Tensor.Size(), r.Src, r.Dst, r.Count); err != nil {
			return err
		}
		if !r.Tensor.IsInit() {
			return fmt.Errorf("copy region: %w", r.Tensor.notInit())
		}
	}
	if !op.Src.IsInit() {
		return fmt.Errorf("copy region: %w", op.Src.notInit())
	}
	return nil
}

// Record records one copy per region.
func (op *OpCopyRegion) Record(rec gpucore.CommandBuffer) error {
	for _, r := range op.Regions {
		if err := r.Tensor.RecordCopyRegionFrom(rec, op.Src, r.Src, r.Dst, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpCopyRegion) PreEval() error {
	tensors := []*Tensor{op.Src}
	for _, r := range op.Regions {
		tensors = append(tensors, r.Tensor)
	}
	return checkInit("copy region", tensors)
}

// PostEval mirrors each copied range on the host.
func (op *OpCopyRegion) PostEval() error {
	src := op.Src.Data()
	es := int(op.Src.ElementSize())
	for _, r := range op.Regions {
		if !mirrorsShareable(op.Src, r.Tensor) {
			continue
		}
		dst := r.Tensor.Data()
		copy(dst[int(r.Dst)*es:int(r.Dst+r.Count)*es], src[int(r.Src)*es:int(r.Src+r.Count)*es])
		if err := r.Tensor.SetData(dst); err != nil {
			return err
		}
	}
	return nil
}
