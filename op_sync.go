// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"

	"github.com/gogpu/kompute/gpucore"
)

// logStorageSkip notes a sync that storage tensors ignore.
func logStorageSkip(op string, t *Tensor) {
	Logger().Debug("kompute: storage tensor has no host copy, skipping", "op", op, "tensor", t.Label())
}

// OpSyncDevice uploads the mirror of every operand to the device.
type OpSyncDevice struct {
	Tensors []*Tensor
}

// NewOpSyncDevice returns an OpSyncDevice for tensors.
func NewOpSyncDevice(tensors ...*Tensor) *OpSyncDevice {
	return &OpSyncDevice{Tensors: tensors}
}

func (*OpSyncDevice) isOp() {}

// Init checks that every operand is initialized.
func (op *OpSyncDevice) Init() error {
	if err := checkOperands("sync device", op.Tensors, 1); err != nil {
		return err
	}
	return checkInit("sync device", op.Tensors)
}

// Record records the transfer into device memory.
func (op *OpSyncDevice) Record(rec gpucore.CommandBuffer) error {
	for _, t := range op.Tensors {
		if t.Kind() == MemoryStorage {
			logStorageSkip("sync device", t)
			continue
		}
		if err := t.RecordSyncToDevice(rec); err != nil {
			return err
		}
	}
	return nil
}

// PreEval writes each mirror into host-visible memory.
func (op *OpSyncDevice) PreEval() error {
	for _, t := range op.Tensors {
		if t.Kind() == MemoryStorage {
			continue
		}
		if err := t.writeHostRegion(0, 0, t.Size()); err != nil {
			return err
		}
	}
	return nil
}

// PostEval does nothing.
func (*OpSyncDevice) PostEval() error { return nil }

// OpSyncLocal downloads every operand into its mirror.
type OpSyncLocal struct {
	Tensors []*Tensor
}

// NewOpSyncLocal returns an OpSyncLocal for tensors.
func NewOpSyncLocal(tensors ...*Tensor) *OpSyncLocal {
	return &OpSyncLocal{Tensors: tensors}
}

func (*OpSyncLocal) isOp() {}

// Init checks that every operand is initialized.
func (op *OpSyncLocal) Init() error {
	if err := checkOperands("sync local", op.Tensors, 1); err != nil {
		return err
	}
	return checkInit("sync local", op.Tensors)
}

// Record records the transfer into host-visible memory.
func (op *OpSyncLocal) Record(rec gpucore.CommandBuffer) error {
	for _, t := range op.Tensors {
		if t.Kind() == MemoryStorage {
			logStorageSkip("sync local", t)
			continue
		}
		if err := t.RecordSyncToHost(rec); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpSyncLocal) PreEval() error {
	return checkInit("sync local", op.Tensors)
}

// PostEval reads host-visible memory into each mirror.
func (op *OpSyncLocal) PostEval() error {
	for _, t := range op.Tensors {
		if t.Kind() == MemoryStorage {
			continue
		}
		if err := t.readHostRegion(0, 0, t.Size()); err != nil {
			return err
		}
	}
	return nil
}

func checkRegions(name string, regions []Region) error {
	if len(regions) == 0 {
		return fmt.Errorf("%w: %s needs at least one region", ErrConfiguration, name)
	}
	for i, r := range regions {
		if r.Tensor == nil {
			return fmt.Errorf("%w: %s: region %d has no tensor", ErrConfiguration, name, i)
		}
		if err := checkRegion(r.Tensor.Label(), r.Tensor.Size(), r.Tensor.Size(), r.Src, r.Dst, r.Count); err != nil {
			return err
		}
		if !r.Tensor.IsInit() {
			return fmt.Errorf("%s: %w", name, r.Tensor.notInit())
		}
	}
	return nil
}

// OpSyncRegionLocal downloads element ranges of tensors into their
// mirrors. Region.Src indexes device memory and Region.Dst the mirror.
type OpSyncRegionLocal struct {
	Regions []Region
}

// NewOpSyncRegionLocal returns an OpSyncRegionLocal for regions.
func NewOpSyncRegionLocal(regions ...Region) *OpSyncRegionLocal {
	return &OpSyncRegionLocal{Regions: regions}
}

func (*OpSyncRegionLocal) isOp() {}

// Init checks every region against its tensor's extent.
func (op *OpSyncRegionLocal) Init() error {
	return checkRegions("sync region local", op.Regions)
}

// Record records the transfer of each region into host-visible memory.
func (op *OpSyncRegionLocal) Record(rec gpucore.CommandBuffer) error {
	for _, r := range op.Regions {
		if r.Tensor.Kind() == MemoryStorage {
			logStorageSkip("sync region local", r.Tensor)
			continue
		}
		if err := r.Tensor.RecordSyncRegionToHost(rec, r.Src, r.Dst, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpSyncRegionLocal) PreEval() error {
	for _, r := range op.Regions {
		if !r.Tensor.IsInit() {
			return fmt.Errorf("sync region local: %w", r.Tensor.notInit())
		}
	}
	return nil
}

// PostEval updates only the region's elements of each mirror.
func (op *OpSyncRegionLocal) PostEval() error {
	for _, r := range op.Regions {
		if r.Tensor.Kind() == MemoryStorage {
			continue
		}
		if err := r.Tensor.readHostRegion(r.Src, r.Dst, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// OpSyncRegionDevice uploads element ranges of mirrors to the device.
// Region.Src indexes the mirror and Region.Dst device memory.
type OpSyncRegionDevice struct {
	Regions []Region
}

// NewOpSyncRegionDevice returns an OpSyncRegionDevice for regions.
func NewOpSyncRegionDevice(regions ...Region) *OpSyncRegionDevice {
	return &OpSyncRegionDevice{Regions: regions}
}

func (*OpSyncRegionDevice) isOp() {}

// Init checks every region against its tensor's extent.
func (op *OpSyncRegionDevice) Init() error {
	return checkRegions("sync region device", op.Regions)
}

// Record records the transfer of each region into device memory.
func (op *OpSyncRegionDevice) Record(rec gpucore.CommandBuffer) error {
	for _, r := range op.Regions {
		if r.Tensor.Kind() == MemoryStorage {
			logStorageSkip("sync region device", r.Tensor)
			continue
		}
		if err := r.Tensor.RecordSyncRegionToDevice(rec, r.Src, r.Dst, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// PreEval writes the region's mirror elements into host-visible memory.
func (op *OpSyncRegionDevice) PreEval() error {
	for _, r := range op.Regions {
		if r.Tensor.Kind() == MemoryStorage {
			continue
		}
		if err := r.Tensor.writeHostRegion(r.Src, r.Dst, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// PostEval does nothing.
func (*OpSyncRegionDevice) PostEval() error { return nil }
