// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"

	"github.com/gogpu/kompute/gpucore"
)

// Op is a unit of work recorded into a Sequence.
//
// Every op runs through four phases:
//   - Init validates operands and allocates what the op owns. It runs once,
//     when the op is recorded.
//   - Record appends device commands. It runs on every recording,
//     including Sequence.Rerecord. It never blocks.
//   - PreEval runs on the host right before each submission.
//   - PostEval runs on the host after the submission completes.
//
// Ops reference tensors and algorithms but do not own them.
//
// The set of ops is closed: OpCreate, OpSyncDevice, OpSyncLocal,
// OpSyncRegionLocal, OpSyncRegionDevice, OpCopy, OpCopyRegion, OpDispatch
// and OpBarrier.
type Op interface {
	Init() error
	Record(rec gpucore.CommandBuffer) error
	PreEval() error
	PostEval() error

	isOp()
}

// Region is a span of Count elements of Tensor. Src and Dst are element
// offsets: for a sync to host, Src indexes device memory and Dst the
// mirror, and the other way around for a sync to device. For OpCopyRegion,
// Src indexes the source tensor and Dst the region's tensor.
type Region struct {
	Tensor *Tensor
	Src    uint32
	Dst    uint32
	Count  uint32
}

// opNop provides the hooks an op does not use.
type opNop struct{}

func (opNop) PreEval() error  { return nil }
func (opNop) PostEval() error { return nil }
func (opNop) isOp()           {}

func checkOperands(name string, tensors []*Tensor, min int) error {
	if len(tensors) < min {
		return fmt.Errorf("%w: %s needs at least %d tensors, got %d", ErrConfiguration, name, min, len(tensors))
	}
	for i, t := range tensors {
		if t == nil {
			return fmt.Errorf("%w: %s: tensor %d is nil", ErrConfiguration, name, i)
		}
	}
	return nil
}

func checkInit(name string, tensors []*Tensor) error {
	for _, t := range tensors {
		if !t.IsInit() {
			return fmt.Errorf("%s: %w", name, t.notInit())
		}
	}
	return nil
}

// OpCreate allocates the device buffers of every operand and records the
// initial upload of device-kind tensors. Initialized operands are
// recreated.
type OpCreate struct {
	opNop
	Tensors []*Tensor
}

// NewOpCreate returns an OpCreate for tensors.
func NewOpCreate(tensors ...*Tensor) *OpCreate {
	return &OpCreate{Tensors: tensors}
}

// Init creates every operand.
func (op *OpCreate) Init() error {
	if err := checkOperands("create", op.Tensors, 1); err != nil {
		return err
	}
	for _, t := range op.Tensors {
		if err := t.Create(); err != nil {
			return err
		}
	}
	return nil
}

// Record copies the staging upload of device-kind operands into device
// memory. Host-visible operands were written by Create.
func (op *OpCreate) Record(rec gpucore.CommandBuffer) error {
	for _, t := range op.Tensors {
		if t.Kind() != MemoryDevice {
			continue
		}
		if err := t.RecordSyncToDevice(rec); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpCreate) PreEval() error {
	return checkInit("create", op.Tensors)
}
