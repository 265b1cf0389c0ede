// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"

	"github.com/gogpu/kompute/gpucore"
)

// OpDispatch runs an algorithm once.
//
// Push overrides the algorithm's default push constants for this dispatch.
// An empty Push uses the defaults. The override is not stored on the
// algorithm.
type OpDispatch struct {
	opNop
	Algorithm *Algorithm
	Push      Constants
}

// NewOpDispatch returns an OpDispatch of algo with optional push constants.
func NewOpDispatch(algo *Algorithm, push ...Constants) *OpDispatch {
	op := &OpDispatch{Algorithm: algo}
	if len(push) > 0 {
		op.Push = push[0]
	}
	return op
}

// Init checks that the algorithm is built over live tensors.
func (op *OpDispatch) Init() error {
	if op.Algorithm == nil {
		return fmt.Errorf("%w: dispatch has no algorithm", ErrConfiguration)
	}
	a := op.Algorithm
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.built {
		return fmt.Errorf("%w: algorithm %q is not initialized", ErrState, a.label)
	}
	if op.Push.Len() > 0 && op.Push.ByteSize() != a.push.ByteSize() {
		return fmt.Errorf("%w: algorithm %q: push block is %d bytes, got %d",
			ErrConfiguration, a.label, a.push.ByteSize(), op.Push.ByteSize())
	}
	return a.checkBindingsLocked()
}

// Record records the dispatch.
func (op *OpDispatch) Record(rec gpucore.CommandBuffer) error {
	return op.Algorithm.RecordDispatch(rec, op.Push)
}

// PreEval checks that the recorded program and bindings are still live.
func (op *OpDispatch) PreEval() error {
	a := op.Algorithm
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.built {
		return fmt.Errorf("%w: algorithm %q was destroyed after recording", ErrState, a.label)
	}
	return a.checkBindingsLocked()
}

// OpBarrier records an explicit buffer barrier on every operand. With
// Staging set the barrier targets staging buffers, and tensors without one
// are skipped.
type OpBarrier struct {
	opNop
	Tensors   []*Tensor
	SrcAccess gpucore.AccessFlags
	DstAccess gpucore.AccessFlags
	SrcStage  gpucore.StageFlags
	DstStage  gpucore.StageFlags
	Staging   bool
}

// Init checks that every operand is initialized.
func (op *OpBarrier) Init() error {
	if err := checkOperands("barrier", op.Tensors, 1); err != nil {
		return err
	}
	return checkInit("barrier", op.Tensors)
}

// Record records the barriers.
func (op *OpBarrier) Record(rec gpucore.CommandBuffer) error {
	for _, t := range op.Tensors {
		if err := t.RecordBarrier(rec, op.SrcAccess, op.DstAccess, op.SrcStage, op.DstStage, op.Staging); err != nil {
			return err
		}
	}
	return nil
}

// PreEval checks that no operand was destroyed after recording.
func (op *OpBarrier) PreEval() error {
	return checkInit("barrier", op.Tensors)
}
