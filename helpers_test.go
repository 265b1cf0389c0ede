// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/gogpu/kompute/backend/software"
	"github.com/gogpu/kompute/shader"
)

// Test programs. The software device finds kernels by fingerprint, so a
// header plus a distinct marker word is enough.
var (
	incrementWords = testWords(0x1)
	addPushWords   = testWords(0x2)
	multiplyWords  = testWords(0x3)
	scaleSpecWords = testWords(0x4)
)

func testWords(marker uint32) []uint32 {
	return []uint32{shader.MagicNumber, 0x00010000, 0, 1, 0, 0x6b000000 | marker}
}

func init() {
	software.RegisterKernel(incrementWords, software.Kernel{
		Bindings: 1,
		Run: func(inv *software.Invocation) {
			i := inv.Index()
			if i*4 >= len(inv.Buffers[0]) {
				return
			}
			inv.SetFloat32(0, i, inv.Float32(0, i)+1)
		},
	})
	software.RegisterKernel(addPushWords, software.Kernel{
		Bindings: 1,
		Run: func(inv *software.Invocation) {
			i := inv.Index()
			if i*4 >= len(inv.Buffers[0]) {
				return
			}
			inv.SetFloat32(0, i, inv.Float32(0, i)+inv.PushFloat32(i))
		},
	})
	software.RegisterKernel(multiplyWords, software.Kernel{
		Bindings: 3,
		Run: func(inv *software.Invocation) {
			i := inv.Index()
			if i*4 >= len(inv.Buffers[2]) {
				return
			}
			inv.SetFloat32(2, i, inv.Float32(0, i)*inv.Float32(1, i))
		},
	})
	software.RegisterKernel(scaleSpecWords, software.Kernel{
		Bindings: 1,
		Run: func(inv *software.Invocation) {
			i := inv.Index()
			if i*4 >= len(inv.Buffers[0]) {
				return
			}
			inv.SetFloat32(0, i, inv.Float32(0, i)*inv.SpecFloat32(0))
		},
	})
}

// newTestManager returns a manager over a borrowed software device.
func newTestManager(t *testing.T) (*Manager, *software.Device) {
	t.Helper()
	dev := software.New(software.WithWorkers(4))
	mgr, err := NewManager(WithDevice(dev), WithLabel(t.Name()))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() {
		mgr.Destroy()
		dev.Destroy()
	})
	return mgr, dev
}

func mustTensor(t *testing.T, mgr *Manager, data []float32, opts ...TensorOption) *Tensor {
	t.Helper()
	tensor, err := mgr.Tensor(data, opts...)
	if err != nil {
		t.Fatalf("Tensor(%v) error = %v", data, err)
	}
	return tensor
}

func mustSequence(t *testing.T, mgr *Manager, opts ...SequenceOption) *Sequence {
	t.Helper()
	seq, err := mgr.Sequence(opts...)
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	return seq
}

// mustRecording returns a new sequence that has begun recording.
func mustRecording(t *testing.T, mgr *Manager, opts ...SequenceOption) *Sequence {
	t.Helper()
	seq := mustSequence(t, mgr, opts...)
	if err := seq.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return seq
}

func mustAlgorithm(t *testing.T, mgr *Manager, tensors []*Tensor, words []uint32, opts ...AlgorithmOption) *Algorithm {
	t.Helper()
	algo, err := mgr.Algorithm(tensors, words, opts...)
	if err != nil {
		t.Fatalf("Algorithm() error = %v", err)
	}
	return algo
}

// mustEval clears seq, records ops and evaluates them.
func mustEval(t *testing.T, seq *Sequence, ops ...Op) {
	t.Helper()
	seq.Clear()
	if err := seq.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, op := range ops {
		if err := seq.Record(op); err != nil {
			t.Fatalf("Record(%T) error = %v", op, err)
		}
	}
	if err := seq.Eval(); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
}

// borrowedCommandBuffer allocates a software command buffer the test can
// inspect.
func borrowedCommandBuffer(t *testing.T, dev *software.Device) *software.CommandBuffer {
	t.Helper()
	pool, err := dev.CreateCommandPool()
	if err != nil {
		t.Fatalf("CreateCommandPool() error = %v", err)
	}
	cb, err := dev.AllocateCommandBuffer(pool)
	if err != nil {
		t.Fatalf("AllocateCommandBuffer() error = %v", err)
	}
	return cb.(*software.CommandBuffer)
}

var approx = cmpopts.EquateApprox(0, 1e-6)

func checkFloats(t *testing.T, name string, got, want []float32) {
	t.Helper()
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
	}
}
