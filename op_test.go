// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"errors"
	"testing"

	"github.com/gogpu/kompute/gpucore"
)

func TestOpCreate(t *testing.T) {
	mgr, dev := newTestManager(t)
	device := mustTensor(t, mgr, []float32{1, 2}, WithLazyCreate())
	host := mustTensor(t, mgr, []float32{3, 4}, WithLazyCreate(), WithMemoryKind(MemoryHost))
	storage := mustTensor(t, mgr, []float32{5, 6}, WithLazyCreate(), WithMemoryKind(MemoryStorage))

	seq := mustSequence(t, mgr)
	mustEval(t, seq, NewOpCreate(device, host, storage))
	for _, tensor := range []*Tensor{device, host, storage} {
		if !tensor.IsInit() {
			t.Errorf("tensor %q not initialized by OpCreate", tensor.Label())
		}
	}
	if buffers, _, _ := dev.Live(); buffers != 4 {
		t.Errorf("live buffers = %d, want 4", buffers)
	}

	// Device memory holds the construction values.
	if err := device.SetFloat32s([]float32{0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := host.SetFloat32s([]float32{0, 0}); err != nil {
		t.Fatal(err)
	}
	mustEval(t, seq, NewOpSyncLocal(device, host))
	checkFloats(t, "device", device.Float32s(), []float32{1, 2})
	checkFloats(t, "host", host.Float32s(), []float32{3, 4})
}

func TestOpCreate_NoOperands(t *testing.T) {
	mgr, _ := newTestManager(t)
	seq := mustRecording(t, mgr)
	if err := seq.Record(NewOpCreate()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpCreate()) error = %v, want ErrConfiguration", err)
	}
}

func TestOpSync_Uninitialized(t *testing.T) {
	mgr, _ := newTestManager(t)
	lazy := mustTensor(t, mgr, []float32{1}, WithLazyCreate())
	seq := mustRecording(t, mgr)

	ops := []Op{
		NewOpSyncDevice(lazy),
		NewOpSyncLocal(lazy),
		NewOpSyncRegionLocal(Region{Tensor: lazy, Count: 1}),
		NewOpSyncRegionDevice(Region{Tensor: lazy, Count: 1}),
		&OpBarrier{Tensors: []*Tensor{lazy}},
	}
	for _, op := range ops {
		if err := seq.Record(op); !errors.Is(err, ErrState) {
			t.Errorf("Record(%T) on uninitialized tensor error = %v, want ErrState", op, err)
		}
	}
	if err := seq.Record(NewOpSyncDevice()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpSyncDevice()) error = %v, want ErrConfiguration", err)
	}
}

func TestOpCopy_Closure(t *testing.T) {
	tests := []struct {
		src, dst MemoryKind
	}{
		{MemoryDevice, MemoryDevice},
		{MemoryDevice, MemoryHost},
		{MemoryHost, MemoryDevice},
		{MemoryHost, MemoryHost},
		{MemoryDeviceAndHost, MemoryDevice},
		{MemoryDevice, MemoryDeviceAndHost},
	}
	for _, tt := range tests {
		t.Run(tt.src.String()+"->"+tt.dst.String(), func(t *testing.T) {
			mgr, _ := newTestManager(t)
			src := mustTensor(t, mgr, []float32{1, 2, 3}, WithMemoryKind(tt.src))
			dst := mustTensor(t, mgr, []float32{0, 0, 0}, WithMemoryKind(tt.dst))
			seq := mustSequence(t, mgr)

			mustEval(t, seq, NewOpSyncDevice(src), NewOpCopy(src, dst), NewOpSyncLocal(dst))
			checkFloats(t, "destination", dst.Float32s(), src.Float32s())

			// The device copy landed, not just the host-side mirror update.
			if err := dst.SetFloat32s([]float32{0, 0, 0}); err != nil {
				t.Fatal(err)
			}
			mustEval(t, seq, NewOpSyncLocal(dst))
			checkFloats(t, "destination after resync", dst.Float32s(), []float32{1, 2, 3})
		})
	}
}

func TestOpCopy_ThroughStorage(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mustTensor(t, mgr, []float32{4, 5, 6})
	storage := mustTensor(t, mgr, []float32{0, 0, 0}, WithMemoryKind(MemoryStorage))
	b := mustTensor(t, mgr, []float32{0, 0, 0})

	mustEval(t, mustSequence(t, mgr),
		NewOpSyncDevice(a),
		NewOpCopy(a, storage),
		NewOpCopy(storage, b),
		NewOpSyncLocal(b),
	)
	checkFloats(t, "b", b.Float32s(), []float32{4, 5, 6})
	checkFloats(t, "storage mirror", storage.Float32s(), []float32{0, 0, 0})
}

func TestOpCopy_MultipleDestinations(t *testing.T) {
	mgr, _ := newTestManager(t)
	src := mustTensor(t, mgr, []float32{7, 8})
	d1 := mustTensor(t, mgr, []float32{0, 0})
	d2 := mustTensor(t, mgr, []float32{0, 0}, WithMemoryKind(MemoryHost))

	mustEval(t, mustSequence(t, mgr), NewOpSyncDevice(src), NewOpCopy(src, d1, d2))
	checkFloats(t, "d1", d1.Float32s(), []float32{7, 8})
	checkFloats(t, "d2", d2.Float32s(), []float32{7, 8})
}

func TestOpCopy_Arity(t *testing.T) {
	mgr, dev := newTestManager(t)
	a := mustTensor(t, mgr, []float32{1})
	cb := borrowedCommandBuffer(t, dev)
	seq := mustRecording(t, mgr, WithBorrowedCommandBuffer(cb))

	if err := seq.Record(NewOpCopy(a)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpCopy(a)) error = %v, want ErrConfiguration", err)
	}
	if err := seq.Record(&OpCopy{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpCopy{}) error = %v, want ErrConfiguration", err)
	}
	if got := cb.Len(); got != 0 {
		t.Errorf("recorded commands = %d, want 0", got)
	}
}

func TestOpCopy_SizeMismatch(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mustTensor(t, mgr, []float32{1, 2})
	b := mustTensor(t, mgr, []float32{1})

	if err := mustRecording(t, mgr).Record(NewOpCopy(a, b)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpCopy) with mismatched sizes error = %v, want ErrConfiguration", err)
	}
}

func TestOpCopyRegion(t *testing.T) {
	mgr, _ := newTestManager(t)
	src := mustTensor(t, mgr, []float32{1, 2, 3, 4})
	dst := mustTensor(t, mgr, []float32{0, 0, 0})
	seq := mustSequence(t, mgr)

	mustEval(t, seq,
		NewOpSyncDevice(src, dst),
		NewOpCopyRegion(src, Region{Tensor: dst, Src: 2, Dst: 1, Count: 2}),
	)
	checkFloats(t, "mirror", dst.Float32s(), []float32{0, 3, 4})

	if err := dst.SetFloat32s([]float32{9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	mustEval(t, seq, NewOpSyncLocal(dst))
	checkFloats(t, "device", dst.Float32s(), []float32{0, 3, 4})

	if err := seq.Begin(); err != nil {
		t.Fatal(err)
	}
	err := seq.Record(NewOpCopyRegion(src, Region{Tensor: dst, Src: 3, Dst: 0, Count: 2}))
	if !errors.Is(err, ErrBounds) {
		t.Errorf("Record(OpCopyRegion) out of bounds error = %v, want ErrBounds", err)
	}
	if err := seq.Record(NewOpCopyRegion(src)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpCopyRegion) without regions error = %v, want ErrConfiguration", err)
	}
}

func TestOpSyncRegionLocal(t *testing.T) {
	for _, kind := range []MemoryKind{MemoryDevice, MemoryHost} {
		t.Run(kind.String(), func(t *testing.T) {
			mgr, _ := newTestManager(t)
			tensor := mustTensor(t, mgr, []float32{1, 2, 3, 4}, WithMemoryKind(kind))
			algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)
			seq := mustSequence(t, mgr)

			// Device now holds {2, 3, 4, 5}; the mirror still {1, 2, 3, 4}.
			mustEval(t, seq, NewOpSyncDevice(tensor), NewOpDispatch(algo))
			mustEval(t, seq, NewOpSyncRegionLocal(Region{Tensor: tensor, Src: 1, Dst: 0, Count: 2}))
			checkFloats(t, "mirror", tensor.Float32s(), []float32{3, 4, 3, 4})
		})
	}
}

func TestOpSyncRegionLocal_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		regions []Region
		want    error
	}{
		{"no regions", nil, ErrConfiguration},
		{"nil tensor", []Region{{Count: 1}}, ErrConfiguration},
		{"zero count", []Region{{Src: 0, Dst: 0, Count: 0}}, ErrBounds},
		{"source overflow", []Region{{Src: 2, Dst: 0, Count: 2}}, ErrBounds},
		{"destination overflow", []Region{{Src: 0, Dst: 3, Count: 1}}, ErrBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, dev := newTestManager(t)
			tensor := mustTensor(t, mgr, []float32{1, 2, 3})
			for i := range tt.regions {
				if tt.name != "nil tensor" {
					tt.regions[i].Tensor = tensor
				}
			}
			cb := borrowedCommandBuffer(t, dev)
			seq := mustRecording(t, mgr, WithBorrowedCommandBuffer(cb))

			if err := seq.Record(NewOpSyncRegionLocal(tt.regions...)); !errors.Is(err, tt.want) {
				t.Errorf("Record() error = %v, want %v", err, tt.want)
			}
			if err := seq.Record(NewOpSyncRegionDevice(tt.regions...)); !errors.Is(err, tt.want) {
				t.Errorf("Record() error = %v, want %v", err, tt.want)
			}
			if got := cb.Len(); got != 0 {
				t.Errorf("recorded commands = %d, want 0", got)
			}
		})
	}
}

func TestOpSyncRegionDevice(t *testing.T) {
	for _, kind := range []MemoryKind{MemoryDevice, MemoryHost, MemoryDeviceAndHost} {
		t.Run(kind.String(), func(t *testing.T) {
			mgr, _ := newTestManager(t)
			tensor := mustTensor(t, mgr, []float32{0, 0, 0, 0}, WithMemoryKind(kind))
			seq := mustSequence(t, mgr)
			mustEval(t, seq, NewOpSyncDevice(tensor))

			if err := tensor.SetFloat32s([]float32{9, 8, 7, 6}); err != nil {
				t.Fatal(err)
			}
			mustEval(t, seq, NewOpSyncRegionDevice(Region{Tensor: tensor, Src: 0, Dst: 2, Count: 2}))

			if err := tensor.SetFloat32s([]float32{-1, -1, -1, -1}); err != nil {
				t.Fatal(err)
			}
			mustEval(t, seq, NewOpSyncLocal(tensor))
			checkFloats(t, "device", tensor.Float32s(), []float32{0, 0, 9, 8})
		})
	}
}

func TestOpDispatch_Multiply(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mustTensor(t, mgr, []float32{2, 4, 6})
	b := mustTensor(t, mgr, []float32{0, 1, 2})
	out := mustTensor(t, mgr, []float32{0, 0, 0})
	algo := mustAlgorithm(t, mgr, []*Tensor{a, b, out}, multiplyWords)

	mustEval(t, mustSequence(t, mgr),
		NewOpSyncDevice(a, b), NewOpDispatch(algo), NewOpSyncLocal(out))
	checkFloats(t, "out", out.Float32s(), []float32{0, 4, 12})
}

func TestOpDispatch_Errors(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0, 0, 0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, addPushWords,
		WithPushConstants(ConstantsOf[float32](0, 0, 0)))
	seq := mustRecording(t, mgr)

	if err := seq.Record(&OpDispatch{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpDispatch{}) error = %v, want ErrConfiguration", err)
	}
	if err := seq.Record(NewOpDispatch(algo, ConstantsOf[float32](1))); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record() with short push block error = %v, want ErrConfiguration", err)
	}
	if err := seq.Record(NewOpDispatch(algo, ConstantsOf[float64](1, 2, 3))); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record() with wide push block error = %v, want ErrConfiguration", err)
	}

	algo.Destroy()
	if err := seq.Record(NewOpDispatch(algo)); !errors.Is(err, ErrState) {
		t.Errorf("Record() with destroyed algorithm error = %v, want ErrState", err)
	}
}

func TestOpBarrier(t *testing.T) {
	mgr, dev := newTestManager(t)
	device := mustTensor(t, mgr, []float32{1})
	host := mustTensor(t, mgr, []float32{1}, WithMemoryKind(MemoryHost))

	before := dev.Stats().Barriers
	mustEval(t, mustSequence(t, mgr),
		&OpBarrier{
			Tensors:   []*Tensor{device, host},
			SrcAccess: gpucore.AccessTransferWrite,
			DstAccess: gpucore.AccessShaderRead,
			SrcStage:  gpucore.StageTransfer,
			DstStage:  gpucore.StageComputeShader,
		},
		&OpBarrier{
			Tensors:   []*Tensor{device, host},
			SrcAccess: gpucore.AccessTransferWrite,
			DstAccess: gpucore.AccessHostRead,
			SrcStage:  gpucore.StageTransfer,
			DstStage:  gpucore.StageHost,
			Staging:   true,
		},
	)
	if got := dev.Stats().Barriers - before; got != 3 {
		t.Errorf("executed barriers = %d, want 3", got)
	}

	if err := mustRecording(t, mgr).Record(&OpBarrier{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Record(OpBarrier{}) error = %v, want ErrConfiguration", err)
	}
}

func TestOps_OperandDestroyedAfterRecord(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b *Tensor, algo *Algorithm) Op
	}{
		{"dispatch", func(_, _ *Tensor, algo *Algorithm) Op { return NewOpDispatch(algo) }},
		{"copy", func(a, b *Tensor, _ *Algorithm) Op { return NewOpCopy(a, b) }},
		{"copy region", func(a, b *Tensor, _ *Algorithm) Op {
			return NewOpCopyRegion(a, Region{Tensor: b, Count: 1})
		}},
		{"barrier", func(a, b *Tensor, _ *Algorithm) Op { return &OpBarrier{Tensors: []*Tensor{a, b}} }},
		{"create", func(a, b *Tensor, _ *Algorithm) Op { return NewOpCreate(a, b) }},
		{"sync local", func(a, b *Tensor, _ *Algorithm) Op { return NewOpSyncLocal(a, b) }},
		{"sync region local", func(a, b *Tensor, _ *Algorithm) Op {
			return NewOpSyncRegionLocal(Region{Tensor: a, Count: 1})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _ := newTestManager(t)
			a := mustTensor(t, mgr, []float32{1})
			b := mustTensor(t, mgr, []float32{2})
			algo := mustAlgorithm(t, mgr, []*Tensor{a}, incrementWords)

			seq := mustRecording(t, mgr)
			if err := seq.Record(tt.op(a, b, algo)); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			if err := seq.End(); err != nil {
				t.Fatal(err)
			}
			a.Destroy()

			err := seq.Eval()
			if !errors.Is(err, ErrState) {
				t.Errorf("Eval() after destroying an operand error = %v, want ErrState", err)
			}
			if errors.Is(err, ErrDevice) {
				t.Errorf("Eval() reached the device: %v", err)
			}
			if got := seq.State(); got != SequenceIdle {
				t.Errorf("State() after rejected Eval = %v, want idle", got)
			}
		})
	}
}

func TestOpDispatch_AlgorithmDestroyedAfterRecord(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)

	seq := mustRecording(t, mgr)
	if err := seq.Record(NewOpDispatch(algo)); err != nil {
		t.Fatal(err)
	}
	algo.Destroy()
	if err := seq.Eval(); !errors.Is(err, ErrState) {
		t.Errorf("Eval() after algorithm Destroy error = %v, want ErrState", err)
	}
}
