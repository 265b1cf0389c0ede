// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSequence_RepeatedEval(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)

	if err := mustSequence(t, mgr).EvalOp(NewOpSyncDevice(tensor)); err != nil {
		t.Fatalf("EvalOp(sync device) error = %v", err)
	}

	seq := mustRecording(t, mgr)
	if err := seq.Record(NewOpDispatch(algo)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	for i := range 3 {
		if err := seq.Eval(); err != nil {
			t.Fatalf("Eval() #%d error = %v", i+1, err)
		}
	}

	if err := mustSequence(t, mgr).EvalOp(NewOpSyncLocal(tensor)); err != nil {
		t.Fatalf("EvalOp(sync local) error = %v", err)
	}
	checkFloats(t, "tensor", tensor.Float32s(), []float32{3})
}

func TestSequence_PushConstantAccumulation(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0, 0, 0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, addPushWords,
		WithWorkgroup(3, 1, 1),
		WithPushConstants(ConstantsOf[float32](0, 0, 0)))

	seq := mustSequence(t, mgr)
	mustEval(t, seq,
		NewOpSyncDevice(tensor),
		NewOpDispatch(algo, ConstantsOf[float32](0.1, 0.2, 0.3)),
		NewOpDispatch(algo, ConstantsOf[float32](0.3, 0.2, 0.1)),
		NewOpSyncLocal(tensor),
	)
	checkFloats(t, "tensor", tensor.Float32s(), []float32{0.4, 0.4, 0.4})

	// Overrides are not stored on the algorithm.
	defaults, err := ConstantValues[float32](algo.PushConstants())
	if err != nil {
		t.Fatal(err)
	}
	checkFloats(t, "default push constants", defaults, []float32{0, 0, 0})
}

func TestSequence_RoundTrip(t *testing.T) {
	for _, kind := range []MemoryKind{MemoryDevice, MemoryHost, MemoryDeviceAndHost} {
		t.Run(kind.String(), func(t *testing.T) {
			mgr, _ := newTestManager(t)
			want := []float32{1.5, -2, 3.25, 8}
			tensor := mustTensor(t, mgr, want, WithMemoryKind(kind))

			seq := mustSequence(t, mgr)
			mustEval(t, seq, NewOpSyncDevice(tensor), NewOpSyncLocal(tensor))
			checkFloats(t, "after sync", tensor.Float32s(), want)

			// The device copy survives a host-side overwrite.
			if err := tensor.SetFloat32s([]float32{0, 0, 0, 0}); err != nil {
				t.Fatal(err)
			}
			mustEval(t, seq, NewOpSyncLocal(tensor))
			checkFloats(t, "after resync", tensor.Float32s(), want)
		})
	}
}

func TestSequence_StorageHasNoHostTraffic(t *testing.T) {
	mgr, dev := newTestManager(t)
	storage := mustTensor(t, mgr, []float32{1, 2}, WithMemoryKind(MemoryStorage))

	before := dev.Stats()
	mustEval(t, mustSequence(t, mgr), NewOpSyncDevice(storage), NewOpSyncLocal(storage))
	after := dev.Stats()
	if after.Copies != before.Copies || after.Barriers != before.Barriers {
		t.Errorf("storage sync executed %d copies and %d barriers, want none",
			after.Copies-before.Copies, after.Barriers-before.Barriers)
	}
	checkFloats(t, "storage mirror", storage.Float32s(), []float32{1, 2})
}

func TestSequence_PostDestroyRead(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1, 2, 3})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)

	mustEval(t, mustSequence(t, mgr),
		NewOpSyncDevice(tensor), NewOpDispatch(algo), NewOpSyncLocal(tensor))

	tensor.Destroy()
	if tensor.IsInit() {
		t.Error("IsInit() = true after Destroy")
	}
	checkFloats(t, "mirror after destroy", tensor.Float32s(), []float32{2, 3, 4})
}

func TestSequence_States(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1})
	seq := mustSequence(t, mgr)

	if seq.IsRecording() || seq.IsRunning() || !seq.IsInit() {
		t.Fatalf("new sequence state = %v, want idle", seq.State())
	}

	// End while idle and Begin while recording only warn.
	if err := seq.End(); err != nil {
		t.Errorf("End() while idle error = %v, want nil", err)
	}
	if err := seq.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := seq.Begin(); err != nil {
		t.Errorf("Begin() while recording error = %v, want nil", err)
	}
	if !seq.IsRecording() {
		t.Errorf("State() = %v, want recording", seq.State())
	}

	if err := seq.Eval(); !errors.Is(err, ErrState) {
		t.Errorf("Eval() with nothing recorded error = %v, want ErrState", err)
	}
	if seq.IsRecording() {
		t.Error("Eval() must end the recording")
	}

	if err := seq.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := seq.Record(NewOpSyncDevice(tensor)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := seq.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := seq.Eval(); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if got := seq.State(); got != SequenceIdle {
		t.Errorf("State() after Eval = %v, want idle", got)
	}

	seq.Destroy()
	seq.Destroy()
	if seq.IsInit() {
		t.Error("IsInit() = true after Destroy")
	}
	if err := seq.Record(NewOpSyncDevice(tensor)); !errors.Is(err, ErrState) {
		t.Errorf("Record() after Destroy error = %v, want ErrState", err)
	}
	if err := seq.Eval(); !errors.Is(err, ErrState) {
		t.Errorf("Eval() after Destroy error = %v, want ErrState", err)
	}
	if err := seq.Begin(); !errors.Is(err, ErrState) {
		t.Errorf("Begin() after Destroy error = %v, want ErrState", err)
	}
}

func TestSequence_RecordRequiresBegin(t *testing.T) {
	mgr, dev := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1})
	cb := borrowedCommandBuffer(t, dev)
	seq := mustSequence(t, mgr, WithBorrowedCommandBuffer(cb))

	if err := seq.Record(NewOpSyncDevice(tensor)); !errors.Is(err, ErrState) {
		t.Errorf("Record() on a new sequence error = %v, want ErrState", err)
	}
	if got := seq.State(); got != SequenceIdle {
		t.Errorf("State() after rejected Record = %v, want idle", got)
	}
	if got := cb.Len(); got != 0 {
		t.Errorf("recorded commands = %d, want 0", got)
	}

	// EvalOp brackets its own recording and leaves the sequence idle.
	if err := seq.EvalOp(NewOpSyncDevice(tensor)); err != nil {
		t.Fatal(err)
	}
	if err := seq.Record(NewOpSyncLocal(tensor)); !errors.Is(err, ErrState) {
		t.Errorf("Record() after EvalOp error = %v, want ErrState", err)
	}
	if got := seq.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if err := seq.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := seq.Record(NewOpSyncLocal(tensor)); err != nil {
		t.Errorf("Record() after Begin error = %v", err)
	}
	if got := seq.Len(); got != 1 {
		t.Errorf("Len() after Begin and Record = %d, want 1", got)
	}
}

func TestSequence_InitFailureKeepsRecording(t *testing.T) {
	mgr, dev := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1, 2, 3})
	cb := borrowedCommandBuffer(t, dev)
	seq := mustRecording(t, mgr, WithBorrowedCommandBuffer(cb))

	if err := seq.Record(NewOpSyncDevice(tensor)); err != nil {
		t.Fatal(err)
	}
	recorded := cb.Len()

	err := seq.Record(NewOpSyncRegionLocal(Region{Tensor: tensor, Src: 2, Dst: 0, Count: 2}))
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("Record(out of bounds region) error = %v, want ErrBounds", err)
	}
	if got := cb.Len(); got != recorded {
		t.Errorf("recorded commands = %d, want %d", got, recorded)
	}
	if got := seq.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	if err := seq.Eval(); err != nil {
		t.Errorf("Eval() error = %v", err)
	}
}

func TestSequence_Clear(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1})
	seq := mustRecording(t, mgr)

	if err := seq.Record(NewOpSyncDevice(tensor)); err != nil {
		t.Fatal(err)
	}
	seq.Clear()
	if got := seq.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if seq.IsRecording() {
		t.Error("IsRecording() = true after Clear")
	}
	if err := seq.Eval(); !errors.Is(err, ErrState) {
		t.Errorf("Eval() after Clear error = %v, want ErrState", err)
	}
}

func TestSequence_Rerecord(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)
	seq := mustSequence(t, mgr)

	mustEval(t, seq, NewOpSyncDevice(tensor), NewOpDispatch(algo), NewOpSyncLocal(tensor))
	checkFloats(t, "first eval", tensor.Float32s(), []float32{1})

	if err := seq.Rerecord(); err != nil {
		t.Fatalf("Rerecord() error = %v", err)
	}
	if got := seq.Len(); got != 3 {
		t.Errorf("Len() after Rerecord = %d, want 3", got)
	}
	if err := seq.Eval(); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	checkFloats(t, "second eval", tensor.Float32s(), []float32{2})

	// A recreated tensor invalidates the algorithm's bindings.
	if err := tensor.Create(); err != nil {
		t.Fatal(err)
	}
	if err := seq.Rerecord(); !errors.Is(err, ErrState) {
		t.Errorf("Rerecord() with stale algorithm error = %v, want ErrState", err)
	}
	if err := algo.Rebuild([]*Tensor{tensor}, incrementWords); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	mustEval(t, seq, NewOpSyncDevice(tensor), NewOpDispatch(algo), NewOpSyncLocal(tensor))
	checkFloats(t, "after rebuild", tensor.Float32s(), []float32{3})
}

func TestSequence_OwnedAndBorrowedResources(t *testing.T) {
	mgr, dev := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{1})

	cb := borrowedCommandBuffer(t, dev)
	borrowed := mustSequence(t, mgr, WithBorrowedCommandBuffer(cb))
	shared := mustSequence(t, mgr, WithSharedPool())

	for _, seq := range []*Sequence{borrowed, shared} {
		if err := seq.EvalOp(NewOpSyncDevice(tensor)); err != nil {
			t.Fatalf("EvalOp() error = %v", err)
		}
		seq.Destroy()
	}

	// The borrowed command buffer is still usable.
	if err := cb.Begin(); err != nil {
		t.Errorf("Begin() on borrowed command buffer after Destroy error = %v", err)
	}

	// The shared pool still allocates.
	again := mustSequence(t, mgr, WithSharedPool())
	if err := again.EvalOp(NewOpSyncDevice(tensor)); err != nil {
		t.Errorf("EvalOp() on shared pool error = %v", err)
	}
}

func TestSequence_FenceTimeout(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.timeout = time.Second
	tensor := mustTensor(t, mgr, []float32{1})

	// The software device signals before Wait, so a bounded wait succeeds.
	if err := mustSequence(t, mgr).EvalOp(NewOpSyncDevice(tensor)); err != nil {
		t.Errorf("EvalOp() error = %v", err)
	}
}

func TestSequence_ConcurrentEval(t *testing.T) {
	mgr, _ := newTestManager(t)
	tensor := mustTensor(t, mgr, []float32{0})
	algo := mustAlgorithm(t, mgr, []*Tensor{tensor}, incrementWords)
	if err := mustSequence(t, mgr).EvalOp(NewOpSyncDevice(tensor)); err != nil {
		t.Fatal(err)
	}

	seq := mustRecording(t, mgr)
	if err := seq.Record(NewOpDispatch(algo)); err != nil {
		t.Fatal(err)
	}
	if err := seq.End(); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := seq.Eval(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Eval() error = %v", err)
	}

	if err := mustSequence(t, mgr).EvalOp(NewOpSyncLocal(tensor)); err != nil {
		t.Fatal(err)
	}
	checkFloats(t, "tensor", tensor.Float32s(), []float32{n})
}
