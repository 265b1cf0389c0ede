// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernels_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/kompute"
	"github.com/gogpu/kompute/backend/software"
	"github.com/gogpu/kompute/kernels"
	"github.com/gogpu/kompute/shader"
)

func TestPrograms_Reflect(t *testing.T) {
	for _, name := range kernels.Names() {
		t.Run(name, func(t *testing.T) {
			p, ok := kernels.Lookup(name)
			if !ok {
				t.Fatalf("Lookup(%q) failed", name)
			}
			words := p.Words()
			if len(words) == 0 || words[0] != shader.MagicNumber {
				t.Fatalf("Words() is not SPIR-V")
			}
			layout, err := shader.Reflect(words)
			if err != nil {
				t.Fatalf("Reflect() error = %v", err)
			}
			if got := layout.Bindings(0); got != p.Bindings {
				t.Errorf("set 0 bindings = %d, want %d", got, p.Bindings)
			}
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, ok := kernels.Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
}

func TestNames(t *testing.T) {
	want := []string{"add_push", "copy", "increment", "multiply", "scale"}
	if diff := cmp.Diff(want, kernels.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func newManager(t *testing.T) *kompute.Manager {
	t.Helper()
	kernels.Install()
	dev := software.New()
	mgr, err := kompute.NewManager(kompute.WithDevice(dev))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() {
		mgr.Destroy()
		dev.Destroy()
	})
	return mgr
}

func tensor(t *testing.T, mgr *kompute.Manager, data []float32) *kompute.Tensor {
	t.Helper()
	tn, err := mgr.Tensor(data)
	if err != nil {
		t.Fatalf("Tensor() error = %v", err)
	}
	return tn
}

// run syncs the tensors to the device, dispatches algo and syncs them back.
func run(t *testing.T, mgr *kompute.Manager, algo *kompute.Algorithm, tensors ...*kompute.Tensor) {
	t.Helper()
	seq, err := mgr.Sequence()
	if err != nil {
		t.Fatalf("Sequence() error = %v", err)
	}
	defer seq.Destroy()
	if err := seq.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, op := range []kompute.Op{
		kompute.NewOpSyncDevice(tensors...),
		kompute.NewOpDispatch(algo),
		kompute.NewOpSyncLocal(tensors...),
	} {
		if err := seq.Record(op); err != nil {
			t.Fatalf("Record(%T) error = %v", op, err)
		}
	}
	if err := seq.Eval(); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
}

func TestMultiply(t *testing.T) {
	mgr := newManager(t)
	a := tensor(t, mgr, []float32{2, 4, 6})
	b := tensor(t, mgr, []float32{0, 1, 2})
	out := tensor(t, mgr, []float32{0, 0, 0})

	algo, err := mgr.Algorithm([]*kompute.Tensor{a, b, out}, kernels.Multiply())
	if err != nil {
		t.Fatalf("Algorithm() error = %v", err)
	}
	run(t, mgr, algo, a, b, out)

	if diff := cmp.Diff([]float32{0, 4, 12}, out.Float32s()); diff != "" {
		t.Errorf("out mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPush(t *testing.T) {
	mgr := newManager(t)
	buf := tensor(t, mgr, []float32{0, 0, 0})

	algo, err := mgr.Algorithm([]*kompute.Tensor{buf}, kernels.AddPush(),
		kompute.WithWorkgroup(3, 1, 1),
		kompute.WithPushConstants(kompute.ConstantsOf[float32](0.1, 0.2, 0.3)))
	if err != nil {
		t.Fatalf("Algorithm() error = %v", err)
	}
	run(t, mgr, algo, buf)
	run(t, mgr, algo, buf)

	if diff := cmp.Diff([]float32{0.2, 0.4, 0.6}, buf.Float32s()); diff != "" {
		t.Errorf("buf mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrementAndCopy(t *testing.T) {
	mgr := newManager(t)
	src := tensor(t, mgr, []float32{1, 2, 3, 4})
	dst := tensor(t, mgr, []float32{0, 0, 0, 0})

	inc, err := mgr.Algorithm([]*kompute.Tensor{src}, kernels.Increment())
	if err != nil {
		t.Fatalf("Algorithm(increment) error = %v", err)
	}
	cp, err := mgr.Algorithm([]*kompute.Tensor{src, dst}, kernels.Copy())
	if err != nil {
		t.Fatalf("Algorithm(copy) error = %v", err)
	}
	run(t, mgr, inc, src)
	run(t, mgr, cp, src, dst)

	if diff := cmp.Diff([]float32{2, 3, 4, 5}, dst.Float32s()); diff != "" {
		t.Errorf("dst mismatch (-want +got):\n%s", diff)
	}
}

func TestScale(t *testing.T) {
	mgr := newManager(t)
	buf := tensor(t, mgr, []float32{1, 2, 3})

	algo, err := mgr.Algorithm([]*kompute.Tensor{buf}, kernels.Scale(),
		kompute.WithSpecConstants(kompute.ConstantsOf[float32](2.5)))
	if err != nil {
		t.Fatalf("Algorithm() error = %v", err)
	}
	run(t, mgr, algo, buf)

	if diff := cmp.Diff([]float32{2.5, 5, 7.5}, buf.Float32s()); diff != "" {
		t.Errorf("buf mismatch (-want +got):\n%s", diff)
	}
}

func TestInstall_Idempotent(t *testing.T) {
	kernels.Install()
	kernels.Install()
}
