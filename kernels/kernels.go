// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernels provides ready-made compute programs.
//
// Each program is WGSL compiled to SPIR-V with naga on first use, paired
// with a CPU kernel that computes the same result on the software backend.
// Call [Install] once before running them on a software device.
//
// All programs run one invocation per element: dispatch as many
// workgroups as the tensor has elements, which is the default workgroup
// of an algorithm.
package kernels

import (
	_ "embed"
	"sort"
	"sync"

	"github.com/gogpu/kompute/backend/software"
	"github.com/gogpu/kompute/shader"
)

// Program is a built-in compute program.
type Program struct {
	// Name identifies the program in job files and logs.
	Name string

	// Source is the WGSL source.
	Source string

	// Bindings is the number of storage tensors the program binds.
	Bindings int

	// PushSize is the size of the push constant block in bytes.
	PushSize uint32

	// SpecSize is the size of the specialization constant block in bytes.
	SpecSize uint32

	words  func() []uint32
	kernel software.Kernel
}

// Words returns the compiled SPIR-V. Compilation happens once.
func (p *Program) Words() []uint32 {
	return p.words()
}

//go:embed shaders/multiply.wgsl
var multiplySource string

//go:embed shaders/add_push.wgsl
var addPushSource string

//go:embed shaders/increment.wgsl
var incrementSource string

//go:embed shaders/copy.wgsl
var copySource string

//go:embed shaders/scale.wgsl
var scaleSource string

func newProgram(name, source string, bindings int, push, spec uint32, run func(inv *software.Invocation)) *Program {
	return &Program{
		Name:     name,
		Source:   source,
		Bindings: bindings,
		PushSize: push,
		SpecSize: spec,
		words:    sync.OnceValue(func() []uint32 { return shader.MustCompileWGSL(source) }),
		kernel:   software.Kernel{Bindings: bindings, Run: run},
	}
}

// elements is the float32 count of binding b.
func elements(inv *software.Invocation, b int) int {
	return len(inv.Buffers[b]) / 4
}

var (
	multiply = newProgram("multiply", multiplySource, 3, 0, 0, func(inv *software.Invocation) {
		if i := inv.Index(); i < elements(inv, 2) {
			inv.SetFloat32(2, i, inv.Float32(0, i)*inv.Float32(1, i))
		}
	})
	addPush = newProgram("add_push", addPushSource, 1, 12, 0, func(inv *software.Invocation) {
		if i := inv.Index(); i < 3 && i < elements(inv, 0) {
			inv.SetFloat32(0, i, inv.Float32(0, i)+inv.PushFloat32(i))
		}
	})
	increment = newProgram("increment", incrementSource, 1, 0, 0, func(inv *software.Invocation) {
		if i := inv.Index(); i < elements(inv, 0) {
			inv.SetFloat32(0, i, inv.Float32(0, i)+1)
		}
	})
	copyProgram = newProgram("copy", copySource, 2, 0, 0, func(inv *software.Invocation) {
		if i := inv.Index(); i < elements(inv, 1) && i < elements(inv, 0) {
			inv.SetUint32(1, i, inv.Uint32(0, i))
		}
	})
	scale = newProgram("scale", scaleSource, 1, 0, 4, func(inv *software.Invocation) {
		if i := inv.Index(); i < elements(inv, 0) {
			inv.SetFloat32(0, i, inv.Float32(0, i)*inv.SpecFloat32(0))
		}
	})

	all = map[string]*Program{
		multiply.Name:    multiply,
		addPush.Name:     addPush,
		increment.Name:   increment,
		copyProgram.Name: copyProgram,
		scale.Name:       scale,
	}
)

// Multiply returns a program computing out[i] = a[i] * b[i] over the
// bindings a, b and out.
func Multiply() []uint32 { return multiply.Words() }

// AddPush returns a program adding push constants x, y and z (float32) to
// elements 0, 1 and 2 of its single binding.
func AddPush() []uint32 { return addPush.Words() }

// Increment returns a program adding 1 to every element of its binding.
func Increment() []uint32 { return increment.Words() }

// Copy returns a program copying binding 0 into binding 1.
func Copy() []uint32 { return copyProgram.Words() }

// Scale returns a program multiplying every element by the float32
// specialization constant factor.
func Scale() []uint32 { return scale.Words() }

// Lookup returns the program called name.
func Lookup(name string) (*Program, bool) {
	p, ok := all[name]
	return p, ok
}

// Names returns the sorted names of the built-in programs.
func Names() []string {
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var installOnce sync.Once

// Install compiles every program and registers its CPU kernel with the
// software backend. It is safe to call more than once.
func Install() {
	installOnce.Do(func() {
		for _, p := range all {
			software.RegisterKernel(p.Words(), p.kernel)
		}
	})
}
