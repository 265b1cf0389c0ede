// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gogpu/kompute/gpucore"
	"github.com/gogpu/kompute/shader"
)

// Workgroup is a dispatch grid size. A zero X means one workgroup per
// element of the first bound tensor. A zero Y or Z means 1.
type Workgroup [3]uint32

// Algorithm is a compiled compute program bound to an ordered list of
// tensors. Binding i of group 0 is tensors[i].
//
// Algorithms are built by [Manager.Algorithm] and are immutable until
// [Algorithm.Rebuild] or [Algorithm.Destroy].
//
// Thread safety: Algorithm is safe for concurrent use.
type Algorithm struct {
	dev gpucore.Device
	h   *programHandles

	mu        sync.Mutex
	label     string
	tensors   []*Tensor
	workgroup Workgroup
	spec      Constants
	push      Constants

	bound []gpucore.BufferID
	built bool
}

// programHandles are the device objects of an algorithm, freed by a
// cleanup when the Algorithm is collected without Destroy.
type programHandles struct {
	ref     *deviceRef
	program gpucore.ProgramID
	bindSet gpucore.BindSetID
}

func (h *programHandles) release() {
	if !h.ref.closed.Load() {
		if h.bindSet != gpucore.InvalidID {
			h.ref.dev.DestroyBindSet(h.bindSet)
		}
		if h.program != gpucore.InvalidID {
			h.ref.dev.DestroyProgram(h.program)
		}
	}
	h.program, h.bindSet = gpucore.InvalidID, gpucore.InvalidID
}

// newAlgorithm validates the arguments and builds the device objects.
func newAlgorithm(ref *deviceRef, tensors []*Tensor, words []uint32, cfg algorithmConfig) (*Algorithm, error) {
	a := &Algorithm{dev: ref.dev, h: &programHandles{ref: ref}}
	if err := a.rebuild(tensors, words, cfg); err != nil {
		return nil, err
	}
	runtime.AddCleanup(a, (*programHandles).release, a.h)
	return a, nil
}

// Label returns the debug label.
func (a *Algorithm) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.label
}

// Tensors returns the bound tensors in binding order.
func (a *Algorithm) Tensors() []*Tensor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Tensor(nil), a.tensors...)
}

// Workgroup returns the resolved dispatch grid.
func (a *Algorithm) Workgroup() Workgroup {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workgroup
}

// SpecConstants returns the specialization constants the program was
// built with.
func (a *Algorithm) SpecConstants() Constants {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec
}

// PushConstants returns the default push constants.
func (a *Algorithm) PushConstants() Constants {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.push
}

// SetPushConstants replaces the default push constants. The packed size
// must match the block the program was built with.
func (a *Algorithm) SetPushConstants(c Constants) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c.ByteSize() != a.push.ByteSize() {
		return fmt.Errorf("%w: algorithm %q: push block is %d bytes, got %d",
			ErrConfiguration, a.label, a.push.ByteSize(), c.ByteSize())
	}
	a.push = c
	return nil
}

// IsInit reports whether the device objects exist.
func (a *Algorithm) IsInit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.built
}

// Rebuild replaces the tensors, program and constants and builds new
// device objects. Options not given revert to their defaults. Invalid
// arguments leave the algorithm unchanged; a device failure leaves it
// destroyed.
func (a *Algorithm) Rebuild(tensors []*Tensor, words []uint32, opts ...AlgorithmOption) error {
	cfg := algorithmConfig{label: a.Label()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return a.rebuild(tensors, words, cfg)
}

func (a *Algorithm) rebuild(tensors []*Tensor, words []uint32, cfg algorithmConfig) error {
	label := cfg.label
	if label == "" && len(words) > 0 {
		label = fmt.Sprintf("algorithm-%016x", shader.Fingerprint(words))
	}
	if len(tensors) == 0 {
		return fmt.Errorf("%w: algorithm %q has no tensors", ErrConfiguration, label)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: algorithm %q has an empty program", ErrConfiguration, label)
	}

	bound := make([]gpucore.BufferID, len(tensors))
	for i, t := range tensors {
		if t == nil {
			return fmt.Errorf("%w: algorithm %q: tensor %d is nil", ErrConfiguration, label, i)
		}
		id, err := t.primaryBuffer()
		if err != nil {
			return fmt.Errorf("algorithm %q binding %d: %w", label, i, err)
		}
		bound[i] = id
	}

	wg := cfg.workgroup
	if wg[0] == 0 {
		wg = Workgroup{tensors[0].Size(), 1, 1}
	}
	for i := 1; i < 3; i++ {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}
	limits := a.dev.Info().MaxWorkgroups
	for i := range wg {
		if limits[i] != 0 && wg[i] > limits[i] {
			return fmt.Errorf("%w: algorithm %q: workgroup %v exceeds device limit %v",
				ErrConfiguration, label, wg, limits)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyLocked()

	program, err := a.dev.CreateProgram(&gpucore.ProgramDesc{
		Label:    label,
		Words:    words,
		Bindings: len(tensors),
		PushSize: cfg.push.ByteSize(),
		SpecData: cfg.spec.Bytes(),
	})
	if err != nil {
		return deviceError("build algorithm "+label, err)
	}
	set, err := a.dev.CreateBindSet(program, bound)
	if err != nil {
		a.dev.DestroyProgram(program)
		return deviceError("bind algorithm "+label, err)
	}

	a.label = label
	a.tensors = append([]*Tensor(nil), tensors...)
	a.workgroup = wg
	a.spec, a.push = cfg.spec, cfg.push
	a.h.program, a.h.bindSet, a.bound = program, set, bound
	a.built = true

	Logger().Debug("kompute: algorithm built",
		"label", label, "bindings", len(tensors), "workgroup", wg,
		"spec", cfg.spec.Len(), "push", cfg.push.Len())
	return nil
}

// RecordDispatch records one dispatch of the program over its workgroup.
// push overrides the default push constants for this dispatch only; an
// empty list uses the defaults. Overrides must have the default's packed
// size.
func (a *Algorithm) RecordDispatch(rec gpucore.CommandBuffer, push Constants) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.built {
		return fmt.Errorf("%w: algorithm %q is not initialized", ErrState, a.label)
	}
	if err := a.checkBindingsLocked(); err != nil {
		return err
	}

	block := a.push
	if push.Len() > 0 {
		if push.ByteSize() != a.push.ByteSize() {
			return fmt.Errorf("%w: algorithm %q: push block is %d bytes, got %d",
				ErrConfiguration, a.label, a.push.ByteSize(), push.ByteSize())
		}
		block = push
	}

	wg := a.workgroup
	if err := rec.Dispatch(a.h.program, a.h.bindSet, block.data, wg[0], wg[1], wg[2]); err != nil {
		return deviceError("record dispatch "+a.label, err)
	}
	return nil
}

// checkBindingsLocked fails when a bound tensor was destroyed or recreated
// since the bind set was built.
func (a *Algorithm) checkBindingsLocked() error {
	for i, t := range a.tensors {
		id, err := t.primaryBuffer()
		if err != nil {
			return fmt.Errorf("algorithm %q binding %d: %w", a.label, i, err)
		}
		if id != a.bound[i] {
			return fmt.Errorf("%w: algorithm %q binding %d: tensor %q was recreated, rebuild the algorithm",
				ErrState, a.label, i, t.Label())
		}
	}
	return nil
}

// Destroy releases the program and bind set. The bound tensors are not
// affected. Destroy is idempotent.
func (a *Algorithm) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyLocked()
}

func (a *Algorithm) destroyLocked() {
	if !a.built {
		return
	}
	a.h.release()
	a.bound = nil
	a.built = false
	Logger().Debug("kompute: algorithm destroyed", "label", a.label)
}
