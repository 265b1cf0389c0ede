// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gogpu/kompute/shader"
)

// Invocation is the state a kernel sees for one workgroup.
type Invocation struct {
	// Buffers are the bound storage buffers in binding order. Kernels write
	// results in place. Distinct workgroups run concurrently and must write
	// disjoint bytes.
	Buffers [][]byte

	// Push is the per-dispatch constant block.
	Push []byte

	// Spec is the specialization constant block.
	Spec []byte

	// WorkgroupID is this workgroup's index in the dispatch grid.
	WorkgroupID [3]uint32

	// Workgroups is the size of the dispatch grid.
	Workgroups [3]uint32
}

// Float32 returns element i of binding b as a float32.
func (inv *Invocation) Float32(b, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(inv.Buffers[b][i*4:]))
}

// SetFloat32 stores v as element i of binding b.
func (inv *Invocation) SetFloat32(b, i int, v float32) {
	binary.LittleEndian.PutUint32(inv.Buffers[b][i*4:], math.Float32bits(v))
}

// Uint32 returns element i of binding b as a uint32.
func (inv *Invocation) Uint32(b, i int) uint32 {
	return binary.LittleEndian.Uint32(inv.Buffers[b][i*4:])
}

// SetUint32 stores v as element i of binding b.
func (inv *Invocation) SetUint32(b, i int, v uint32) {
	binary.LittleEndian.PutUint32(inv.Buffers[b][i*4:], v)
}

// PushFloat32 returns push constant i as a float32.
func (inv *Invocation) PushFloat32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(inv.Push[i*4:]))
}

// SpecFloat32 returns specialization constant i as a float32.
func (inv *Invocation) SpecFloat32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(inv.Spec[i*4:]))
}

// Index returns the linear workgroup index, x fastest.
func (inv *Invocation) Index() int {
	x, y, z := inv.WorkgroupID[0], inv.WorkgroupID[1], inv.WorkgroupID[2]
	return int(x + y*inv.Workgroups[0] + z*inv.Workgroups[0]*inv.Workgroups[1])
}

// Kernel is the CPU implementation of a compute program.
type Kernel struct {
	// Bindings is the number of storage buffers the kernel expects.
	Bindings int

	// Run executes one workgroup.
	Run func(inv *Invocation)
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[uint64]Kernel)
)

// RegisterKernel makes k the implementation of the program compiled to
// words. The software device looks kernels up by the word stream's
// fingerprint, so the same words run on every backend.
func RegisterKernel(words []uint32, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[shader.Fingerprint(words)] = k
}

// UnregisterKernel removes the kernel registered for words.
func UnregisterKernel(words []uint32) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	delete(kernels, shader.Fingerprint(words))
}

func lookupKernel(words []uint32) (Kernel, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, ok := kernels[shader.Fingerprint(words)]
	return k, ok
}
