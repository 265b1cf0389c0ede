// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software implements gpucore.Device on the CPU.
//
// The software device is the reference backend: buffers are byte slices,
// command buffers are replayable command lists and compute programs are Go
// kernels registered with [RegisterKernel]. Workgroups of a dispatch run in
// parallel on a worker pool. Submissions complete before Submit returns.
//
// The package registers itself as backend.Software on import.
package software

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/kompute/backend"
	"github.com/gogpu/kompute/envconfig"
	"github.com/gogpu/kompute/gpucore"
	"github.com/gogpu/kompute/internal/parallel"
)

var (
	// ErrUnknownKernel is returned when a program's words have no registered kernel.
	ErrUnknownKernel = errors.New("software: no kernel registered for program")

	// ErrOutOfMemory is returned when a buffer exceeds the configured limit.
	ErrOutOfMemory = errors.New("software: buffer exceeds device memory limit")

	// ErrForeignCommandBuffer is returned for command buffers of another device.
	ErrForeignCommandBuffer = errors.New("software: command buffer belongs to another device")
)

func init() {
	backend.Register(backend.Software, func() (gpucore.Device, error) {
		return New(WithWorkers(int(envconfig.Workers()))), nil //nolint:gosec // worker count is small
	})
}

type buffer struct {
	data []byte
	desc gpucore.BufferDesc
}

type program struct {
	kernel   Kernel
	label    string
	pushSize uint32
	spec     []byte
}

type bindSet struct {
	program gpucore.ProgramID
	buffers []gpucore.BufferID
}

type fence struct {
	submitted uint64
	signaled  uint64
}

// Stats counts the work a device has executed.
type Stats struct {
	Submissions uint64
	Copies      uint64
	Barriers    uint64
	Dispatches  uint64
	Workgroups  uint64
}

// Device is a CPU implementation of gpucore.Device.
//
// Thread safety: Device is safe for concurrent use. Submissions are
// serialized; workgroups inside one dispatch run concurrently.
type Device struct {
	mu   sync.Mutex
	opts options

	nextID   atomic.Uint64
	buffers  map[gpucore.BufferID]*buffer
	programs map[gpucore.ProgramID]*program
	bindSets map[gpucore.BindSetID]*bindSet
	pools    map[gpucore.CommandPoolID]map[*CommandBuffer]struct{}
	fences   map[gpucore.FenceID]*fence

	workers   *parallel.WorkerPool
	destroyed bool

	submissions atomic.Uint64
	copies      atomic.Uint64
	barriers    atomic.Uint64
	dispatches  atomic.Uint64
	workgroups  atomic.Uint64
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Device{
		opts:     o,
		buffers:  make(map[gpucore.BufferID]*buffer),
		programs: make(map[gpucore.ProgramID]*program),
		bindSets: make(map[gpucore.BindSetID]*bindSet),
		pools:    make(map[gpucore.CommandPoolID]map[*CommandBuffer]struct{}),
		fences:   make(map[gpucore.FenceID]*fence),
		workers:  parallel.NewWorkerPool(o.workers),
	}
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

// Info describes the device.
func (d *Device) Info() gpucore.DeviceInfo {
	return gpucore.DeviceInfo{
		Name:          d.opts.name,
		Backend:       backend.Software,
		Type:          gpucore.DeviceTypeCPU,
		MaxBufferSize: d.opts.maxBufferSize,
		MaxWorkgroups: [3]uint32{65535, 65535, 65535},
	}
}

// Stats returns a snapshot of the executed-work counters.
func (d *Device) Stats() Stats {
	return Stats{
		Submissions: d.submissions.Load(),
		Copies:      d.copies.Load(),
		Barriers:    d.barriers.Load(),
		Dispatches:  d.dispatches.Load(),
		Workgroups:  d.workgroups.Load(),
	}
}

// CreateBuffer allocates a zeroed buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: create buffer: %w", gpucore.ErrOutOfRange)
	}
	if desc.Size > d.opts.maxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: %d > %d bytes", ErrOutOfMemory, desc.Size, d.opts.maxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}

	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{data: make([]byte, desc.Size), desc: *desc}
	backend.Logger().Debug("software: buffer created",
		"id", uint64(id), "label", desc.Label, "size", desc.Size, "host_visible", desc.HostVisible)
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

func (d *Device) hostBuffer(id gpucore.BufferID, offset uint64, n int) (*buffer, error) {
	buf, ok := d.buffers[id]
	if !ok {
		return nil, gpucore.ErrInvalidID
	}
	if !buf.desc.HostVisible {
		return nil, gpucore.ErrNotHostVisible
	}
	if offset+uint64(n) > uint64(len(buf.data)) { //nolint:gosec // n is a slice length
		return nil, fmt.Errorf("%w: [%d, %d) of %d", gpucore.ErrOutOfRange, offset, offset+uint64(n), len(buf.data)) //nolint:gosec // n is a slice length
	}
	return buf, nil
}

// WriteBuffer copies data into a host-visible buffer.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(buf.data[offset:], data)
	return nil
}

// ReadBuffer copies from a host-visible buffer into dst.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.hostBuffer(id, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, buf.data[offset:])
	return nil
}

// CreateProgram resolves the kernel registered for desc.Words.
func (d *Device) CreateProgram(desc *gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	kernel, ok := lookupKernel(desc.Words)
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrUnknownKernel, desc.Label)
	}
	if kernel.Bindings != desc.Bindings {
		return gpucore.InvalidID, fmt.Errorf("%w: program %q declares %d, got %d",
			gpucore.ErrBindingMismatch, desc.Label, kernel.Bindings, desc.Bindings)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}

	id := gpucore.ProgramID(d.newID())
	d.programs[id] = &program{
		kernel:   kernel,
		label:    desc.Label,
		pushSize: desc.PushSize,
		spec:     append([]byte(nil), desc.SpecData...),
	}
	return id, nil
}

// DestroyProgram releases a program.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
}

// CreateBindSet binds buffers to the program's bindings in order.
func (d *Device) CreateBindSet(prog gpucore.ProgramID, buffers []gpucore.BufferID) (gpucore.BindSetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.programs[prog]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: bind set program: %w", gpucore.ErrInvalidID)
	}
	if len(buffers) != p.kernel.Bindings {
		return gpucore.InvalidID, fmt.Errorf("%w: %d buffers for %d bindings",
			gpucore.ErrBindingMismatch, len(buffers), p.kernel.Bindings)
	}
	for _, b := range buffers {
		if _, ok := d.buffers[b]; !ok {
			return gpucore.InvalidID, fmt.Errorf("software: bind set buffer %d: %w", b, gpucore.ErrInvalidID)
		}
	}

	id := gpucore.BindSetID(d.newID())
	d.bindSets[id] = &bindSet{program: prog, buffers: append([]gpucore.BufferID(nil), buffers...)}
	return id, nil
}

// DestroyBindSet releases a bind set.
func (d *Device) DestroyBindSet(id gpucore.BindSetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindSets, id)
}

// CreateCommandPool creates a command pool.
func (d *Device) CreateCommandPool() (gpucore.CommandPoolID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}
	id := gpucore.CommandPoolID(d.newID())
	d.pools[id] = make(map[*CommandBuffer]struct{})
	return id, nil
}

// DestroyCommandPool releases a pool and every command buffer allocated from it.
func (d *Device) DestroyCommandPool(id gpucore.CommandPoolID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for cb := range d.pools[id] {
		cb.release()
	}
	delete(d.pools, id)
}

// AllocateCommandBuffer allocates a command buffer from pool.
func (d *Device) AllocateCommandBuffer(pool gpucore.CommandPoolID) (gpucore.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs, ok := d.pools[pool]
	if !ok {
		return nil, fmt.Errorf("software: command pool %d: %w", pool, gpucore.ErrInvalidID)
	}
	cb := &CommandBuffer{dev: d, pool: pool}
	cbs[cb] = struct{}{}
	return cb, nil
}

// FreeCommandBuffer returns cb to its pool.
func (d *Device) FreeCommandBuffer(cb gpucore.CommandBuffer) {
	c, ok := cb.(*CommandBuffer)
	if !ok || c.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cbs, ok := d.pools[c.pool]; ok {
		delete(cbs, c)
	}
	c.release()
}

// CreateFence creates a fence.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}
	id := gpucore.FenceID(d.newID())
	d.fences[id] = &fence{}
	return id, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, id)
}

// Submit executes cb and signals fence. The work is complete when Submit
// returns; Wait never blocks for values it returned.
func (d *Device) Submit(cb gpucore.CommandBuffer, fenceID gpucore.FenceID) (uint64, error) {
	c, ok := cb.(*CommandBuffer)
	if !ok || c.dev != d {
		return 0, ErrForeignCommandBuffer
	}
	cmds, err := c.executable()
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return 0, gpucore.ErrDeviceDestroyed
	}
	f, ok := d.fences[fenceID]
	if !ok {
		return 0, fmt.Errorf("software: submit fence: %w", gpucore.ErrInvalidID)
	}

	for i, cmd := range cmds {
		if err := cmd.execute(d); err != nil {
			return 0, fmt.Errorf("software: command %d (%s): %w", i, cmd, err)
		}
	}

	f.submitted++
	f.signaled = f.submitted
	d.submissions.Add(1)
	backend.Logger().Debug("software: submission complete", "commands", len(cmds), "fence_value", f.signaled)
	return f.submitted, nil
}

// Wait reports whether fence has reached value. Software submissions
// complete synchronously, so Wait never sleeps.
func (d *Device) Wait(fenceID gpucore.FenceID, value uint64, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[fenceID]
	if !ok {
		return false, fmt.Errorf("software: wait fence: %w", gpucore.ErrInvalidID)
	}
	return f.signaled >= value, nil
}

// Destroy releases all resources and stops the worker pool.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	for _, cbs := range d.pools {
		for cb := range cbs {
			cb.release()
		}
	}
	clear(d.buffers)
	clear(d.programs)
	clear(d.bindSets)
	clear(d.pools)
	clear(d.fences)
	d.mu.Unlock()

	d.workers.Close()
}

// Live returns the number of live buffers, programs and bind sets.
// Tests use it to detect leaks.
func (d *Device) Live() (buffers, programs, bindSets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.programs), len(d.bindSets)
}
