// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Vulkan registers itself with hal on import.
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/kompute/backend"
	"github.com/gogpu/kompute/envconfig"
	"github.com/gogpu/kompute/gpucore"
	"github.com/gogpu/kompute/shader"
)

var (
	// ErrNoAdapter is returned by Open when the HAL reports no adapter.
	ErrNoAdapter = errors.New("native: no GPU adapter found")

	// ErrAPIUnavailable is returned by Open when the requested HAL backend
	// is not compiled in.
	ErrAPIUnavailable = errors.New("native: graphics API not available")

	// ErrNotHAL is returned by FromProvider for providers that do not
	// expose HAL objects.
	ErrNotHAL = errors.New("native: provider does not expose HAL types")

	// ErrForeignCommandBuffer is returned for command buffers of another device.
	ErrForeignCommandBuffer = errors.New("native: command buffer belongs to another device")
)

func init() {
	backend.Register(backend.Native, func() (gpucore.Device, error) {
		return Open(WithAdapterIndex(envconfig.DeviceIndex()))
	})
}

// uniformAlign is the size granularity of uniform buffers.
const uniformAlign = 16

type buffer struct {
	hal  hal.Buffer
	desc gpucore.BufferDesc
}

type program struct {
	label     string
	bindings  int
	pushSize  uint32
	module    hal.ShaderModule
	storage   hal.BindGroupLayout
	params    hal.BindGroupLayout // nil without push or spec constants
	layout    hal.PipelineLayout
	pipeline  hal.ComputePipeline
	spec      hal.Buffer
	emptyPush hal.Buffer
	pushAlloc uint64
	specAlloc uint64
}

type bindSet struct {
	program gpucore.ProgramID
	group   hal.BindGroup
	buffers []gpucore.BufferID
}

type inflight struct {
	value uint64
	cb    hal.CommandBuffer
}

type fence struct {
	hal       hal.Fence
	submitted uint64
	pending   []inflight
}

// Device is a gpucore.Device backed by a HAL device and queue.
//
// Thread safety: Device is safe for concurrent use. Resource maps are
// guarded by one mutex; HAL calls that create or destroy objects run under
// it.
type Device struct {
	mu   sync.Mutex
	opts options
	info gpucore.DeviceInfo

	instance hal.Instance // nil when borrowed
	device   hal.Device
	queue    hal.Queue
	owned    bool

	nextID   atomic.Uint64
	buffers  map[gpucore.BufferID]*buffer
	programs map[gpucore.ProgramID]*program
	bindSets map[gpucore.BindSetID]*bindSet
	pools    map[gpucore.CommandPoolID]map[*CommandBuffer]struct{}
	fences   map[gpucore.FenceID]*fence

	destroyed bool
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a HAL instance, selects an adapter and opens a device on it.
// The returned Device owns the HAL device and destroys it in Destroy.
func Open(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	api, ok := hal.GetBackend(o.api)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrAPIUnavailable, o.api)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	selected, err := selectAdapter(adapters, o)
	if err != nil {
		instance.Destroy()
		return nil, err
	}

	limits := gputypes.DefaultLimits()
	opened, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	if o.name == "" {
		o.name = selected.Info.Name
	}
	d := newDevice(opened.Device, opened.Queue, o, limits)
	d.info.Type = convertDeviceType(selected.Info.DeviceType)
	d.instance = instance
	d.owned = true
	backend.Logger().Info("native: device opened",
		"adapter", selected.Info.Name, "type", d.info.Type, "adapters", len(adapters))
	return d, nil
}

func selectAdapter(adapters []hal.ExposedAdapter, o options) (*hal.ExposedAdapter, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapter
	}
	if o.adapterIndex >= 0 {
		if o.adapterIndex >= len(adapters) {
			return nil, fmt.Errorf("%w: index %d of %d", ErrNoAdapter, o.adapterIndex, len(adapters))
		}
		return &adapters[o.adapterIndex], nil
	}
	for _, want := range []gputypes.DeviceType{o.preferred, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i], nil
			}
		}
	}
	return &adapters[0], nil
}

// New wraps an already open HAL device and queue. The caller keeps
// ownership: Destroy releases the resources created through the Device but
// not the HAL device itself.
func New(device hal.Device, queue hal.Queue, opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = "kompute native device"
	}
	return newDevice(device, queue, o, gputypes.DefaultLimits())
}

// FromProvider wraps the device of a gpucontext.DeviceProvider, such as a
// gogpu window, so compute work shares the renderer's GPU. The provider
// must also expose HalDevice() and HalQueue().
func FromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHAL)
	}
	return New(device, queue, opts...), nil
}

func newDevice(device hal.Device, queue hal.Queue, o options, limits gputypes.Limits) *Device {
	wg := limits.MaxComputeWorkgroupsPerDimension
	return &Device{
		opts:   o,
		device: device,
		queue:  queue,
		info: gpucore.DeviceInfo{
			Name:          o.name,
			Backend:       backend.Native,
			Type:          gpucore.DeviceTypeOther,
			MaxBufferSize: limits.MaxBufferSize,
			MaxWorkgroups: [3]uint32{wg, wg, wg},
		},
		buffers:  make(map[gpucore.BufferID]*buffer),
		programs: make(map[gpucore.ProgramID]*program),
		bindSets: make(map[gpucore.BindSetID]*bindSet),
		pools:    make(map[gpucore.CommandPoolID]map[*CommandBuffer]struct{}),
		fences:   make(map[gpucore.FenceID]*fence),
	}
}

func convertDeviceType(t gputypes.DeviceType) gpucore.DeviceType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucore.DeviceTypeDiscreteGPU
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucore.DeviceTypeIntegratedGPU
	default:
		return gpucore.DeviceTypeOther
	}
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

// Info describes the device.
func (d *Device) Info() gpucore.DeviceInfo {
	return d.info
}

// HalDevice returns the wrapped HAL device.
func (d *Device) HalDevice() hal.Device {
	return d.device
}

// === Buffers ===

// convertUsage maps gpucore usages to WebGPU usages. Host-visible buffers
// are additionally mappable for reads so Queue.ReadBuffer can reach them.
func convertUsage(desc *gpucore.BufferDesc) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if desc.Usage.Contains(gpucore.BufferUsageCopySrc) {
		u |= gputypes.BufferUsageCopySrc
	}
	if desc.Usage.Contains(gpucore.BufferUsageCopyDst) {
		u |= gputypes.BufferUsageCopyDst
	}
	if desc.Usage.Contains(gpucore.BufferUsageStorage) {
		u |= gputypes.BufferUsageStorage
	}
	if desc.Usage.Contains(gpucore.BufferUsageUniform) {
		u |= gputypes.BufferUsageUniform
	}
	if desc.HostVisible {
		u |= gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	return u
}

// CreateBuffer allocates a buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer: %w", gpucore.ErrOutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertUsage(desc),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{hal: buf, desc: *desc}
	backend.Logger().Debug("native: buffer created",
		"id", uint64(id), "label", desc.Label, "size", desc.Size, "host_visible", desc.HostVisible)
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[id]; ok {
		delete(d.buffers, id)
		d.device.DestroyBuffer(buf.hal)
	}
}

func (d *Device) hostBuffer(id gpucore.BufferID, offset uint64, n int) (*buffer, error) {
	buf, ok := d.buffers[id]
	if !ok {
		return nil, gpucore.ErrInvalidID
	}
	if !buf.desc.HostVisible {
		return nil, gpucore.ErrNotHostVisible
	}
	if offset+uint64(n) > buf.desc.Size { //nolint:gosec // n is a slice length
		return nil, fmt.Errorf("%w: [%d, %d) of %d", gpucore.ErrOutOfRange, offset, offset+uint64(n), buf.desc.Size) //nolint:gosec // n is a slice length
	}
	return buf, nil
}

// WriteBuffer writes data into a host-visible buffer through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(buf.hal, offset, data)
	}
	return nil
}

// ReadBuffer reads from a host-visible buffer through the queue.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, err := d.hostBuffer(id, offset, len(dst))
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	if err := d.queue.ReadBuffer(buf.hal, offset, dst); err != nil {
		return fmt.Errorf("native: read buffer: %w", err)
	}
	return nil
}

// === Programs ===

func uniformSize(n int) uint64 {
	if n == 0 {
		n = uniformAlign
	}
	return uint64((n + uniformAlign - 1) &^ (uniformAlign - 1)) //nolint:gosec // constant blocks are small
}

// CreateProgram builds the shader module, layouts and pipeline for desc.
// The storage binding count declared by the module must equal
// desc.Bindings.
func (d *Device) CreateProgram(desc *gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	layout, err := shader.Reflect(desc.Words)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: program %q: %w", desc.Label, err)
	}
	if got := layout.Bindings(0); got != desc.Bindings {
		return gpucore.InvalidID, fmt.Errorf("%w: program %q declares %d, got %d",
			gpucore.ErrBindingMismatch, desc.Label, got, desc.Bindings)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}

	p := &program{label: desc.Label, bindings: desc.Bindings, pushSize: desc.PushSize}
	if err := d.buildProgramLocked(p, desc); err != nil {
		d.destroyProgramLocked(p)
		return gpucore.InvalidID, fmt.Errorf("native: program %q: %w", desc.Label, err)
	}
	id := gpucore.ProgramID(d.newID())
	d.programs[id] = p
	backend.Logger().Debug("native: program created",
		"id", uint64(id), "label", desc.Label, "bindings", desc.Bindings,
		"push", desc.PushSize, "spec", len(desc.SpecData))
	return id, nil
}

func (d *Device) buildProgramLocked(p *program, desc *gpucore.ProgramDesc) error {
	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: desc.Words},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, desc.Bindings)
	for i := range entries {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding counts are small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}
	p.storage, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_storage",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create storage layout: %w", err)
	}
	layouts := []hal.BindGroupLayout{p.storage}

	if desc.PushSize > 0 || len(desc.SpecData) > 0 {
		uniform := &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		p.params, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: desc.Label + "_params",
			Entries: []gputypes.BindGroupLayoutEntry{
				{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: uniform},
				{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: uniform},
			},
		})
		if err != nil {
			return fmt.Errorf("create params layout: %w", err)
		}
		layouts = append(layouts, p.params)

		p.spec, err = d.uniformLocked(desc.Label+"_spec", desc.SpecData)
		if err != nil {
			return err
		}
		p.emptyPush, err = d.uniformLocked(desc.Label+"_push", nil)
		if err != nil {
			return err
		}
		p.pushAlloc = uniformSize(int(desc.PushSize))
		p.specAlloc = uniformSize(len(desc.SpecData))
	}

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

// uniformLocked creates a uniform buffer holding data.
func (d *Device) uniformLocked(label string, data []byte) (hal.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uniformSize(len(data)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform %q: %w", label, err)
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(buf, 0, data)
	}
	return buf, nil
}

func (d *Device) destroyProgramLocked(p *program) {
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.params != nil {
		d.device.DestroyBindGroupLayout(p.params)
	}
	if p.storage != nil {
		d.device.DestroyBindGroupLayout(p.storage)
	}
	if p.spec != nil {
		d.device.DestroyBuffer(p.spec)
	}
	if p.emptyPush != nil {
		d.device.DestroyBuffer(p.emptyPush)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}

// DestroyProgram releases a program.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[id]; ok {
		delete(d.programs, id)
		d.destroyProgramLocked(p)
	}
}

// CreateBindSet binds buffers to the program's storage bindings in order.
func (d *Device) CreateBindSet(prog gpucore.ProgramID, buffers []gpucore.BufferID) (gpucore.BindSetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.programs[prog]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("native: bind set program: %w", gpucore.ErrInvalidID)
	}
	if len(buffers) != p.bindings {
		return gpucore.InvalidID, fmt.Errorf("%w: %d buffers for %d bindings",
			gpucore.ErrBindingMismatch, len(buffers), p.bindings)
	}
	entries := make([]gputypes.BindGroupEntry, len(buffers))
	for i, id := range buffers {
		buf, ok := d.buffers[id]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("native: bind set buffer %d: %w", id, gpucore.ErrInvalidID)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  uint32(i), //nolint:gosec // binding counts are small
			Resource: gputypes.BufferBinding{Buffer: buf.hal.NativeHandle(), Offset: 0, Size: buf.desc.Size},
		}
	}
	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.label + "_storage",
		Layout:  p.storage,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group: %w", err)
	}

	id := gpucore.BindSetID(d.newID())
	d.bindSets[id] = &bindSet{program: prog, group: group, buffers: append([]gpucore.BufferID(nil), buffers...)}
	return id, nil
}

// DestroyBindSet releases a bind set.
func (d *Device) DestroyBindSet(id gpucore.BindSetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.bindSets[id]; ok {
		delete(d.bindSets, id)
		d.device.DestroyBindGroup(s.group)
	}
}

// === Commands ===

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
		cb.releaseLocked()
	}
	delete(d.pools, id)
}

// AllocateCommandBuffer allocates a command buffer from pool.
func (d *Device) AllocateCommandBuffer(pool gpucore.CommandPoolID) (gpucore.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs, ok := d.pools[pool]
	if !ok {
		return nil, fmt.Errorf("native: command pool %d: %w", pool, gpucore.ErrInvalidID)
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
	c.releaseLocked()
}

// === Submission ===

// CreateFence creates a fence.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, gpucore.ErrDeviceDestroyed
	}
	f, err := d.device.CreateFence()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create fence: %w", err)
	}
	id := gpucore.FenceID(d.newID())
	d.fences[id] = &fence{hal: f}
	return id, nil
}

// DestroyFence waits for outstanding work on the fence, then releases it.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[id]; ok {
		delete(d.fences, id)
		d.destroyFenceLocked(f)
	}
}

func (d *Device) destroyFenceLocked(f *fence) {
	if len(f.pending) > 0 {
		if _, err := d.device.Wait(f.hal, f.submitted, d.opts.waitSlice); err != nil {
			backend.Logger().Warn("native: fence wait on destroy failed", "error", err)
		}
		for _, p := range f.pending {
			d.device.FreeCommandBuffer(p.cb)
		}
		f.pending = nil
	}
	d.device.DestroyFence(f.hal)
}

// Submit encodes cb into a HAL command buffer and submits it. The returned
// value is signaled on fence when the GPU finishes.
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
		return 0, fmt.Errorf("native: submit fence: %w", gpucore.ErrInvalidID)
	}

	encoded, err := d.encodeLocked(cmds)
	if err != nil {
		return 0, err
	}
	value := f.submitted + 1
	if err := d.queue.Submit([]hal.CommandBuffer{encoded}, f.hal, value); err != nil {
		d.device.FreeCommandBuffer(encoded)
		return 0, fmt.Errorf("native: submit: %w", err)
	}
	f.submitted = value
	f.pending = append(f.pending, inflight{value: value, cb: encoded})
	backend.Logger().Debug("native: submitted", "commands", len(cmds), "fence_value", value)
	return value, nil
}

// encodeLocked records cmds into a new HAL command buffer.
func (d *Device) encodeLocked(cmds []command) (hal.CommandBuffer, error) {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "kompute_encoder"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("kompute_sequence"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	for i, cmd := range cmds {
		if err := cmd.encode(d, encoder); err != nil {
			encoder.DiscardEncoding()
			return nil, fmt.Errorf("native: command %d (%s): %w", i, cmd, err)
		}
	}
	out, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	return out, nil
}

// Wait blocks until fence reaches value or timeout elapses. With
// [gpucore.NoTimeout] it waits in slices until the value is reached.
func (d *Device) Wait(fenceID gpucore.FenceID, value uint64, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[fenceID]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("native: wait fence: %w", gpucore.ErrInvalidID)
	}

	var done bool
	var err error
	if timeout != gpucore.NoTimeout {
		done, err = d.device.Wait(f.hal, value, timeout)
	} else {
		for !done && err == nil {
			done, err = d.device.Wait(f.hal, value, d.opts.waitSlice)
		}
	}
	if err != nil {
		return false, fmt.Errorf("native: wait: %w", err)
	}
	if done {
		d.retire(fenceID, value)
	}
	return done, nil
}

// retire frees HAL command buffers that completed at or before value.
func (d *Device) retire(fenceID gpucore.FenceID, value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[fenceID]
	if !ok {
		return
	}
	keep := f.pending[:0]
	for _, p := range f.pending {
		if p.value <= value {
			d.device.FreeCommandBuffer(p.cb)
			continue
		}
		keep = append(keep, p)
	}
	f.pending = keep
}

// Destroy releases every resource created through the device. An opened
// device also destroys the HAL device and instance; a wrapped one leaves
// them to their owner.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true

	for _, f := range d.fences {
		d.destroyFenceLocked(f)
	}
	for _, cbs := range d.pools {
		for cb := range cbs {
			cb.releaseLocked()
		}
	}
	for _, s := range d.bindSets {
		d.device.DestroyBindGroup(s.group)
	}
	for _, p := range d.programs {
		d.destroyProgramLocked(p)
	}
	for _, b := range d.buffers {
		d.device.DestroyBuffer(b.hal)
	}
	clear(d.fences)
	clear(d.pools)
	clear(d.bindSets)
	clear(d.programs)
	clear(d.buffers)

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	backend.Logger().Info("native: device destroyed", "name", d.info.Name, "owned", d.owned)
}

// Live returns the number of live buffers, programs and bind sets.
func (d *Device) Live() (buffers, programs, bindSets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.programs), len(d.bindSets)
}
