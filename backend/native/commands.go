// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/kompute/gpucore"
)

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbFreed
)

// command is one recorded operation. Buffer and program IDs are resolved
// when the list is encoded, so destroyed resources fail the submission
// instead of reaching the GPU.
type command interface {
	encode(d *Device, enc hal.CommandEncoder) error
	String() string
}

// params is the group 1 bind group of one recorded dispatch.
type params struct {
	push  hal.Buffer
	group hal.BindGroup
}

// CommandBuffer is a replayable command list encoded on every Submit.
type CommandBuffer struct {
	dev  *Device
	pool gpucore.CommandPoolID

	mu     sync.Mutex
	state  cbState
	cmds   []command
	params []params
}

var _ gpucore.CommandBuffer = (*CommandBuffer)(nil)

// Len returns the number of recorded commands.
func (c *CommandBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cmds)
}

// Begin starts recording, dropping previously recorded commands.
func (c *CommandBuffer) Begin() error {
	c.mu.Lock()
	if c.state == cbFreed {
		c.mu.Unlock()
		return gpucore.ErrInvalidID
	}
	c.cmds = c.cmds[:0]
	c.state = cbRecording
	stale := c.detachParams()
	c.mu.Unlock()

	c.dev.destroyParams(stale)
	return nil
}

// End finishes recording.
func (c *CommandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		return gpucore.ErrNotRecording
	}
	c.state = cbExecutable
	return nil
}

// Reset drops all commands and their dispatch parameters.
func (c *CommandBuffer) Reset() error {
	c.mu.Lock()
	if c.state == cbFreed {
		c.mu.Unlock()
		return gpucore.ErrInvalidID
	}
	c.cmds = nil
	c.state = cbInitial
	stale := c.detachParams()
	c.mu.Unlock()

	c.dev.destroyParams(stale)
	return nil
}

func (c *CommandBuffer) detachParams() []params {
	stale := c.params
	c.params = nil
	return stale
}

// releaseLocked frees the buffer. The device mutex must be held.
func (c *CommandBuffer) releaseLocked() {
	c.mu.Lock()
	c.cmds = nil
	c.state = cbFreed
	stale := c.detachParams()
	c.mu.Unlock()

	c.dev.destroyParamsLocked(stale)
}

func (c *CommandBuffer) executable() ([]command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbExecutable {
		return nil, gpucore.ErrNotExecutable
	}
	return c.cmds, nil
}

func (c *CommandBuffer) append(cmd command, p *params) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		return gpucore.ErrNotRecording
	}
	c.cmds = append(c.cmds, cmd)
	if p != nil {
		c.params = append(c.params, *p)
	}
	return nil
}

func (d *Device) destroyParams(ps []params) {
	if len(ps) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyParamsLocked(ps)
}

func (d *Device) destroyParamsLocked(ps []params) {
	if d.destroyed {
		return
	}
	for _, p := range ps {
		d.device.DestroyBindGroup(p.group)
		if p.push != nil {
			d.device.DestroyBuffer(p.push)
		}
	}
}

// CopyBuffer records a buffer-to-buffer copy.
func (c *CommandBuffer) CopyBuffer(src, dst gpucore.BufferID, regions ...gpucore.BufferCopy) error {
	cmd := &copyCmd{src: src, dst: dst, regions: append([]gpucore.BufferCopy(nil), regions...)}

	c.dev.mu.Lock()
	_, _, err := cmd.resolve(c.dev)
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}
	return c.append(cmd, nil)
}

// Barrier records buffer usage transitions.
func (c *CommandBuffer) Barrier(barriers ...gpucore.Barrier) error {
	cmd := &barrierCmd{barriers: append([]gpucore.Barrier(nil), barriers...)}

	c.dev.mu.Lock()
	_, err := cmd.resolve(c.dev)
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}
	return c.append(cmd, nil)
}

// Dispatch records a compute dispatch. Push data is uploaded to a uniform
// buffer owned by the command buffer until the next Begin or Reset.
func (c *CommandBuffer) Dispatch(prog gpucore.ProgramID, set gpucore.BindSetID, push []byte, x, y, z uint32) error {
	cmd := &dispatchCmd{program: prog, set: set, groups: [3]uint32{x, y, z}}

	d := c.dev
	d.mu.Lock()
	p, _, err := cmd.resolve(d)
	if err == nil && uint32(len(push)) != p.pushSize { //nolint:gosec // push blocks are small
		err = fmt.Errorf("%w: got %d bytes, program %q takes %d", gpucore.ErrPushSize, len(push), p.label, p.pushSize)
	}
	var ps *params
	if err == nil && p.params != nil {
		ps, err = d.paramsLocked(p, push)
		if ps != nil {
			cmd.params = ps.group
		}
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.append(cmd, ps); err != nil {
		if ps != nil {
			d.destroyParams([]params{*ps})
		}
		return err
	}
	return nil
}

// paramsLocked builds the group 1 bind group holding push and spec data.
func (d *Device) paramsLocked(p *program, push []byte) (*params, error) {
	ps := &params{}
	pushBuf := p.emptyPush
	if len(push) > 0 {
		buf, err := d.uniformLocked(p.label+"_push", push)
		if err != nil {
			return nil, err
		}
		ps.push, pushBuf = buf, buf
	}

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  p.label + "_params",
		Layout: p.params,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: pushBuf.NativeHandle(), Offset: 0, Size: p.pushAlloc}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: p.spec.NativeHandle(), Offset: 0, Size: p.specAlloc}},
		},
	})
	if err != nil {
		if ps.push != nil {
			d.device.DestroyBuffer(ps.push)
		}
		return nil, fmt.Errorf("create params bind group: %w", err)
	}
	ps.group = group
	return ps, nil
}

type copyCmd struct {
	src, dst gpucore.BufferID
	regions  []gpucore.BufferCopy
}

func (cmd *copyCmd) String() string { return fmt.Sprintf("copy %d->%d", cmd.src, cmd.dst) }

func (cmd *copyCmd) resolve(d *Device) (src, dst *buffer, err error) {
	src, ok := d.buffers[cmd.src]
	if !ok {
		return nil, nil, fmt.Errorf("copy source %d: %w", cmd.src, gpucore.ErrInvalidID)
	}
	dst, ok = d.buffers[cmd.dst]
	if !ok {
		return nil, nil, fmt.Errorf("copy destination %d: %w", cmd.dst, gpucore.ErrInvalidID)
	}
	for _, r := range cmd.regions {
		if r.SrcOffset+r.Size > src.desc.Size || r.DstOffset+r.Size > dst.desc.Size {
			return nil, nil, fmt.Errorf("%w: copy %d bytes at src %d dst %d", gpucore.ErrOutOfRange, r.Size, r.SrcOffset, r.DstOffset)
		}
	}
	return src, dst, nil
}

func (cmd *copyCmd) encode(d *Device, enc hal.CommandEncoder) error {
	src, dst, err := cmd.resolve(d)
	if err != nil {
		return err
	}
	regions := make([]hal.BufferCopy, len(cmd.regions))
	for i, r := range cmd.regions {
		regions[i] = hal.BufferCopy{SrcOffset: r.SrcOffset, DstOffset: r.DstOffset, Size: r.Size}
	}
	enc.CopyBufferToBuffer(src.hal, dst.hal, regions)
	return nil
}

type barrierCmd struct {
	barriers []gpucore.Barrier
}

func (cmd *barrierCmd) String() string { return fmt.Sprintf("barrier x%d", len(cmd.barriers)) }

func (cmd *barrierCmd) resolve(d *Device) ([]hal.BufferBarrier, error) {
	out := make([]hal.BufferBarrier, len(cmd.barriers))
	for i, b := range cmd.barriers {
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return nil, fmt.Errorf("barrier buffer %d: %w", b.Buffer, gpucore.ErrInvalidID)
		}
		out[i] = hal.BufferBarrier{
			Buffer: buf.hal,
			Usage: hal.BufferUsageTransition{
				OldUsage: accessUsage(b.SrcAccess),
				NewUsage: accessUsage(b.DstAccess),
			},
		}
	}
	return out, nil
}

func (cmd *barrierCmd) encode(d *Device, enc hal.CommandEncoder) error {
	barriers, err := cmd.resolve(d)
	if err != nil {
		return err
	}
	enc.TransitionBuffers(barriers)
	return nil
}

// accessUsage maps barrier access flags to the WebGPU usages a HAL buffer
// transition is expressed in.
func accessUsage(a gpucore.AccessFlags) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if a&gpucore.AccessHostRead != 0 {
		u |= gputypes.BufferUsageMapRead
	}
	if a&(gpucore.AccessHostWrite|gpucore.AccessTransferWrite) != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if a&gpucore.AccessTransferRead != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	if a&(gpucore.AccessShaderRead|gpucore.AccessShaderWrite) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

type dispatchCmd struct {
	program gpucore.ProgramID
	set     gpucore.BindSetID
	params  hal.BindGroup
	groups  [3]uint32
}

func (cmd *dispatchCmd) String() string {
	return fmt.Sprintf("dispatch %d (%d,%d,%d)", cmd.program, cmd.groups[0], cmd.groups[1], cmd.groups[2])
}

func (cmd *dispatchCmd) resolve(d *Device) (*program, *bindSet, error) {
	p, ok := d.programs[cmd.program]
	if !ok {
		return nil, nil, fmt.Errorf("dispatch program %d: %w", cmd.program, gpucore.ErrInvalidID)
	}
	set, ok := d.bindSets[cmd.set]
	if !ok || set.program != cmd.program {
		return nil, nil, fmt.Errorf("dispatch bind set %d: %w", cmd.set, gpucore.ErrInvalidID)
	}
	if cmd.groups[0] == 0 || cmd.groups[1] == 0 || cmd.groups[2] == 0 {
		return nil, nil, fmt.Errorf("%w: empty dispatch grid %v", gpucore.ErrOutOfRange, cmd.groups)
	}
	for _, b := range set.buffers {
		if _, ok := d.buffers[b]; !ok {
			return nil, nil, fmt.Errorf("dispatch buffer %d: %w", b, gpucore.ErrInvalidID)
		}
	}
	return p, set, nil
}

func (cmd *dispatchCmd) encode(d *Device, enc hal.CommandEncoder) error {
	p, set, err := cmd.resolve(d)
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, set.group, nil)
	if cmd.params != nil {
		pass.SetBindGroup(1, cmd.params, nil)
	}
	pass.Dispatch(cmd.groups[0], cmd.groups[1], cmd.groups[2])
	pass.End()
	return nil
}
