// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/kompute/gpucore"
)

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbFreed
)

// command is one recorded operation. IDs are resolved again at execution
// so destroyed resources are detected instead of reused.
type command interface {
	execute(d *Device) error
	String() string
}

// CommandBuffer is a replayable list of commands.
type CommandBuffer struct {
	dev  *Device
	pool gpucore.CommandPoolID

	mu    sync.Mutex
	state cbState
	cmds  []command
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
	defer c.mu.Unlock()
	if c.state == cbFreed {
		return gpucore.ErrInvalidID
	}
	c.cmds = c.cmds[:0]
	c.state = cbRecording
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

// Reset drops all commands.
func (c *CommandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cbFreed {
		return gpucore.ErrInvalidID
	}
	c.cmds = nil
	c.state = cbInitial
	return nil
}

func (c *CommandBuffer) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = nil
	c.state = cbFreed
}

func (c *CommandBuffer) executable() ([]command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbExecutable {
		return nil, gpucore.ErrNotExecutable
	}
	return c.cmds, nil
}

func (c *CommandBuffer) append(cmd command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		return gpucore.ErrNotRecording
	}
	c.cmds = append(c.cmds, cmd)
	return nil
}

// CopyBuffer records a buffer-to-buffer copy.
func (c *CommandBuffer) CopyBuffer(src, dst gpucore.BufferID, regions ...gpucore.BufferCopy) error {
	cmd := &copyCmd{src: src, dst: dst, regions: append([]gpucore.BufferCopy(nil), regions...)}

	c.dev.mu.Lock()
	err := cmd.validate(c.dev)
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}
	return c.append(cmd)
}

// Barrier records buffer barriers. The CPU device executes commands in
// order, so barriers only validate their buffers and are counted.
func (c *CommandBuffer) Barrier(barriers ...gpucore.Barrier) error {
	cmd := &barrierCmd{barriers: append([]gpucore.Barrier(nil), barriers...)}

	c.dev.mu.Lock()
	err := cmd.validate(c.dev)
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}
	return c.append(cmd)
}

// Dispatch records a compute dispatch. push is copied.
func (c *CommandBuffer) Dispatch(prog gpucore.ProgramID, set gpucore.BindSetID, push []byte, x, y, z uint32) error {
	cmd := &dispatchCmd{program: prog, set: set, push: append([]byte(nil), push...), groups: [3]uint32{x, y, z}}

	c.dev.mu.Lock()
	err := cmd.validate(c.dev)
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}
	return c.append(cmd)
}

type copyCmd struct {
	src, dst gpucore.BufferID
	regions  []gpucore.BufferCopy
}

func (cmd *copyCmd) String() string { return fmt.Sprintf("copy %d->%d", cmd.src, cmd.dst) }

func (cmd *copyCmd) validate(d *Device) error {
	src, ok := d.buffers[cmd.src]
	if !ok {
		return fmt.Errorf("copy source %d: %w", cmd.src, gpucore.ErrInvalidID)
	}
	dst, ok := d.buffers[cmd.dst]
	if !ok {
		return fmt.Errorf("copy destination %d: %w", cmd.dst, gpucore.ErrInvalidID)
	}
	for _, r := range cmd.regions {
		if r.SrcOffset+r.Size > uint64(len(src.data)) || r.DstOffset+r.Size > uint64(len(dst.data)) {
			return fmt.Errorf("%w: copy %d bytes at src %d dst %d", gpucore.ErrOutOfRange, r.Size, r.SrcOffset, r.DstOffset)
		}
	}
	return nil
}

func (cmd *copyCmd) execute(d *Device) error {
	if err := cmd.validate(d); err != nil {
		return err
	}
	src, dst := d.buffers[cmd.src], d.buffers[cmd.dst]
	for _, r := range cmd.regions {
		copy(dst.data[r.DstOffset:r.DstOffset+r.Size], src.data[r.SrcOffset:r.SrcOffset+r.Size])
	}
	d.copies.Add(1)
	return nil
}

type barrierCmd struct {
	barriers []gpucore.Barrier
}

func (cmd *barrierCmd) String() string { return fmt.Sprintf("barrier x%d", len(cmd.barriers)) }

func (cmd *barrierCmd) validate(d *Device) error {
	for _, b := range cmd.barriers {
		if _, ok := d.buffers[b.Buffer]; !ok {
			return fmt.Errorf("barrier buffer %d: %w", b.Buffer, gpucore.ErrInvalidID)
		}
	}
	return nil
}

func (cmd *barrierCmd) execute(d *Device) error {
	if err := cmd.validate(d); err != nil {
		return err
	}
	d.barriers.Add(uint64(len(cmd.barriers)))
	return nil
}

type dispatchCmd struct {
	program gpucore.ProgramID
	set     gpucore.BindSetID
	push    []byte
	groups  [3]uint32
}

func (cmd *dispatchCmd) String() string {
	return fmt.Sprintf("dispatch %d (%d,%d,%d)", cmd.program, cmd.groups[0], cmd.groups[1], cmd.groups[2])
}

func (cmd *dispatchCmd) validate(d *Device) error {
	p, ok := d.programs[cmd.program]
	if !ok {
		return fmt.Errorf("dispatch program %d: %w", cmd.program, gpucore.ErrInvalidID)
	}
	set, ok := d.bindSets[cmd.set]
	if !ok || set.program != cmd.program {
		return fmt.Errorf("dispatch bind set %d: %w", cmd.set, gpucore.ErrInvalidID)
	}
	if uint32(len(cmd.push)) != p.pushSize { //nolint:gosec // push blocks are small
		return fmt.Errorf("%w: got %d bytes, program %q takes %d", gpucore.ErrPushSize, len(cmd.push), p.label, p.pushSize)
	}
	if cmd.groups[0] == 0 || cmd.groups[1] == 0 || cmd.groups[2] == 0 {
		return fmt.Errorf("%w: empty dispatch grid %v", gpucore.ErrOutOfRange, cmd.groups)
	}
	for _, b := range set.buffers {
		if _, ok := d.buffers[b]; !ok {
			return fmt.Errorf("dispatch buffer %d: %w", b, gpucore.ErrInvalidID)
		}
	}
	return nil
}

func (cmd *dispatchCmd) execute(d *Device) error {
	if err := cmd.validate(d); err != nil {
		return err
	}
	p := d.programs[cmd.program]
	set := d.bindSets[cmd.set]

	bufs := make([][]byte, len(set.buffers))
	for i, id := range set.buffers {
		bufs[i] = d.buffers[id].data
	}

	gx, gy, gz := cmd.groups[0], cmd.groups[1], cmd.groups[2]
	total := int(gx) * int(gy) * int(gz)
	d.workers.ForEach(total, func(i int) {
		inv := Invocation{
			Buffers:    bufs,
			Push:       cmd.push,
			Spec:       p.spec,
			Workgroups: cmd.groups,
			WorkgroupID: [3]uint32{
				uint32(i) % gx,        //nolint:gosec // i < total fits uint32
				uint32(i) / gx % gy,   //nolint:gosec // i < total fits uint32
				uint32(i) / (gx * gy), //nolint:gosec // i < total fits uint32
			},
		}
		p.kernel.Run(&inv)
	})

	d.dispatches.Add(1)
	d.workgroups.Add(uint64(total)) //nolint:gosec // total is positive
	return nil
}
