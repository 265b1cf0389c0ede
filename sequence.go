// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/kompute/gpucore"
)

// SequenceState is the recording state of a Sequence.
type SequenceState uint32

// Sequence states.
const (
	SequenceIdle SequenceState = iota
	SequenceRecording
	SequenceRunning
	SequenceDestroyed
)

// String returns the state name.
func (s SequenceState) String() string {
	switch s {
	case SequenceIdle:
		return "idle"
	case SequenceRecording:
		return "recording"
	case SequenceRunning:
		return "running"
	case SequenceDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("SequenceState(%d)", uint32(s))
	}
}

// deviceRef is the device a manager hands to its sequences. closed is set
// once the device is gone so late cleanups skip it.
type deviceRef struct {
	dev    gpucore.Device
	owned  bool
	closed atomic.Bool
}

// sequenceHandles are the device objects of a sequence. They live apart
// from the Sequence so a cleanup can free them after the Sequence itself
// is unreachable.
type sequenceHandles struct {
	ref     *deviceRef
	pool    gpucore.CommandPoolID
	ownPool bool
	cb      gpucore.CommandBuffer
	ownCB   bool
	fence   gpucore.FenceID
	once    sync.Once
}

func (h *sequenceHandles) release() {
	h.once.Do(func() {
		if h.ref.closed.Load() {
			return
		}
		dev := h.ref.dev
		if h.ownCB {
			dev.FreeCommandBuffer(h.cb)
		}
		if h.ownPool {
			dev.DestroyCommandPool(h.pool)
		}
		dev.DestroyFence(h.fence)
	})
}

// Sequence records ops into one command buffer and evaluates them by
// submitting the buffer and waiting for its fence.
//
// Ops run in record order. Evaluating again without re-recording submits
// the same commands again, so effects accumulate once per Eval.
//
// A Sequence owns its command buffer and pool unless they were borrowed
// through WithSharedPool, WithBorrowedPool or WithBorrowedCommandBuffer.
// Borrowed objects are never freed by the sequence. An unreachable
// sequence that was not destroyed releases its owned objects when it is
// garbage collected.
//
// Thread safety: Sequence is safe for concurrent use. Calls that record or
// evaluate are serialized, so a second Eval waits for the first to finish.
// State and IsRunning read the state without waiting.
type Sequence struct {
	label   string
	timeout time.Duration
	h       *sequenceHandles
	cleanup runtime.Cleanup

	state atomic.Uint32

	mu  sync.Mutex
	ops []Op
}

func newSequence(ref *deviceRef, defaultPool gpucore.CommandPoolID, timeout time.Duration, cfg sequenceConfig) (*Sequence, error) {
	dev := ref.dev
	h := &sequenceHandles{ref: ref}

	switch {
	case cfg.cb != nil:
		h.cb = cfg.cb
	case cfg.pool != gpucore.InvalidID:
		h.pool = cfg.pool
	case cfg.sharedPool:
		h.pool = defaultPool
	default:
		pool, err := dev.CreateCommandPool()
		if err != nil {
			return nil, deviceError("create command pool for "+cfg.label, err)
		}
		h.pool, h.ownPool = pool, true
	}

	if h.cb == nil {
		cb, err := dev.AllocateCommandBuffer(h.pool)
		if err != nil {
			if h.ownPool {
				dev.DestroyCommandPool(h.pool)
			}
			return nil, deviceError("allocate command buffer for "+cfg.label, err)
		}
		h.cb, h.ownCB = cb, true
	}

	fence, err := dev.CreateFence()
	if err != nil {
		if h.ownCB {
			dev.FreeCommandBuffer(h.cb)
		}
		if h.ownPool {
			dev.DestroyCommandPool(h.pool)
		}
		return nil, deviceError("create fence for "+cfg.label, err)
	}
	h.fence = fence

	s := &Sequence{label: cfg.label, timeout: timeout, h: h}
	s.cleanup = runtime.AddCleanup(s, (*sequenceHandles).release, h)

	Logger().Debug("kompute: sequence created",
		"label", s.label, "own_pool", h.ownPool, "own_command_buffer", h.ownCB)
	return s, nil
}

// Label returns the debug label.
func (s *Sequence) Label() string { return s.label }

// State returns the current state.
func (s *Sequence) State() SequenceState { return SequenceState(s.state.Load()) }

func (s *Sequence) setState(st SequenceState) { s.state.Store(uint32(st)) }

// IsRecording reports whether the sequence is between Begin and End.
func (s *Sequence) IsRecording() bool { return s.State() == SequenceRecording }

// IsRunning reports whether an Eval is waiting on the device.
func (s *Sequence) IsRunning() bool { return s.State() == SequenceRunning }

// IsInit reports whether the sequence still holds its device objects.
func (s *Sequence) IsInit() bool { return s.State() != SequenceDestroyed }

// Len returns the number of recorded ops.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *Sequence) stateError(what string) error {
	return fmt.Errorf("%w: sequence %q: %s while %s", ErrState, s.label, what, s.State())
}

// Begin starts a new recording and drops the previous one. Calling Begin
// while recording logs a warning and does nothing.
func (s *Sequence) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked()
}

func (s *Sequence) beginLocked() error {
	switch s.State() {
	case SequenceRecording:
		Logger().Warn("kompute: begin while already recording", "sequence", s.label)
		return nil
	case SequenceDestroyed, SequenceRunning:
		return s.stateError("begin")
	}
	if err := s.h.cb.Begin(); err != nil {
		return deviceError("begin "+s.label, err)
	}
	s.ops = nil
	s.setState(SequenceRecording)
	return nil
}

// End finishes the recording. Calling End while not recording logs a
// warning and does nothing.
func (s *Sequence) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked()
}

func (s *Sequence) endLocked() error {
	if s.State() != SequenceRecording {
		Logger().Warn("kompute: end while not recording", "sequence", s.label, "state", s.State().String())
		return nil
	}
	if err := s.h.cb.End(); err != nil {
		return deviceError("end "+s.label, err)
	}
	s.setState(SequenceIdle)
	return nil
}

// Record initializes op and appends its commands. The sequence must be
// recording.
//
// An Init failure records nothing and keeps earlier ops. A failure while
// appending commands leaves the command buffer unusable, so the recording
// is cleared.
func (s *Sequence) Record(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(op)
}

func (s *Sequence) recordLocked(op Op) error {
	if s.State() != SequenceRecording {
		return s.stateError("record")
	}
	if op == nil {
		return fmt.Errorf("%w: sequence %q: nil op", ErrConfiguration, s.label)
	}
	if err := op.Init(); err != nil {
		return err
	}
	if err := op.Record(s.h.cb); err != nil {
		s.clearLocked()
		return err
	}
	s.ops = append(s.ops, op)
	Logger().Debug("kompute: op recorded", "sequence", s.label, "op", fmt.Sprintf("%T", op), "ops", len(s.ops))
	return nil
}

// Eval submits the recorded commands and blocks until the device finishes
// them. A recording in progress is ended first.
//
// PreEval hooks run before the submission and PostEval hooks after it, in
// record order. The wait has no timeout unless the manager was built with
// WithFenceTimeout or KOMPUTE_FENCE_TIMEOUT is set.
func (s *Sequence) Eval() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evalLocked()
}

func (s *Sequence) evalLocked() error {
	switch s.State() {
	case SequenceDestroyed, SequenceRunning:
		return s.stateError("eval")
	case SequenceRecording:
		if err := s.endLocked(); err != nil {
			return err
		}
	}
	if len(s.ops) == 0 {
		return fmt.Errorf("%w: sequence %q has nothing recorded", ErrState, s.label)
	}

	ops := slices.Clone(s.ops)
	for _, op := range ops {
		if err := op.PreEval(); err != nil {
			return err
		}
	}

	s.setState(SequenceRunning)
	err := s.submitAndWait()
	s.setState(SequenceIdle)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := op.PostEval(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence) submitAndWait() error {
	dev := s.h.ref.dev
	start := time.Now()
	value, err := dev.Submit(s.h.cb, s.h.fence)
	if err != nil {
		return deviceError("submit "+s.label, err)
	}
	done, err := dev.Wait(s.h.fence, value, s.timeout)
	if err != nil {
		return deviceError("wait "+s.label, err)
	}
	if !done {
		return fmt.Errorf("kompute: wait %s: %w: fence not signaled after %v", s.label, ErrDevice, s.timeout)
	}
	Logger().Debug("kompute: sequence evaluated", "sequence", s.label, "ops", len(s.ops), "elapsed", time.Since(start))
	return nil
}

// EvalOp clears the sequence, then begins, records op and evaluates it.
func (s *Sequence) EvalOp(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == SequenceDestroyed {
		return s.stateError("eval")
	}
	s.clearLocked()
	if err := s.beginLocked(); err != nil {
		return err
	}
	if err := s.recordLocked(op); err != nil {
		return err
	}
	return s.evalLocked()
}

// Clear drops the recorded ops and resets the command buffer.
func (s *Sequence) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Sequence) clearLocked() {
	st := s.State()
	if st == SequenceDestroyed || st == SequenceRunning {
		return
	}
	s.ops = nil
	if err := s.h.cb.Reset(); err != nil {
		Logger().Warn("kompute: reset command buffer", "sequence", s.label, "err", err)
	}
	s.setState(SequenceIdle)
}

// Rerecord records the retained ops again without re-running their Init.
// Use it after a tensor the ops touch was recreated.
func (s *Sequence) Rerecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.State(); st == SequenceRunning || st == SequenceDestroyed {
		return s.stateError("rerecord")
	}

	ops := s.ops
	if s.State() == SequenceRecording {
		if err := s.endLocked(); err != nil {
			return err
		}
	}
	if err := s.h.cb.Begin(); err != nil {
		return deviceError("begin "+s.label, err)
	}
	s.setState(SequenceRecording)
	for _, op := range ops {
		if err := op.Record(s.h.cb); err != nil {
			s.clearLocked()
			return err
		}
	}
	s.ops = ops
	return s.endLocked()
}

// Destroy releases the fence and the owned command objects. Ops are
// dropped. Destroy is idempotent.
func (s *Sequence) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == SequenceDestroyed {
		return
	}
	s.ops = nil
	s.setState(SequenceDestroyed)
	s.cleanup.Stop()
	s.h.release()
	Logger().Debug("kompute: sequence destroyed", "sequence", s.label)
}
