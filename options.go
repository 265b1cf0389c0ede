// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"log/slog"
	"time"

	"github.com/gogpu/kompute/gpucore"
)

// ManagerOption configures a Manager during creation.
//
// Example:
//
//	// Best available backend
//	mgr, err := kompute.NewManager()
//
//	// CPU reference device, ten second fence timeout
//	mgr, err := kompute.NewManager(
//	    kompute.WithBackend("software"),
//	    kompute.WithFenceTimeout(10*time.Second),
//	)
type ManagerOption func(*managerConfig)

type managerConfig struct {
	device       gpucore.Device
	backend      string
	fenceTimeout time.Duration
	logger       *slog.Logger
	label        string
}

// WithDevice makes the manager use dev instead of opening a backend.
// The device is borrowed: Manager.Destroy does not destroy it.
func WithDevice(dev gpucore.Device) ManagerOption {
	return func(c *managerConfig) {
		c.device = dev
	}
}

// WithBackend selects a registered backend by name. It overrides
// KOMPUTE_BACKEND.
func WithBackend(name string) ManagerOption {
	return func(c *managerConfig) {
		c.backend = name
	}
}

// WithFenceTimeout bounds how long Sequence.Eval waits for the device.
// Zero, the default, waits forever.
func WithFenceTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.fenceTimeout = d
	}
}

// WithLogger installs l as the package logger, as SetLogger does.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = l
	}
}

// WithLabel sets the manager's debug label.
func WithLabel(label string) ManagerOption {
	return func(c *managerConfig) {
		c.label = label
	}
}

// TensorOption configures a tensor built by a Manager.
type TensorOption func(*tensorConfig)

type tensorConfig struct {
	kind  MemoryKind
	label string
	lazy  bool
}

// WithMemoryKind sets where the tensor lives. The default is MemoryDevice.
func WithMemoryKind(kind MemoryKind) TensorOption {
	return func(c *tensorConfig) {
		c.kind = kind
	}
}

// WithTensorLabel sets the tensor's debug label.
func WithTensorLabel(label string) TensorOption {
	return func(c *tensorConfig) {
		c.label = label
	}
}

// WithLazyCreate defers buffer allocation to an OpCreate.
func WithLazyCreate() TensorOption {
	return func(c *tensorConfig) {
		c.lazy = true
	}
}

// AlgorithmOption configures an Algorithm.
type AlgorithmOption func(*algorithmConfig)

type algorithmConfig struct {
	label     string
	workgroup Workgroup
	spec      Constants
	push      Constants
}

// WithWorkgroup sets the dispatch grid.
func WithWorkgroup(x, y, z uint32) AlgorithmOption {
	return func(c *algorithmConfig) {
		c.workgroup = Workgroup{x, y, z}
	}
}

// WithSpecConstants sets the specialization constants resolved when the
// program is built.
func WithSpecConstants(spec Constants) AlgorithmOption {
	return func(c *algorithmConfig) {
		c.spec = spec
	}
}

// WithPushConstants sets the default push constants. Their packed size
// fixes the size of the program's push block.
func WithPushConstants(push Constants) AlgorithmOption {
	return func(c *algorithmConfig) {
		c.push = push
	}
}

// WithAlgorithmLabel sets the algorithm's debug label. The default is
// derived from the program's fingerprint.
func WithAlgorithmLabel(label string) AlgorithmOption {
	return func(c *algorithmConfig) {
		c.label = label
	}
}

// SequenceOption configures a Sequence.
type SequenceOption func(*sequenceConfig)

type sequenceConfig struct {
	label      string
	sharedPool bool
	pool       gpucore.CommandPoolID
	cb         gpucore.CommandBuffer
}

// WithSequenceLabel sets the sequence's debug label. Unnamed sequences
// get a random one.
func WithSequenceLabel(label string) SequenceOption {
	return func(c *sequenceConfig) {
		c.label = label
	}
}

// WithSharedPool allocates the sequence's command buffer from the
// manager's default pool instead of a pool of its own.
func WithSharedPool() SequenceOption {
	return func(c *sequenceConfig) {
		c.sharedPool = true
	}
}

// WithBorrowedPool allocates the sequence's command buffer from pool.
// The sequence frees the command buffer but never destroys pool.
func WithBorrowedPool(pool gpucore.CommandPoolID) SequenceOption {
	return func(c *sequenceConfig) {
		c.pool = pool
	}
}

// WithBorrowedCommandBuffer makes the sequence record into cb. The
// sequence never frees cb.
func WithBorrowedCommandBuffer(cb gpucore.CommandBuffer) SequenceOption {
	return func(c *sequenceConfig) {
		c.cb = cb
	}
}
