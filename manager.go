// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"fmt"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/gogpu/kompute/backend"
	"github.com/gogpu/kompute/envconfig"
	"github.com/gogpu/kompute/gpucore"
)

// Manager owns a device and builds the tensors, algorithms and sequences
// that run on it.
//
// The manager keeps a name-keyed registry of sequences for reuse. The
// registry and the manager's resource tracking hold weak references only:
// they never keep a resource alive. Destroy releases every resource that
// is still alive, then the device if the manager opened it.
//
// Thread safety: Manager is safe for concurrent use.
type Manager struct {
	label   string
	ref     *deviceRef
	timeout time.Duration

	mu         sync.Mutex
	pool       gpucore.CommandPoolID
	named      map[string]weak.Pointer[Sequence]
	tensors    []weak.Pointer[Tensor]
	algorithms []weak.Pointer[Algorithm]
	sequences  []weak.Pointer[Sequence]
	destroyed  bool
}

// NewManager opens a device and returns a manager for it.
//
// Without WithDevice the backend named by WithBackend or KOMPUTE_BACKEND
// is opened, or the best registered backend when neither is set. A device
// passed with WithDevice is borrowed and never destroyed by the manager.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	cfg := managerConfig{fenceTimeout: envconfig.FenceTimeout()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger != nil {
		SetLogger(cfg.logger)
	}
	if cfg.label == "" {
		cfg.label = "manager-" + uuid.NewString()
	}

	ref := &deviceRef{dev: cfg.device}
	if ref.dev == nil {
		name := cfg.backend
		if name == "" {
			name = envconfig.Backend()
		}
		var err error
		if name != "" {
			ref.dev, err = backend.Open(name)
		} else {
			ref.dev, err = backend.OpenDefault()
		}
		if err != nil {
			return nil, fmt.Errorf("kompute: open device: %w: %w", ErrDevice, err)
		}
		ref.owned = true
	}

	info := ref.dev.Info()
	Logger().Info("kompute: device selected",
		"manager", cfg.label, "device", info.Name, "backend", info.Backend,
		"type", info.Type.String(), "owned", ref.owned)

	return &Manager{
		label:   cfg.label,
		ref:     ref,
		timeout: cfg.fenceTimeout,
		named:   make(map[string]weak.Pointer[Sequence]),
	}, nil
}

// Label returns the debug label.
func (m *Manager) Label() string { return m.label }

// Device returns the manager's device.
func (m *Manager) Device() gpucore.Device { return m.ref.dev }

// Info describes the manager's device.
func (m *Manager) Info() gpucore.DeviceInfo { return m.ref.dev.Info() }

func (m *Manager) checkAlive() error {
	if m.destroyed {
		return fmt.Errorf("%w: manager %q is destroyed", ErrState, m.label)
	}
	return nil
}

// Tensor builds a float32 tensor holding a copy of data.
func (m *Manager) Tensor(data []float32, opts ...TensorOption) (*Tensor, error) {
	return m.TensorOf(encode(data), DataTypeFloat32, 4, opts...)
}

// TensorT builds a tensor of element type T holding a copy of data.
func TensorT[T Scalar](m *Manager, data []T, opts ...TensorOption) (*Tensor, error) {
	dt := dataTypeOf[T]()
	return m.TensorOf(encode(data), dt, dt.Size(), opts...)
}

// TensorFloat16 builds a half precision tensor from float32 values.
func (m *Manager) TensorFloat16(data []float32, opts ...TensorOption) (*Tensor, error) {
	return m.TensorOf(encodeFloat16(data), DataTypeFloat16, 2, opts...)
}

// TensorBFloat16 builds a bfloat16 tensor from float32 values.
func (m *Manager) TensorBFloat16(data []float32, opts ...TensorOption) (*Tensor, error) {
	return m.TensorOf(encodeBFloat16(data), DataTypeBFloat16, 2, opts...)
}

// TensorOf builds a tensor from raw element bytes. elemSize is the packed
// size of one element and must divide len(data). For built-in types it
// must equal dtype.Size().
//
// Unless WithLazyCreate is given, the device buffers are allocated before
// TensorOf returns.
func (m *Manager) TensorOf(data []byte, dtype DataType, elemSize uint32, opts ...TensorOption) (*Tensor, error) {
	var cfg tensorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.label == "" {
		cfg.label = "tensor-" + uuid.NewString()[:8]
	}
	if size := dtype.Size(); size != 0 && size != elemSize {
		return nil, fmt.Errorf("%w: tensor %q: %s elements are %d bytes, got %d",
			ErrConfiguration, cfg.label, dtype, size, elemSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAlive(); err != nil {
		return nil, err
	}

	t, err := newTensor(m.ref, cfg.label, cfg.kind, dtype, elemSize, data)
	if err != nil {
		return nil, err
	}
	if !cfg.lazy {
		if err := t.Create(); err != nil {
			return nil, err
		}
	}
	m.tensors = append(m.tensors, weak.Make(t))
	return t, nil
}

// Algorithm builds a program over tensors. Every tensor must be
// initialized. words is the compiled SPIR-V program.
func (m *Manager) Algorithm(tensors []*Tensor, words []uint32, opts ...AlgorithmOption) (*Algorithm, error) {
	var cfg algorithmConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAlive(); err != nil {
		return nil, err
	}

	a, err := newAlgorithm(m.ref, tensors, words, cfg)
	if err != nil {
		return nil, err
	}
	m.algorithms = append(m.algorithms, weak.Make(a))
	return a, nil
}

// Sequence builds an unnamed sequence. It is not entered in the named
// registry.
func (m *Manager) Sequence(opts ...SequenceOption) (*Sequence, error) {
	var cfg sequenceConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.label == "" {
		cfg.label = "sequence-" + uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequenceLocked(cfg)
}

func (m *Manager) sequenceLocked(cfg sequenceConfig) (*Sequence, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	if cfg.sharedPool && m.pool == gpucore.InvalidID {
		pool, err := m.ref.dev.CreateCommandPool()
		if err != nil {
			return nil, deviceError("create default command pool", err)
		}
		m.pool = pool
	}
	s, err := newSequence(m.ref, m.pool, m.timeout, cfg)
	if err != nil {
		return nil, err
	}
	m.sequences = append(m.sequences, weak.Make(s))
	return s, nil
}

// GetOrCreateSequence returns the live sequence registered under name, or
// builds and registers a new one. The registry does not keep the sequence
// alive: once every caller drops it, the next call builds a new one.
// Options apply only when a new sequence is built.
func (m *Manager) GetOrCreateSequence(name string, opts ...SequenceOption) (*Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wp, ok := m.named[name]; ok {
		if s := wp.Value(); s != nil && s.IsInit() {
			return s, nil
		}
		delete(m.named, name)
	}

	cfg := sequenceConfig{label: name}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := m.sequenceLocked(cfg)
	if err != nil {
		return nil, err
	}
	m.named[name] = weak.Make(s)
	Logger().Debug("kompute: named sequence created", "manager", m.label, "name", name)
	return s, nil
}

// DestroyTensors frees the device buffers of tensors. Their mirrors stay
// readable.
func (m *Manager) DestroyTensors(tensors ...*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// DestroyAlgorithms frees the device objects of algorithms.
func (m *Manager) DestroyAlgorithms(algorithms ...*Algorithm) {
	for _, a := range algorithms {
		if a != nil {
			a.Destroy()
		}
	}
}

// DestroySequences destroys sequences and removes them from the named
// registry.
func (m *Manager) DestroySequences(seqs ...*Sequence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seqs {
		if s == nil {
			continue
		}
		s.Destroy()
		for name, wp := range m.named {
			if wp.Value() == s {
				delete(m.named, name)
			}
		}
	}
}

// DestroyNamed destroys the live sequences registered under names and
// removes the entries. Unknown names are ignored.
func (m *Manager) DestroyNamed(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		wp, ok := m.named[name]
		if !ok {
			continue
		}
		if s := wp.Value(); s != nil {
			s.Destroy()
		}
		delete(m.named, name)
	}
}

// Clear drops tracking entries for resources that were garbage collected
// or destroyed.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tensors = prune(m.tensors, (*Tensor).IsInit)
	m.algorithms = prune(m.algorithms, (*Algorithm).IsInit)
	m.sequences = prune(m.sequences, (*Sequence).IsInit)
	for name, wp := range m.named {
		if s := wp.Value(); s == nil || !s.IsInit() {
			delete(m.named, name)
		}
	}
}

func prune[T any](ptrs []weak.Pointer[T], live func(*T) bool) []weak.Pointer[T] {
	kept := ptrs[:0]
	for _, wp := range ptrs {
		if v := wp.Value(); v != nil && live(v) {
			kept = append(kept, wp)
		}
	}
	clear(ptrs[len(kept):])
	return kept
}

// Live reports how many tracked tensors, algorithms and sequences are
// still alive and initialized.
func (m *Manager) Live() (tensors, algorithms, sequences int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countLive(m.tensors, (*Tensor).IsInit),
		countLive(m.algorithms, (*Algorithm).IsInit),
		countLive(m.sequences, (*Sequence).IsInit)
}

func countLive[T any](ptrs []weak.Pointer[T], live func(*T) bool) int {
	n := 0
	for _, wp := range ptrs {
		if v := wp.Value(); v != nil && live(v) {
			n++
		}
	}
	return n
}

// Destroy releases every live sequence, algorithm and tensor, then the
// default command pool, then the device if the manager opened it. Tensor
// mirrors stay readable. Destroy is idempotent.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true

	for _, wp := range m.sequences {
		if s := wp.Value(); s != nil {
			s.Destroy()
		}
	}
	for _, wp := range m.algorithms {
		if a := wp.Value(); a != nil {
			a.Destroy()
		}
	}
	for _, wp := range m.tensors {
		if t := wp.Value(); t != nil {
			t.Destroy()
		}
	}
	m.sequences, m.algorithms, m.tensors = nil, nil, nil
	clear(m.named)

	if m.pool != gpucore.InvalidID {
		m.ref.dev.DestroyCommandPool(m.pool)
		m.pool = gpucore.InvalidID
	}
	if m.ref.owned {
		m.ref.closed.Store(true)
		m.ref.dev.Destroy()
	}
	Logger().Info("kompute: manager destroyed", "manager", m.label, "owned_device", m.ref.owned)
}
