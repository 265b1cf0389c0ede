// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kompute is a general purpose GPU compute runtime.
//
// # Overview
//
// kompute turns a list of compute operations into ordered, synchronized
// command buffer submissions. It manages the device memory of tensors and
// the device objects of compiled programs. Host and device memory are
// never kept coherent automatically: data moves only through recorded
// sync operations.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/kompute"
//	    "github.com/gogpu/kompute/kernels"
//
//	    _ "github.com/gogpu/kompute/backend/native"
//	    _ "github.com/gogpu/kompute/backend/software"
//	)
//
//	kernels.Install()
//	mgr, err := kompute.NewManager()
//	if err != nil {
//	    return err
//	}
//	defer mgr.Destroy()
//
//	a, _ := mgr.Tensor([]float32{2, 4, 6})
//	b, _ := mgr.Tensor([]float32{0, 1, 2})
//	out, _ := mgr.Tensor([]float32{0, 0, 0})
//
//	algo, _ := mgr.Algorithm([]*kompute.Tensor{a, b, out}, kernels.Multiply())
//
//	seq, _ := mgr.Sequence()
//	_ = seq.Begin()
//	_ = seq.Record(kompute.NewOpSyncDevice(a, b))
//	_ = seq.Record(kompute.NewOpDispatch(algo))
//	_ = seq.Record(kompute.NewOpSyncLocal(out))
//	_ = seq.Eval()
//
//	fmt.Println(out.Float32s()) // [0 4 12]
//
// # Architecture
//
// The package is organized into:
//   - Tensor: a typed buffer with a host mirror and a memory kind
//   - Algorithm: a SPIR-V program bound to an ordered list of tensors
//   - Op: the closed set of recordable operations
//   - Sequence: a command buffer with a begin/record/end/eval state machine
//   - Manager: the factory and the weak, name-keyed sequence registry
//
// Devices implement gpucore.Device. The backend package selects one at
// runtime: backend/native drives Vulkan through gogpu/wgpu, and
// backend/software is a CPU reference device.
//
// # Memory kinds
//
// MemoryDevice tensors live in device-local memory with a host-visible
// staging twin that carries all host traffic. MemoryHost and
// MemoryDeviceAndHost tensors have a single host-visible buffer.
// MemoryStorage tensors have no host traffic at all.
//
// # Errors
//
// Every error matches one of ErrConfiguration, ErrBounds, ErrState or
// ErrDevice under errors.Is. Device errors also wrap the backend cause.
package kompute

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
