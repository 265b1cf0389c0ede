// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend provides the registry of device backends used by kompute.
//
// A backend is a named factory that opens a [gpucore.Device]. Backends
// register themselves from init() functions, so importing a backend package
// is enough to make it available:
//
//	import (
//		_ "github.com/gogpu/kompute/backend/native"   // Vulkan via gogpu/wgpu
//		_ "github.com/gogpu/kompute/backend/software" // CPU reference device
//	)
//
// # Backend Selection
//
// Use OpenDefault to open the best available backend, or Open to request a
// specific one by name:
//
//	dev, err := backend.OpenDefault()
//
//	// Or request a specific backend
//	dev, err := backend.Open(backend.Software)
//
// OpenDefault tries backends in priority order (native, then software) and
// returns the first one that opens, so a machine without a Vulkan driver
// falls back to the CPU device.
//
// # Logging
//
// Backends log through [Logger]. kompute.SetLogger forwards its logger here,
// so one call configures the whole stack.
package backend
