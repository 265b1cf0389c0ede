// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"errors"
	"fmt"

	"github.com/gogpu/kompute/gpucore"
)

// Error classes. Every error returned by this package matches exactly one
// of them under errors.Is.
var (
	// ErrConfiguration reports caller misuse detected from arguments alone:
	// too few operands, zero-sized allocations, mismatched byte sizes or
	// binding counts.
	ErrConfiguration = errors.New("kompute: configuration error")

	// ErrBounds reports a region that exceeds a tensor's extent.
	ErrBounds = errors.New("kompute: region out of bounds")

	// ErrState reports an operation on a resource in the wrong lifecycle
	// state: not initialized, destroyed, or a sequence with nothing recorded.
	ErrState = errors.New("kompute: invalid state")

	// ErrDevice reports a failure inside the device: allocation, submission
	// or fence wait. The underlying device error is wrapped as well.
	ErrDevice = errors.New("kompute: device error")
)

// deviceError classifies an error returned by a gpucore.Device.
// Binding and push block mismatches are configuration errors detected by
// the device; everything else is a device error.
func deviceError(op string, err error) error {
	switch {
	case errors.Is(err, gpucore.ErrBindingMismatch), errors.Is(err, gpucore.ErrPushSize):
		return fmt.Errorf("kompute: %s: %w: %w", op, ErrConfiguration, err)
	default:
		return fmt.Errorf("kompute: %s: %w: %w", op, ErrDevice, err)
	}
}
