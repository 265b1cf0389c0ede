// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Option configures a native Device.
type Option func(*options)

type options struct {
	name         string
	api          gputypes.Backend
	adapterIndex int
	preferred    gputypes.DeviceType
	waitSlice    time.Duration
}

func defaultOptions() options {
	return options{
		api:          gputypes.BackendVulkan,
		adapterIndex: -1,
		preferred:    gputypes.DeviceTypeDiscreteGPU,
		waitSlice:    time.Second,
	}
}

// WithAdapterIndex opens the adapter at index i of the enumeration order.
// A negative index selects by preference.
func WithAdapterIndex(i int) Option {
	return func(o *options) {
		o.adapterIndex = i
	}
}

// WithAdapterPreference sets the adapter class tried first when no index
// is given. Integrated GPUs are tried next, then the first adapter.
func WithAdapterPreference(t gputypes.DeviceType) Option {
	return func(o *options) {
		o.preferred = t
	}
}

// WithGraphicsAPI selects the HAL backend Open uses. Vulkan is the default.
func WithGraphicsAPI(api gputypes.Backend) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithWaitSlice sets how long a single HAL fence wait may block when the
// caller asked to wait forever.
func WithWaitSlice(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitSlice = d
		}
	}
}

// WithName overrides the name reported by Info.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
