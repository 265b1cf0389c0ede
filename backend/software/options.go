// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

// Option configures a software Device.
type Option func(*options)

type options struct {
	name          string
	workers       int
	maxBufferSize uint64
}

func defaultOptions() options {
	return options{
		name:          "kompute software device",
		maxBufferSize: 1 << 30,
	}
}

// WithWorkers sets the number of goroutines workgroups run on.
// 0 or negative means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMaxBufferSize limits the size of a single buffer. Larger requests
// fail with ErrOutOfMemory.
func WithMaxBufferSize(n uint64) Option {
	return func(o *options) {
		o.maxBufferSize = n
	}
}

// WithName sets the name reported by Info.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
