// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package envconfig reads kompute defaults from the environment.
//
// Every setting has a default and an environment variable that overrides
// it. Invalid values are logged and ignored.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend returns the preferred backend name.
// Configurable via KOMPUTE_BACKEND. Empty means "best available".
func Backend() string {
	return Var("KOMPUTE_BACKEND")
}

// Debug reports whether debug logging is requested.
// Configurable via KOMPUTE_DEBUG.
var Debug = Bool("KOMPUTE_DEBUG")

// Workers returns the number of goroutines the software device runs
// workgroups on. Configurable via KOMPUTE_WORKERS. 0 means GOMAXPROCS.
var Workers = Uint("KOMPUTE_WORKERS", 0)

// DeviceIndex returns the adapter index the native backend should open.
// Configurable via KOMPUTE_DEVICE. -1 (the default) means "pick the best".
func DeviceIndex() int {
	if s := Var("KOMPUTE_DEVICE"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			slog.Warn("invalid environment variable, using default", "key", "KOMPUTE_DEVICE", "value", s, "default", -1)
			return -1
		}
		return n
	}
	return -1
}

// FenceTimeout returns how long Sequence.Eval waits for the device.
// Configurable via KOMPUTE_FENCE_TIMEOUT as a duration ("30s") or seconds.
// 0 or negative values mean wait forever, which is the default.
func FenceTimeout() time.Duration {
	s := Var("KOMPUTE_FENCE_TIMEOUT")
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		n, nerr := strconv.ParseInt(s, 10, 64)
		if nerr != nil {
			slog.Warn("invalid environment variable, using default", "key", "KOMPUTE_FENCE_TIMEOUT", "value", s, "default", "none")
			return 0
		}
		d = time.Duration(n) * time.Second
	}
	if d < 0 {
		return 0
	}
	return d
}

// LogLevel returns the log level for command line tools.
// Configurable via KOMPUTE_DEBUG: true/1 selects debug, otherwise info.
func LogLevel() slog.Level {
	if Debug() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Bool returns a getter for a boolean variable that defaults to false.
// Set but unparsable values count as true.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// Uint returns a getter for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
				return defaultValue
			}
			return uint(n)
		}
		return defaultValue
	}
}

// EnvVar describes one setting.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"KOMPUTE_BACKEND":       {"KOMPUTE_BACKEND", Backend(), "Preferred backend (native, software)"},
		"KOMPUTE_DEBUG":         {"KOMPUTE_DEBUG", Debug(), "Show debug logging"},
		"KOMPUTE_WORKERS":       {"KOMPUTE_WORKERS", Workers(), "Software device worker goroutines"},
		"KOMPUTE_DEVICE":        {"KOMPUTE_DEVICE", DeviceIndex(), "Native adapter index"},
		"KOMPUTE_FENCE_TIMEOUT": {"KOMPUTE_FENCE_TIMEOUT", FenceTimeout(), "Fence wait limit, 0 waits forever"},
	}
}

// Var returns an environment variable stripped of surrounding spaces and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
