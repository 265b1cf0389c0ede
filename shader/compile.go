// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader turns shader source into the SPIR-V word streams consumed
// by kompute algorithms, and inspects existing word streams.
//
// The runtime itself only ever sees []uint32. This package is the
// front-end: WGSL is compiled with naga, the pure Go shader compiler.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/gogpu/naga"

	"github.com/gogpu/kompute/internal/cache"
)

// MagicNumber is the first word of every SPIR-V module.
const MagicNumber uint32 = 0x07230203

// headerWords is the size of the SPIR-V module header.
const headerWords = 5

var (
	// ErrEmptySource is returned when compiling an empty source string.
	ErrEmptySource = errors.New("shader: empty source")

	// ErrNotSPIRV is returned for byte or word streams without a valid header.
	ErrNotSPIRV = errors.New("shader: not a SPIR-V module")
)

// compiled holds recent compilations keyed by the source hash.
var compiled = cache.New[uint64, []uint32](64)

// CompileWGSL compiles WGSL source to SPIR-V words. Results for recently
// compiled sources are served from a process-wide cache; the caller always
// receives its own copy.
func CompileWGSL(source string) ([]uint32, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	words, err := compiled.GetOrLoad(xxhash.Sum64String(source), func() ([]uint32, error) {
		spirv, err := naga.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("shader: compile wgsl: %w", err)
		}
		return WordsFromBytes(spirv)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(words), nil
}

// MustCompileWGSL is like CompileWGSL but panics on error.
// It is intended for shaders embedded in the binary.
func MustCompileWGSL(source string) []uint32 {
	words, err := CompileWGSL(source)
	if err != nil {
		panic(err)
	}
	return words
}

// WordsFromBytes converts a little-endian SPIR-V byte stream to words.
func WordsFromBytes(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 || len(b) < headerWords*4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotSPIRV, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != MagicNumber {
		return nil, fmt.Errorf("%w: magic %#08x", ErrNotSPIRV, words[0])
	}
	return words, nil
}

// BytesFromWords is the inverse of WordsFromBytes.
func BytesFromWords(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// Fingerprint returns a stable 64-bit hash of a word stream. Equal streams
// always produce equal fingerprints.
func Fingerprint(words []uint32) uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, w := range words {
		binary.LittleEndian.PutUint32(buf[:], w)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
