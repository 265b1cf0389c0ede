// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	"fmt"
	"slices"
)

// SPIR-V opcodes and decorations read by Reflect.
const (
	opDecorate          = 71
	decorationBinding   = 33
	decorationDescSet   = 34
	instructionWordMask = 0xffff
)

// Layout is the resource binding layout declared by a SPIR-V module.
type Layout struct {
	// Sets maps a descriptor set (bind group) index to its sorted binding
	// indices.
	Sets map[uint32][]uint32
}

// Bindings returns the number of bindings declared in set.
func (l Layout) Bindings(set uint32) int {
	return len(l.Sets[set])
}

// Reflect scans the decorations of a SPIR-V module and reports which
// descriptor set and binding each resource variable uses.
func Reflect(words []uint32) (Layout, error) {
	if len(words) < headerWords || words[0] != MagicNumber {
		return Layout{}, ErrNotSPIRV
	}

	type slot struct {
		set, binding       uint32
		hasSet, hasBinding bool
	}
	slots := make(map[uint32]*slot)
	get := func(id uint32) *slot {
		s, ok := slots[id]
		if !ok {
			s = &slot{}
			slots[id] = s
		}
		return s
	}

	for pos := headerWords; pos < len(words); {
		count := int(words[pos] >> 16)
		op := words[pos] & instructionWordMask
		if count == 0 || pos+count > len(words) {
			return Layout{}, fmt.Errorf("%w: truncated instruction at word %d", ErrNotSPIRV, pos)
		}
		if op == opDecorate && count >= 4 {
			target, deco, value := words[pos+1], words[pos+2], words[pos+3]
			switch deco {
			case decorationBinding:
				s := get(target)
				s.binding, s.hasBinding = value, true
			case decorationDescSet:
				s := get(target)
				s.set, s.hasSet = value, true
			}
		}
		pos += count
	}

	layout := Layout{Sets: make(map[uint32][]uint32)}
	for _, s := range slots {
		if !s.hasBinding {
			continue
		}
		// A binding without an explicit set lives in set 0.
		if !slices.Contains(layout.Sets[s.set], s.binding) {
			layout.Sets[s.set] = append(layout.Sets[s.set], s.binding)
		}
	}
	for set := range layout.Sets {
		slices.Sort(layout.Sets[set])
	}
	return layout, nil
}
