// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "testing"

func TestBufferUsage_Contains(t *testing.T) {
	u := BufferUsageStorage | BufferUsageCopySrc | BufferUsageCopyDst

	tests := []struct {
		name  string
		other BufferUsage
		want  bool
	}{
		{"single", BufferUsageStorage, true},
		{"pair", BufferUsageCopySrc | BufferUsageCopyDst, true},
		{"missing", BufferUsageUniform, false},
		{"partial", BufferUsageStorage | BufferUsageUniform, false},
		{"empty", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := u.Contains(tt.other); got != tt.want {
				t.Errorf("Contains(%b) = %v, want %v", tt.other, got, tt.want)
			}
		})
	}
}

func TestAccessFlags_String(t *testing.T) {
	tests := []struct {
		flags AccessFlags
		want  string
	}{
		{0, "None"},
		{AccessHostWrite, "HostWrite"},
		{AccessTransferWrite | AccessShaderRead, "TransferWrite|ShaderRead"},
		{AccessHostRead | AccessShaderWrite, "HostRead|ShaderWrite"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("AccessFlags(%d).String() = %q, want %q", tt.flags, got, tt.want)
		}
	}
}

func TestStageFlags_String(t *testing.T) {
	if got := (StageTransfer | StageComputeShader).String(); got != "Transfer|ComputeShader" {
		t.Errorf("String() = %q, want %q", got, "Transfer|ComputeShader")
	}
	if got := StageFlags(0).String(); got != "None" {
		t.Errorf("String() = %q, want %q", got, "None")
	}
}

func TestDeviceType_String(t *testing.T) {
	tests := []struct {
		typ  DeviceType
		want string
	}{
		{DeviceTypeDiscreteGPU, "DiscreteGPU"},
		{DeviceTypeIntegratedGPU, "IntegratedGPU"},
		{DeviceTypeVirtualGPU, "VirtualGPU"},
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeOther, "Other"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("DeviceType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
