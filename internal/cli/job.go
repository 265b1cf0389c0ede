// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Job describes a single compute run: the tensors to create, the program
// to dispatch over them and the tensors to print afterwards.
type Job struct {
	// Name labels the run in output and logs.
	Name string `yaml:"name"`

	// Backend overrides the backend selected on the command line.
	Backend string `yaml:"backend,omitempty"`

	// Kernel names a built-in program. Exactly one of Kernel, WGSL and
	// SPIRV must be set.
	Kernel string `yaml:"kernel,omitempty"`

	// WGSL is the path of a WGSL source file, relative to the job file.
	WGSL string `yaml:"wgsl,omitempty"`

	// SPIRV is the path of a SPIR-V binary, relative to the job file.
	SPIRV string `yaml:"spirv,omitempty"`

	// Tensors are created in order and bound to the program in order.
	Tensors []TensorSpec `yaml:"tensors"`

	// Workgroup is the dispatch grid. Empty uses the element count of the
	// first tensor.
	Workgroup []uint32 `yaml:"workgroup,omitempty"`

	// Push holds float32 push constants.
	Push []float32 `yaml:"push,omitempty"`

	// Spec holds float32 specialization constants.
	Spec []float32 `yaml:"spec,omitempty"`

	// Repeat is the number of dispatches. Zero means one.
	Repeat int `yaml:"repeat,omitempty"`

	// Outputs names the tensors to print. Empty prints all of them.
	Outputs []string `yaml:"outputs,omitempty"`

	dir string
}

// TensorSpec describes one float32 tensor.
type TensorSpec struct {
	// Name identifies the tensor in Outputs.
	Name string `yaml:"name"`

	// Data is the initial contents.
	Data []float32 `yaml:"data,omitempty"`

	// Size creates a zero-filled tensor when Data is empty.
	Size int `yaml:"size,omitempty"`
}

// Values returns the initial contents.
func (s TensorSpec) Values() []float32 {
	if len(s.Data) > 0 {
		return s.Data
	}
	return make([]float32, s.Size)
}

var errInvalidJob = errors.New("invalid job")

// LoadJob reads and validates a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	job.dir = filepath.Dir(path)
	return job, nil
}

// ParseJob decodes and validates a job. Unknown fields are rejected.
func ParseJob(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the job for structural errors.
func (j *Job) Validate() error {
	sources := 0
	for _, s := range []string{j.Kernel, j.WGSL, j.SPIRV} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of kernel, wgsl or spirv is required", errInvalidJob)
	}
	if len(j.Tensors) == 0 {
		return fmt.Errorf("%w: no tensors", errInvalidJob)
	}

	names := make(map[string]bool, len(j.Tensors))
	for i, t := range j.Tensors {
		if t.Name == "" {
			return fmt.Errorf("%w: tensor %d has no name", errInvalidJob, i)
		}
		if names[t.Name] {
			return fmt.Errorf("%w: duplicate tensor %q", errInvalidJob, t.Name)
		}
		names[t.Name] = true
		if len(t.Data) == 0 && t.Size <= 0 {
			return fmt.Errorf("%w: tensor %q needs data or a positive size", errInvalidJob, t.Name)
		}
	}
	for _, name := range j.Outputs {
		if !names[name] {
			return fmt.Errorf("%w: unknown output %q", errInvalidJob, name)
		}
	}

	if len(j.Workgroup) > 3 {
		return fmt.Errorf("%w: workgroup has %d dimensions", errInvalidJob, len(j.Workgroup))
	}
	if j.Repeat < 0 {
		return fmt.Errorf("%w: negative repeat", errInvalidJob)
	}
	return nil
}

// path resolves p against the job file directory.
func (j *Job) path(p string) string {
	if filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}
