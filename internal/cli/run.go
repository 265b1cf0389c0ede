// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/kompute"
	"github.com/gogpu/kompute/kernels"
	"github.com/gogpu/kompute/shader"
)

// Result is the outcome of a job.
type Result struct {
	Job     string               `json:"job"`
	Device  string               `json:"device"`
	Backend string               `json:"backend"`
	Elapsed time.Duration        `json:"elapsed_ns"`
	Outputs map[string][]float32 `json:"outputs"`
	order   []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a compute job described by a YAML file",
		Long: `Run a compute job described by a YAML file.

The job creates float32 tensors, uploads them, dispatches one program over
them Repeat times and prints the requested tensors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := LoadJob(args[0])
			if err != nil {
				return err
			}
			res, err := RunJob(job, rootOpts.Backend)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}
}

// RunJob executes job on a new manager. The job's backend wins over
// backendName; both empty selects the best available backend.
func RunJob(job *Job, backendName string) (*Result, error) {
	kernels.Install()

	words, err := job.program()
	if err != nil {
		return nil, err
	}

	mopts := []kompute.ManagerOption{kompute.WithLabel(job.Name)}
	if job.Backend != "" {
		backendName = job.Backend
	}
	if backendName != "" {
		mopts = append(mopts, kompute.WithBackend(backendName))
	}
	mgr, err := kompute.NewManager(mopts...)
	if err != nil {
		return nil, err
	}
	defer mgr.Destroy()

	tensors := make([]*kompute.Tensor, len(job.Tensors))
	byName := make(map[string]*kompute.Tensor, len(job.Tensors))
	for i, spec := range job.Tensors {
		t, err := mgr.Tensor(spec.Values(), kompute.WithTensorLabel(spec.Name))
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", spec.Name, err)
		}
		tensors[i] = t
		byName[spec.Name] = t
	}

	var aopts []kompute.AlgorithmOption
	if job.Name != "" {
		aopts = append(aopts, kompute.WithAlgorithmLabel(job.Name))
	}
	if len(job.Workgroup) > 0 {
		var wg [3]uint32
		copy(wg[:], job.Workgroup)
		aopts = append(aopts, kompute.WithWorkgroup(wg[0], wg[1], wg[2]))
	}
	if len(job.Push) > 0 {
		aopts = append(aopts, kompute.WithPushConstants(kompute.ConstantsOf(job.Push...)))
	}
	if len(job.Spec) > 0 {
		aopts = append(aopts, kompute.WithSpecConstants(kompute.ConstantsOf(job.Spec...)))
	}
	algo, err := mgr.Algorithm(tensors, words, aopts...)
	if err != nil {
		return nil, err
	}

	seq, err := mgr.Sequence(kompute.WithSequenceLabel(job.Name))
	if err != nil {
		return nil, err
	}
	defer seq.Destroy()

	start := time.Now()
	if err := seq.EvalOp(kompute.NewOpSyncDevice(tensors...)); err != nil {
		return nil, err
	}
	if err := seq.Begin(); err != nil {
		return nil, err
	}
	if err := seq.Record(kompute.NewOpDispatch(algo)); err != nil {
		return nil, err
	}
	repeat := max(job.Repeat, 1)
	for range repeat {
		if err := seq.Eval(); err != nil {
			return nil, err
		}
	}
	if err := seq.EvalOp(kompute.NewOpSyncLocal(tensors...)); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	info := mgr.Info()
	kompute.Logger().Info("kompute: job finished",
		"job", job.Name, "device", info.Name, "repeat", repeat, "elapsed", elapsed)

	names := job.Outputs
	if len(names) == 0 {
		for _, spec := range job.Tensors {
			names = append(names, spec.Name)
		}
	}
	res := &Result{
		Job:     job.Name,
		Device:  info.Name,
		Backend: info.Backend,
		Elapsed: elapsed,
		Outputs: make(map[string][]float32, len(names)),
		order:   names,
	}
	for _, name := range names {
		res.Outputs[name] = byName[name].Float32s()
	}
	return res, nil
}

// program returns the SPIR-V the job dispatches.
func (j *Job) program() ([]uint32, error) {
	switch {
	case j.Kernel != "":
		p, ok := kernels.Lookup(j.Kernel)
		if !ok {
			return nil, fmt.Errorf("%w: unknown kernel %q (have %v)", errInvalidJob, j.Kernel, kernels.Names())
		}
		return p.Words(), nil
	case j.WGSL != "":
		src, err := os.ReadFile(j.path(j.WGSL))
		if err != nil {
			return nil, fmt.Errorf("read wgsl: %w", err)
		}
		return shader.CompileWGSL(string(src))
	default:
		data, err := os.ReadFile(j.path(j.SPIRV))
		if err != nil {
			return nil, fmt.Errorf("read spirv: %w", err)
		}
		return shader.WordsFromBytes(data)
	}
}

func writeResult(w io.Writer, format string, res *Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "%s on %s (%s) in %v\n", res.Job, res.Device, res.Backend, res.Elapsed)
	for _, name := range res.order {
		fmt.Fprintf(w, "  %s: %v\n", name, res.Outputs[name])
	}
	return nil
}
