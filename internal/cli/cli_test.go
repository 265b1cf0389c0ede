// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/kompute"
	"github.com/gogpu/kompute/backend"

	_ "github.com/gogpu/kompute/backend/software"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeJob(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunJob_Multiply(t *testing.T) {
	job, err := ParseJob([]byte(multiplyJob))
	if err != nil {
		t.Fatal(err)
	}
	res, err := RunJob(job, backend.Software)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if diff := cmp.Diff(map[string][]float32{"out": {0, 4, 12}}, res.Outputs); diff != "" {
		t.Errorf("Outputs mismatch (-want +got):\n%s", diff)
	}
	if res.Backend != backend.Software {
		t.Errorf("Backend = %q, want %q", res.Backend, backend.Software)
	}
}

func TestRunJob_PushRepeat(t *testing.T) {
	job, err := ParseJob([]byte(`
name: push
backend: software
kernel: add_push
tensors:
  - name: buf
    size: 3
workgroup: [3]
push: [0.5, 1, 2]
repeat: 4
`))
	if err != nil {
		t.Fatal(err)
	}
	res, err := RunJob(job, "")
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if diff := cmp.Diff([]float32{2, 4, 8}, res.Outputs["buf"]); diff != "" {
		t.Errorf("buf mismatch (-want +got):\n%s", diff)
	}
}

func TestRunJob_UnknownKernel(t *testing.T) {
	job := &Job{Kernel: "nope", Tensors: []TensorSpec{{Name: "a", Size: 1}}}
	if _, err := RunJob(job, backend.Software); err == nil {
		t.Fatal("RunJob() accepted an unknown kernel")
	}
}

func TestRunCommand_JSON(t *testing.T) {
	path := writeJob(t, multiplyJob)
	out, err := execute(t, "run", path, "--backend", backend.Software, "--format", "json")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	var res Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]float32{0, 4, 12}, res.Outputs["out"]); diff != "" {
		t.Errorf("out mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCommand_Text(t *testing.T) {
	path := writeJob(t, multiplyJob)
	out, err := execute(t, "run", path, "--backend", backend.Software)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !strings.Contains(out, "out: [0 4 12]") {
		t.Errorf("output missing result line:\n%s", out)
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	if _, err := execute(t, "version", "--format", "xml"); err == nil {
		t.Fatal("accepted format xml")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if want := "kompute " + kompute.Version + "\n"; out != want {
		t.Errorf("version = %q, want %q", out, want)
	}
}

func TestKernelsCommand(t *testing.T) {
	out, err := execute(t, "kernels", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var infos []kernelInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	var names []string
	for _, k := range infos {
		names = append(names, k.Name)
	}
	want := []string{"add_push", "copy", "increment", "multiply", "scale"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("kernels mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectDevices(t *testing.T) {
	reports, err := InspectDevices([]string{backend.Software, "missing"})
	if err != nil {
		t.Fatalf("InspectDevices() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if r := reports[0]; r.Error != "" || r.Name == "" || r.Type != "CPU" {
		t.Errorf("software report = %+v", r)
	}
	if r := reports[1]; r.Error == "" {
		t.Errorf("missing backend report has no error: %+v", r)
	}
}

func TestDevicesCommand(t *testing.T) {
	out, err := execute(t, "devices")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "BACKEND") || !strings.Contains(out, backend.Software) {
		t.Errorf("devices output:\n%s", out)
	}
}

func TestKernelsCommand_Text(t *testing.T) {
	out, err := execute(t, "kernels")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("kernels output has %d lines, want 6:\n%s", len(lines), out)
	}
	if diff := cmp.Diff([]string{"NAME", "BINDINGS", "PUSH", "SPEC"}, strings.Fields(lines[0])); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"add_push", "1", "12", "0"}, strings.Fields(lines[1])); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []string{"A", "B"}, [][]string{{"x", "1"}, {"longer", "22"}})

	var got [][]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		got = append(got, strings.Fields(line))
	}
	want := [][]string{{"A", "B"}, {"x", "1"}, {"longer", "22"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}
