// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command kompute lists compute devices and runs compute jobs.
//
// Usage:
//
//	kompute devices
//	kompute kernels
//	kompute run job.yaml
//	kompute version
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/kompute/internal/cli"

	_ "github.com/gogpu/kompute/backend/native"
	_ "github.com/gogpu/kompute/backend/software"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kompute:", err)
		os.Exit(1)
	}
}
