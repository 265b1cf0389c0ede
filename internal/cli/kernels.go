// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cli

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gogpu/kompute/kernels"
)

type kernelInfo struct {
	Name     string `json:"name"`
	Bindings int    `json:"bindings"`
	PushSize uint32 `json:"push_size"`
	SpecSize uint32 `json:"spec_size"`
}

// NewKernelsCommand creates the kernels command.
func NewKernelsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "List the built-in programs usable as a job kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []kernelInfo
			for _, name := range kernels.Names() {
				p, _ := kernels.Lookup(name)
				infos = append(infos, kernelInfo{
					Name:     p.Name,
					Bindings: p.Bindings,
					PushSize: p.PushSize,
					SpecSize: p.SpecSize,
				})
			}

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			var data [][]string
			for _, k := range infos {
				data = append(data, []string{
					k.Name,
					strconv.Itoa(k.Bindings),
					strconv.FormatUint(uint64(k.PushSize), 10),
					strconv.FormatUint(uint64(k.SpecSize), 10),
				})
			}
			renderTable(w, []string{"NAME", "BINDINGS", "PUSH", "SPEC"}, data)
			return nil
		},
	}
	return cmd
}
