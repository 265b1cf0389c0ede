// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/kompute/backend"
)

// DeviceReport describes the device one backend opened.
type DeviceReport struct {
	Backend       string    `json:"backend"`
	Name          string    `json:"name,omitempty"`
	Type          string    `json:"type,omitempty"`
	MaxBufferSize uint64    `json:"max_buffer_size,omitempty"`
	MaxWorkgroups [3]uint32 `json:"max_workgroups"`
	Error         string    `json:"error,omitempty"`
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered backends and the device each opens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := InspectDevices(backend.Available())
			if err != nil {
				return err
			}
			return writeReports(cmd.OutOrStdout(), rootOpts.Format, reports)
		},
	}
}

// InspectDevices opens a device on every named backend concurrently and
// reports what it found. A backend that fails to open is reported, not
// returned as an error.
func InspectDevices(names []string) ([]DeviceReport, error) {
	reports := make([]DeviceReport, len(names))
	var g errgroup.Group
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			reports[i] = inspect(name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func inspect(name string) DeviceReport {
	r := DeviceReport{Backend: name}
	dev, err := backend.Open(name)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	defer dev.Destroy()

	info := dev.Info()
	r.Name = info.Name
	r.Type = info.Type.String()
	r.MaxBufferSize = info.MaxBufferSize
	r.MaxWorkgroups = info.MaxWorkgroups
	return r
}

func writeReports(w io.Writer, format string, reports []DeviceReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	var data [][]string
	for _, r := range reports {
		if r.Error != "" {
			data = append(data, []string{r.Backend, "-", "-", "-", r.Error})
			continue
		}
		data = append(data, []string{
			r.Backend,
			r.Name,
			r.Type,
			fmt.Sprint(r.MaxBufferSize),
			fmt.Sprint(r.MaxWorkgroups),
		})
	}
	renderTable(w, []string{"BACKEND", "DEVICE", "TYPE", "MAX BUFFER", "MAX WORKGROUPS"}, data)
	return nil
}
