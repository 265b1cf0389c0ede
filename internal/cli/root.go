// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cli implements the kompute command.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/gogpu/kompute"
	"github.com/gogpu/kompute/backend"
	"github.com/gogpu/kompute/envconfig"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
	Backend string
}

// ValidFormats lists the accepted output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the kompute command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kompute",
		Short: "Run compute programs on GPU and software devices",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(cmd, opts)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log debug output to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", envconfig.Backend(), "backend to open (default: best available)")

	cmd.AddCommand(NewDevicesCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewKernelsCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// setupLogging routes library logs to stderr. Output stays silent unless
// --verbose or KOMPUTE_DEBUG is set.
func setupLogging(cmd *cobra.Command, opts *RootOptions) {
	if !opts.Verbose && !envconfig.Debug() {
		return
	}
	level := envconfig.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	kompute.SetLogger(logger)
	backend.SetLogger(logger)
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the library version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kompute %s\n", kompute.Version)
		},
	}
}
