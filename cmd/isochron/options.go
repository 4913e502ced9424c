//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/rbmk-project/isochron/config"
	"github.com/rbmk-project/isochron/errclass"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalOptions contains the flags shared by all modes.
type globalOptions struct {
	configPath string
	logJSON    bool
	logLevel   string
	logger     *slog.Logger
	stderr     io.Writer
}

// setup creates the logger tagged with a fresh run ID.
func (opts *globalOptions) setup() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(opts.logLevel))); err != nil {
		return fmt.Errorf("%w: --log-level: %w", errclass.ErrConfigInvalid, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(opts.stderr, handlerOpts)
	if opts.logJSON {
		handler = slog.NewJSONHandler(opts.stderr, handlerOpts)
	}
	opts.logger = slog.New(handler).With(slog.String("runID", uuid.NewString()))
	return nil
}

// loadFile reads the configuration file, if any, and returns it. The
// flags set on the command line are applied again on top of the values
// copied into the configuration by assign, so that they win over the file.
func (opts *globalOptions) loadFile(cmd *cobra.Command, assign func(file *config.File)) error {
	if opts.configPath == "" {
		return nil
	}
	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			changed[f.Name] = f.Value.String()
		}
	})
	file, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	assign(file)
	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("%w: --%s: %w", errclass.ErrConfigInvalid, name, err)
		}
	}
	return nil
}
