//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

// Command isochron generates and measures scheduled Ethernet traffic.
//
// The send mode transmits frames at the instants of a periodic schedule
// and logs their transmit timestamps, the rcv mode logs the frames it
// receives and the report mode joins the two logs.
//
// The mode is the first argument, or the program name when isochron
// is invoked through an isochron-send, isochron-rcv or isochron-report
// link.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/spf13/cobra"
)

// version is set at link time.
var version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the command line argv and returns the exit code.
func run(argv []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(dispatchArgs(argv))
	if err := root.ExecuteContext(context.Background()); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// dispatchArgs returns the arguments for the root command, prepending
// the mode when the program name selects one.
func dispatchArgs(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	args := argv[1:]
	if mode, ok := modeFromProgram(argv[0]); ok {
		return append([]string{mode}, args...)
	}
	return args
}

// modeFromProgram maps isochron-<mode> to <mode>.
func modeFromProgram(program string) (string, bool) {
	mode, found := strings.CutPrefix(filepath.Base(program), "isochron-")
	if !found {
		return "", false
	}
	switch mode {
	case "send", "rcv", "report":
		return mode, true
	default:
		return "", false
	}
}

// printError writes err along with its class and system error code.
func printError(w io.Writer, err error) {
	code, text := errclass.Describe(err)
	fmt.Fprintf(w, "error: %s (%s, code %d: %s)\n", err.Error(), errclass.New(err), code, text)
}

// errUsage is returned for invalid command line arguments.
var errUsage = errors.New("invalid usage")

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stderr: stderr}
	root := &cobra.Command{
		Use:           "isochron",
		Short:         "Scheduled traffic generator for time-sensitive networks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("%w: %w: expected one of send, rcv, report", errclass.ErrConfigInvalid, errUsage)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w: %w", errclass.ErrConfigInvalid, errUsage, err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")

	root.AddCommand(newSendCommand(opts, stdout))
	root.AddCommand(newRcvCommand(opts, stdout))
	root.AddCommand(newReportCommand(stdout))
	return root
}
