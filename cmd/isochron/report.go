//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/report"
	"github.com/spf13/cobra"
)

func newReportCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "report SEND-LOG RCV-LOG",
		Short: "Join the send and rcv logs and print the path delays",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sent, err := readLog(args[0])
			if err != nil {
				return err
			}
			received, err := readLog(args[1])
			if err != nil {
				return err
			}
			frames, summary := report.Join(sent, received)
			return report.Write(stdout, frames, summary)
		},
	}
}

// readLog parses the log file at path.
func readLog(path string) ([]report.Entry, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errclass.ErrResourceAcquisition, err)
	}
	defer fp.Close()
	entries, err := report.ParseLog(fp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}
