//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rbmk-project/isochron/config"
	"github.com/rbmk-project/isochron/metrics"
	"github.com/rbmk-project/isochron/netcore"
	"github.com/rbmk-project/isochron/receiver"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRcvCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	cfg := &config.Receive{}
	cmd := &cobra.Command{
		Use:   "rcv",
		Short: "Log the generated frames arriving on an interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.loadFile(cmd, func(file *config.File) {
				*cfg = file.Receive
			})
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			// An interrupt ends the run normally so that the log is flushed.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRcv(ctx, cfg, opts.logger, stdout)
		},
	}

	bindRcvFlags(cmd.Flags(), cfg)
	return cmd
}

// bindRcvFlags binds the rcv flags to cfg.
func bindRcvFlags(flags *pflag.FlagSet, cfg *config.Receive) {
	flags.StringVarP(&cfg.Interface, "interface", "i", "", "ingress interface")
	flags.Int64VarP(&cfg.Count, "num-frames", "n", 0, "stop after this many frames, zero for no limit")
	flags.Var(&cfg.ReadTimeout, "read-timeout", "interval at which cancellation is checked")
	flags.BoolVar(&cfg.NoTimestamping, "no-ts", false, "do not collect receive timestamps")
	flags.IntVar(&cfg.LogCapacity, "log-capacity", 0, "log buffer capacity in bytes")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address")
}

// runRcv receives frames as described by cfg and prints their log.
func runRcv(ctx context.Context, cfg *config.Receive, logger *slog.Logger, stdout io.Writer) (err error) {
	netx := &netcore.Network{Logger: logger}
	conn, err := netx.OpenPacket(ctx, netcore.PacketConfig{
		Interface:   cfg.Interface,
		Receive:     true,
		ReadTimeout: time.Duration(cfg.ReadTimeout),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	rcv := &receiver.Receiver{
		Conn:         conn,
		Count:        cfg.Count,
		Timestamping: !cfg.NoTimestamping,
		Logger:       logger,
		Output:       stdout,
		LogCapacity:  cfg.LogCapacity,
	}
	if rcv.Timestamping {
		rcv.SetupFunc = conn.EnableTimestamping
	}

	if cfg.MetricsAddr != "" {
		collectors := metrics.New()
		server, err := collectors.Serve(ctx, cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer server.Close()
		rcv.Observer = collectors
	}

	result, err := rcv.Run(ctx)
	if result != nil {
		logger.InfoContext(ctx, "rcvSummary",
			slog.Int64("received", result.Received),
			slog.Int64("ignored", result.Ignored),
			slog.Int("linesDropped", result.LinesDropped),
		)
	}
	return err
}
