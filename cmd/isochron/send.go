//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/rbmk-project/isochron/closepool"
	"github.com/rbmk-project/isochron/config"
	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/frame"
	"github.com/rbmk-project/isochron/metrics"
	"github.com/rbmk-project/isochron/netcore"
	"github.com/rbmk-project/isochron/nstime"
	"github.com/rbmk-project/isochron/portstate"
	"github.com/rbmk-project/isochron/ptpmgmt"
	"github.com/rbmk-project/isochron/sched"
	"github.com/rbmk-project/isochron/sysclock"
	"github.com/rbmk-project/isochron/vlan"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

func newSendCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	cfg := &config.Send{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send frames at the instants of a periodic schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := opts.loadFile(cmd, func(file *config.File) {
				*cfg = file.Send
			})
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSend(cmd.Context(), cfg, opts.logger, stdout)
		},
	}

	bindSendFlags(cmd.Flags(), cfg)
	return cmd
}

// bindSendFlags binds the send flags to cfg.
func bindSendFlags(flags *pflag.FlagSet, cfg *config.Send) {
	flags.StringVarP(&cfg.Interface, "interface", "i", "", "egress interface")
	flags.VarP(&cfg.Dst, "dmac", "d", "destination MAC address")
	flags.VarP(&cfg.Src, "smac", "A", "source MAC address (default: interface address)")
	flags.IntVarP(&cfg.Priority, "priority", "p", 0, "SO_PRIORITY of the frames")
	flags.VarP(&cfg.BaseTime, "base-time", "b", "schedule base time")
	flags.VarP(&cfg.AdvanceTime, "advance-time", "a", "wake up this much before the departure time (default: cycle time)")
	flags.VarP(&cfg.ShiftTime, "shift-time", "S", "shift the base time by this much")
	flags.VarP(&cfg.CycleTime, "cycle-time", "c", "interval between frames")
	flags.Int64VarP(&cfg.Iterations, "num-frames", "n", 0, "number of frames to send")
	flags.IntVarP(&cfg.FrameSize, "frame-size", "s", 0, "frame length in bytes")
	flags.IntVarP(&cfg.VLANID, "vid", "v", 0, "VLAN ID of the 802.1Q tag, zero for priority-tagged frames")
	flags.BoolVar(&cfg.NoTimestamping, "no-ts", false, "do not collect transmit timestamps")
	flags.BoolVarP(&cfg.TxTime, "txtime", "T", false, "request scheduled departure through SO_TXTIME")
	flags.StringVar(&cfg.Clock, "clock", "", "schedule clock: realtime, tai or monotonic")
	flags.StringVar(&cfg.Matcher, "matcher", "", "timestamp correlation: fifo or key")
	flags.Var(&cfg.DrainTimeout, "drain-timeout", "time to wait for the last timestamps")
	flags.IntVar(&cfg.LogCapacity, "log-capacity", 0, "log buffer capacity in bytes")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address")
	flags.StringVar(&cfg.PTP.Socket, "ptp-socket", "", "ptp4l management socket")
	flags.Uint8Var(&cfg.PTP.Domain, "ptp-domain", 0, "PTP domain number")
	flags.BoolVar(&cfg.PTP.CheckSync, "check-sync", false, "require a synchronized PTP port before sending")
	flags.Var(&cfg.PTP.MaxOffset, "max-offset", "maximum offset from the master when checking synchronization")
	flags.BoolVar(&cfg.PTP.FixupUTCOffset, "fixup-utc-offset", false, "update the kernel UTC-TAI offset from ptp4l")
}

// checkPTP performs the ptp4l based checks enabled by cfg.
func checkPTP(ctx context.Context, netx *netcore.Network, cfg *config.Send, logger *slog.Logger) error {
	if !cfg.PTP.CheckSync && !cfg.PTP.FixupUTCOffset {
		return nil
	}
	conn, err := netx.DialManagement(ctx, cfg.PTP.Socket)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := ptpmgmt.NewClient(conn, cfg.PTP.Domain)
	client.Logger = logger

	if cfg.PTP.CheckSync {
		resolver := &portstate.Resolver{
			Client: client,
			Links:  &vlan.Resolver{Logger: logger},
			Logger: logger,
		}
		if err := resolver.CheckSynchronized(ctx, cfg.Interface, time.Duration(cfg.PTP.MaxOffset)); err != nil {
			return err
		}
	}

	if cfg.PTP.FixupUTCOffset {
		kernel := &sysclock.Kernel{Logger: logger}
		if err := kernel.FixupFromPTP(ctx, client); err != nil {
			return err
		}
	}
	return nil
}

// runSend sends the frames described by cfg and prints their log.
func runSend(ctx context.Context, cfg *config.Send, logger *slog.Logger, stdout io.Writer) (err error) {
	netx := &netcore.Network{Logger: logger}
	if err := checkPTP(ctx, netx, cfg, logger); err != nil {
		return err
	}

	clock, err := nstime.ParseClock(cfg.Clock)
	if err != nil {
		return fmt.Errorf("%w: %w", errclass.ErrConfigInvalid, err)
	}
	matcher, ok := sched.NewMatcher(cfg.Matcher)
	if !ok {
		return fmt.Errorf("%w: unknown matcher %q", errclass.ErrConfigInvalid, cfg.Matcher)
	}

	pool := &closepool.Pool{}
	defer func() {
		err = errors.Join(err, pool.Close())
	}()

	conn, err := netx.OpenPacket(ctx, netcore.PacketConfig{
		Interface:   cfg.Interface,
		Priority:    cfg.Priority,
		TxTime:      cfg.TxTime,
		TxTimeClock: unix.CLOCK_TAI,
	})
	if err != nil {
		return err
	}
	pool.AddFunc("packet socket", conn.Close)

	builder := &frame.Builder{
		HardwareAddrFunc: func(string) (net.HardwareAddr, error) {
			return conn.HardwareAddr(), nil
		},
	}
	fr, err := builder.Build(cfg.Template())
	if err != nil {
		return err
	}

	runner := &sched.Runner{
		Schedule: sched.Schedule{
			BaseTime:    cfg.BaseTime.Nanoseconds(),
			CycleTime:   cfg.CycleTime.Nanoseconds(),
			AdvanceTime: cfg.AdvanceTime.Nanoseconds(),
			ShiftTime:   cfg.ShiftTime.Nanoseconds(),
			Iterations:  cfg.Iterations,
		},
		Frame:        fr,
		Conn:         conn,
		Clock:        clock,
		Timestamping: !cfg.NoTimestamping,
		TxTime:       cfg.TxTime,
		DrainTimeout: time.Duration(cfg.DrainTimeout),
		Matcher:      matcher,
		Logger:       logger,
		Output:       stdout,
		LogCapacity:  cfg.LogCapacity,
	}
	if runner.Timestamping {
		runner.SetupFunc = conn.EnableTimestamping
	}

	if cfg.MetricsAddr != "" {
		collectors := metrics.New()
		server, err := collectors.Serve(ctx, cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		pool.AddFunc("metrics server", server.Close)
		runner.Observer = collectors
	}

	result, err := runner.Run(ctx)
	if result != nil {
		logger.InfoContext(ctx, "sendSummary",
			slog.Int64("sent", result.Sent),
			slog.Int64("timestamped", result.Timestamped),
			slog.Int64("unmatched", result.Unmatched),
			slog.Int64("malformed", result.Malformed),
			slog.Int64("drops", result.Drops),
			slog.Int("linesDropped", result.LinesDropped),
		)
	}
	return err
}
