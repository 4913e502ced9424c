//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package txtstamp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbmk-project/isochron/errclass"
	"golang.org/x/sys/unix"
)

// Flags are the SO_TIMESTAMPING flags armed by [Enable].
const Flags = unix.SOF_TIMESTAMPING_TX_HARDWARE |
	unix.SOF_TIMESTAMPING_RX_HARDWARE |
	unix.SOF_TIMESTAMPING_TX_SOFTWARE |
	unix.SOF_TIMESTAMPING_RX_SOFTWARE |
	unix.SOF_TIMESTAMPING_TX_SCHED |
	unix.SOF_TIMESTAMPING_SOFTWARE |
	unix.SOF_TIMESTAMPING_RAW_HARDWARE |
	unix.SOF_TIMESTAMPING_OPT_TX_SWHW |
	unix.SOF_TIMESTAMPING_OPT_ID

// Arm contains the system calls used by [Enable].
//
// The zero value uses the real system calls.
type Arm struct {
	// Logger is the optional logger for warnings.
	Logger *slog.Logger

	// SetHwTstampFunc is the optional function configuring hardware
	// timestamping. If nil, we use [unix.IoctlSetHwTstamp].
	SetHwTstampFunc func(fd int, ifname string, cfg *unix.HwTstampConfig) error

	// SetsockoptIntFunc is the optional function setting socket
	// options. If nil, we use [unix.SetsockoptInt].
	SetsockoptIntFunc func(fd, level, opt, value int) error

	// TsInfoFunc is the optional function returning the timestamping
	// capabilities of an interface. If nil, we use an AF_INET socket
	// with [unix.IoctlGetEthtoolTsInfo].
	TsInfoFunc func(ifname string) (*unix.EthtoolTsInfo, error)
}

func (a *Arm) setHwTstamp(fd int, ifname string, cfg *unix.HwTstampConfig) error {
	if a.SetHwTstampFunc != nil {
		return a.SetHwTstampFunc(fd, ifname, cfg)
	}
	return unix.IoctlSetHwTstamp(fd, ifname, cfg)
}

func (a *Arm) setsockoptInt(fd, level, opt, value int) error {
	if a.SetsockoptIntFunc != nil {
		return a.SetsockoptIntFunc(fd, level, opt, value)
	}
	return unix.SetsockoptInt(fd, level, opt, value)
}

func (a *Arm) tsInfo(ifname string) (*unix.EthtoolTsInfo, error) {
	if a.TsInfoFunc != nil {
		return a.TsInfoFunc(ifname)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	defer unix.Close(fd)
	return unix.IoctlGetEthtoolTsInfo(fd, ifname)
}

// Enable arms hardware and software timestamping on fd.
//
// Driver replies that do not match the requested configuration are
// logged as warnings, not treated as errors.
func (a *Arm) Enable(ctx context.Context, fd int, ifname string) error {
	cfg := &unix.HwTstampConfig{
		Tx_type:   unix.HWTSTAMP_TX_ON,
		Rx_filter: unix.HWTSTAMP_FILTER_ALL,
	}
	if err := a.setHwTstamp(fd, ifname, cfg); err != nil {
		return fmt.Errorf("%w: ioctl SIOCSHWTSTAMP on %s: %w", errclass.ErrResourceAcquisition, ifname, err)
	}
	if cfg.Tx_type != unix.HWTSTAMP_TX_ON || cfg.Rx_filter != unix.HWTSTAMP_FILTER_ALL {
		a.warn(ctx, "hwTstampMismatch",
			slog.Int("txType", int(cfg.Tx_type)),
			slog.Int("rxFilter", int(cfg.Rx_filter)),
		)
	}
	if err := a.setsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, Flags); err != nil {
		return fmt.Errorf("%w: setsockopt SO_TIMESTAMPING: %w", errclass.ErrResourceAcquisition, err)
	}
	if err := a.setsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1); err != nil {
		return fmt.Errorf("%w: setsockopt SO_SELECT_ERR_QUEUE: %w", errclass.ErrResourceAcquisition, err)
	}
	return nil
}

// capabilities lists the capabilities checked by [Arm.ValidateInfo].
var capabilities = []struct {
	flag uint32
	name string
}{
	{unix.SOF_TIMESTAMPING_TX_HARDWARE, "SOF_TIMESTAMPING_TX_HARDWARE"},
	{unix.SOF_TIMESTAMPING_RX_HARDWARE, "SOF_TIMESTAMPING_RX_HARDWARE"},
	{unix.SOF_TIMESTAMPING_TX_SOFTWARE, "SOF_TIMESTAMPING_TX_SOFTWARE"},
	{unix.SOF_TIMESTAMPING_RX_SOFTWARE, "SOF_TIMESTAMPING_RX_SOFTWARE"},
	{unix.SOF_TIMESTAMPING_SOFTWARE, "SOF_TIMESTAMPING_SOFTWARE"},
}

// ValidateInfo queries the timestamping capabilities of ifname and
// warns about each missing one. It returns the missing capability
// names; only the query itself can fail.
func (a *Arm) ValidateInfo(ctx context.Context, ifname string) ([]string, error) {
	info, err := a.tsInfo(ifname)
	if err != nil {
		return nil, fmt.Errorf("%w: ioctl SIOCETHTOOL on %s: %w", errclass.ErrResourceAcquisition, ifname, err)
	}
	var missing []string
	for _, c := range capabilities {
		if uint32(info.So_timestamping)&c.flag == 0 {
			missing = append(missing, c.name)
			a.warn(ctx, "driverNotCapable",
				slog.String("interface", ifname),
				slog.String("capability", c.name),
			)
		}
	}
	return missing, nil
}

func (a *Arm) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	if a.Logger != nil {
		a.Logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
	}
}
