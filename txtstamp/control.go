//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package txtstamp

import (
	"context"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/nstime"
	"golang.org/x/sys/unix"
)

// Kernel constants not exported by x/sys/unix.
const (
	packetTxTimestamp = 16 // PACKET_TX_TIMESTAMP

	soEEOriginTimestamping = 4 // SO_EE_ORIGIN_TIMESTAMPING
	soEEOriginTxTime       = 6 // SO_EE_ORIGIN_TXTIME

	soEECodeTxTimeInvalidParam = 1 // SO_EE_CODE_TXTIME_INVALID_PARAM
	soEECodeTxTimeMissed       = 2 // SO_EE_CODE_TXTIME_MISSED
)

// ParseControl decodes the control messages in oob into rec.
//
// Unknown control messages and unknown error origins are logged and
// ignored. Short control blocks and unknown scheduled transmission
// codes cause an error wrapping [errclass.ErrDecodeMalformed].
func ParseControl(ctx context.Context, oob []byte, rec *Record, logger *slog.Logger) error {
	if len(oob) > 0 && len(oob) < unix.CmsgLen(0) {
		return fmt.Errorf("%w: control block of %d bytes", errclass.ErrDecodeMalformed, len(oob))
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("%w: control messages: %w", errclass.ErrDecodeMalformed, err)
	}
	for _, msg := range msgs {
		level, typ := msg.Header.Level, msg.Header.Type
		switch {
		case level == unix.SOL_SOCKET && typ == unix.SCM_TIMESTAMPING:
			if err := parseTimestamping(msg.Data, rec); err != nil {
				return err
			}

		case (level == unix.SOL_PACKET && typ == packetTxTimestamp) ||
			(level == unix.SOL_IP && typ == unix.IP_RECVERR) ||
			(level == unix.SOL_IPV6 && typ == unix.IPV6_RECVERR):
			if err := parseExtendedError(ctx, msg.Data, rec, logger); err != nil {
				return err
			}

		default:
			if logger != nil {
				logger.WarnContext(ctx, "unknownControlMessage",
					slog.Int("level", int(level)),
					slog.Int("type", int(typ)),
				)
			}
		}
	}
	return nil
}

// parseTimestamping decodes a struct scm_timestamping.
func parseTimestamping(data []byte, rec *Record) error {
	var tss [3]unix.Timespec
	if len(data) < int(unsafe.Sizeof(tss)) {
		return fmt.Errorf("%w: short SO_TIMESTAMPING message (%d bytes)",
			errclass.ErrDecodeMalformed, len(data))
	}
	tss = *(*[3]unix.Timespec)(unsafe.Pointer(&data[0]))
	rec.Software = nstime.FromTimespec(tss[0])
	rec.Hardware = nstime.FromTimespec(tss[2])
	return nil
}

// parseExtendedError decodes a struct sock_extended_err.
func parseExtendedError(ctx context.Context, data []byte, rec *Record, logger *slog.Logger) error {
	var ee unix.SockExtendedErr
	if len(data) < int(unsafe.Sizeof(ee)) {
		return fmt.Errorf("%w: short extended error (%d bytes)",
			errclass.ErrDecodeMalformed, len(data))
	}
	ee = *(*unix.SockExtendedErr)(unsafe.Pointer(&data[0]))

	switch ee.Origin {
	case soEEOriginTimestamping:
		rec.Key = ee.Data
		rec.Type = ee.Info
		rec.HasKey = true

	case soEEOriginTxTime:
		rec.TxTime = int64(uint64(ee.Data)<<32 + uint64(ee.Info))
		switch ee.Code {
		case soEECodeTxTimeInvalidParam:
			rec.Drop = DropInvalidParams
		case soEECodeTxTimeMissed:
			rec.Drop = DropMissed
		default:
			return fmt.Errorf("%w: unknown txtime code %d", errclass.ErrDecodeMalformed, ee.Code)
		}
		if logger != nil {
			logger.WarnContext(ctx, "txtimeDrop",
				slog.String("txtime", nstime.Format(rec.TxTime)),
				slog.String("reason", rec.Drop.String()),
				slog.String("errClass", errclass.New(rec.DropError())),
			)
		}

	default:
		if logger != nil {
			errno := unix.Errno(ee.Errno)
			logger.WarnContext(ctx, "unknownSocketError",
				slog.Any("err", errno),
				slog.Int("errno", int(ee.Errno)),
				slog.Int("origin", int(ee.Origin)),
				slog.Int("code", int(ee.Code)),
			)
		}
	}
	return nil
}
