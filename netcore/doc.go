// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package netcore opens the sockets used by the traffic generator.

This package is designed to make socket setup observable via the
[log/slog] package and replaceable in tests via optional functions.

# Features

- Raw AF_PACKET sockets bound to an interface, with priority,
optional SO_TXTIME scheduling, and timestamp collection;

- UNIX datagram connections to the ptp4l management socket.

The per-frame send path never logs, so that structured logging does
not perturb the transmit schedule.
*/
package netcore
