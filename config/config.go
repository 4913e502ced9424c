// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package config loads, completes and validates the configuration of
the send and rcv modes.

A configuration is read from YAML, then command line flags override
the values they set, then [*Send.ApplyDefaults] fills the gaps and
[*Send.Validate] rejects inconsistent values before any resource is
acquired. All times are in nanoseconds.

A send configuration looks like:

	interface: eth0.100
	dmac: 01:80:c2:00:00:0e
	priority: 5
	base-time: 0
	cycle-time: 1ms
	advance-time: 200us
	num-frames: 1000
	frame-size: 100
	vid: 100
	ptp:
	  socket: /var/run/ptp4l
	  check-sync: true
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/frame"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultFrameSize    = 64
	DefaultDrainTimeout = Duration(10 * time.Millisecond)
	DefaultLogCapacity  = 10 << 20
	DefaultPTPSocket    = "/var/run/ptp4l"
	DefaultReadTimeout  = Duration(100 * time.Millisecond)
)

// PTP configures the interaction with ptp4l.
type PTP struct {
	// Socket is the ptp4l management socket.
	Socket string `yaml:"socket"`

	// Domain is the PTP domain number.
	Domain uint8 `yaml:"domain"`

	// CheckSync requires the port of the interface to be synchronized
	// before sending.
	CheckSync bool `yaml:"check-sync"`

	// MaxOffset bounds the offset from the master when CheckSync is set.
	MaxOffset Duration `yaml:"max-offset"`

	// FixupUTCOffset updates the kernel UTC-TAI offset from ptp4l.
	FixupUTCOffset bool `yaml:"fixup-utc-offset"`
}

// Send configures the send mode.
type Send struct {
	Interface   string   `yaml:"interface"`
	Dst         MAC      `yaml:"dmac"`
	Src         MAC      `yaml:"smac"`
	Priority    int      `yaml:"priority"`
	BaseTime    Duration `yaml:"base-time"`
	AdvanceTime Duration `yaml:"advance-time"`
	ShiftTime   Duration `yaml:"shift-time"`
	CycleTime   Duration `yaml:"cycle-time"`
	Iterations  int64    `yaml:"num-frames"`
	FrameSize   int      `yaml:"frame-size"`
	VLANID      int      `yaml:"vid"`

	// NoTimestamping disables transmit timestamps.
	NoTimestamping bool `yaml:"no-ts"`

	// TxTime requests scheduled departure through SO_TXTIME.
	TxTime bool `yaml:"txtime"`

	// Clock is "realtime" (default), "tai" or "monotonic".
	Clock string `yaml:"clock"`

	// Matcher is "fifo" (default) or "key".
	Matcher string `yaml:"matcher"`

	DrainTimeout Duration `yaml:"drain-timeout"`
	LogCapacity  int      `yaml:"log-capacity"`

	// MetricsAddr is the optional address serving Prometheus metrics.
	MetricsAddr string `yaml:"metrics-addr"`

	PTP PTP `yaml:"ptp"`
}

// Receive configures the rcv mode.
type Receive struct {
	Interface   string   `yaml:"interface"`
	Count       int64    `yaml:"num-frames"`
	ReadTimeout Duration `yaml:"read-timeout"`

	// NoTimestamping disables receive timestamps.
	NoTimestamping bool `yaml:"no-ts"`

	LogCapacity int    `yaml:"log-capacity"`
	MetricsAddr string `yaml:"metrics-addr"`
}

// File is the layout of a configuration file.
type File struct {
	Send    Send    `yaml:"send"`
	Receive Receive `yaml:"rcv"`
}

// Decode parses a configuration file, rejecting unknown keys.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", errclass.ErrConfigInvalid, err)
	}
	return &file, nil
}

// Load reads a configuration file from path.
func Load(path string) (*File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errclass.ErrConfigInvalid, err)
	}
	defer fp.Close()
	return Decode(fp)
}

// ApplyDefaults fills the unset fields.
func (s *Send) ApplyDefaults() {
	if s.AdvanceTime == 0 {
		s.AdvanceTime = s.CycleTime
	}
	if s.FrameSize == 0 {
		s.FrameSize = DefaultFrameSize
	}
	if s.DrainTimeout == 0 {
		s.DrainTimeout = DefaultDrainTimeout
	}
	if s.LogCapacity == 0 {
		s.LogCapacity = DefaultLogCapacity
	}
	if s.Clock == "" {
		s.Clock = "realtime"
	}
	if s.Matcher == "" {
		s.Matcher = "fifo"
	}
	if s.PTP.Socket == "" {
		s.PTP.Socket = DefaultPTPSocket
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errclass.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration. Call it after [*Send.ApplyDefaults].
func (s *Send) Validate() error {
	switch {
	case s.Interface == "":
		return invalid("missing interface")
	case len(s.Dst) == 0:
		return invalid("missing destination MAC address")
	case s.Priority < 0 || s.Priority > 7:
		return invalid("priority %d not in [0, 7]", s.Priority)
	case s.VLANID < 0 || s.VLANID > 4095:
		return invalid("VLAN id %d not in [0, 4095]", s.VLANID)
	case s.FrameSize < frame.MinLen || s.FrameSize > frame.MaxLen:
		return invalid("frame size %d not in [%d, %d]", s.FrameSize, frame.MinLen, frame.MaxLen)
	case s.CycleTime <= 0:
		return invalid("cycle time must be positive")
	case s.Iterations <= 0:
		return invalid("number of frames must be positive")
	case s.AdvanceTime > s.CycleTime:
		return invalid("advance time cannot be higher than cycle time")
	case s.ShiftTime > s.CycleTime:
		return invalid("shift time cannot be higher than cycle time")
	case s.DrainTimeout <= 0:
		return invalid("drain timeout must be positive")
	case s.PTP.MaxOffset < 0:
		return invalid("maximum offset cannot be negative")
	}
	switch strings.ToLower(s.Clock) {
	case "realtime", "monotonic":
		if s.TxTime {
			return invalid("txtime requires the tai clock")
		}
	case "tai":
	default:
		return invalid("unknown clock %q", s.Clock)
	}
	switch s.Matcher {
	case "fifo", "key":
	default:
		return invalid("unknown matcher %q", s.Matcher)
	}
	return nil
}

// Template returns the frame template described by the configuration.
func (s *Send) Template() frame.Template {
	return frame.Template{
		Interface: s.Interface,
		Dst:       net.HardwareAddr(s.Dst),
		Src:       net.HardwareAddr(s.Src),
		Priority:  uint8(s.Priority),
		VLANID:    uint16(s.VLANID),
		Length:    s.FrameSize,
	}
}

// ApplyDefaults fills the unset fields.
func (r *Receive) ApplyDefaults() {
	if r.ReadTimeout == 0 {
		r.ReadTimeout = DefaultReadTimeout
	}
	if r.LogCapacity == 0 {
		r.LogCapacity = DefaultLogCapacity
	}
}

// Validate checks the configuration.
func (r *Receive) Validate() error {
	switch {
	case r.Interface == "":
		return invalid("missing interface")
	case r.Count < 0:
		return invalid("number of frames cannot be negative")
	case r.ReadTimeout <= 0:
		return invalid("read timeout must be positive")
	}
	return nil
}
