// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a signed count of nanoseconds. It parses from an integer
// number of nanoseconds, a Go duration string such as "500us", or a
// "seconds.fraction" instant such as "1600000000.25".
//
// It implements the pflag Value interface, so it can back a flag.
type Duration int64

// ParseDuration parses a [Duration].
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(ns), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return Duration(d), nil
	}
	if ns, ok := parseDecimalSeconds(s); ok {
		return Duration(ns), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// parseDecimalSeconds parses "sec.frac" with at most 9 fractional digits.
func parseDecimalSeconds(s string) (int64, bool) {
	sign := int64(1)
	if strings.HasPrefix(s, "-") {
		sign, s = -1, s[1:]
	}
	whole, frac, found := strings.Cut(s, ".")
	if !found || whole == "" || frac == "" || len(frac) > 9 {
		return 0, false
	}
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || sec > math.MaxInt64/1_000_000_000-1 {
		return 0, false
	}
	nsec, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
	if err != nil {
		return 0, false
	}
	return sign * (sec*1e9 + nsec), true
}

// Nanoseconds returns d as an int64.
func (d Duration) Nanoseconds() int64 {
	return int64(d)
}

// String implements pflag.Value.
func (d *Duration) String() string {
	return strconv.FormatInt(int64(*d), 10)
}

// Set implements pflag.Value.
func (d *Duration) Set(s string) error {
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Type implements pflag.Value.
func (d *Duration) Type() string {
	return "duration"
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", node.Line)
	}
	if err := d.Set(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// MAC is a hardware address that parses from its textual form.
//
// It implements the pflag Value interface, so it can back a flag.
type MAC net.HardwareAddr

// String implements pflag.Value.
func (m *MAC) String() string {
	if len(*m) == 0 {
		return ""
	}
	return net.HardwareAddr(*m).String()
}

// Set implements pflag.Value.
func (m *MAC) Set(s string) error {
	addr, err := net.ParseMAC(s)
	if err != nil {
		return err
	}
	if len(addr) != 6 {
		return fmt.Errorf("not an Ethernet address: %q", s)
	}
	*m = MAC(addr)
	return nil
}

// Type implements pflag.Value.
func (m *MAC) Type() string {
	return "mac"
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (m *MAC) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a MAC address", node.Line)
	}
	if err := m.Set(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}
