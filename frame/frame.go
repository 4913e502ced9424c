// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package frame builds and parses the VLAN-tagged Ethernet frames
emitted by the traffic generator.

# Wire Format

	| dst (6) | src (6) | 0x8100 (2) | TCI (2) | 0x22f0 (2) |
	| scheduled departure time (8, big endian nanoseconds)  |
	| sequence id (2, big endian)                            |
	| de ad be ef de ad ...  up to the configured length     |

The TCI combines the priority (three most significant bits) and
the VLAN identifier (twelve least significant bits).
*/
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rbmk-project/isochron/errclass"
)

const (
	// EtherTypeTSN is the encapsulated EtherType of generated frames.
	EtherTypeTSN layers.EthernetType = 0x22f0

	// HeaderLen is the length of the Ethernet and VLAN headers.
	HeaderLen = 18

	// TxTimeOffset is the offset of the scheduled departure time.
	TxTimeOffset = HeaderLen

	// SeqIDOffset is the offset of the sequence id.
	SeqIDOffset = TxTimeOffset + 8

	// MinLen is the smallest frame that carries both dynamic fields.
	MinLen = SeqIDOffset + 2

	// MaxLen is the largest VLAN-tagged frame without FCS.
	MaxLen = 1518
)

// filler is the repeating payload pattern.
var filler = [4]byte{0xde, 0xad, 0xbe, 0xef}

// Template is the immutable part of a frame.
type Template struct {
	// Interface is the transmitting interface, used to look up the
	// source address when Src is unset.
	Interface string

	// Dst is the destination MAC address.
	Dst net.HardwareAddr

	// Src is the optional source MAC address.
	Src net.HardwareAddr

	// Priority is the VLAN priority code point (0-7).
	Priority uint8

	// VLANID is the VLAN identifier (0-4095).
	VLANID uint16

	// Length is the total frame length in bytes.
	Length int
}

// Builder builds frames from a [Template].
//
// The zero value is ready to use.
type Builder struct {
	// HardwareAddrFunc is the optional function returning the hardware
	// address of an interface. If this field is nil, we use
	// [net.InterfaceByName].
	HardwareAddrFunc func(ifname string) (net.HardwareAddr, error)
}

// hardwareAddr returns the hardware address of ifname.
func (b *Builder) hardwareAddr(ifname string) (net.HardwareAddr, error) {
	if b.HardwareAddrFunc != nil {
		return b.HardwareAddrFunc(ifname)
	}
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, err
	}
	return ifi.HardwareAddr, nil
}

// isUnset returns whether addr is nil or all zero.
func isUnset(addr net.HardwareAddr) bool {
	for _, c := range addr {
		if c != 0 {
			return false
		}
	}
	return true
}

// Build serializes the template into a new [*Frame].
func (b *Builder) Build(tmpl Template) (*Frame, error) {
	if tmpl.Length < MinLen || tmpl.Length > MaxLen {
		return nil, fmt.Errorf("%w: frame length %d not in [%d, %d]",
			errclass.ErrConfigInvalid, tmpl.Length, MinLen, MaxLen)
	}
	if len(tmpl.Dst) != 6 {
		return nil, fmt.Errorf("%w: invalid destination address %q", errclass.ErrConfigInvalid, tmpl.Dst)
	}
	src := tmpl.Src
	if isUnset(src) {
		addr, err := b.hardwareAddr(tmpl.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: hardware address of %s: %w",
				errclass.ErrResourceAcquisition, tmpl.Interface, err)
		}
		src = addr
	}
	if len(src) != 6 {
		return nil, fmt.Errorf("%w: invalid source address %q", errclass.ErrConfigInvalid, src)
	}

	payload := make([]byte, tmpl.Length-HeaderLen)
	for idx := range payload {
		payload[idx] = filler[idx%len(filler)]
	}
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       tmpl.Dst,
		EthernetType: layers.EthernetTypeDot1Q,
	}
	tag := &layers.Dot1Q{
		Priority:       tmpl.Priority & 0x7,
		VLANIdentifier: tmpl.VLANID & 0xfff,
		Type:           EtherTypeTSN,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		eth, tag, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("%w: %w", errclass.ErrConfigInvalid, err)
	}

	// short frames are padded by the Ethernet layer
	data := buf.Bytes()[:tmpl.Length]
	return &Frame{data: append([]byte(nil), data...)}, nil
}

// Frame is a serialized frame owned by a single sender.
type Frame struct {
	data []byte
}

// Bytes returns the serialized frame. The returned slice aliases
// the frame and changes on each [*Frame.Stamp] call.
func (f *Frame) Bytes() []byte {
	return f.data
}

// Stamp writes the scheduled departure time and the sequence id.
func (f *Frame) Stamp(txtime int64, seqid uint16) {
	binary.BigEndian.PutUint64(f.data[TxTimeOffset:], uint64(txtime))
	binary.BigEndian.PutUint16(f.data[SeqIDOffset:], seqid)
}

// TxTime returns the stamped scheduled departure time.
func (f *Frame) TxTime() int64 {
	return int64(binary.BigEndian.Uint64(f.data[TxTimeOffset:]))
}

// SeqID returns the stamped sequence id.
func (f *Frame) SeqID() uint16 {
	return binary.BigEndian.Uint16(f.data[SeqIDOffset:])
}

// Header contains the decoded fields of a received frame.
type Header struct {
	Dst      net.HardwareAddr
	Src      net.HardwareAddr
	Priority uint8
	VLANID   uint16
	Tagged   bool
	TxTime   int64
	SeqID    uint16
}

// ErrNotTSN indicates a frame with another EtherType.
var ErrNotTSN = errors.New("not a generated frame")

// Parse decodes a generated frame. The VLAN tag may be missing when
// it was stripped by the receiving hardware.
func Parse(data []byte) (Header, error) {
	var (
		eth layers.Ethernet
		hdr Header
	)
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return hdr, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
	}
	hdr.Dst, hdr.Src = eth.DstMAC, eth.SrcMAC
	payload, etype := eth.Payload, eth.EthernetType
	if etype == layers.EthernetTypeDot1Q {
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return hdr, fmt.Errorf("%w: %w", errclass.ErrDecodeMalformed, err)
		}
		hdr.Priority, hdr.VLANID, hdr.Tagged = tag.Priority, tag.VLANIdentifier, true
		payload, etype = tag.Payload, tag.Type
	}
	if etype != EtherTypeTSN {
		return hdr, fmt.Errorf("%w: ethertype %#04x", ErrNotTSN, uint16(etype))
	}
	if len(payload) < MinLen-HeaderLen {
		return hdr, fmt.Errorf("%w: short payload (%d bytes)", errclass.ErrDecodeMalformed, len(payload))
	}
	hdr.TxTime = int64(binary.BigEndian.Uint64(payload))
	hdr.SeqID = binary.BigEndian.Uint16(payload[8:])
	return hdr, nil
}
