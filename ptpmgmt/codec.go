// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package ptpmgmt implements a client for the management interface
exposed by the ptp4l daemon on its UNIX datagram socket.

Each query is a GET management message with a single MANAGEMENT TLV.
The daemon answers with a RESPONSE carrying either a MANAGEMENT TLV
with the requested dataset or a MANAGEMENT_ERROR_STATUS TLV.

# Wire Format

	| header (34) | target port identity (10) | hops (2) |
	| action (1) | reserved (1) | tlv type (2) | tlv length (2) |
	| management id (2) | data ...                              |

All the multi-byte fields are big endian.
*/
package ptpmgmt

import (
	"encoding/binary"
	"fmt"

	"github.com/rbmk-project/isochron/errclass"
)

const (
	headerLen     = 34
	managementLen = 14
	tlvHeaderLen  = 4

	// minResponseLen covers the TLV header and the management id.
	minResponseLen = headerLen + managementLen + tlvHeaderLen + 2

	messageTypeManagement = 0x0d
	versionPTP            = 0x02
	controlManagement     = 0x04
	logMessageInterval    = 0x7f

	tlvManagement            = 0x0001
	tlvManagementErrorStatus = 0x0002
)

// Request is a management request.
type Request struct {
	Sequence uint16
	Domain   uint8
	Source   PortIdentity
	Target   PortIdentity
	Action   Action
	ID       ManagementID
	Data     []byte
}

// MarshalBinary serializes the request. A GET request without data
// carries zero-filled data sized for the requested dataset.
func (r *Request) MarshalBinary() ([]byte, error) {
	data := r.Data
	if data == nil && r.Action == ActionGet {
		data = make([]byte, r.ID.dataLen())
	}
	size := headerLen + managementLen + tlvHeaderLen + 2 + len(data)
	if size > 0xffff {
		return nil, fmt.Errorf("management message too large: %d bytes", size)
	}
	b := make([]byte, size)

	b[0] = messageTypeManagement
	b[1] = versionPTP
	binary.BigEndian.PutUint16(b[2:], uint16(size))
	b[4] = r.Domain
	copy(b[20:28], r.Source.ClockIdentity[:])
	binary.BigEndian.PutUint16(b[28:], r.Source.PortNumber)
	binary.BigEndian.PutUint16(b[30:], r.Sequence)
	b[32] = controlManagement
	b[33] = logMessageInterval

	copy(b[34:42], r.Target.ClockIdentity[:])
	binary.BigEndian.PutUint16(b[42:], r.Target.PortNumber)
	b[44] = 1 // starting boundary hops
	b[45] = 1 // boundary hops
	b[46] = uint8(r.Action) & 0x0f

	binary.BigEndian.PutUint16(b[48:], tlvManagement)
	binary.BigEndian.PutUint16(b[50:], uint16(2+len(data)))
	binary.BigEndian.PutUint16(b[52:], uint16(r.ID))
	copy(b[54:], data)
	return b, nil
}

// Response is a parsed management response.
type Response struct {
	Sequence uint16
	Source   PortIdentity
	Target   PortIdentity
	Action   Action
	ID       ManagementID

	// Data is the dataset, for MANAGEMENT TLVs.
	Data []byte

	// Status is non-nil for MANAGEMENT_ERROR_STATUS TLVs.
	Status *StatusError
}

// malformed returns an error wrapping [errclass.ErrQuery].
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: malformed response: %s", errclass.ErrQuery, fmt.Sprintf(format, args...))
}

// ParseResponse parses a management message.
func ParseResponse(b []byte) (*Response, error) {
	if len(b) < minResponseLen {
		return nil, malformed("short message (%d bytes)", len(b))
	}
	if b[0]&0x0f != messageTypeManagement {
		return nil, malformed("message type %#x", b[0]&0x0f)
	}
	if size := int(binary.BigEndian.Uint16(b[2:])); size < minResponseLen || size > len(b) {
		return nil, malformed("message length %d with %d bytes", size, len(b))
	}

	resp := &Response{
		Sequence: binary.BigEndian.Uint16(b[30:]),
		Action:   Action(b[46] & 0x0f),
	}
	copy(resp.Source.ClockIdentity[:], b[20:28])
	resp.Source.PortNumber = binary.BigEndian.Uint16(b[28:])
	copy(resp.Target.ClockIdentity[:], b[34:42])
	resp.Target.PortNumber = binary.BigEndian.Uint16(b[42:])

	tlvType := binary.BigEndian.Uint16(b[48:])
	tlvLen := int(binary.BigEndian.Uint16(b[50:]))
	value := b[52:]
	if tlvLen < 2 || tlvLen > len(value) {
		return nil, malformed("TLV length %d with %d bytes", tlvLen, len(value))
	}
	value = value[:tlvLen]

	switch tlvType {
	case tlvManagement:
		resp.ID = ManagementID(binary.BigEndian.Uint16(value))
		resp.Data = value[2:]

	case tlvManagementErrorStatus:
		// error id (2) | management id (2) | reserved (4) | display data
		if len(value) < 8 {
			return nil, malformed("short MANAGEMENT_ERROR_STATUS (%d bytes)", len(value))
		}
		resp.ID = ManagementID(binary.BigEndian.Uint16(value[2:]))
		resp.Status = &StatusError{
			ID:   resp.ID,
			Code: binary.BigEndian.Uint16(value),
		}
		if text, _, err := parseText(value[8:]); err == nil {
			resp.Status.Text = text
		}

	default:
		return nil, malformed("TLV type %#04x", tlvType)
	}
	return resp, nil
}

// parseText parses a PTPText and returns the text and its encoded size.
func parseText(b []byte) (string, int, error) {
	if len(b) < 1 {
		return "", 0, malformed("missing text length")
	}
	size := int(b[0])
	if len(b) < 1+size {
		return "", 0, malformed("text length %d with %d bytes", size, len(b)-1)
	}
	return string(b[1 : 1+size]), 1 + size, nil
}

// StatusError is a MANAGEMENT_ERROR_STATUS returned by the daemon.
type StatusError struct {
	ID   ManagementID
	Code uint16
	Text string
}

var statusNames = map[uint16]string{
	0x0001: "RESPONSE_TOO_BIG",
	0x0002: "NO_SUCH_ID",
	0x0003: "WRONG_LENGTH",
	0x0004: "WRONG_VALUE",
	0x0005: "NOT_SETABLE",
	0x0006: "NOT_SUPPORTED",
	0xfffe: "GENERAL_ERROR",
}

// Error implements error.
func (e *StatusError) Error() string {
	name, found := statusNames[e.Code]
	if !found {
		name = fmt.Sprintf("0x%04x", e.Code)
	}
	msg := fmt.Sprintf("%s: %s for %s", errclass.ErrQuery, name, e.ID)
	if e.Text != "" {
		msg += " (" + e.Text + ")"
	}
	return msg
}

// Unwrap returns [errclass.ErrQuery].
func (e *StatusError) Unwrap() error {
	return errclass.ErrQuery
}
