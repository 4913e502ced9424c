// SPDX-License-Identifier: GPL-3.0-or-later

package ptpmgmt

import "fmt"

// ClockIdentity is an IEEE 1588 clock identity.
type ClockIdentity [8]byte

// String returns the identity formatted like ptp4l does.
func (c ClockIdentity) String() string {
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7])
}

// PortIdentity is a clock identity plus a port number.
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String implements [fmt.Stringer].
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// AllPorts targets every port of every clock.
var AllPorts = PortIdentity{
	ClockIdentity: ClockIdentity{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	PortNumber:    0xffff,
}

// Action is the management message action.
type Action uint8

const (
	ActionGet Action = iota
	ActionSet
	ActionResponse
	ActionCommand
	ActionAcknowledge
)

// ManagementID identifies a management dataset.
type ManagementID uint16

const (
	MIDDefaultDataSet        ManagementID = 0x2000
	MIDCurrentDataSet        ManagementID = 0x2001
	MIDParentDataSet         ManagementID = 0x2002
	MIDTimePropertiesDataSet ManagementID = 0x2003
	MIDPortDataSet           ManagementID = 0x2004
	MIDTimeStatusNP          ManagementID = 0xc000
	MIDPortPropertiesNP      ManagementID = 0xc004
)

var midNames = map[ManagementID]string{
	MIDDefaultDataSet:        "DEFAULT_DATA_SET",
	MIDCurrentDataSet:        "CURRENT_DATA_SET",
	MIDParentDataSet:         "PARENT_DATA_SET",
	MIDTimePropertiesDataSet: "TIME_PROPERTIES_DATA_SET",
	MIDPortDataSet:           "PORT_DATA_SET",
	MIDTimeStatusNP:          "TIME_STATUS_NP",
	MIDPortPropertiesNP:      "PORT_PROPERTIES_NP",
}

// String implements [fmt.Stringer].
func (id ManagementID) String() string {
	if name, found := midNames[id]; found {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(id))
}

// dataLen returns the size of the zero-filled data sent with a GET.
func (id ManagementID) dataLen() int {
	switch id {
	case MIDDefaultDataSet:
		return 20
	case MIDCurrentDataSet:
		return 18
	case MIDParentDataSet:
		return 32
	case MIDTimePropertiesDataSet:
		return 4
	case MIDPortDataSet:
		return 26
	case MIDTimeStatusNP:
		return 50
	case MIDPortPropertiesNP:
		return 22
	default:
		return 0
	}
}

// PortState is the state of a synchronization port.
type PortState uint8

const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

var portStateNames = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

// String implements [fmt.Stringer].
func (s PortState) String() string {
	if name, found := portStateNames[s]; found {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Synchronized tells whether the port is MASTER or SLAVE.
func (s PortState) Synchronized() bool {
	return s == PortStateMaster || s == PortStateSlave
}
