// SPDX-License-Identifier: GPL-3.0-or-later

package ptpmgmt

import (
	"encoding/binary"
	"fmt"

	"github.com/rbmk-project/isochron/errclass"
)

// shortData returns an error wrapping [errclass.ErrQuery].
func shortData(id ManagementID, got, want int) error {
	return fmt.Errorf("%w: %s payload too short: %d bytes, want %d",
		errclass.ErrQuery, id, got, want)
}

// ClockQuality is the quality of a clock.
type ClockQuality struct {
	ClockClass              uint8
	ClockAccuracy           uint8
	OffsetScaledLogVariance uint16
}

// DefaultDataSet is the DEFAULT_DATA_SET of a clock.
type DefaultDataSet struct {
	TwoStepFlag   bool
	SlaveOnly     bool
	NumberPorts   uint16
	Priority1     uint8
	ClockQuality  ClockQuality
	Priority2     uint8
	ClockIdentity ClockIdentity
	DomainNumber  uint8
}

func parseDefaultDataSet(b []byte) (*DefaultDataSet, error) {
	if len(b) < 19 {
		return nil, shortData(MIDDefaultDataSet, len(b), 19)
	}
	ds := &DefaultDataSet{
		TwoStepFlag: b[0]&0x01 != 0,
		SlaveOnly:   b[0]&0x02 != 0,
		NumberPorts: binary.BigEndian.Uint16(b[2:]),
		Priority1:   b[4],
		ClockQuality: ClockQuality{
			ClockClass:              b[5],
			ClockAccuracy:           b[6],
			OffsetScaledLogVariance: binary.BigEndian.Uint16(b[7:]),
		},
		Priority2:    b[9],
		DomainNumber: b[18],
	}
	copy(ds.ClockIdentity[:], b[10:18])
	return ds, nil
}

// PortPropertiesNP is the linuxptp PORT_PROPERTIES_NP dataset.
type PortPropertiesNP struct {
	PortIdentity PortIdentity
	PortState    PortState
	Timestamping uint8
	Interface    string
}

func parsePortPropertiesNP(b []byte) (*PortPropertiesNP, error) {
	if len(b) < 13 {
		return nil, shortData(MIDPortPropertiesNP, len(b), 13)
	}
	pp := &PortPropertiesNP{
		PortState:    PortState(b[10]),
		Timestamping: b[11],
	}
	copy(pp.PortIdentity.ClockIdentity[:], b[:8])
	pp.PortIdentity.PortNumber = binary.BigEndian.Uint16(b[8:])
	iface, _, err := parseText(b[12:])
	if err != nil {
		return nil, err
	}
	pp.Interface = iface
	return pp, nil
}

// Flags of [TimePropertiesDataSet].
const (
	FlagLeap61         = 1 << 0
	FlagLeap59         = 1 << 1
	FlagUTCOffsetValid = 1 << 2
	FlagPTPTimescale   = 1 << 3
	FlagTimeTraceable  = 1 << 4
	FlagFreqTraceable  = 1 << 5
)

// TimePropertiesDataSet is the TIME_PROPERTIES_DATA_SET of a clock.
type TimePropertiesDataSet struct {
	CurrentUTCOffset int16
	Flags            uint8
	TimeSource       uint8
}

// UTCOffsetValid tells whether CurrentUTCOffset can be trusted.
func (tp *TimePropertiesDataSet) UTCOffsetValid() bool {
	return tp.Flags&FlagUTCOffsetValid != 0
}

func parseTimePropertiesDataSet(b []byte) (*TimePropertiesDataSet, error) {
	if len(b) < 4 {
		return nil, shortData(MIDTimePropertiesDataSet, len(b), 4)
	}
	return &TimePropertiesDataSet{
		CurrentUTCOffset: int16(binary.BigEndian.Uint16(b)),
		Flags:            b[2],
		TimeSource:       b[3],
	}, nil
}

// PortDataSet is the PORT_DATA_SET of a port.
type PortDataSet struct {
	PortIdentity            PortIdentity
	PortState               PortState
	LogMinDelayReqInterval  int8
	PeerMeanPathDelay       int64
	LogAnnounceInterval     int8
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         int8
	DelayMechanism          uint8
	LogMinPdelayReqInterval int8
	VersionNumber           uint8
}

func parsePortDataSet(b []byte) (*PortDataSet, error) {
	if len(b) < 26 {
		return nil, shortData(MIDPortDataSet, len(b), 26)
	}
	pd := &PortDataSet{
		PortState:               PortState(b[10]),
		LogMinDelayReqInterval:  int8(b[11]),
		PeerMeanPathDelay:       int64(binary.BigEndian.Uint64(b[12:])),
		LogAnnounceInterval:     int8(b[20]),
		AnnounceReceiptTimeout:  b[21],
		LogSyncInterval:         int8(b[22]),
		DelayMechanism:          b[23],
		LogMinPdelayReqInterval: int8(b[24]),
		VersionNumber:           b[25] & 0x0f,
	}
	copy(pd.PortIdentity.ClockIdentity[:], b[:8])
	pd.PortIdentity.PortNumber = binary.BigEndian.Uint16(b[8:])
	return pd, nil
}

// TimeStatusNP is the linuxptp TIME_STATUS_NP dataset.
type TimeStatusNP struct {
	// MasterOffset is the offset from the master in nanoseconds.
	MasterOffset int64

	// IngressTime is when the last sync message was received.
	IngressTime int64

	CumulativeScaledRateOffset int32
	ScaledLastGmPhaseChange    int32
	GMTimeBaseIndicator        uint16
	GMPresent                  bool
	GMIdentity                 ClockIdentity
}

func parseTimeStatusNP(b []byte) (*TimeStatusNP, error) {
	if len(b) < 50 {
		return nil, shortData(MIDTimeStatusNP, len(b), 50)
	}
	ts := &TimeStatusNP{
		MasterOffset:               int64(binary.BigEndian.Uint64(b[0:])),
		IngressTime:                int64(binary.BigEndian.Uint64(b[8:])),
		CumulativeScaledRateOffset: int32(binary.BigEndian.Uint32(b[16:])),
		ScaledLastGmPhaseChange:    int32(binary.BigEndian.Uint32(b[20:])),
		GMTimeBaseIndicator:        binary.BigEndian.Uint16(b[24:]),
		// lastGmPhaseChange occupies [26:38]
		GMPresent: binary.BigEndian.Uint32(b[38:]) != 0,
	}
	copy(ts.GMIdentity[:], b[42:50])
	return ts, nil
}
