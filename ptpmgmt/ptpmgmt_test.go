// SPDX-License-Identifier: GPL-3.0-or-later

package ptpmgmt

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers management requests in memory.
type fakeDaemon struct {
	// answer returns the messages to queue in response to a request.
	answer func(req *Response) [][]byte

	requests []*Response
	queue    [][]byte
}

func (d *fakeDaemon) Write(b []byte) (int, error) {
	req, err := ParseResponse(b)
	if err != nil {
		return 0, err
	}
	d.requests = append(d.requests, req)
	d.queue = append(d.queue, d.answer(req)...)
	return len(b), nil
}

func (d *fakeDaemon) Read(b []byte) (int, error) {
	if len(d.queue) <= 0 {
		return 0, os.ErrDeadlineExceeded
	}
	msg := d.queue[0]
	d.queue = d.queue[1:]
	return copy(b, msg), nil
}

// respond builds a RESPONSE for the given request.
func respond(t *testing.T, req *Response, data []byte) []byte {
	msg, err := (&Request{
		Sequence: req.Sequence,
		Source:   PortIdentity{ClockIdentity: ClockIdentity{1, 2, 3, 4, 5, 6, 7, 8}, PortNumber: 1},
		Target:   req.Source,
		Action:   ActionResponse,
		ID:       req.ID,
		Data:     data,
	}).MarshalBinary()
	require.NoError(t, err)
	return msg
}

// respondStatus builds a RESPONSE carrying a MANAGEMENT_ERROR_STATUS TLV.
func respondStatus(t *testing.T, req *Response, code uint16, text string) []byte {
	msg := respond(t, req, nil)
	msg = msg[:48]
	value := make([]byte, 8, 9+len(text))
	binary.BigEndian.PutUint16(value, code)
	binary.BigEndian.PutUint16(value[2:], uint16(req.ID))
	value = append(value, byte(len(text)))
	value = append(value, text...)
	tlv := make([]byte, 4)
	binary.BigEndian.PutUint16(tlv, tlvManagementErrorStatus)
	binary.BigEndian.PutUint16(tlv[2:], uint16(len(value)))
	msg = append(msg, tlv...)
	msg = append(msg, value...)
	binary.BigEndian.PutUint16(msg[2:], uint16(len(msg)))
	return msg
}

func TestRequestMarshalBinary(t *testing.T) {
	req := &Request{
		Sequence: 0x1234,
		Domain:   24,
		Source:   PortIdentity{ClockIdentity: ClockIdentity{0, 0, 0, 0, 0, 0, 0xab, 0xcd}, PortNumber: 7},
		Target:   AllPorts,
		Action:   ActionGet,
		ID:       MIDDefaultDataSet,
	}
	msg, err := req.MarshalBinary()
	require.NoError(t, err)

	assert.Len(t, msg, 54+20)
	assert.Equal(t, byte(0x0d), msg[0])
	assert.Equal(t, byte(0x02), msg[1])
	assert.Equal(t, uint16(len(msg)), binary.BigEndian.Uint16(msg[2:]))
	assert.Equal(t, byte(24), msg[4])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xab, 0xcd, 0, 7}, msg[20:30])
	assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(msg[30:]))
	assert.Equal(t, byte(0x7f), msg[33])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, msg[34:44])
	assert.Equal(t, byte(ActionGet), msg[46])
	assert.Equal(t, uint16(tlvManagement), binary.BigEndian.Uint16(msg[48:]))
	assert.Equal(t, uint16(22), binary.BigEndian.Uint16(msg[50:]))
	assert.Equal(t, uint16(MIDDefaultDataSet), binary.BigEndian.Uint16(msg[52:]))
	assert.Equal(t, make([]byte, 20), msg[54:])
}

func TestParseResponse(t *testing.T) {
	valid := respond(t, &Response{Sequence: 9, ID: MIDTimePropertiesDataSet}, []byte{0, 37, FlagUTCOffsetValid, 0xa0})

	t.Run("valid response", func(t *testing.T) {
		resp, err := ParseResponse(valid)
		require.NoError(t, err)
		assert.Equal(t, uint16(9), resp.Sequence)
		assert.Equal(t, ActionResponse, resp.Action)
		assert.Equal(t, MIDTimePropertiesDataSet, resp.ID)
		assert.Equal(t, []byte{0, 37, FlagUTCOffsetValid, 0xa0}, resp.Data)
		assert.Nil(t, resp.Status)
	})

	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{{
		name:   "short message",
		mutate: func(b []byte) []byte { return b[:20] },
	}, {
		name: "not a management message",
		mutate: func(b []byte) []byte {
			b[0] = 0x00
			return b
		},
	}, {
		name: "message length beyond buffer",
		mutate: func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[2:], uint16(len(b)+1))
			return b
		},
	}, {
		name: "TLV length beyond buffer",
		mutate: func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[50:], 100)
			return b
		},
	}, {
		name: "unknown TLV type",
		mutate: func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[48:], 0x7fff)
			return b
		},
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.mutate(append([]byte{}, valid...))
			resp, err := ParseResponse(msg)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, errclass.ErrQuery)
		})
	}
}

func TestClient(t *testing.T) {
	clockID := ClockIdentity{0x00, 0x11, 0x22, 0xff, 0xfe, 0x33, 0x44, 0x55}

	t.Run("DefaultDataSet", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			data := make([]byte, 20)
			data[0] = 0x01
			binary.BigEndian.PutUint16(data[2:], 3)
			data[4] = 128
			data[5] = 248
			data[9] = 127
			copy(data[10:18], clockID[:])
			data[18] = 0
			return [][]byte{respond(t, req, data)}
		}}
		client := NewClient(daemon, 0)

		ds, err := client.DefaultDataSet(context.Background())
		require.NoError(t, err)
		assert.True(t, ds.TwoStepFlag)
		assert.Equal(t, uint16(3), ds.NumberPorts)
		assert.Equal(t, uint8(128), ds.Priority1)
		assert.Equal(t, uint8(248), ds.ClockQuality.ClockClass)
		assert.Equal(t, clockID, ds.ClockIdentity)
		assert.Equal(t, "001122.fffe.334455", ds.ClockIdentity.String())

		require.Len(t, daemon.requests, 1)
		assert.Equal(t, AllPorts, daemon.requests[0].Target)
		assert.Equal(t, ActionGet, daemon.requests[0].Action)
	})

	t.Run("PortPropertiesNP", func(t *testing.T) {
		port := PortIdentity{ClockIdentity: clockID, PortNumber: 2}
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			data := make([]byte, 12)
			copy(data, clockID[:])
			binary.BigEndian.PutUint16(data[8:], 2)
			data[10] = byte(PortStateSlave)
			data[11] = 1
			data = append(data, 4)
			data = append(data, "eth1"...)
			return [][]byte{respond(t, req, data)}
		}}
		client := NewClient(daemon, 0)

		pp, err := client.PortPropertiesNP(context.Background(), port)
		require.NoError(t, err)
		assert.Equal(t, port, pp.PortIdentity)
		assert.Equal(t, PortStateSlave, pp.PortState)
		assert.Equal(t, "eth1", pp.Interface)
	})

	t.Run("TimePropertiesDataSet", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			return [][]byte{respond(t, req, []byte{0, 37, FlagUTCOffsetValid | FlagPTPTimescale, 0x20})}
		}}
		client := NewClient(daemon, 0)

		tp, err := client.TimePropertiesDataSet(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int16(37), tp.CurrentUTCOffset)
		assert.True(t, tp.UTCOffsetValid())
		assert.Equal(t, uint8(0x20), tp.TimeSource)
	})

	t.Run("TimeStatusNP", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			data := make([]byte, 50)
			binary.BigEndian.PutUint64(data, uint64(0xffffffffffffff9c)) // -100
			binary.BigEndian.PutUint32(data[38:], 1)
			copy(data[42:], clockID[:])
			return [][]byte{respond(t, req, data)}
		}}
		client := NewClient(daemon, 0)

		ts, err := client.TimeStatusNP(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(-100), ts.MasterOffset)
		assert.True(t, ts.GMPresent)
		assert.Equal(t, clockID, ts.GMIdentity)
	})

	t.Run("responses with another sequence id are skipped", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			stale := *req
			stale.Sequence--
			return [][]byte{
				respond(t, &stale, []byte{0, 10, 0, 0}),
				respond(t, req, []byte{0, 37, 0, 0}),
			}
		}}
		client := NewClient(daemon, 0)

		tp, err := client.TimePropertiesDataSet(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int16(37), tp.CurrentUTCOffset)
	})

	t.Run("sequence ids increase", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			return [][]byte{respond(t, req, []byte{0, 37, 0, 0})}
		}}
		client := NewClient(daemon, 0)

		for range 3 {
			_, err := client.TimePropertiesDataSet(context.Background())
			require.NoError(t, err)
		}
		require.Len(t, daemon.requests, 3)
		assert.Equal(t, uint16(1), daemon.requests[0].Sequence)
		assert.Equal(t, uint16(3), daemon.requests[2].Sequence)
	})

	t.Run("MANAGEMENT_ERROR_STATUS", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			return [][]byte{respondStatus(t, req, 0x0002, "unknown")}
		}}
		client := NewClient(daemon, 0)

		_, err := client.TimeStatusNP(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errclass.ErrQuery)

		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, uint16(0x0002), status.Code)
		assert.Equal(t, MIDTimeStatusNP, status.ID)
		assert.Equal(t, "unknown", status.Text)
		assert.Contains(t, err.Error(), "NO_SUCH_ID for TIME_STATUS_NP")
	})

	t.Run("short payload", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte {
			return [][]byte{respond(t, req, []byte{0, 3})}
		}}
		client := NewClient(daemon, 0)

		_, err := client.DefaultDataSet(context.Background())
		assert.ErrorIs(t, err, errclass.ErrQuery)
	})

	t.Run("no response", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte { return nil }}
		client := NewClient(daemon, 0)

		_, err := client.DefaultDataSet(context.Background())
		assert.ErrorIs(t, err, errclass.ErrQuery)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("canceled context", func(t *testing.T) {
		daemon := &fakeDaemon{answer: func(req *Response) [][]byte { return nil }}
		client := NewClient(daemon, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.DefaultDataSet(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPortState(t *testing.T) {
	assert.Equal(t, "SLAVE", PortStateSlave.String())
	assert.Equal(t, "UNKNOWN(42)", PortState(42).String())
	assert.True(t, PortStateMaster.Synchronized())
	assert.True(t, PortStateSlave.Synchronized())
	assert.False(t, PortStateUncalibrated.Synchronized())
}

func TestManagementIDString(t *testing.T) {
	assert.Equal(t, "PORT_PROPERTIES_NP", MIDPortPropertiesNP.String())
	assert.Equal(t, "0x1234", ManagementID(0x1234).String())
}
