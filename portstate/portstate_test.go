// SPDX-License-Identifier: GPL-3.0-or-later

package portstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/ptpmgmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clockID = ptpmgmt.ClockIdentity{0, 1, 2, 0xff, 0xfe, 3, 4, 5}

// fakeClient serves ports from a slice indexed by port number minus one.
type fakeClient struct {
	ports       []ptpmgmt.PortPropertiesNP
	defaultErr  error
	portErr     map[uint16]error
	offset      int64
	queried     []uint16
	statusCalls int
}

func (c *fakeClient) DefaultDataSet(ctx context.Context) (*ptpmgmt.DefaultDataSet, error) {
	if c.defaultErr != nil {
		return nil, c.defaultErr
	}
	return &ptpmgmt.DefaultDataSet{ClockIdentity: clockID, NumberPorts: uint16(len(c.ports))}, nil
}

func (c *fakeClient) PortPropertiesNP(ctx context.Context, port ptpmgmt.PortIdentity) (*ptpmgmt.PortPropertiesNP, error) {
	c.queried = append(c.queried, port.PortNumber)
	if err := c.portErr[port.PortNumber]; err != nil {
		return nil, err
	}
	if port.ClockIdentity != clockID {
		return nil, errors.New("wrong clock identity")
	}
	pp := c.ports[port.PortNumber-1]
	pp.PortIdentity = port
	return &pp, nil
}

func (c *fakeClient) TimeStatusNP(ctx context.Context) (*ptpmgmt.TimeStatusNP, error) {
	c.statusCalls++
	return &ptpmgmt.TimeStatusNP{MasterOffset: c.offset}, nil
}

// fakeLinks maps VLAN names to their parent.
type fakeLinks map[string]string

func (l fakeLinks) RealDevice(ctx context.Context, name string) (string, error) {
	if parent, found := l[name]; found {
		return parent, nil
	}
	if name == "missing" {
		return "", errclass.ErrResolution
	}
	return name, nil
}

func threePorts() *fakeClient {
	return &fakeClient{ports: []ptpmgmt.PortPropertiesNP{
		{Interface: "swp1", PortState: ptpmgmt.PortStateMaster},
		{Interface: "swp2.100", PortState: ptpmgmt.PortStateSlave},
		{Interface: "swp3", PortState: ptpmgmt.PortStateListening},
	}}
}

func TestResolverLookup(t *testing.T) {
	links := fakeLinks{"swp2.100": "swp2", "swp2.5": "swp2"}

	t.Run("first matching port wins", func(t *testing.T) {
		client := threePorts()
		r := &Resolver{Client: client, Links: links}

		port, err := r.Lookup(context.Background(), "swp2.5")
		require.NoError(t, err)
		assert.Equal(t, ptpmgmt.PortStateSlave, port.State)
		assert.Equal(t, uint16(2), port.Identity.PortNumber)
		assert.Equal(t, clockID, port.Identity.ClockIdentity)
		assert.Equal(t, "swp2", port.Interface)
		assert.Equal(t, []string{"swp1"}, port.Tried)
		assert.Equal(t, []uint16{1, 2}, client.queried)
	})

	t.Run("Resolve returns the state", func(t *testing.T) {
		r := &Resolver{Client: threePorts(), Links: links}
		state, err := r.Resolve(context.Background(), "swp3")
		require.NoError(t, err)
		assert.Equal(t, ptpmgmt.PortStateListening, state)
	})

	t.Run("no match lists every tried device in port order", func(t *testing.T) {
		r := &Resolver{Client: threePorts(), Links: links}

		_, err := r.Resolve(context.Background(), "eth0")
		require.Error(t, err)
		assert.ErrorIs(t, err, errclass.ErrResolution)

		var rerr *ResolutionError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, "eth0", rerr.Interface)
		assert.Equal(t, []string{"swp1", "swp2", "swp3"}, rerr.Tried)
		assert.Contains(t, err.Error(), "not found among 3 ports reported by ptp4l: swp1, swp2, swp3")
	})

	t.Run("zero ports", func(t *testing.T) {
		r := &Resolver{Client: &fakeClient{}, Links: links}
		_, err := r.Resolve(context.Background(), "eth0")
		var rerr *ResolutionError
		require.True(t, errors.As(err, &rerr))
		assert.Empty(t, rerr.Tried)
	})

	t.Run("failed query aborts the scan", func(t *testing.T) {
		client := threePorts()
		client.portErr = map[uint16]error{2: errclass.ErrQuery}
		r := &Resolver{Client: client, Links: links}

		_, err := r.Resolve(context.Background(), "swp3")
		assert.ErrorIs(t, err, errclass.ErrQuery)
		assert.Equal(t, []uint16{1, 2}, client.queried)
	})

	t.Run("failed clock query", func(t *testing.T) {
		client := threePorts()
		client.defaultErr = errclass.ErrQuery
		r := &Resolver{Client: client, Links: links}

		_, err := r.Resolve(context.Background(), "swp3")
		assert.ErrorIs(t, err, errclass.ErrQuery)
		assert.Empty(t, client.queried)
	})

	t.Run("failed target resolution", func(t *testing.T) {
		client := threePorts()
		r := &Resolver{Client: client, Links: links}

		_, err := r.Resolve(context.Background(), "missing")
		assert.ErrorIs(t, err, errclass.ErrResolution)
		assert.Empty(t, client.queried)
	})

	t.Run("failed port interface resolution aborts the scan", func(t *testing.T) {
		client := threePorts()
		client.ports[0].Interface = "missing"
		r := &Resolver{Client: client, Links: links}

		_, err := r.Resolve(context.Background(), "swp3")
		assert.ErrorIs(t, err, errclass.ErrResolution)
		assert.Equal(t, []uint16{1}, client.queried)
	})
}

func TestResolverCheckSynchronized(t *testing.T) {
	cases := []struct {
		name      string
		iface     string
		offset    int64
		maxOffset time.Duration
		wantErr   error
		wantCalls int
	}{{
		name:  "master port",
		iface: "swp1",
	}, {
		name:  "slave port without offset bound",
		iface: "swp2.100",
	}, {
		name:      "slave port within offset bound",
		iface:     "swp2.100",
		offset:    -50,
		maxOffset: 100 * time.Nanosecond,
		wantCalls: 1,
	}, {
		name:      "slave port beyond offset bound",
		iface:     "swp2.100",
		offset:    -150,
		maxOffset: 100 * time.Nanosecond,
		wantErr:   errclass.ErrNotSynchronized,
		wantCalls: 1,
	}, {
		name:    "listening port",
		iface:   "swp3",
		wantErr: errclass.ErrNotSynchronized,
	}, {
		name:    "unknown interface",
		iface:   "eth0",
		wantErr: errclass.ErrResolution,
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := threePorts()
			client.offset = tc.offset
			r := &Resolver{Client: client, Links: fakeLinks{"swp2.100": "swp2"}}

			err := r.CheckSynchronized(context.Background(), tc.iface, tc.maxOffset)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, client.statusCalls)
		})
	}
}
