// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package portstate finds the ptp4l port bound to a network interface
and reports its state.

The daemon knows its ports by the interface names it was configured
with, which may be VLAN sub-interfaces. Both the target and every port
interface are therefore compared by their underlying physical device.
*/
package portstate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/ptpmgmt"
)

// ManagementClient is the subset of [*ptpmgmt.Client] used here.
type ManagementClient interface {
	DefaultDataSet(ctx context.Context) (*ptpmgmt.DefaultDataSet, error)
	PortPropertiesNP(ctx context.Context, port ptpmgmt.PortIdentity) (*ptpmgmt.PortPropertiesNP, error)
	TimeStatusNP(ctx context.Context) (*ptpmgmt.TimeStatusNP, error)
}

// LinkResolver maps an interface name to its physical device.
type LinkResolver interface {
	RealDevice(ctx context.Context, name string) (string, error)
}

// Resolver resolves interfaces to ptp4l port states.
type Resolver struct {
	// Client is the mandatory management client.
	Client ManagementClient

	// Links is the mandatory link resolver.
	Links LinkResolver

	// Logger is the optional structured logger.
	Logger *slog.Logger

	// TimeNow is the optional function returning the current time.
	TimeNow func() time.Time
}

func (r *Resolver) timeNow() time.Time {
	if r.TimeNow != nil {
		return r.TimeNow()
	}
	return time.Now()
}

// ResolutionError is returned when no port matches the interface.
type ResolutionError struct {
	// Interface is the physical device we were looking for.
	Interface string

	// Tried contains the physical device of each port, in port order.
	Tried []string
}

// Error implements error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: interface %s not found among %d ports reported by ptp4l: %s",
		errclass.ErrResolution, e.Interface, len(e.Tried), strings.Join(e.Tried, ", "))
}

// Unwrap returns [errclass.ErrResolution].
func (e *ResolutionError) Unwrap() error {
	return errclass.ErrResolution
}

// Port is a port matched by [*Resolver.Lookup].
type Port struct {
	Identity ptpmgmt.PortIdentity
	State    ptpmgmt.PortState

	// Interface is the physical device of the port.
	Interface string

	// Tried contains the devices of the ports scanned before the match.
	Tried []string
}

// Resolve returns the state of the port bound to iface.
func (r *Resolver) Resolve(ctx context.Context, iface string) (ptpmgmt.PortState, error) {
	port, err := r.Lookup(ctx, iface)
	if err != nil {
		return 0, err
	}
	return port.State, nil
}

// Lookup returns the port bound to iface. The first matching port wins
// and any failed query aborts the scan.
func (r *Resolver) Lookup(ctx context.Context, iface string) (*Port, error) {
	t0 := r.timeNow()
	if r.Logger != nil {
		r.Logger.InfoContext(
			ctx,
			"portResolveStart",
			slog.String("interface", iface),
			slog.Time("t", t0),
		)
	}

	port, err := r.lookup(ctx, iface)

	if r.Logger != nil {
		var state string
		if port != nil {
			state = port.State.String()
		}
		r.Logger.InfoContext(
			ctx,
			"portResolveDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("interface", iface),
			slog.String("portState", state),
			slog.Time("t0", t0),
			slog.Time("t", r.timeNow()),
		)
	}
	return port, err
}

func (r *Resolver) lookup(ctx context.Context, iface string) (*Port, error) {
	target, err := r.Links.RealDevice(ctx, iface)
	if err != nil {
		return nil, err
	}

	ds, err := r.Client.DefaultDataSet(ctx)
	if err != nil {
		return nil, err
	}

	var tried []string
	for num := uint16(1); num <= ds.NumberPorts && num != 0; num++ {
		id := ptpmgmt.PortIdentity{ClockIdentity: ds.ClockIdentity, PortNumber: num}
		pp, err := r.Client.PortPropertiesNP(ctx, id)
		if err != nil {
			return nil, err
		}
		device, err := r.Links.RealDevice(ctx, pp.Interface)
		if err != nil {
			return nil, err
		}
		if r.Logger != nil {
			r.Logger.DebugContext(
				ctx,
				"portQueried",
				slog.String("portIdentity", id.String()),
				slog.String("portInterface", pp.Interface),
				slog.String("portState", pp.PortState.String()),
				slog.String("realDevice", device),
			)
		}
		if device == target {
			return &Port{Identity: id, State: pp.PortState, Interface: device, Tried: tried}, nil
		}
		tried = append(tried, device)
	}
	return nil, &ResolutionError{Interface: target, Tried: tried}
}

// CheckSynchronized fails with [errclass.ErrNotSynchronized] unless the
// port bound to iface is MASTER or SLAVE. For a SLAVE port and a positive
// maxOffset, the absolute offset from the master must not exceed maxOffset.
func (r *Resolver) CheckSynchronized(ctx context.Context, iface string, maxOffset time.Duration) error {
	state, err := r.Resolve(ctx, iface)
	if err != nil {
		return err
	}
	if !state.Synchronized() {
		return fmt.Errorf("%w: port of %s is in state %s", errclass.ErrNotSynchronized, iface, state)
	}
	if state != ptpmgmt.PortStateSlave || maxOffset <= 0 {
		return nil
	}
	ts, err := r.Client.TimeStatusNP(ctx)
	if err != nil {
		return err
	}
	offset := ts.MasterOffset
	if offset < 0 {
		offset = -offset
	}
	if offset > maxOffset.Nanoseconds() {
		return fmt.Errorf("%w: offset from master %d ns exceeds %d ns",
			errclass.ErrNotSynchronized, ts.MasterOffset, maxOffset.Nanoseconds())
	}
	return nil
}
