//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

// Package vlan maps VLAN sub-interfaces to the physical device they sit on.
package vlan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/vishvananda/netlink"
)

// Resolver resolves VLAN interfaces to their real device.
//
// The zero value is ready to use and opens a netlink handle per call.
type Resolver struct {
	// LinkByName is the optional function to look up a link by name.
	LinkByName func(name string) (netlink.Link, error)

	// LinkByIndex is the optional function to look up a link by index.
	LinkByIndex func(index int) (netlink.Link, error)

	// Logger is the optional structured logger.
	Logger *slog.Logger
}

// RealDevice returns the name of the device underlying name. A VLAN link
// resolves to its parent, any other link resolves to itself.
func (r *Resolver) RealDevice(ctx context.Context, name string) (string, error) {
	byName, byIndex := r.LinkByName, r.LinkByIndex
	if byName == nil || byIndex == nil {
		handle, err := netlink.NewHandle()
		if err != nil {
			return "", fmt.Errorf("%w: netlink: %w", errclass.ErrResourceAcquisition, err)
		}
		defer handle.Close()
		if byName == nil {
			byName = handle.LinkByName
		}
		if byIndex == nil {
			byIndex = handle.LinkByIndex
		}
	}

	link, err := byName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errclass.ErrResolution, name, err)
	}
	if link.Type() != "vlan" {
		return name, nil
	}

	parent, err := byIndex(link.Attrs().ParentIndex)
	if err != nil {
		return "", fmt.Errorf("%w: parent of %s: %w", errclass.ErrResolution, name, err)
	}
	device := parent.Attrs().Name

	if r.Logger != nil {
		r.Logger.DebugContext(
			ctx,
			"vlanRealDevice",
			slog.String("interface", name),
			slog.String("realDevice", device),
		)
	}
	return device, nil
}
