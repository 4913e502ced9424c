// SPDX-License-Identifier: GPL-3.0-or-later

// Package closepool tears down the resources of a run, such as
// sockets, the management connection and the metrics server, in
// the reverse order of their acquisition.
package closepool

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// closerFunc adapts a named function to [io.Closer].
type closerFunc struct {
	name string
	fn   func() error
}

// Close implements [io.Closer].
func (c closerFunc) Close() error {
	if err := c.fn(); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// Pool allows pooling a set of [io.Closer].
//
// The zero value is ready to use.
type Pool struct {
	// handles contains the [io.Closer] to close.
	handles []io.Closer

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [io.Closer] to the pool.
func (p *Pool) Add(conn io.Closer) {
	p.mu.Lock()
	p.handles = append(p.handles, conn)
	p.mu.Unlock()
}

// AddFunc adds a teardown function to the pool. Its error, if any,
// is prefixed with name.
func (p *Pool) AddFunc(name string, fn func() error) {
	p.Add(closerFunc{name: name, fn: fn})
}

// Len returns the number of resources in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes all the [io.Closer] inside the pool iterating in
// backward order, so a resource acquired later, and possibly using an
// earlier one, goes first. The returned error is the join of all the
// errors that occurred when closing.
func (p *Pool) Close() error {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	var errv []error
	for _, handle := range slices.Backward(handles) {
		if err := handle.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
