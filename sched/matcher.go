// SPDX-License-Identifier: GPL-3.0-or-later

package sched

import "github.com/rbmk-project/isochron/txtstamp"

// Pending is a transmitted frame awaiting its timestamp.
type Pending struct {
	// Index is the zero-based transmission index on the socket.
	Index int64

	// SeqID is the sequence id stamped into the frame.
	SeqID uint16

	// Scheduled is the scheduled departure time.
	Scheduled int64
}

// Matcher correlates timestamp records with transmitted frames.
type Matcher interface {
	// Sent registers a transmitted frame.
	Sent(p Pending)

	// Match returns the frame a record belongs to. It returns false
	// for records not belonging to any outstanding frame.
	Match(rec *txtstamp.Record) (Pending, bool)
}

// FIFOMatcher assigns each record to the oldest outstanding frame.
//
// This trusts that the kernel delivers timestamps in transmission
// order and ignores the correlation key.
//
// The zero value is ready to use.
type FIFOMatcher struct {
	queue []Pending
}

var _ Matcher = &FIFOMatcher{}

// Sent implements [Matcher].
func (m *FIFOMatcher) Sent(p Pending) {
	m.queue = append(m.queue, p)
}

// Match implements [Matcher].
func (m *FIFOMatcher) Match(*txtstamp.Record) (Pending, bool) {
	if len(m.queue) <= 0 {
		return Pending{}, false
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p, true
}

// KeyMatcher matches records using the key assigned by the kernel
// when SOF_TIMESTAMPING_OPT_ID is set, which counts the frames sent
// on the socket starting from zero.
//
// Only the first record for each frame is matched. Records without
// a key or with an unknown key do not match.
//
// The zero value is ready to use.
type KeyMatcher struct {
	pending map[uint32]Pending
}

var _ Matcher = &KeyMatcher{}

// Sent implements [Matcher].
func (m *KeyMatcher) Sent(p Pending) {
	if m.pending == nil {
		m.pending = make(map[uint32]Pending)
	}
	m.pending[uint32(p.Index)] = p
}

// Match implements [Matcher].
func (m *KeyMatcher) Match(rec *txtstamp.Record) (Pending, bool) {
	if !rec.HasKey {
		return Pending{}, false
	}
	p, found := m.pending[rec.Key]
	if found {
		delete(m.pending, rec.Key)
	}
	return p, found
}

// NewMatcher returns the [Matcher] with the given name: "fifo"
// (or empty) for [*FIFOMatcher] and "key" for [*KeyMatcher].
func NewMatcher(name string) (Matcher, bool) {
	switch name {
	case "", "fifo":
		return &FIFOMatcher{}, true
	case "key":
		return &KeyMatcher{}, true
	default:
		return nil, false
	}
}
