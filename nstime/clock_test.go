//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package nstime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("")
	require.NoError(t, err)
	assert.Equal(t, int32(unix.CLOCK_REALTIME), c.ID)

	c, err = ParseClock("tai")
	require.NoError(t, err)
	assert.Equal(t, int32(unix.CLOCK_TAI), c.ID)

	_, err = ParseClock("sundial")
	assert.ErrorIs(t, err, ErrUnknownClock)
}

func TestClockNow(t *testing.T) {
	now, err := Clock{}.Now()
	require.NoError(t, err)
	assert.Greater(t, now, int64(0))
}
