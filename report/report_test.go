// SPDX-License-Identifier: GPL-3.0-or-later

package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rbmk-project/isochron/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Run("without timestamps", func(t *testing.T) {
		entry, err := ParseLine("[102.500000000] seqid 3")
		require.NoError(t, err)
		assert.Equal(t, Entry{Scheduled: 102_500_000_000, SeqID: 3}, entry)
	})

	t.Run("with timestamps", func(t *testing.T) {
		entry, err := ParseLine("[102.500000000] seqid 3 txtstamp 102.500000120 swts 102.500000300")
		require.NoError(t, err)
		assert.Equal(t, Entry{
			Scheduled:   102_500_000_000,
			SeqID:       3,
			Timestamped: true,
			Hardware:    102_500_000_120,
			Software:    102_500_000_300,
		}, entry)
	})

	for _, line := range []string{
		"",
		"102.500000000 seqid 3",
		"[102.5] seqid 3",
		"[102.500000000] seq 3",
		"[102.500000000] seqid 65536",
		"[102.500000000] seqid 3 txtstamp 1.000000000",
		"[102.500000000] seqid 3 foo 1.000000000 swts 1.000000000",
		"[102.500000000] seqid 3 rxtstamp 1.0 swts 1.000000000",
	} {
		t.Run("malformed "+line, func(t *testing.T) {
			_, err := ParseLine(line)
			assert.ErrorIs(t, err, errclass.ErrDecodeMalformed)
		})
	}
}

func TestParseLog(t *testing.T) {
	entries, err := ParseLog(strings.NewReader("[1.000000000] seqid 1\n\n[2.000000000] seqid 2\n"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = ParseLog(strings.NewReader("[1.000000000] seqid 1\ngarbage\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestJoin(t *testing.T) {
	sent := []Entry{
		{Scheduled: 1_000_000_000, SeqID: 1, Timestamped: true, Hardware: 1_000_000_010},
		{Scheduled: 2_000_000_000, SeqID: 2, Timestamped: true, Hardware: 2_000_000_010},
		{Scheduled: 3_000_000_000, SeqID: 3, Timestamped: true, Hardware: 3_000_000_010},
	}
	received := []Entry{
		{Scheduled: 3_000_000_000, SeqID: 3, Timestamped: true, Hardware: 3_000_000_500},
		{Scheduled: 1_000_000_000, SeqID: 1, Timestamped: true, Hardware: 1_000_000_300},
		// same seqid, another cycle after a wrap
		{Scheduled: 9_000_000_000, SeqID: 2, Timestamped: true, Hardware: 9_000_000_100},
	}

	frames, summary := Join(sent, received)
	require.Len(t, frames, 3)
	assert.Equal(t, int64(300), frames[0].PathDelay)
	assert.False(t, frames[1].Received)
	assert.Equal(t, int64(500), frames[2].PathDelay)
	assert.Equal(t, Summary{Sent: 3, Received: 2, Lost: 1, Min: 300, Max: 500, Mean: 400}, summary)

	var out bytes.Buffer
	require.NoError(t, Write(&out, frames, summary))
	assert.Equal(t, strings.Join([]string{
		"seqid 1 scheduled 1.000000000 rxtstamp 1.000000300 path delay 300 ns",
		"seqid 2 scheduled 2.000000000 lost",
		"seqid 3 scheduled 3.000000000 rxtstamp 3.000000500 path delay 500 ns",
		"sent 3 received 2 lost 1",
		"path delay min 300 ns max 500 ns mean 400 ns",
		"",
	}, "\n"), out.String())
}

func TestJoinWithoutTimestamps(t *testing.T) {
	sent := []Entry{{Scheduled: 1_000_000_000, SeqID: 1}}
	frames, summary := Join(sent, sent)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Received)
	assert.False(t, frames[0].HasDelay)
	assert.Equal(t, Summary{Sent: 1, Received: 1}, summary)
}
