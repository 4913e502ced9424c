// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import (
	"errors"
	"net"
	"testing"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/isochron/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dstAddr = runtimex.Try1(net.ParseMAC("01:80:c2:00:00:0e"))
	srcAddr = runtimex.Try1(net.ParseMAC("00:04:9f:05:de:af"))
)

func TestBuilderBuild(t *testing.T) {
	t.Run("layout", func(t *testing.T) {
		b := &Builder{}
		f, err := b.Build(Template{Dst: dstAddr, Src: srcAddr, Priority: 5, VLANID: 100, Length: 40})
		require.NoError(t, err)
		data := f.Bytes()
		require.Len(t, data, 40)
		assert.Equal(t, []byte(dstAddr), data[0:6])
		assert.Equal(t, []byte(srcAddr), data[6:12])
		assert.Equal(t, []byte{0x81, 0x00}, data[12:14])
		assert.Equal(t, []byte{0xa0, 0x64}, data[14:16]) // 5<<13 | 100
		assert.Equal(t, []byte{0x22, 0xf0}, data[16:18])
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data[18:22])
		// the filler phase is relative to the end of the header
		for idx := MinLen; idx < len(data); idx++ {
			assert.Equal(t, filler[(idx-HeaderLen)%len(filler)], data[idx], "byte %d", idx)
		}
		assert.Equal(t, []byte{0xbe, 0xef, 0xde, 0xad}, data[36:40])
	})

	t.Run("source address lookup", func(t *testing.T) {
		var looked string
		b := &Builder{HardwareAddrFunc: func(ifname string) (net.HardwareAddr, error) {
			looked = ifname
			return srcAddr, nil
		}}
		f, err := b.Build(Template{Interface: "eth0", Dst: dstAddr, Src: net.HardwareAddr{0, 0, 0, 0, 0, 0}, Length: MinLen})
		require.NoError(t, err)
		assert.Equal(t, "eth0", looked)
		assert.Equal(t, []byte(srcAddr), f.Bytes()[6:12])
	})

	t.Run("lookup failure", func(t *testing.T) {
		expected := errors.New("mocked error")
		b := &Builder{HardwareAddrFunc: func(string) (net.HardwareAddr, error) {
			return nil, expected
		}}
		_, err := b.Build(Template{Interface: "eth0", Dst: dstAddr, Length: MinLen})
		assert.ErrorIs(t, err, expected)
		assert.ErrorIs(t, err, errclass.ErrResourceAcquisition)
	})

	t.Run("invalid templates", func(t *testing.T) {
		b := &Builder{}
		for _, tmpl := range []Template{
			{Dst: dstAddr, Src: srcAddr, Length: MinLen - 1},
			{Dst: dstAddr, Src: srcAddr, Length: MaxLen + 1},
			{Dst: dstAddr[:3], Src: srcAddr, Length: 64},
		} {
			_, err := b.Build(tmpl)
			assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
		}
	})
}

func TestFrameStamp(t *testing.T) {
	b := &Builder{}
	f, err := b.Build(Template{Dst: dstAddr, Src: srcAddr, VLANID: 1, Length: 64})
	require.NoError(t, err)
	before := append([]byte(nil), f.Bytes()...)

	f.Stamp(0x0102030405060708, 0xabcd)
	data := f.Bytes()
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data[18:26])
	assert.Equal(t, []byte{0xab, 0xcd}, data[26:28])
	assert.Equal(t, int64(0x0102030405060708), f.TxTime())
	assert.Equal(t, uint16(0xabcd), f.SeqID())

	// only the dynamic fields change
	assert.Equal(t, before[:18], data[:18])
	assert.Equal(t, before[28:], data[28:])
}

func TestParse(t *testing.T) {
	b := &Builder{}
	f, err := b.Build(Template{Dst: dstAddr, Src: srcAddr, Priority: 3, VLANID: 42, Length: 64})
	require.NoError(t, err)
	f.Stamp(1_500_000_000, 7)

	t.Run("tagged", func(t *testing.T) {
		hdr, err := Parse(f.Bytes())
		require.NoError(t, err)
		assert.True(t, hdr.Tagged)
		assert.Equal(t, uint8(3), hdr.Priority)
		assert.Equal(t, uint16(42), hdr.VLANID)
		assert.Equal(t, int64(1_500_000_000), hdr.TxTime)
		assert.Equal(t, uint16(7), hdr.SeqID)
		assert.Equal(t, srcAddr, hdr.Src)
	})

	t.Run("tag stripped", func(t *testing.T) {
		data := append([]byte(nil), f.Bytes()[:12]...)
		data = append(data, 0x22, 0xf0)
		data = append(data, f.Bytes()[18:]...)
		hdr, err := Parse(data)
		require.NoError(t, err)
		assert.False(t, hdr.Tagged)
		assert.Equal(t, uint16(7), hdr.SeqID)
	})

	t.Run("other ethertype", func(t *testing.T) {
		data := append([]byte(nil), f.Bytes()...)
		data[16], data[17] = 0x08, 0x00
		_, err := Parse(data)
		assert.ErrorIs(t, err, ErrNotTSN)
	})

	t.Run("short", func(t *testing.T) {
		_, err := Parse(f.Bytes()[:24])
		assert.ErrorIs(t, err, errclass.ErrDecodeMalformed)
		_, err = Parse(f.Bytes()[:8])
		assert.ErrorIs(t, err, errclass.ErrDecodeMalformed)
	})
}
