package mux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrium/rtcmux/transport"
)

func TestSegment(t *testing.T) {
	tests := []struct {
		size   int
		n      int
		binary bool
		want   []transport.PPID
	}{
		{1400, 5000, true, []transport.PPID{
			transport.PPIDBinaryPartial, transport.PPIDBinaryPartial, transport.PPIDBinaryPartial, transport.PPIDBinary,
		}},
		{1400, 1400, true, []transport.PPID{transport.PPIDBinary}},
		{1400, 1401, false, []transport.PPID{transport.PPIDStringPartial, transport.PPIDString}},
		{1400, 0, false, []transport.PPID{transport.PPIDStringEmpty}},
		{1400, 0, true, []transport.PPID{transport.PPIDBinaryEmpty}},
	}
	for _, test := range tests {
		frags := segment(make([]byte, test.n), test.binary, test.size)
		var got []transport.PPID
		for _, f := range frags {
			got = append(got, f.ppid)
			assert.LessOrEqual(t, len(f.data), test.size)
		}
		assert.Equal(t, test.want, got, "n=%d", test.n)
	}
}

func TestReassemblyRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 7, 64, 1000, 4097} {
		for _, m := range []int{1, 3, 64, 1400, 5000} {
			msg := make([]byte, n)
			for i := range msg {
				msg[i] = byte(i * 7)
			}
			var r Reassembler
			var got []Message
			for _, f := range segment(msg, n%2 == 0, m) {
				out, ok, err := r.Push(f.ppid, f.data)
				require.NoError(t, err)
				if ok {
					got = append(got, out)
				}
			}
			require.Len(t, got, 1, "n=%d m=%d", n, m)
			assert.True(t, bytes.Equal(msg, got[0].Data), "n=%d m=%d", n, m)
			assert.Equal(t, n%2 == 0, got[0].Binary)
			assert.Zero(t, r.Buffered())
		}
	}
}

func TestReassemblyKindChange(t *testing.T) {
	var r Reassembler
	_, ok, err := r.Push(transport.PPIDStringPartial, []byte("abc"))
	require.NoError(t, err)
	require.False(t, ok)

	msg, ok, err := r.Push(transport.PPIDBinary, []byte("xyz"))
	assert.ErrorIs(t, err, ErrKindChanged)
	require.True(t, ok)
	assert.Equal(t, "xyz", string(msg.Data))
	assert.True(t, msg.Binary)

	_, ok, err = r.Push(transport.PPIDBinaryPartial, []byte("12"))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = r.Push(transport.PPIDStringPartial, []byte("34"))
	assert.ErrorIs(t, err, ErrKindChanged)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Buffered())
}

func TestReassemblyMessageCap(t *testing.T) {
	r := Reassembler{MaxMessageSize: 4}
	_, _, err := r.Push(transport.PPIDBinaryPartial, []byte("abc"))
	require.NoError(t, err)
	_, ok, err := r.Push(transport.PPIDBinaryPartial, []byte("de"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, ok)
	assert.Zero(t, r.Buffered())

	_, ok, err = r.Push(transport.PPIDBinaryPartial, []byte("f"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = r.Push(transport.PPIDBinary, []byte("g"))
	require.NoError(t, err)
	assert.False(t, ok, "tail of a dropped message is discarded")

	msg, ok, err := r.Push(transport.PPIDBinary, []byte("ok"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ok", string(msg.Data))

	_, ok, err = r.Push(transport.PPIDString, []byte("toolong"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, ok)
}

func TestReassemblyEmpty(t *testing.T) {
	var r Reassembler
	msg, ok, err := r.Push(transport.PPIDBinaryEmpty, []byte{0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, msg.Data)
	assert.True(t, msg.Binary)
}
