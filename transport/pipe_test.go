package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	opened  []uint64
	closed  int
	packets []Packet
	resets  [][]uint16
	limits  []uint16
}

func (s *recordingSink) Opened(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, n)
}

func (s *recordingSink) Closed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSink) Received(p Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, p)
}

func (s *recordingSink) StreamsReset(ids []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, ids)
}

func (s *recordingSink) StreamLimitRaised(limit uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
}

func (s *recordingSink) Writable() {}

func TestPipe(t *testing.T) {
	a, b := Pipe(16, 0)
	sa, sb := &recordingSink{}, &recordingSink{}

	require.ErrorIs(t, a.Send(Packet{}), ErrNotOpen)

	pa, err := a.Attach(sa)
	require.NoError(t, err)
	assert.True(t, pa.Client)
	assert.Equal(t, uint16(16), pa.StreamLimit)
	assert.Empty(t, sa.opened)

	pb, err := b.Attach(sb)
	require.NoError(t, err)
	assert.False(t, pb.Client)
	assert.Equal(t, []uint64{DefaultMaxMessageSize}, sa.opened)
	assert.Equal(t, []uint64{DefaultMaxMessageSize}, sb.opened)

	data := []byte("hello")
	require.NoError(t, a.Send(Packet{Stream: 2, PPID: PPIDString, Data: data}))
	data[0] = 'j'
	require.Len(t, sb.packets, 1)
	assert.Equal(t, "hello", string(sb.packets[0].Data))

	require.NoError(t, b.ResetStreams([]uint16{1, 3}))
	assert.Equal(t, [][]uint16{{1, 3}}, sa.resets)

	require.NoError(t, a.RaiseStreamLimit(32))
	require.NoError(t, a.RaiseStreamLimit(8))
	assert.Equal(t, []uint16{32}, sa.limits)
	assert.Equal(t, []uint16{32}, sb.limits)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, sa.closed)
	assert.Equal(t, 1, sb.closed)
	assert.ErrorIs(t, b.Send(Packet{}), ErrNotOpen)
}

func TestPPID(t *testing.T) {
	tests := []struct {
		ppid    PPID
		data    bool
		partial bool
		binary  bool
		empty   bool
	}{
		{PPIDControl, false, false, false, false},
		{PPIDString, true, false, false, false},
		{PPIDStringPartial, true, true, false, false},
		{PPIDStringEmpty, true, false, false, true},
		{PPIDBinary, true, false, true, false},
		{PPIDBinaryPartial, true, true, true, false},
		{PPIDBinaryEmpty, true, false, true, true},
		{PPID(99), false, false, false, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.data, test.ppid.IsData(), test.ppid.String())
		assert.Equal(t, test.partial, test.ppid.IsPartial(), test.ppid.String())
		assert.Equal(t, test.binary, test.ppid.IsBinary(), test.ppid.String())
		assert.Equal(t, test.empty, test.ppid.IsEmpty(), test.ppid.String())
	}
}
