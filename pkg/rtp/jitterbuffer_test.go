package rtp

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func packetWithSeq(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Timestamp: 100}}
}

// TestJitterBufferHoldsPacketForFullPlayoutDelay is the seed-test-6 case:
// pushing (seq=1, ts=100) at wall +100ms with a 50ms depth must not pop
// until +150ms.
func TestJitterBufferHoldsPacketForFullPlayoutDelay(t *testing.T) {
	jb := NewJitterBuffer(16)
	jb.playoutDelay = 50 * time.Millisecond

	base := time.Unix(0, 0)
	arrival := base.Add(100 * time.Millisecond)
	jb.Push(packetWithSeq(1), arrival)

	_, ok := jb.Pop(arrival)
	require.False(t, ok, "must not release before arrival+depth")

	_, ok = jb.Pop(arrival.Add(49 * time.Millisecond))
	require.False(t, ok, "must not release 1ms before the deadline")

	pkt, ok := jb.Pop(arrival.Add(50 * time.Millisecond))
	require.True(t, ok, "must release once now >= arrival+depth")
	require.EqualValues(t, 1, pkt.SequenceNumber)
}

func TestJitterBufferReordersWithinWindow(t *testing.T) {
	jb := NewJitterBuffer(16)
	jb.playoutDelay = 10 * time.Millisecond

	base := time.Unix(0, 0)
	jb.Push(packetWithSeq(2), base)
	jb.Push(packetWithSeq(1), base)

	// Nothing is ready until the delay elapses for the in-order packet.
	_, ok := jb.Pop(base)
	require.False(t, ok)

	now := base.Add(10 * time.Millisecond)
	first, ok := jb.Pop(now)
	require.True(t, ok)
	require.EqualValues(t, 1, first.SequenceNumber)

	second, ok := jb.Pop(now)
	require.True(t, ok)
	require.EqualValues(t, 2, second.SequenceNumber)

	_, ok = jb.Pop(now)
	require.False(t, ok)
}

func TestJitterBufferTimeoutSkipsPermanentGap(t *testing.T) {
	jb := NewJitterBuffer(16)
	jb.playoutDelay = 20 * time.Millisecond

	base := time.Unix(0, 0)
	// seq 0 arrives and plays out; seq 1 never arrives; seq 2 does.
	jb.Push(packetWithSeq(0), base.Add(-20*time.Millisecond))
	first, ok := jb.Pop(base)
	require.True(t, ok)
	require.EqualValues(t, 0, first.SequenceNumber)
	jb.Push(packetWithSeq(2), base)

	// Before the gap's deadline, Timeout releases nothing.
	released := jb.Timeout(base.Add(10 * time.Millisecond))
	require.Empty(t, released)

	// Once seq 2 has waited out the full playout delay, Timeout gives up on
	// seq 1 and releases seq 2.
	released = jb.Timeout(base.Add(20 * time.Millisecond))
	require.Len(t, released, 1)
	require.EqualValues(t, 2, released[0].SequenceNumber)

	stats := jb.Stats()
	require.EqualValues(t, 1, stats.Dropped)
}

func TestJitterBufferDropsPacketsOutsideWindow(t *testing.T) {
	jb := NewJitterBuffer(4)
	jb.playoutDelay = 0

	base := time.Unix(0, 0)
	for seq := uint16(0); seq < 4; seq++ {
		jb.Push(packetWithSeq(seq), base)
	}
	// Pushing seq 10 slides the window forward, dropping old unreleased slots.
	jb.Push(packetWithSeq(10), base)

	stats := jb.Stats()
	require.Greater(t, stats.Dropped, uint64(0))
}

func TestJitterBufferIgnoresLatePacketAfterPlayout(t *testing.T) {
	jb := NewJitterBuffer(16)
	jb.playoutDelay = 0

	base := time.Unix(0, 0)
	jb.Push(packetWithSeq(1), base)
	_, ok := jb.Pop(base)
	require.True(t, ok)

	// seq 1 arriving again (duplicate/retransmit after its slot already
	// played out) must be counted as late, not re-buffered.
	jb.Push(packetWithSeq(1), base)
	stats := jb.Stats()
	require.EqualValues(t, 1, stats.Late)
}
