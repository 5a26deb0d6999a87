package rtp

import (
	"sort"
	"sync"
	"time"

	"github.com/pion/rtcp"
)

// TWCCInterval is how often a TWCC receiver should emit feedback absent
// other triggers (draft-holmer-rmcat-transport-wide-cc-extensions §3.1
// recommends roughly every received-packet-count, in practice implementations
// use a fixed wall-clock cadence instead).
const TWCCInterval = 500 * time.Millisecond

// twccArrival is one observed packet, keyed by the transport-wide sequence
// number carried in the RFC 8888 / abs-send-time style header extension
// (the caller is responsible for extracting that from the RTP extension;
// this package only tracks bookkeeping once it has been extracted).
type twccArrival struct {
	seq     uint16
	arrival time.Time
	size    int
}

// TWCCReceiver accumulates per-packet arrival times keyed by transport-wide
// sequence number and periodically emits rtcp.TransportLayerCC feedback
// packets, splitting across multiple RTCP packets when a single one would
// not fit the given MTU.
type TWCCReceiver struct {
	mu sync.Mutex

	senderSSRC uint32
	mediaSSRC  uint32

	pending    []twccArrival
	fbPktCount uint8
	refTime    time.Time
}

// NewTWCCReceiver creates a feedback generator. senderSSRC identifies this
// endpoint in the feedback packets it produces; mediaSSRC is the SSRC of
// the stream being reported on.
func NewTWCCReceiver(senderSSRC, mediaSSRC uint32) *TWCCReceiver {
	return &TWCCReceiver{senderSSRC: senderSSRC, mediaSSRC: mediaSSRC}
}

// Observe records the arrival of one packet carrying transport-wide
// sequence number seq.
func (t *TWCCReceiver) Observe(seq uint16, arrival time.Time, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, twccArrival{seq: seq, arrival: arrival, size: size})
}

// maxPacketsPerFeedback keeps a single TransportLayerCC's packet chunks and
// receive deltas within a conservative MTU budget without requiring us to
// marshal speculatively to measure it.
const maxPacketsPerFeedback = 200

// Build drains pending observations into one or more feedback packets,
// ordered by sequence number, with monotonically increasing FbPktCount
// across calls. It returns nil if nothing has been observed since the last
// call.
func (t *TWCCReceiver) Build() []*rtcp.TransportLayerCC {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	var out []*rtcp.TransportLayerCC
	for start := 0; start < len(pending); start += maxPacketsPerFeedback {
		end := start + maxPacketsPerFeedback
		if end > len(pending) {
			end = len(pending)
		}
		out = append(out, t.buildOne(pending[start:end]))
	}
	return out
}

func (t *TWCCReceiver) buildOne(batch []twccArrival) *rtcp.TransportLayerCC {
	t.mu.Lock()
	if t.refTime.IsZero() {
		t.refTime = batch[0].arrival
	}
	refTime := t.refTime
	fbCount := t.fbPktCount
	t.fbPktCount++
	t.mu.Unlock()

	base := batch[0].seq
	count := uint16(batch[len(batch)-1].seq-base) + 1

	chunks := make([]rtcp.PacketStatusChunk, 0, len(batch))
	deltas := make([]*rtcp.RecvDelta, 0, len(batch))
	for _, a := range batch {
		chunks = append(chunks, &rtcp.RunLengthChunk{
			Type:               rtcp.TypeTCCRunLengthChunk,
			PacketStatusSymbol: rtcp.TypeTCCPacketReceivedSmallDelta,
			RunLength:          1,
		})
		deltaTicks := a.arrival.Sub(refTime)
		deltas = append(deltas, &rtcp.RecvDelta{
			Type:  rtcp.TypeTCCPacketReceivedSmallDelta,
			Delta: deltaTicks.Round(250 * time.Microsecond).Microseconds(), // RecvDelta.Delta is in microseconds; pion/rtcp encodes it in 250us units, so it is rounded to a multiple of 250us
		})
	}

	return &rtcp.TransportLayerCC{
		SenderSSRC:         t.senderSSRC,
		MediaSSRC:          t.mediaSSRC,
		BaseSequenceNumber: base,
		PacketStatusCount:  count,
		ReferenceTime:      uint32(refTime.UnixNano() / int64(64*time.Millisecond)),
		FbPktCount:         fbCount,
		PacketChunks:       chunks,
		RecvDeltas:         deltas,
	}
}

// TWCCSender schedules periodic feedback generation for a receiver,
// driven by the caller's own ticker (kept external so the session's
// context governs its lifetime rather than this type spawning a
// goroutine of its own).
type TWCCSender struct {
	receiver *TWCCReceiver
	last     time.Time
}

// NewTWCCSender wraps receiver with an interval gate.
func NewTWCCSender(receiver *TWCCReceiver) *TWCCSender {
	return &TWCCSender{receiver: receiver}
}

// Tick returns feedback packets to send if at least TWCCInterval has
// elapsed since the last call that returned packets.
func (s *TWCCSender) Tick(now time.Time) []*rtcp.TransportLayerCC {
	if !s.last.IsZero() && now.Sub(s.last) < TWCCInterval {
		return nil
	}
	fb := s.receiver.Build()
	if fb != nil {
		s.last = now
	}
	return fb
}
