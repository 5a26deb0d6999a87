package rtp

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// slotState is whether a jitter buffer ring slot holds a packet.
type slotState int

const (
	slotVacant slotState = iota
	slotOccupied
)

type slot struct {
	state   slotState
	packet  *rtp.Packet
	arrival time.Time
}

// JitterBuffer reorders inbound RTP packets by extended (wrap-aware)
// sequence number before surfacing them, smoothing network jitter at the
// cost of a bounded, configurable delay. Slots are addressed by extended
// sequence number modulo the ring size; a slot is Vacant until a packet
// for that position arrives, then Occupied until Pop or Timeout releases
// it.
//
// This mirrors the heap-based buffer this project's earlier media package
// used, but keyed by extended sequence number in a fixed ring instead of a
// timestamp-ordered heap, which makes duplicate/out-of-window detection
// O(1) rather than requiring a scan.
type JitterBuffer struct {
	mu sync.Mutex

	ring []slot
	size int

	haveBase       bool
	baseExt        int64 // extended sequence number of ring[0]
	nextPlayoutExt int64 // next extended sequence number Pop should release
	highestExt     int64 // highest extended sequence number seen so far

	playoutDelay time.Duration

	packetsReceived uint64
	packetsDropped  uint64
	packetsLate     uint64
}

// DefaultPlayoutDelay is how long Timeout waits past a slot's arrival
// before giving up on a missing predecessor and releasing it anyway.
const DefaultPlayoutDelay = 60 * time.Millisecond

// NewJitterBuffer creates a ring-buffered jitter buffer holding up to size
// packets.
func NewJitterBuffer(size int) *JitterBuffer {
	if size <= 0 {
		size = DefaultJitterBufferSize
	}
	return &JitterBuffer{
		ring:         make([]slot, size),
		size:         size,
		playoutDelay: DefaultPlayoutDelay,
	}
}

// extend picks the extended sequence number for a raw 16-bit seq that is
// closest to the highest extended sequence number seen so far, trying the
// current wrap count and its neighbours (RFC 3550 appendix A.1's approach
// to unwrapping RTP sequence numbers).
func (j *JitterBuffer) extend(seq uint16) int64 {
	if !j.haveBase {
		return int64(seq)
	}

	wrap := j.highestExt &^ 0xFFFF // highestExt with its low 16 bits cleared
	best := wrap | int64(seq)
	bestDist := abs64(best - j.highestExt)

	for _, candidate := range []int64{wrap - (1 << 16) | int64(seq), wrap + (1 << 16) | int64(seq)} {
		if d := abs64(candidate - j.highestExt); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Push inserts a received packet into the buffer, dropping it if it falls
// outside the current window (too old, or a duplicate).
func (j *JitterBuffer) Push(pkt *rtp.Packet, arrival time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := pkt.SequenceNumber
	j.packetsReceived++

	if !j.haveBase {
		j.haveBase = true
		j.baseExt = int64(seq)
		j.nextPlayoutExt = int64(seq)
		j.highestExt = int64(seq)
	}

	ext := j.extend(seq)
	if ext > j.highestExt {
		j.highestExt = ext
	}

	if ext < j.nextPlayoutExt {
		if j.nextPlayoutExt == j.baseExt && j.highestExt-ext < int64(j.size) {
			// Nothing released yet: an earlier packet arriving after a
			// later one moves the playout start back instead of being late.
			j.baseExt = ext
			j.nextPlayoutExt = ext
		} else {
			j.packetsLate++
			return // already played out or released via Timeout
		}
	}
	if ext-j.baseExt >= int64(j.size) {
		// Window exceeded: slide the base forward to make room, dropping
		// whatever is oldest rather than growing unbounded.
		newBase := ext - int64(j.size) + 1
		for e := j.baseExt; e < newBase && e < j.baseExt+int64(j.size); e++ {
			if idx := j.indexFor(e); j.ring[idx].state == slotOccupied {
				j.packetsDropped++
				j.ring[idx] = slot{}
			}
		}
		j.baseExt = newBase
		if j.nextPlayoutExt < j.baseExt {
			j.nextPlayoutExt = j.baseExt
		}
	}

	idx := j.indexFor(ext)
	j.ring[idx] = slot{state: slotOccupied, packet: pkt, arrival: arrival}
}

func (j *JitterBuffer) indexFor(ext int64) int {
	idx := ext % int64(j.size)
	if idx < 0 {
		idx += int64(j.size)
	}
	return int(idx)
}

// Pop releases the next in-order packet once its playout deadline
// (arrival + playoutDelay) has passed, advancing the playout cursor. It
// returns ok=false when the next slot is still Vacant, or when it's
// Occupied but hasn't sat in the buffer for playoutDelay yet — depth is
// the whole point of a jitter buffer, so an in-order packet is not
// distinguished from one still absorbing jitter.
func (j *JitterBuffer) Pop(now time.Time) (*rtp.Packet, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.popLocked(now)
}

func (j *JitterBuffer) popLocked(now time.Time) (*rtp.Packet, bool) {
	if !j.haveBase {
		return nil, false
	}
	idx := j.indexFor(j.nextPlayoutExt)
	s := j.ring[idx]
	if s.state != slotOccupied {
		return nil, false
	}
	if now.Sub(s.arrival) < j.playoutDelay {
		return nil, false
	}
	j.ring[idx] = slot{}
	j.nextPlayoutExt++
	return s.packet, true
}

// Timeout releases any slots whose playout deadline has elapsed even
// though the packet that should precede them (by sequence number) never
// arrived, preventing a single lost packet from stalling the buffer
// forever. Returns the packets released, in sequence order.
func (j *JitterBuffer) Timeout(now time.Time) []*rtp.Packet {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*rtp.Packet
	for {
		if !j.haveBase {
			break
		}
		idx := j.indexFor(j.nextPlayoutExt)
		s := j.ring[idx]
		if s.state == slotOccupied {
			if pkt, ok := j.popLocked(now); ok {
				out = append(out, pkt)
				continue
			}
			// Occupied but still absorbing jitter: nothing else to do
			// until it reaches its own playout deadline.
			break
		}

		// Next slot is vacant: look ahead for the earliest occupied slot
		// whose arrival is old enough that we give up waiting for the gap.
		next, found := j.earliestOccupiedLocked()
		if !found || now.Sub(next.arrival) < j.playoutDelay {
			break
		}
		j.packetsDropped++
		j.nextPlayoutExt++
	}
	return out
}

func (j *JitterBuffer) earliestOccupiedLocked() (slot, bool) {
	for ext := j.nextPlayoutExt; ext < j.baseExt+int64(j.size); ext++ {
		s := j.ring[j.indexFor(ext)]
		if s.state == slotOccupied {
			return s, true
		}
	}
	return slot{}, false
}

// Stats reports cumulative counters for diagnostics and Prometheus export.
type JitterBufferStats struct {
	Received uint64
	Dropped  uint64
	Late     uint64
}

func (j *JitterBuffer) Stats() JitterBufferStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JitterBufferStats{Received: j.packetsReceived, Dropped: j.packetsDropped, Late: j.packetsLate}
}
