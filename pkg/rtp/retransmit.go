package rtp

import (
	"sync"

	"github.com/pion/rtp"
)

// retransmitWindow remembers the last N sent packets by sequence number so
// a NACK can be answered without the caller re-encoding, RFC 4588's RTX
// mechanism without a separate RTX SSRC/payload type (plain resend on the
// original stream, the simpler of the two schemes RFC 4588 allows).
type retransmitWindow struct {
	mu   sync.Mutex
	size int
	ring []*rtp.Packet
}

func newRetransmitWindow(size int) *retransmitWindow {
	if size <= 0 {
		size = DefaultRTXWindow
	}
	return &retransmitWindow{size: size, ring: make([]*rtp.Packet, size)}
}

func (w *retransmitWindow) put(seq uint16, pkt *rtp.Packet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ring[int(seq)%w.size] = pkt
}

func (w *retransmitWindow) get(seq uint16) (*rtp.Packet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pkt := w.ring[int(seq)%w.size]
	if pkt == nil || pkt.SequenceNumber != seq {
		return nil, false
	}
	return pkt, true
}
