// Package rtp implements the per-call RTP/RTCP session: outbound
// sequencing and timestamping, a retransmission window for NACK-driven
// resends, an inbound jitter buffer, and RTCP sender/receiver report
// scheduling. It is grounded on this project's earlier RTPSession/
// RTCPSession generation but delegates wire codec work to pion/rtp and
// pion/rtcp instead of hand-rolling it.
package rtp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// Writer is the minimal contract Session needs from whatever protects and
// sends datagrams on the wire (an SRTP session, a plain UDP socket, or a
// test double). pkg/rtptransport's Connection satisfies this.
type Writer interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Config parameterises a new Session.
type Config struct {
	SSRC        uint32 // 0 generates a random SSRC
	PayloadType uint8
	ClockRate   uint32

	Writer Writer

	// JitterBuffer sizes the inbound reorder window; zero selects
	// DefaultJitterBufferSize.
	JitterBufferSize int

	// PlayoutDelay is how long a received packet is held before Pop
	// releases it, absorbing network jitter; zero selects
	// DefaultPlayoutDelay. Corresponds to the jitter_buffer_depth_ms
	// config option.
	PlayoutDelay time.Duration

	// RTXWindow bounds how many recently sent packets are kept for NACK
	// retransmission; zero selects DefaultRTXWindow.
	RTXWindow int

	OnPacket func(pkt *rtp.Packet)
}

const (
	DefaultJitterBufferSize = 256
	DefaultRTXWindow        = 512
)

// Session is one direction pair (send+receive) of RTP/RTCP traffic for a
// single SSRC pair, owned by the SDP session's Media entry it backs.
type Session struct {
	ssrc        uint32
	payloadType uint8
	clockRate   uint32
	writer      Writer

	seq  uint32 // atomic, next outbound sequence number
	ts   uint32 // atomic, current outbound RTP timestamp base

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64

	rtx *retransmitWindow
	jb  *JitterBuffer

	mu       sync.RWMutex
	onPacket func(pkt *rtp.Packet)

	stats *StatsCollector

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Session. Call Close to release its background state once
// the owning Media is torn down.
func New(cfg Config) (*Session, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("rtp: session requires a Writer")
	}
	if cfg.ClockRate == 0 {
		return nil, fmt.Errorf("rtp: session requires a non-zero ClockRate")
	}

	ssrc := cfg.SSRC
	if ssrc == 0 {
		var err error
		ssrc, err = randomUint32()
		if err != nil {
			return nil, err
		}
	}

	jbSize := cfg.JitterBufferSize
	if jbSize == 0 {
		jbSize = DefaultJitterBufferSize
	}
	jb := NewJitterBuffer(jbSize)
	if cfg.PlayoutDelay > 0 {
		jb.playoutDelay = cfg.PlayoutDelay
	}
	rtxSize := cfg.RTXWindow
	if rtxSize == 0 {
		rtxSize = DefaultRTXWindow
	}

	initSeq, err := randomUint16()
	if err != nil {
		return nil, err
	}
	initTS, err := randomUint32()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ssrc:        ssrc,
		payloadType: cfg.PayloadType,
		clockRate:   cfg.ClockRate,
		writer:      cfg.Writer,
		seq:         uint32(initSeq),
		ts:          initTS,
		rtx:         newRetransmitWindow(rtxSize),
		jb:          jb,
		onPacket:    cfg.OnPacket,
		stats:       newStatsCollector(),
		ctx:         ctx,
		cancel:      cancel,
	}
	return s, nil
}

// SSRC returns this session's outbound synchronization source identifier.
func (s *Session) SSRC() uint32 { return s.ssrc }

// SendSamples packetizes an already-payloadized RTP payload (one RTP
// payload per call; codec-specific fragmentation such as H.264 FU-A
// happens upstream in pkg/codec) and writes it out, advancing the
// timestamp by samples.
func (s *Session) SendSamples(payload []byte, samples uint32, marker bool) error {
	seq := uint16(atomic.AddUint32(&s.seq, 1) - 1)
	ts := atomic.LoadUint32(&s.ts)
	atomic.AddUint32(&s.ts, samples)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	s.rtx.put(seq, pkt)

	if err := s.writer.WriteRTP(pkt); err != nil {
		return fmt.Errorf("rtp: write: %w", err)
	}

	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(len(payload)))
	s.stats.recordSent(len(payload))
	return nil
}

// Retransmit resends a previously sent packet by sequence number in
// response to a NACK, returning false if it has fallen out of the window.
func (s *Session) Retransmit(seq uint16) bool {
	pkt, ok := s.rtx.get(seq)
	if !ok {
		return false
	}
	_ = s.writer.WriteRTP(pkt)
	return true
}

// HandleIncoming feeds a received RTP packet into the jitter buffer and
// updates reception statistics, then hands every packet the buffer releases
// in order to the OnPacket callback; DrainTimeouts releases the rest.
func (s *Session) HandleIncoming(pkt *rtp.Packet, arrival time.Time) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(len(pkt.Payload)))
	s.stats.recordReceived(pkt, arrival, s.clockRate)

	s.jb.Push(pkt, arrival)

	s.mu.RLock()
	cb := s.onPacket
	s.mu.RUnlock()

	for {
		out, ok := s.jb.Pop(arrival)
		if !ok {
			break
		}
		if cb != nil {
			cb(out)
		}
	}
}

// DrainTimeouts releases any jitter-buffer entries whose playout deadline
// has passed even though later sequence numbers never arrived to force
// their release through Pop. Call this periodically (e.g. every ptime).
func (s *Session) DrainTimeouts(now time.Time) []*rtp.Packet {
	return s.jb.Timeout(now)
}

// Close releases the session's background resources. It does not close
// the underlying Writer, which the owning Transport manages.
func (s *Session) Close() {
	s.cancel()
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("rtp: random: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func randomUint16() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("rtp: random: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
