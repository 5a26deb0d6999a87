package rtp

import (
	"time"

	"github.com/pion/rtcp"
)

// RTCPScheduler builds outbound RTCP compound packets (SR when this side
// has sent media, RR otherwise) and decodes inbound feedback (NACK/PLI/
// FIR), per RFC 3550 §6.4 and RFC 4585.
type RTCPScheduler struct {
	session *Session

	lastSRNTP uint64
	lastSRAt  time.Time

	extHighestSeq uint32
	baseSeq       uint32
	haveBaseSeq   bool
	lostTotal     uint32
	expectedPrior uint32
	receivedPrior uint32

	jitterEstimate float64
	lastArrivalRTP uint32
	lastTransitRTP int64
}

// NewRTCPScheduler creates a scheduler bound to session, used to build
// reports about that session's traffic.
func NewRTCPScheduler(session *Session) *RTCPScheduler {
	return &RTCPScheduler{session: session}
}

// ObserveArrival updates jitter (RFC 3550 §6.4.1 appendix A.8) and loss
// bookkeeping for one received packet; call this from the same place that
// feeds Session.HandleIncoming.
func (r *RTCPScheduler) ObserveArrival(seq uint16, rtpTimestamp uint32, clockRate uint32, arrival time.Time) {
	ext := uint32(seq) // caller is expected to have already unwrapped if needed; kept narrow deliberately
	if !r.haveBaseSeq {
		r.haveBaseSeq = true
		r.baseSeq = ext
	}
	if ext > r.extHighestSeq {
		r.extHighestSeq = ext
	}

	arrivalRTP := uint32(arrival.UnixNano() / int64(time.Second/time.Duration(clockRate)))
	transit := int64(arrivalRTP) - int64(rtpTimestamp)
	if r.lastArrivalRTP != 0 {
		d := transit - r.lastTransitRTP
		if d < 0 {
			d = -d
		}
		r.jitterEstimate += (float64(d) - r.jitterEstimate) / 16.0
	}
	r.lastTransitRTP = transit
	r.lastArrivalRTP = arrivalRTP
}

// BuildReceptionReport assembles one ReceptionReport describing traffic
// received from remoteSSRC.
func (r *RTCPScheduler) BuildReceptionReport(remoteSSRC uint32, packetsReceived uint64) rtcp.ReceptionReport {
	expected := r.extHighestSeq - r.baseSeq + 1
	lost := uint32(0)
	if uint64(expected) > packetsReceived {
		lost = expected - uint32(packetsReceived)
	}

	expectedInterval := expected - r.expectedPrior
	receivedInterval := uint32(packetsReceived) - r.receivedPrior
	r.expectedPrior = expected
	r.receivedPrior = uint32(packetsReceived)

	var fraction uint8
	lostInterval := int32(expectedInterval) - int32(receivedInterval)
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int32(expectedInterval))
	}

	return rtcp.ReceptionReport{
		SSRC:               remoteSSRC,
		FractionLost:       fraction,
		TotalLost:          lost,
		LastSequenceNumber: r.extHighestSeq,
		Jitter:             uint32(r.jitterEstimate),
		LastSenderReport:   uint32(r.lastSRNTP >> 16),
	}
}

// BuildSenderReport assembles an SR for traffic this session has sent,
// optionally bundling reception reports for the remote SSRCs it is also
// receiving from.
func (r *RTCPScheduler) BuildSenderReport(now time.Time, packetsSent, octetsSent uint64, reports []rtcp.ReceptionReport) *rtcp.SenderReport {
	ntp := toNTP(now)
	r.lastSRNTP = ntp
	r.lastSRAt = now

	return &rtcp.SenderReport{
		SSRC:        r.session.SSRC(),
		NTPTime:     ntp,
		RTPTime:     0, // caller fills in from the session's live RTP clock if it tracks wall-clock mapping
		PacketCount: uint32(packetsSent),
		OctetCount:  uint32(octetsSent),
		Reports:     reports,
	}
}

// BuildReceiverReport assembles an RR, used when this session has not
// sent any media itself (pure receiver, or before its first packet).
func (r *RTCPScheduler) BuildReceiverReport(reports []rtcp.ReceptionReport) *rtcp.ReceiverReport {
	return &rtcp.ReceiverReport{
		SSRC:    r.session.SSRC(),
		Reports: reports,
	}
}

func toNTP(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
	sec := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return sec<<32 | frac
}

// BuildNACK assembles a generic NACK (RFC 4585 §6.2.1) requesting
// retransmission of the given sequence numbers, which need not be
// contiguous.
func BuildNACK(senderSSRC, mediaSSRC uint32, missing []uint16) *rtcp.TransportLayerNack {
	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(missing),
	}
}

// BuildPLI assembles a Picture Loss Indication (RFC 4585 §6.3.1),
// requesting the sender produce a new keyframe.
func BuildPLI(senderSSRC, mediaSSRC uint32) *rtcp.PictureLossIndication {
	return &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}
}

// BuildFIR assembles a Full Intra Request (RFC 5104 §4.3.1); seqNo must
// increase on every FIR this side sends to the same media SSRC so the
// recipient can dedupe retransmitted requests.
func BuildFIR(senderSSRC, mediaSSRC uint32, seqNo uint8) *rtcp.FullIntraRequest {
	return &rtcp.FullIntraRequest{
		SenderSSRC: senderSSRC,
		FIR:        []rtcp.FIREntry{{SSRC: mediaSSRC, SequenceNumber: seqNo}},
	}
}
