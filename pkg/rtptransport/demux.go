// Package rtptransport protects and carries RTP/RTCP across the wire: ICE
// connectivity establishment (RFC 8445), DTLS-SRTP keying (RFC 5763/5764)
// or SDES-SRTP keying (RFC 4568), and the resulting SRTP/SRTCP encode-
// decode (RFC 3711). It is grounded on this project's earlier
// transport_dtls.go/transport_udp.go pair, generalized to cover both
// protection schemes SPEC_FULL.md's SDP layer can negotiate instead of
// DTLS alone.
package rtptransport

// PacketKind classifies one datagram arriving on a muxed RTP/RTCP/DTLS/
// STUN socket, RFC 5764 §5.1.2's "multiplexing with other protocols"
// demultiplexing rule (applied before RFC 7983 formalized it further).
type PacketKind int

const (
	PacketUnknown PacketKind = iota
	PacketSTUN
	PacketDTLS
	PacketRTP
	PacketRTCP
)

// Classify identifies which protocol a datagram belongs to by its first
// two bytes, per RFC 7983 §7: STUN's first byte falls in [0,3], DTLS content
// types fall in [20,63], and RTP/RTCP's version bits put the first byte in
// [128,191] with RTCP distinguished by a payload-type field (second byte
// with the marker bit cleared) of 64-95, i.e. RTCP packet types 192-223.
func Classify(pkt []byte) PacketKind {
	if len(pkt) < 2 {
		return PacketUnknown
	}
	b0 := pkt[0]
	switch {
	case b0 <= 3:
		return PacketSTUN
	case b0 >= 20 && b0 <= 63:
		return PacketDTLS
	case b0 >= 128 && b0 <= 191:
		pt := pkt[1] &^ 0x80 // clear the marker bit, RTCP packet types don't use it
		if pt >= 64 && pt <= 95 {
			return PacketRTCP
		}
		return PacketRTP
	default:
		return PacketUnknown
	}
}
