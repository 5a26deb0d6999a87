// Package sdp implements the SDP offer/answer negotiation core: parsing
// and generating RFC 8866 session descriptions, intersecting codec and
// extension preferences, and tracking the resulting media/transport state
// as a session evolves across offer/answer exchanges.
//
// Media and Transport entries are held in arenas keyed by small stable
// integer ids rather than linked directly to each other, so either can be
// replaced or removed without walking reverse references (Media.TransportID
// is the only cross-reference, looked up in the owning Session's arena).
package sdp

// MediaID identifies a Media entry within a Session's arena.
type MediaID int

// TransportID identifies a Transport entry within a Session's arena.
type TransportID int

// Direction is the negotiated send/receive intent of a media line,
// RFC 8866 §6.7.
type Direction int

const (
	DirectionInactive Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionSendRecv
)

func (d Direction) String() string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionSendRecv:
		return "sendrecv"
	default:
		return "inactive"
	}
}

// reverse swaps send/recv, used to turn a remote peer's stated direction
// into what it means from our side before intersecting with our own
// preference (spec: direction is intersect(local, reverse(remote))).
func (d Direction) reverse() Direction {
	switch d {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	default:
		return d
	}
}

// intersectDirection computes the negotiated direction from the local
// offered/desired direction and the remote party's stated direction.
func intersectDirection(local, remote Direction) Direction {
	remoteFromOurSide := remote.reverse()

	canSend := (local == DirectionSendOnly || local == DirectionSendRecv) &&
		(remoteFromOurSide == DirectionSendOnly || remoteFromOurSide == DirectionSendRecv)
	canRecv := (local == DirectionRecvOnly || local == DirectionSendRecv) &&
		(remoteFromOurSide == DirectionRecvOnly || remoteFromOurSide == DirectionSendRecv)

	switch {
	case canSend && canRecv:
		return DirectionSendRecv
	case canSend:
		return DirectionSendOnly
	case canRecv:
		return DirectionRecvOnly
	default:
		return DirectionInactive
	}
}

// Codec is one negotiated or offered RTP payload format, RFC 8866 §6.6
// (a=rtpmap) plus its a=fmtp parameters.
type Codec struct {
	PayloadType    uint8
	Name           string
	ClockRate      uint32
	Channels       uint16 // 0 when not applicable (most non-audio codecs)
	FmtpParams     string
	RTCPFeedback   []string // a=rtcp-fb values associated with this PT
}

// Extension is one negotiated or offered RTP header extension, RFC 8285
// (a=extmap).
type Extension struct {
	ID  int
	URI string
}

// ProtectionKind names how a Transport's media is secured.
type ProtectionKind int

const (
	ProtectionNone ProtectionKind = iota
	ProtectionSDES
	ProtectionDTLS
)

// ConnectionState is the lifecycle of a Transport's underlying network
// path, spec.md §4.8: New→Connecting→Connected|Failed, collapsing to
// New→Connected immediately for plain RTP and SDES-SRTP.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionFailed
)

// Crypto is one SDES-SRTP a=crypto line, RFC 4568.
type Crypto struct {
	Tag          int
	Suite        string
	KeyingMaterials []CryptoKeyParam
	SessionParams   string
}

// CryptoKeyParam is one keying-material entry within an a=crypto line
// (there may be more than one, for master key transitions).
type CryptoKeyParam struct {
	KeyB64    string // base64 inline key||salt
	LifetimeKDR string // optional "2^20" style lifetime
	MKI       string // optional "1:4" style MKI:length
}

// Transport holds the negotiated network/security state for one or more
// Media entries that share an underlying RTP/RTCP path (RTCP-mux makes
// this the common case: one Transport serves one Media one-to-one, but the
// arena design allows future bundling).
type Transport struct {
	ID             TransportID
	Protection     ProtectionKind
	ConnectionState ConnectionState
	RTCPMux        bool

	// ICE
	ICELite bool
	ICEUfrag string
	ICEPwd   string
	Candidates []string // raw a=candidate values, opaque to this layer

	// DTLS-SRTP
	Setup       string // "active", "passive", "actpass", "holdconn"
	Fingerprints map[string]string // hash-algorithm -> fingerprint

	// SDES-SRTP
	LocalCrypto  []Crypto
	RemoteCrypto []Crypto
	ChosenCryptoTag int // 0 when none chosen yet

	ExtensionIDs []int // extmap ids visible on this transport
}

// Media is one negotiated or pending m= line plus the attributes the
// negotiation core understands.
type Media struct {
	ID          MediaID
	TransportID TransportID

	Kind string // "audio", "video", "application", ...

	LocalCodecs  []Codec // our preference order, offered
	RemoteCodecs []Codec // what the remote offered/answered
	ChosenCodec  *Codec  // nil until negotiated

	LocalExtensions  []Extension
	RemoteExtensions []Extension
	ChosenExtensions []Extension

	LocalDirection  Direction
	RemoteDirection Direction
	Direction       Direction // negotiated

	SSRCs map[uint32]string // ssrc -> cname, from a=ssrc lines

	Port int
}
