package sdp

// Builder is the second of SDP's two parse surfaces (spec.md §4.1/§4.6): a
// callback interface that ParseWithBuilder drives field-by-field while
// scanning a raw SDP body, so a caller can stream attributes straight into
// their own in-memory representation without copying through Document/
// Session first. ParseDocument (the direct parser used internally by
// Session) is implemented independently of this and does not call it.
//
// Every method is optional in the sense that a Builder may embed
// NopBuilder and override only what it cares about.
type Builder interface {
	OnMediaStart(kind string, port int, protos []string, formats []string)
	OnRtpmap(payloadType int, name string, clockRate int, channels int)
	OnFmtp(payloadType int, params string)
	OnRtcp(port int, netType, addrType, address string)
	OnDirection(dir Direction)
	OnICELite()
	OnICEOptions(options string)
	OnICEUfrag(ufrag string)
	OnICEPwd(pwd string)
	OnCandidate(raw string)
	OnEndOfCandidates()
	OnCrypto(raw string)
	OnSetup(setup string)
	OnFingerprint(algorithm, fingerprint string)
	OnRTCPMux()
	OnExtmap(id int, uri string)

	// OnUnknownAttribute receives any a= line this interface has no typed
	// method for. inMedia is false while scanning session-level lines
	// (before the first m=); per spec.md §9 those are attached to the
	// session scope and, for the lines this package models as typed
	// setters, simply ignored rather than rejected — ParseWithBuilder
	// never calls a typed On* method for a pre-m= line, only this one.
	OnUnknownAttribute(key, value string, inMedia bool)
}

// NopBuilder is an embeddable no-op Builder; callers that only care about
// a handful of fields can embed it and override the rest.
type NopBuilder struct{}

func (NopBuilder) OnMediaStart(string, int, []string, []string) {}
func (NopBuilder) OnRtpmap(int, string, int, int)                {}
func (NopBuilder) OnFmtp(int, string)                            {}
func (NopBuilder) OnRtcp(int, string, string, string)            {}
func (NopBuilder) OnDirection(Direction)                         {}
func (NopBuilder) OnICELite()                                    {}
func (NopBuilder) OnICEOptions(string)                           {}
func (NopBuilder) OnICEUfrag(string)                             {}
func (NopBuilder) OnICEPwd(string)                               {}
func (NopBuilder) OnCandidate(string)                            {}
func (NopBuilder) OnEndOfCandidates()                            {}
func (NopBuilder) OnCrypto(string)                               {}
func (NopBuilder) OnSetup(string)                                {}
func (NopBuilder) OnFingerprint(string, string)                  {}
func (NopBuilder) OnRTCPMux()                                    {}
func (NopBuilder) OnExtmap(int, string)                          {}
func (NopBuilder) OnUnknownAttribute(string, string, bool)       {}

var _ Builder = NopBuilder{}

// ParseWithBuilder streams a raw SDP body's fields into b. It reuses
// ParseDocument's pion/sdp/v3-backed syntax parse and then replays the
// decoded attributes through the callback interface, rather than
// reimplementing RFC 8866 tokenising twice.
//
// Attributes seen before any m= line are only ever delivered to
// OnUnknownAttribute(inMedia=false): this package's typed setters
// (rtpmap/fmtp/rtcp/ice-*/candidate/crypto/setup/fingerprint/rtcp-mux/
// extmap) are defined in terms of the media scope they configure, so a
// session-level occurrence is surfaced generically rather than silently
// dropped or guessed into a media scope it may not apply to.
func ParseWithBuilder(raw []byte, b Builder) error {
	doc, err := ParseDocument(raw)
	if err != nil {
		return err
	}

	for _, sa := range doc.sd.Attributes {
		b.OnUnknownAttribute(sa.Key, sa.Value, false)
	}

	for _, md := range doc.sd.MediaDescriptions {
		b.OnMediaStart(md.MediaName.Media, md.MediaName.Port.Value, md.MediaName.Protos, md.MediaName.Formats)

		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				if pt, codec, ok := parseRtpmap(attr.Value); ok {
					ptNum := mustAtoi(pt)
					b.OnRtpmap(ptNum, codec.Name, int(codec.ClockRate), int(codec.Channels))
				}
			case "fmtp":
				if pt, params, ok := parseFmtp(attr.Value); ok {
					b.OnFmtp(mustAtoi(pt), params)
				}
			case "rtcp-mux":
				b.OnRTCPMux()
			case "ice-lite":
				b.OnICELite()
			case "ice-options":
				b.OnICEOptions(attr.Value)
			case "ice-ufrag":
				b.OnICEUfrag(attr.Value)
			case "ice-pwd":
				b.OnICEPwd(attr.Value)
			case "candidate":
				b.OnCandidate(attr.Value)
			case "end-of-candidates":
				b.OnEndOfCandidates()
			case "setup":
				b.OnSetup(attr.Value)
			case "crypto":
				b.OnCrypto(attr.Value)
			case "extmap":
				if ext, ok := parseExtmap(attr.Value); ok {
					b.OnExtmap(ext.ID, ext.URI)
				}
			case "sendonly":
				b.OnDirection(DirectionSendOnly)
			case "recvonly":
				b.OnDirection(DirectionRecvOnly)
			case "sendrecv":
				b.OnDirection(DirectionSendRecv)
			case "inactive":
				b.OnDirection(DirectionInactive)
			case "fingerprint":
				parts := splitFirstSpace(attr.Value)
				if len(parts) == 2 {
					b.OnFingerprint(parts[0], parts[1])
				}
			default:
				b.OnUnknownAttribute(attr.Key, attr.Value, true)
			}
		}
	}

	return nil
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func splitFirstSpace(s string) []string {
	for i, r := range s {
		if r == ' ' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s}
}
