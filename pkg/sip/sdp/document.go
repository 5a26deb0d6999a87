package sdp

import (
	"fmt"
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

// Document is a parsed or in-progress-built SDP message. It wraps
// pion/sdp/v3's SessionDescription for RFC 8866 syntax (line ordering,
// escaping, origin/time fields) and keeps the negotiation core's own
// mediaSection view alongside it, populated on parse and consulted by
// Session.
type Document struct {
	sd            *pionsdp.SessionDescription
	mediaSections []*mediaSection
}

// mediaSection is the negotiation-relevant subset of one m= line, decoded
// out of the generic pion attribute list.
type mediaSection struct {
	kind       string
	port       int
	proto      string
	codecs     []Codec
	extensions []Extension
	direction  Direction

	rtcpMux      bool
	iceLite      bool
	iceUfrag     string
	icePwd       string
	candidates   []string
	setup        string
	fingerprints map[string]string
	crypto       []Crypto

	unknownAttrs []pionsdp.Attribute
}

func (m *mediaSection) protectionKind() ProtectionKind {
	switch {
	case len(m.crypto) > 0:
		return ProtectionSDES
	case len(m.fingerprints) > 0 || m.setup != "":
		return ProtectionDTLS
	default:
		return ProtectionNone
	}
}

func newDocument() *Document {
	origin := pionsdp.Origin{
		Username:       "-",
		SessionID:      1,
		SessionVersion: 1,
		NetworkType:    "IN",
		AddressType:    "IP4",
		UnicastAddress: "0.0.0.0",
	}
	return &Document{
		sd: &pionsdp.SessionDescription{
			Version:     0,
			Origin:      origin,
			SessionName: "sipstack",
			TimeDescriptions: []pionsdp.TimeDescription{
				{Timing: pionsdp.Timing{StartTime: 0, StopTime: 0}},
			},
		},
	}
}

// Bytes renders the document to RFC 8866 wire format.
func (d *Document) Bytes() ([]byte, error) {
	return d.sd.Marshal()
}

// ParseDocument parses a raw SDP body (as carried in a SIP message body)
// into a Document, decoding each m= section's negotiation-relevant
// attributes.
func ParseDocument(raw []byte) (*Document, error) {
	sd := &pionsdp.SessionDescription{}
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}

	doc := &Document{sd: sd}
	for _, md := range sd.MediaDescriptions {
		doc.mediaSections = append(doc.mediaSections, decodeMediaSection(md))
	}
	return doc, nil
}

func decodeMediaSection(md *pionsdp.MediaDescription) *mediaSection {
	ms := &mediaSection{
		kind:         md.MediaName.Media,
		port:         md.MediaName.Port.Value,
		proto:        strings.Join(md.MediaName.Protos, "/"),
		direction:    DirectionSendRecv, // RFC 8866 §6.7: absent direction attribute defaults to sendrecv
		fingerprints: make(map[string]string),
	}

	rtpmapByPT := make(map[string]Codec)
	for _, fmt := range md.MediaName.Formats {
		pt, err := strconv.Atoi(fmt)
		if err != nil {
			continue
		}
		rtpmapByPT[fmt] = Codec{PayloadType: uint8(pt)}
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "rtpmap":
			pt, codec, ok := parseRtpmap(attr.Value)
			if ok {
				c := rtpmapByPT[pt]
				c.PayloadType = codec.PayloadType
				c.Name = codec.Name
				c.ClockRate = codec.ClockRate
				c.Channels = codec.Channels
				rtpmapByPT[pt] = c
			}
		case "fmtp":
			pt, params, ok := parseFmtp(attr.Value)
			if ok {
				c := rtpmapByPT[pt]
				c.FmtpParams = params
				rtpmapByPT[pt] = c
			}
		case "rtcp-fb":
			pt, fb, ok := parseRtcpFb(attr.Value)
			if ok {
				c := rtpmapByPT[pt]
				c.RTCPFeedback = append(c.RTCPFeedback, fb)
				rtpmapByPT[pt] = c
			}
		case "rtcp-mux":
			ms.rtcpMux = true
		case "ice-lite":
			ms.iceLite = true
		case "ice-ufrag":
			ms.iceUfrag = attr.Value
		case "ice-pwd":
			ms.icePwd = attr.Value
		case "candidate":
			ms.candidates = append(ms.candidates, attr.Value)
		case "end-of-candidates":
			// no state to track beyond having seen it; candidates slice is final
		case "setup":
			ms.setup = attr.Value
		case "fingerprint":
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) == 2 {
				ms.fingerprints[strings.ToLower(parts[0])] = parts[1]
			}
		case "crypto":
			if c, ok := parseCryptoAttr(attr.Value); ok {
				ms.crypto = append(ms.crypto, c)
			}
		case "extmap":
			if ext, ok := parseExtmap(attr.Value); ok {
				ms.extensions = append(ms.extensions, ext)
			}
		case "sendonly":
			ms.direction = DirectionSendOnly
		case "recvonly":
			ms.direction = DirectionRecvOnly
		case "sendrecv":
			ms.direction = DirectionSendRecv
		case "inactive":
			ms.direction = DirectionInactive
		default:
			ms.unknownAttrs = append(ms.unknownAttrs, attr)
		}
	}

	for _, c := range rtpmapByPT {
		ms.codecs = append(ms.codecs, c)
	}
	return ms
}

func parseRtpmap(value string) (pt string, codec Codec, ok bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return "", Codec{}, false
	}
	encParts := strings.Split(parts[1], "/")
	clockRate, _ := strconv.Atoi(firstOr(encParts, 1, "0"))
	var channels int
	if len(encParts) > 2 {
		channels, _ = strconv.Atoi(encParts[2])
	}
	ptNum, _ := strconv.Atoi(parts[0])
	return parts[0], Codec{PayloadType: uint8(ptNum), Name: encParts[0], ClockRate: uint32(clockRate), Channels: uint16(channels)}, true
}

func firstOr(s []string, idx int, def string) string {
	if idx < len(s) {
		return s[idx]
	}
	return def
}

func parseFmtp(value string) (pt, params string, ok bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseRtcpFb(value string) (pt, fb string, ok bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseExtmap(value string) (Extension, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return Extension{}, false
	}
	idStr := strings.TrimSuffix(parts[0], "/sendrecv")
	idStr = strings.TrimSuffix(idStr, "/sendonly")
	idStr = strings.TrimSuffix(idStr, "/recvonly")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return Extension{}, false
	}
	return Extension{ID: id, URI: parts[1]}, true
}

// addMediaFromLocal appends an m= section describing an offered Media,
// rendering its local preferences and the owning Transport's local
// security/ICE state.
func (d *Document) addMediaFromLocal(m *Media, t *Transport) {
	md := &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   m.Kind,
			Port:    pionsdp.RangedPort{Value: 9}, // 9 = discard port; this package never replaces it with a bound port
			Protos:  protosFor(t),
			Formats: formatsFor(m.LocalCodecs),
		},
	}

	for _, c := range m.LocalCodecs {
		md.Attributes = append(md.Attributes, rtpmapAttr(c))
		if c.FmtpParams != "" {
			md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", c.PayloadType, c.FmtpParams)})
		}
		for _, fb := range c.RTCPFeedback {
			md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "rtcp-fb", Value: fmt.Sprintf("%d %s", c.PayloadType, fb)})
		}
	}
	for _, e := range m.LocalExtensions {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "extmap", Value: fmt.Sprintf("%d %s", e.ID, e.URI)})
	}
	md.Attributes = append(md.Attributes, directionAttr(m.LocalDirection))
	appendTransportAttrs(md, t)

	d.sd.MediaDescriptions = append(d.sd.MediaDescriptions, md)
}

// addMediaFromAnswer appends an m= section describing a negotiated Media
// (the chosen codec/extensions/direction only, per RFC 3264 answer rules).
func (d *Document) addMediaFromAnswer(m *Media, t *Transport) {
	md := &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:  m.Kind,
			Port:   pionsdp.RangedPort{Value: 9},
			Protos: protosFor(t),
		},
	}

	if m.ChosenCodec != nil {
		// The answer names the chosen codec under our own local PT, the one
		// we accept inbound; ChosenCodec itself carries the remote's PT.
		c := *m.ChosenCodec
		for _, l := range m.LocalCodecs {
			if sameEncoding(l, c) {
				c.PayloadType = l.PayloadType
				break
			}
		}
		md.MediaName.Formats = []string{strconv.Itoa(int(c.PayloadType))}
		md.Attributes = append(md.Attributes, rtpmapAttr(c))
		if c.FmtpParams != "" {
			md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", c.PayloadType, c.FmtpParams)})
		}
	}
	for _, e := range m.ChosenExtensions {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "extmap", Value: fmt.Sprintf("%d %s", e.ID, e.URI)})
	}
	md.Attributes = append(md.Attributes, directionAttr(m.Direction))
	appendTransportAttrs(md, t)

	d.sd.MediaDescriptions = append(d.sd.MediaDescriptions, md)
}

func protosFor(t *Transport) []string {
	switch t.Protection {
	case ProtectionDTLS:
		return []string{"UDP", "TLS", "RTP", "SAVPF"}
	case ProtectionSDES:
		return []string{"RTP", "SAVP"}
	default:
		return []string{"RTP", "AVP"}
	}
}

func formatsFor(codecs []Codec) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = strconv.Itoa(int(c.PayloadType))
	}
	return out
}

func rtpmapAttr(c Codec) pionsdp.Attribute {
	enc := c.Name + "/" + strconv.Itoa(int(c.ClockRate))
	if c.Channels > 1 {
		enc += "/" + strconv.Itoa(int(c.Channels))
	}
	return pionsdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", c.PayloadType, enc)}
}

func directionAttr(d Direction) pionsdp.Attribute {
	return pionsdp.Attribute{Key: d.String()}
}

func appendTransportAttrs(md *pionsdp.MediaDescription, t *Transport) {
	if t.RTCPMux {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "rtcp-mux"})
	}
	if t.ICELite {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "ice-lite"})
	}
	if t.ICEUfrag != "" {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "ice-ufrag", Value: t.ICEUfrag})
	}
	if t.ICEPwd != "" {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "ice-pwd", Value: t.ICEPwd})
	}
	for _, cand := range t.Candidates {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "candidate", Value: cand})
	}
	if t.Setup != "" {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "setup", Value: t.Setup})
	}
	for alg, fp := range t.Fingerprints {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "fingerprint", Value: alg + " " + fp})
	}
	for _, c := range t.LocalCrypto {
		md.Attributes = append(md.Attributes, pionsdp.Attribute{Key: "crypto", Value: renderCrypto(c)})
	}
}

func renderCrypto(c Crypto) string {
	var keys []string
	for _, k := range c.KeyingMaterials {
		s := "inline:" + k.KeyB64
		if k.LifetimeKDR != "" {
			s += "|" + k.LifetimeKDR
		}
		if k.MKI != "" {
			s += "|" + k.MKI
		}
		keys = append(keys, s)
	}
	out := fmt.Sprintf("%d %s %s", c.Tag, c.Suite, strings.Join(keys, ";"))
	if c.SessionParams != "" {
		out += " " + c.SessionParams
	}
	return out
}

func parseCryptoAttr(value string) (Crypto, bool) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return Crypto{}, false
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return Crypto{}, false
	}
	c := Crypto{Tag: tag, Suite: fields[1]}
	for _, kp := range strings.Split(fields[2], ";") {
		segs := strings.SplitN(kp, "|", 3)
		if len(segs) == 0 || !strings.HasPrefix(segs[0], "inline:") {
			continue
		}
		key := CryptoKeyParam{KeyB64: strings.TrimPrefix(segs[0], "inline:")}
		if len(segs) > 1 {
			key.LifetimeKDR = segs[1]
		}
		if len(segs) > 2 {
			key.MKI = segs[2]
		}
		c.KeyingMaterials = append(c.KeyingMaterials, key)
	}
	if len(fields) > 3 {
		c.SessionParams = strings.Join(fields[3:], " ")
	}
	return c, true
}
