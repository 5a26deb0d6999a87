package sdp

import (
	"fmt"
	"sync"
)

// EventKind discriminates the variants of SdpSessionEvent.
type EventKind int

const (
	EventMediaAdded EventKind = iota
	EventMediaChanged
	EventMediaRemoved
	EventTransportConnectionState
)

// Event is one item from Session.Poll, spec.md §4.6's single-task
// cooperative event stream. Events are emitted in causal order: a
// MediaAdded always precedes any later event referencing that MediaID, and
// a transport reaches Connected before media on it is usable.
type Event struct {
	Kind        EventKind
	MediaID     MediaID
	TransportID TransportID
	State       ConnectionState // only meaningful for EventTransportConnectionState
}

// Session tracks one SDP offer/answer negotiation and its resulting media
// and transport arenas (spec.md §4.1/§4.6). It is not safe to share a
// Session across calls without the caller's own dialog-level exclusion;
// internally it only guards the event queue, since Poll may be called from
// a different goroutine than the one driving offer/answer.
type Session struct {
	mu sync.Mutex

	nextMediaID     MediaID
	nextTransportID TransportID

	media      map[MediaID]*Media
	transports map[TransportID]*Transport
	mediaOrder []MediaID // preserves m= line ordering across renegotiation

	events []Event

	// LocalPreferences seeds LocalCodecs/LocalExtensions/LocalDirection
	// for media created by CreateOffer/CreateAnswer; keyed by media kind
	// ("audio", "video").
	LocalPreferences map[string]MediaPreference
}

// MediaPreference is what the caller wants to offer for one media kind.
type MediaPreference struct {
	Codecs     []Codec
	Extensions []Extension
	Direction  Direction
}

// NewSession creates an empty SDP negotiation session.
func NewSession() *Session {
	return &Session{
		media:            make(map[MediaID]*Media),
		transports:       make(map[TransportID]*Transport),
		LocalPreferences: make(map[string]MediaPreference),
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Poll drains and returns the next queued event, or (Event{}, false) if
// none are pending.
func (s *Session) Poll() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

func (s *Session) newTransport(kind ProtectionKind) *Transport {
	s.nextTransportID++
	t := &Transport{ID: s.nextTransportID, Protection: kind, Fingerprints: make(map[string]string)}
	s.transports[t.ID] = t
	return t
}

func (s *Session) newMedia(kind string, transportID TransportID) *Media {
	s.nextMediaID++
	m := &Media{ID: s.nextMediaID, TransportID: transportID, Kind: kind, SSRCs: make(map[uint32]string)}
	s.media[m.ID] = m
	s.mediaOrder = append(s.mediaOrder, m.ID)
	return m
}

// Media looks up a tracked media entry by id.
func (s *Session) Media(id MediaID) (*Media, bool) {
	m, ok := s.media[id]
	return m, ok
}

// Transport looks up a tracked transport entry by id.
func (s *Session) Transport(id TransportID) (*Transport, bool) {
	t, ok := s.transports[id]
	return t, ok
}

// SetTransportConnectionState updates a transport's connection state and
// emits the corresponding event (spec.md §4.8's New→Connecting→Connected|
// Failed machine).
func (s *Session) SetTransportConnectionState(id TransportID, state ConnectionState) error {
	t, ok := s.transports[id]
	if !ok {
		return fmt.Errorf("sdp: unknown transport %d", id)
	}
	t.ConnectionState = state
	s.emit(Event{Kind: EventTransportConnectionState, TransportID: id, State: state})
	return nil
}

// CreateOffer builds a fresh SDP offer from LocalPreferences, creating one
// Media+Transport pair per entry of kinds; the m= lines follow the order of
// kinds. A kind with no registered preference is an error.
func (s *Session) CreateOffer(kinds []string) (*Document, error) {
	doc := newDocument()

	for _, kind := range kinds {
		pref, ok := s.LocalPreferences[kind]
		if !ok || len(pref.Codecs) == 0 {
			return nil, fmt.Errorf("sdp: no local preference registered for media kind %q", kind)
		}

		transport := s.newTransport(ProtectionNone)
		media := s.newMedia(kind, transport.ID)
		media.LocalCodecs = pref.Codecs
		media.LocalExtensions = pref.Extensions
		media.LocalDirection = pref.Direction
		media.Direction = pref.Direction

		s.emit(Event{Kind: EventMediaAdded, MediaID: media.ID, TransportID: transport.ID})

		doc.addMediaFromLocal(media, transport)
	}

	return doc, nil
}

// ReceiveOffer applies a remote offer, updating or creating Media/Transport
// entries, and returns an AnswerIntent describing what CreateAnswer should
// produce (the negotiated codec/direction/crypto choices, pending caller
// confirmation e.g. of which local device to use).
func (s *Session) ReceiveOffer(doc *Document) (*AnswerIntent, error) {
	intent := &AnswerIntent{}

	for _, rm := range doc.mediaSections {
		pref, havePref := s.LocalPreferences[rm.kind]

		transport := s.newTransport(rm.protectionKind())
		applyRemoteTransport(transport, rm)

		media := s.newMedia(rm.kind, transport.ID)
		media.RemoteCodecs = rm.codecs
		media.RemoteDirection = rm.direction
		media.RemoteExtensions = rm.extensions
		media.Port = rm.port

		if havePref {
			media.LocalCodecs = pref.Codecs
			media.LocalExtensions = pref.Extensions
			media.LocalDirection = pref.Direction

			media.ChosenCodec = intersectCodecs(pref.Codecs, rm.codecs)
			media.ChosenExtensions = intersectExtensions(pref.Extensions, rm.extensions)
			media.Direction = intersectDirection(pref.Direction, rm.direction)
		} else {
			media.Direction = DirectionInactive
		}

		if transport.Protection == ProtectionSDES {
			chosen, err := chooseCrypto(transport.RemoteCrypto)
			if err == nil {
				transport.ChosenCryptoTag = chosen.Tag
			}
		}
		if transport.Setup == "actpass" {
			transport.Setup = "passive" // accepting side always picks passive per spec.md §4.6
		}

		s.emit(Event{Kind: EventMediaAdded, MediaID: media.ID, TransportID: transport.ID})

		intent.Media = append(intent.Media, media.ID)
	}

	return intent, nil
}

// CreateAnswer renders the Media/Transport state ReceiveOffer produced into
// an SDP answer document.
func (s *Session) CreateAnswer(intent *AnswerIntent) (*Document, error) {
	doc := newDocument()
	for _, id := range intent.Media {
		media, ok := s.media[id]
		if !ok {
			return nil, fmt.Errorf("sdp: answer intent references unknown media %d", id)
		}
		transport, ok := s.transports[media.TransportID]
		if !ok {
			return nil, fmt.Errorf("sdp: media %d references unknown transport %d", id, media.TransportID)
		}
		doc.addMediaFromAnswer(media, transport)
	}
	return doc, nil
}

// ReceiveAnswer applies a remote answer to media this session previously
// offered, matching sections positionally (RFC 8866 requires an answer to
// preserve the offer's m= line count and order).
func (s *Session) ReceiveAnswer(doc *Document) error {
	if len(doc.mediaSections) != len(s.mediaOrder) {
		return fmt.Errorf("sdp: answer has %d media sections, offer had %d", len(doc.mediaSections), len(s.mediaOrder))
	}

	for i, rm := range doc.mediaSections {
		mediaID := s.mediaOrder[i]
		media, ok := s.media[mediaID]
		if !ok {
			return fmt.Errorf("sdp: internal inconsistency: missing media %d", mediaID)
		}
		transport, ok := s.transports[media.TransportID]
		if !ok {
			return fmt.Errorf("sdp: internal inconsistency: missing transport %d", media.TransportID)
		}

		applyRemoteTransport(transport, rm)

		media.RemoteCodecs = rm.codecs
		media.RemoteDirection = rm.direction
		media.RemoteExtensions = rm.extensions
		media.Port = rm.port

		chosen := intersectCodecs(media.LocalCodecs, rm.codecs)
		if chosen == nil {
			return fmt.Errorf("sdp: media %d: no common codec in answer", mediaID)
		}
		media.ChosenCodec = chosen
		media.ChosenExtensions = intersectExtensions(media.LocalExtensions, rm.extensions)
		media.Direction = intersectDirection(media.LocalDirection, rm.direction)

		if transport.Protection == ProtectionSDES {
			chosenCrypto, err := chooseCrypto(transport.RemoteCrypto)
			if err != nil {
				return fmt.Errorf("sdp: media %d: %w", mediaID, err)
			}
			transport.ChosenCryptoTag = chosenCrypto.Tag
		}

		s.emit(Event{Kind: EventMediaChanged, MediaID: mediaID, TransportID: transport.ID})
	}

	return nil
}

// AnswerIntent is the caller-facing description of what ReceiveOffer
// negotiated, returned so an application can confirm device selection
// before CreateAnswer commits it to wire format.
type AnswerIntent struct {
	Media []MediaID
}

func applyRemoteTransport(t *Transport, rm *mediaSection) {
	t.RTCPMux = t.RTCPMux || rm.rtcpMux
	t.ICEUfrag = firstNonEmpty(t.ICEUfrag, rm.iceUfrag)
	t.ICEPwd = firstNonEmpty(t.ICEPwd, rm.icePwd)
	t.ICELite = t.ICELite || rm.iceLite
	t.Candidates = append(t.Candidates, rm.candidates...)
	if rm.setup != "" {
		t.Setup = rm.setup
	}
	for alg, fp := range rm.fingerprints {
		t.Fingerprints[alg] = fp
	}
	t.RemoteCrypto = rm.crypto
	for _, e := range rm.extensions {
		t.ExtensionIDs = append(t.ExtensionIDs, e.ID)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
