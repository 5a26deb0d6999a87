package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/arzzra/sipstack/pkg/sip/core/types"
)

// defaultPortFor returns the well-known port for a transport network,
// honouring the "sips: defaults to 5061" rule even when the transport
// param names a non-TLS network explicitly (RFC 3261 §19.1.2).
func defaultPortFor(network string, secureScheme bool) int {
	switch {
	case network == "tls" || network == "wss":
		return 5061
	case secureScheme:
		return 5061
	default:
		return 5060
	}
}

// networkMatches implements spec.md §4.2's case-insensitive transport-param
// matching, with the rule that a "tls" requirement is also satisfied by a
// transport whose Network() reports "tcp" wrapped in TLS at the connection
// level (this repo models TLS as its own Transport, so the override only
// matters for Connection lookups keyed by the wire network name).
func networkMatches(want, have string) bool {
	want, have = strings.ToLower(want), strings.ToLower(have)
	if want == have {
		return true
	}
	return want == "tls" && have == "tcp"
}

// Select resolves a request-target URI to a concrete Transport and peer
// address, per spec.md §4.2's three-tier order:
//
//  1. An explicit maddr/port in the URI names a literal destination; if a
//     transport for the resolved network exists, use it directly without
//     consulting the inventory.
//  2. Otherwise, prefer a live, already-connected managed transport to the
//     same remote address (connection reuse, RFC 3261 §18.1.1).
//  3. Otherwise, fall back to the registered Transport for the network,
//     which dials (or, for UDP, simply addresses) a new peer.
func (m *DefaultTransportManager) Select(uri types.URI) (Transport, string, error) {
	if uri == nil {
		return nil, "", fmt.Errorf("transport: select: nil URI")
	}

	secureScheme := strings.EqualFold(uri.Scheme(), "sips")
	network := strings.ToLower(uri.Parameter("transport"))
	if network == "" {
		if secureScheme {
			network = "tls"
		} else {
			network = "udp"
		}
	}

	host := uri.Host()
	if maddr := uri.Parameter("maddr"); maddr != "" {
		host = maddr
	}

	port := uri.Port()
	if port == 0 {
		port = defaultPortFor(network, secureScheme)
	}
	peerAddr := net.JoinHostPort(host, strconv.Itoa(port))

	m.mu.RLock()
	defer m.mu.RUnlock()

	tr, ok := m.lookupTransportLocked(network)
	if !ok {
		return nil, "", fmt.Errorf("transport: select: no transport registered for %q", network)
	}

	// Tier 1: an explicit maddr/port literal is addressed directly; the
	// caller asked for a specific destination, reuse is not appropriate.
	if uri.Parameter("maddr") != "" {
		return tr, peerAddr, nil
	}

	// Tier 2: connection-oriented networks may have a live managed
	// transport already talking to this peer — reuse it instead of
	// dialing again.
	if tr.Reliable() {
		if conn, found := m.inventory.ByRemote(peerAddr, secureScheme); found {
			m.inventory.Claim(conn.ID())
			return tr, peerAddr, nil
		}
	}

	// Tier 3: hand back to the network's registered Transport, which will
	// dial (TCP/TLS) or simply address (UDP) the peer.
	return tr, peerAddr, nil
}

func (m *DefaultTransportManager) lookupTransportLocked(network string) (Transport, bool) {
	if tr, ok := m.transports[network]; ok {
		return tr, true
	}
	for name, tr := range m.transports {
		if networkMatches(network, name) {
			return tr, true
		}
	}
	return nil, false
}
