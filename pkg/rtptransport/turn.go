package rtptransport

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/turn/v2"
)

// RelayedConn is a TURN-allocated transport address used when the call has
// no ICE attributes at all (a bare SDP offer/answer with a single public-
// ish address) but still needs relay because the local socket sits behind
// a NAT the signalling path can't describe. This is the non-ICE fallback;
// when ICE is negotiated, TURN relay candidates are gathered through
// ICEConfig.TURNServers instead and this path is unused.
type RelayedConn struct {
	client *turn.Client
	relay  net.PacketConn
	local  net.Addr
}

// DialTURNRelay allocates a relayed transport address on server using the
// given long-term credential (RFC 8489 §9.2), and returns it ready to send/
// receive from once a peer permission is created with CreatePermission.
func DialTURNRelay(serverAddr, username, password string) (*RelayedConn, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("rtptransport: listen for TURN control conn: %w", err)
	}

	client, err := turn.NewClient(&turn.ClientConfig{
		STUNServerAddr: serverAddr,
		TURNServerAddr: serverAddr,
		Conn:           conn,
		Username:       username,
		Password:       password,
		Realm:          "",
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtptransport: new TURN client: %w", err)
	}

	if err := client.Listen(); err != nil {
		client.Close()
		conn.Close()
		return nil, fmt.Errorf("rtptransport: TURN client listen: %w", err)
	}

	relay, err := client.Allocate()
	if err != nil {
		client.Close()
		conn.Close()
		return nil, fmt.Errorf("rtptransport: TURN allocate: %w", err)
	}

	return &RelayedConn{client: client, relay: relay, local: relay.LocalAddr()}, nil
}

// RelayAddr returns the server-allocated relayed transport address to
// carry in the SDP as the media m= connection address.
func (r *RelayedConn) RelayAddr() net.Addr { return r.local }

// CreatePermission installs a permission for peer so the relay will accept
// datagrams from it (RFC 8656 §9).
func (r *RelayedConn) CreatePermission(peer net.Addr) error {
	udpAddr, ok := peer.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("rtptransport: TURN permission requires a UDP address, got %T", peer)
	}
	return r.client.CreatePermission(udpAddr)
}

// PacketConn exposes the relayed connection for reading/writing datagrams
// once permissions are installed.
func (r *RelayedConn) PacketConn() net.PacketConn { return r.relay }

// Close releases the allocation and the client's control connection.
func (r *RelayedConn) Close() error {
	r.relay.Close()
	r.client.Close()
	return nil
}

// allocationRefresh is how often a TURN allocation needs renewing absent
// activity (RFC 8656 §7, default lifetime 600s, refresh well before that).
const allocationRefresh = 5 * time.Minute
