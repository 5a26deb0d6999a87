package rtptransport

import (
	"context"
	"fmt"
	"net"
	"sync"

	pionrtp "github.com/pion/rtp"
	"github.com/pion/srtp/v2"
)

// ConnectionState is a protected RTP transport's lifecycle, matching the
// SDP layer's sdp.ConnectionState values one for one so a Media's
// transport state can be surfaced without translation.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is one media transport's protected RTP/RTCP path: ICE
// connectivity (if used) feeding a DTLS-SRTP or SDES-SRTP session. It
// implements pkg/rtp.Writer so a Session can send directly through it.
type Connection struct {
	mu    sync.RWMutex
	state ConnectionState

	ice *ICESession

	srtpSession  *srtp.SessionSRTP
	writeStream  *srtp.WriteStreamSRTP
	localSSRC    uint32

	onStateChange func(ConnectionState)
}

// NewConnection creates a Connection in the New state. Call EstablishICE
// (if the SDP negotiated ICE) followed by EstablishDTLS or EstablishSDES
// to move it to Connected.
func NewConnection(onStateChange func(ConnectionState)) *Connection {
	return &Connection{state: StateNew, onStateChange: onStateChange}
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EstablishICE runs ICE connectivity establishment and returns the
// resulting net.Conn, which the caller then hands to EstablishDTLS or
// wraps directly for SDES-SRTP.
func (c *Connection) EstablishICE(ctx context.Context, cfg ICEConfig, remoteUfrag, remotePwd string) (net.Conn, error) {
	c.setState(StateConnecting)

	cfg.OnStateChange = func(s ConnectionState) {
		c.setState(s)
	}

	session, err := NewICESession(cfg)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.ice = session

	conn, err := session.Connect(ctx, remoteUfrag, remotePwd)
	if err != nil {
		c.setState(StateFailed)
		return nil, fmt.Errorf("rtptransport: ICE connect: %w", err)
	}
	return conn, nil
}

// EstablishDTLS performs the DTLS-SRTP handshake over conn (typically the
// net.Conn EstablishICE returned, or a plain UDP socket wrapped as a
// net.Conn when ICE is not in use) and brings the connection to Connected.
func (c *Connection) EstablishDTLS(ctx context.Context, conn net.Conn, cfg DTLSConfig, localSSRC uint32) error {
	session, _, err := Handshake(ctx, conn, cfg)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	return c.adoptSRTPSession(session, localSSRC)
}

// EstablishSDES builds an SRTP session from signalling-exchanged keying
// material instead of a handshake.
func (c *Connection) EstablishSDES(conn net.Conn, suite, localKeyB64, remoteKeyB64 string, localSSRC uint32) error {
	session, err := NewSDESSession(conn, suite, localKeyB64, remoteKeyB64)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	return c.adoptSRTPSession(session, localSSRC)
}

func (c *Connection) adoptSRTPSession(session *srtp.SessionSRTP, localSSRC uint32) error {
	stream, err := session.OpenWriteStream()
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("rtptransport: open SRTP write stream: %w", err)
	}

	c.mu.Lock()
	c.srtpSession = session
	c.writeStream = stream
	c.localSSRC = localSSRC
	c.mu.Unlock()

	c.setState(StateConnected)
	return nil
}

// WriteRTP satisfies pkg/rtp.Writer, protecting and sending pkt over the
// established SRTP session.
func (c *Connection) WriteRTP(pkt *pionrtp.Packet) error {
	c.mu.RLock()
	stream := c.writeStream
	c.mu.RUnlock()
	if stream == nil {
		return fmt.Errorf("rtptransport: connection not established")
	}
	_, err := stream.WriteRTP(&pkt.Header, pkt.Payload)
	return err
}

// ReadStream opens (or returns the already-open) read stream for ssrc,
// used by the caller's receive loop to pull decrypted RTP packets for a
// remote source.
func (c *Connection) ReadStream(ssrc uint32) (*srtp.ReadStreamSRTP, error) {
	c.mu.RLock()
	session := c.srtpSession
	c.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("rtptransport: connection not established")
	}
	return session.OpenReadStream(ssrc)
}

// Close tears down ICE and the SRTP session.
func (c *Connection) Close() error {
	c.mu.Lock()
	ice := c.ice
	session := c.srtpSession
	c.mu.Unlock()

	var firstErr error
	if session != nil {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ice != nil {
		if err := ice.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
