// Package call composes the SIP dialog stack, SDP negotiation, and RTP
// transport into a single caller-facing object: one call, one state machine,
// one place that knows how to hang everything up.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arzzra/sipstack/pkg/rtp"
	"github.com/arzzra/sipstack/pkg/rtptransport"
	"github.com/arzzra/sipstack/pkg/sip/dialog"
	"github.com/arzzra/sipstack/pkg/sip/sdp"
)

// ErrCallClosed is returned by any Call operation after Close/Hangup.
var ErrCallClosed = errors.New("call: already closed")

// MediaConfig parameterises the RTP session and transport protection a Call
// sets up once SDP offer/answer completes.
type MediaConfig struct {
	RTP       rtp.Config
	ICE       rtptransport.ICEConfig
	UseDTLS   bool
	DTLS      rtptransport.DTLSConfig
	SDESSuite string // not read by EstablishMedia, which returns an error when UseDTLS is false
}

// Call is the shared state behind OutboundCall and InboundCall: the SIP
// dialog, the negotiated SDP session, and (once media is up) the RTP
// session and its transport connection.
type Call struct {
	mu     sync.Mutex
	log    *slog.Logger
	dialog dialog.IDialog
	sdp    *sdp.Session
	media  MediaConfig

	conn    *rtptransport.Connection
	rtpSess *rtp.Session

	closed bool

	// cancelForks broadcasts to every still-pending forked early dialog that
	// the call has been answered elsewhere or hung up before answer, so each
	// fork's goroutine can CANCEL its own branch instead of relying on GC or
	// a deferred close to eventually notice. Closed exactly once.
	cancelForks chan struct{}
	cancelOnce  sync.Once
}

func newCall(d dialog.IDialog, media MediaConfig, log *slog.Logger) *Call {
	if log == nil {
		log = slog.Default()
	}
	c := &Call{
		dialog:      d,
		sdp:         sdp.NewSession(),
		media:       media,
		log:         log,
		cancelForks: make(chan struct{}),
	}
	d.OnStateChange(func(s dialog.DialogState) {
		c.log.Info("dialog state changed", "state", s.String())
		if s == dialog.DialogStateTerminated {
			c.teardownMedia()
		}
	})
	return c
}

// Done returns a channel closed when this call (or a losing fork of it) has
// been cancelled, letting callers select on it alongside dialog responses.
func (c *Call) Done() <-chan struct{} { return c.cancelForks }

// cancelFork marks this call's branch as superseded, closing Done() exactly
// once even if called from multiple goroutines (e.g. both a 487 and a local
// Hangup racing).
func (c *Call) cancelFork() {
	c.cancelOnce.Do(func() { close(c.cancelForks) })
}

// State returns the current dialog state.
func (c *Call) State() dialog.DialogState { return c.dialog.State() }

// EstablishMedia wires the negotiated transport (ICE then DTLS-SRTP, chosen
// from the MediaConfig) into an rtp.Session so callers can start sending/
// receiving samples. Call once the dialog reaches Established and the
// remote ICE ufrag/pwd have been read off the answer/offer's SDP.
func (c *Call) EstablishMedia(ctx context.Context, remoteUfrag, remotePwd string, localSSRC uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCallClosed
	}

	conn := rtptransport.NewConnection(func(state rtptransport.ConnectionState) {
		c.log.Info("rtp transport state changed", "state", state.String())
	})

	netConn, err := conn.EstablishICE(ctx, c.media.ICE, remoteUfrag, remotePwd)
	if err != nil {
		return fmt.Errorf("call: establish ICE: %w", err)
	}

	if c.media.UseDTLS {
		if err := conn.EstablishDTLS(ctx, netConn, c.media.DTLS, localSSRC); err != nil {
			return fmt.Errorf("call: establish DTLS-SRTP: %w", err)
		}
	} else {
		// SDES keys are exchanged via a=crypto lines during offer/answer and
		// threaded in by the caller through MediaConfig before this point.
		return fmt.Errorf("call: SDES-SRTP media establishment requires local/remote keys, wire via EstablishSDES directly")
	}

	rtpCfg := c.media.RTP
	rtpCfg.Writer = conn
	sess, err := rtp.New(rtpCfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("call: new RTP session: %w", err)
	}

	c.conn = conn
	c.rtpSess = sess
	return nil
}

// SendSamples forwards to the underlying RTP session once media is up.
func (c *Call) SendSamples(payload []byte, samples uint32, marker bool) error {
	c.mu.Lock()
	sess := c.rtpSess
	c.mu.Unlock()
	if sess == nil {
		return errors.New("call: media not established yet")
	}
	return sess.SendSamples(payload, samples, marker)
}

func (c *Call) teardownMedia() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtpSess != nil {
		c.rtpSess.Close()
		c.rtpSess = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Hangup terminates the dialog (BYE if established, CANCEL/reject
// otherwise) and tears down media. Safe to call more than once.
func (c *Call) Hangup(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelFork()
	c.teardownMedia()

	switch c.dialog.State() {
	case dialog.DialogStateEstablished, dialog.DialogStateTerminating:
		return c.dialog.Bye(ctx, reason)
	case dialog.DialogStateTerminated:
		return nil
	default:
		return c.dialog.Close()
	}
}
