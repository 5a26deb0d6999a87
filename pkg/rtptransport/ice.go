package rtptransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/randutil"
)

// restartJitter spreads out ICE restarts triggered by near-simultaneous
// failure notifications across several calls sharing a NAT, so they don't
// all re-gather candidates against the STUN/TURN servers in the same
// instant. Not a security value, so the non-cryptographic generator
// pion/ice itself depends on is the right tool (unlike pkg/sipauth's
// nonces, which do need crypto/rand).
var restartJitterSource = randutil.NewMathRandomGenerator()

// restartJitterMillis returns a pseudo-random delay in [0, maxMillis) to
// wait before starting an ICE restart.
func restartJitterMillis(maxMillis int) int {
	if maxMillis <= 0 {
		return 0
	}
	return int(restartJitterSource.Uint32() % uint32(maxMillis))
}

// ICERole mirrors RFC 8445 §3's controlling/controlled split, decided by
// which side sent the SDP offer (offerer is controlling).
type ICERole int

const (
	ICEControlling ICERole = iota
	ICEControlled
)

// ICESession wraps a pion/ice Agent with the lifecycle SPEC_FULL.md's
// connection state machine needs: candidate gathering, local credential
// exposure for the SDP a=ice-ufrag/a=ice-pwd lines, and a blocking Dial/
// Accept that hands back a net.Conn once connectivity checks succeed.
type ICESession struct {
	agent *ice.Agent
	role  ICERole

	mu         sync.Mutex
	candidates []ice.Candidate
	onChange   func(ConnectionState)
}

// TURNServer names a TURN relay candidate source (RFC 8656) the ICE agent
// should gather from in addition to host and server-reflexive candidates,
// used when the two endpoints may be behind symmetric NATs that a plain
// STUN binding can't traverse.
type TURNServer struct {
	URI      string // e.g. "turn:turn.example.com:3478"
	Username string
	Password string
}

// ICEConfig parameterises agent creation.
type ICEConfig struct {
	Lite          bool
	Urls          []*ice.URL
	TURNServers   []TURNServer
	Role          ICERole
	OnCandidate   func(ice.Candidate)
	OnStateChange func(ConnectionState)

	// LoggerFactory routes the agent's connectivity-check and candidate
	// gathering logs through the same pion/logging sink the DTLS/SRTP side
	// of this package would use, instead of pion/ice's default stdout
	// logger.
	LoggerFactory logging.LoggerFactory
}

func (cfg ICEConfig) urls() ([]*ice.URL, error) {
	urls := append([]*ice.URL(nil), cfg.Urls...)
	for _, t := range cfg.TURNServers {
		u, err := ice.ParseURL(t.URI)
		if err != nil {
			return nil, fmt.Errorf("rtptransport: parse TURN url %q: %w", t.URI, err)
		}
		u.Username = t.Username
		u.Password = t.Password
		urls = append(urls, u)
	}
	return urls, nil
}

// NewICESession creates and starts candidate gathering on a fresh agent.
func NewICESession(cfg ICEConfig) (*ICESession, error) {
	urls, err := cfg.urls()
	if err != nil {
		return nil, err
	}
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls: urls,
		Lite: cfg.Lite,
		NetworkTypes: []ice.NetworkType{
			ice.NetworkTypeUDP4,
			ice.NetworkTypeUDP6,
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("rtptransport: new ICE agent: %w", err)
	}

	s := &ICESession{agent: agent, role: cfg.Role, onChange: cfg.OnStateChange}

	if err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		s.mu.Lock()
		s.candidates = append(s.candidates, c)
		s.mu.Unlock()
		if cfg.OnCandidate != nil {
			cfg.OnCandidate(c)
		}
	}); err != nil {
		return nil, fmt.Errorf("rtptransport: register candidate handler: %w", err)
	}

	if err := agent.OnConnectionStateChange(func(state ice.ConnectionState) {
		if s.onChange != nil {
			s.onChange(iceStateToConnectionState(state))
		}
	}); err != nil {
		return nil, fmt.Errorf("rtptransport: register state handler: %w", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("rtptransport: gather candidates: %w", err)
	}

	return s, nil
}

func iceStateToConnectionState(s ice.ConnectionState) ConnectionState {
	switch s {
	case ice.ConnectionStateCompleted, ice.ConnectionStateConnected:
		return StateConnected
	case ice.ConnectionStateFailed, ice.ConnectionStateDisconnected:
		return StateFailed
	case ice.ConnectionStateChecking:
		return StateConnecting
	default:
		return StateNew
	}
}

// LocalCredentials returns this agent's ufrag/pwd for the outbound SDP
// offer or answer (RFC 8445 §5.3).
func (s *ICESession) LocalCredentials() (ufrag, pwd string, err error) {
	return s.agent.GetLocalUserCredentials()
}

// Candidates returns every local candidate gathered so far as SDP
// a=candidate attribute values (without the "candidate:" prefix, which the
// SDP layer adds).
func (s *ICESession) Candidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c.Marshal())
	}
	return out
}

// AddRemoteCandidate feeds one remote a=candidate line into connectivity
// checks.
func (s *ICESession) AddRemoteCandidate(raw string) error {
	c, err := ice.UnmarshalCandidate(raw)
	if err != nil {
		return fmt.Errorf("rtptransport: unmarshal candidate: %w", err)
	}
	return s.agent.AddRemoteCandidate(c)
}

// Connect blocks until connectivity checks produce a usable net.Conn,
// dialing as the controlling agent or accepting as the controlled one
// depending on the role this session was created with.
func (s *ICESession) Connect(ctx context.Context, remoteUfrag, remotePwd string) (net.Conn, error) {
	if s.role == ICEControlling {
		return s.agent.Dial(ctx, remoteUfrag, remotePwd)
	}
	return s.agent.Accept(ctx, remoteUfrag, remotePwd)
}

// Close tears down the agent and any established connection.
func (s *ICESession) Close() error {
	return s.agent.Close()
}

// maxRestartJitterMillis bounds how long Restart waits before re-gathering,
// RFC 8445 §4.1.3's ICE restart with a local anti-thundering-herd spread
// layered on top when several calls on this host fail together (e.g. a
// shared NAT binding expiring).
const maxRestartJitterMillis = 250

// Restart performs an ICE restart (RFC 8445 §4.1.3) after a small jittered
// delay, generating a fresh local ufrag/pwd pair for the next offer/answer.
func (s *ICESession) Restart(ctx context.Context) (ufrag, pwd string, err error) {
	select {
	case <-time.After(time.Duration(restartJitterMillis(maxRestartJitterMillis)) * time.Millisecond):
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
	if err := s.agent.Restart("", ""); err != nil {
		return "", "", fmt.Errorf("rtptransport: ICE restart: %w", err)
	}
	return s.agent.GetLocalUserCredentials()
}
