package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arzzra/sipstack/pkg/sip/dialog"
	coretypes "github.com/arzzra/sipstack/pkg/sip/core/types"
)

// OutboundCall places one or more forked INVITEs toward a target URI and
// resolves to whichever fork answers first, cancelling the rest.
//
// Grounded on the teacher's reinvite_bye_example.go dial pattern: build SDP,
// send INVITE, select on the response channel with a timeout, but
// generalised here to race N parallel forks via Call.Done() instead of a
// single dialog.
type OutboundCall struct {
	stack dialog.IStack
	log   *slog.Logger
}

// NewOutboundCall wraps a dialog stack for placing calls.
func NewOutboundCall(stack dialog.IStack, log *slog.Logger) *OutboundCall {
	if log == nil {
		log = slog.Default()
	}
	return &OutboundCall{stack: stack, log: log}
}

// Dial sends a single INVITE to target carrying offerSDP as the body and
// returns a Call tracking its dialog. media configures the RTP transport
// that will be established once the dialog reaches Established.
func (o *OutboundCall) Dial(ctx context.Context, target string, offerSDP []byte, media MediaConfig) (*Call, error) {
	uri, err := coretypes.ParseURI(target)
	if err != nil {
		return nil, fmt.Errorf("call: parse target URI %q: %w", target, err)
	}

	d, err := o.stack.NewInvite(ctx, uri, func(req *dialog.Request) {
		req.SetBody(offerSDP)
		req.SetHeader("Content-Type", "application/sdp")
	})
	if err != nil {
		return nil, fmt.Errorf("call: send INVITE: %w", err)
	}

	c := newCall(d, media, o.log.With("call_id", d.Key().CallID))
	return c, nil
}

// DialForking races len(targets) parallel INVITEs (a blind fork, as a
// registrar/proxy might do for a hunt group) and returns whichever Call
// reaches Established first; every other fork is hung up (CANCEL) via its
// own Call.Hangup once the winner is known.
func (o *OutboundCall) DialForking(ctx context.Context, targets []string, offerSDP []byte, media MediaConfig) (*Call, error) {
	type result struct {
		call *Call
		err  error
	}

	results := make(chan result, len(targets))
	calls := make([]*Call, 0, len(targets))
	var mu sync.Mutex

	for _, t := range targets {
		target := t
		go func() {
			c, err := o.Dial(ctx, target, offerSDP, media)
			if err != nil {
				results <- result{err: err}
				return
			}
			mu.Lock()
			calls = append(calls, c)
			mu.Unlock()

			c.dialog.OnStateChange(func(s dialog.DialogState) {
				if s == dialog.DialogStateEstablished {
					results <- result{call: c}
				}
			})
		}()
	}

	var winner *Call
	var firstErr error
	for i := 0; i < len(targets); i++ {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if winner == nil {
			winner = r.call
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range calls {
		if c != winner {
			c.cancelFork()
			go c.Hangup(ctx, "superseded")
		}
	}

	if winner == nil {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("call: no fork answered")
	}
	return winner, nil
}
