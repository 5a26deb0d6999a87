package call

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arzzra/sipstack/pkg/sip/dialog"
	"github.com/arzzra/sipstack/pkg/sip/sdp"
)

// InboundCall wraps a dialog created from an incoming INVITE, offering
// Answer/Reject in terms of a local SDP answer rather than raw dialog
// plumbing.
type InboundCall struct {
	*Call
}

// InboundHandler is installed on a dialog.IStack via OnIncomingCall to
// receive every freshly arrived INVITE dialog before it is answered.
type InboundHandler func(ctx context.Context, call *InboundCall)

// OnIncomingCall adapts dialog.IStack.OnIncomingDialog's raw IDialog
// callback into an InboundCall, building the MediaConfig the same way for
// every inbound dialog (local ICE/DTLS settings don't vary per call).
func OnIncomingCall(stack dialog.IStack, media MediaConfig, log *slog.Logger, handler InboundHandler) {
	if log == nil {
		log = slog.Default()
	}
	stack.OnIncomingDialog(func(d dialog.IDialog) {
		ic := &InboundCall{Call: newCall(d, media, log.With("call_id", d.Key().CallID))}
		handler(context.Background(), ic)
	})
}

// Answer negotiates answerSDP against the offer carried by the initiating
// INVITE (the caller is responsible for having produced answerSDP via
// sdp.Session.ReceiveOffer/CreateAnswer against the body it received) and
// sends 200 OK.
func (ic *InboundCall) Answer(ctx context.Context, answerSDP []byte) error {
	err := ic.dialog.Accept(ctx, func(resp *dialog.Response) {
		resp.SetBody(answerSDP)
		resp.SetHeader("Content-Type", "application/sdp")
	})
	if err != nil {
		return fmt.Errorf("call: accept INVITE: %w", err)
	}
	return nil
}

// Reject declines the call with the given SIP status code (typically 486
// Busy Here or 603 Decline).
func (ic *InboundCall) Reject(ctx context.Context, code int, reason string) error {
	ic.cancelFork()
	return ic.dialog.Reject(ctx, code, reason)
}

// NegotiateOffer parses the INVITE body as an SDP offer against this call's
// own negotiation session and returns the intent CreateAnswer needs; split
// out from Answer so callers can inspect the remote offer (codecs, ICE
// candidates) before deciding to answer or reject.
func (ic *InboundCall) NegotiateOffer(offerSDP []byte) (*sdp.AnswerIntent, error) {
	doc, err := sdp.ParseDocument(offerSDP)
	if err != nil {
		return nil, fmt.Errorf("call: parse offer SDP: %w", err)
	}
	intent, err := ic.sdp.ReceiveOffer(doc)
	if err != nil {
		return nil, fmt.Errorf("call: negotiate offer: %w", err)
	}
	return intent, nil
}
