package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/sipstack/pkg/sip/core/types"
	"github.com/arzzra/sipstack/pkg/sip/transaction"
)

// Dialog is the concrete IDialog implementation: one RFC 3261 §12 dialog,
// combining the state machine, CSeq bookkeeping, and target/route-set
// tracking that Stack and the REFER helpers in refer.go drive.
type Dialog struct {
	key   DialogKey
	isUAC bool

	localURI  types.URI
	remoteURI types.URI

	stateMachine    *DialogStateMachine
	sequenceManager *SequenceManager
	targetManager   *TargetManager

	transactionMgr transaction.TransactionManager
	inviteTx       transaction.Transaction
	referTx        transaction.Transaction

	// inviteReq is the original outbound INVITE (UAC side only), kept so a
	// 401/407 challenge can be answered by cloning it with an
	// Authorization/Proxy-Authorization header rather than rebuilding it
	// from scratch.
	inviteReq   *types.Request
	authRetried bool

	referSubscriptions map[string]*ReferSubscription

	mu           sync.RWMutex
	bodyHandlers []func(Body)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDialog creates a Dialog for either role: isUAC true for a dialog this
// side originated with an outbound INVITE, false for one created from an
// incoming INVITE.
func NewDialog(key DialogKey, isUAC bool, localURI, remoteURI types.URI, txMgr transaction.TransactionManager) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dialog{
		key:                key,
		isUAC:              isUAC,
		localURI:           localURI,
		remoteURI:          remoteURI,
		stateMachine:       NewDialogStateMachine(isUAC),
		sequenceManager:    NewSequenceManager(GenerateInitialCSeq(), isUAC),
		targetManager:      NewTargetManager(remoteURI, isUAC),
		transactionMgr:     txMgr,
		referSubscriptions: make(map[string]*ReferSubscription),
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Key returns the dialog's current identification triple.
func (d *Dialog) Key() DialogKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key
}

// LocalTag returns this side's tag.
func (d *Dialog) LocalTag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key.LocalTag
}

// RemoteTag returns the peer's tag, empty until the dialog is confirmed.
func (d *Dialog) RemoteTag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key.RemoteTag
}

// State returns the dialog's current DialogState.
func (d *Dialog) State() DialogState {
	return d.stateMachine.GetState()
}

// SetInviteTransaction attaches the server transaction carrying the INVITE
// this dialog answers (UAS side) or the client transaction that sent it
// (UAC side).
func (d *Dialog) SetInviteTransaction(tx transaction.Transaction) {
	d.mu.Lock()
	d.inviteTx = tx
	d.mu.Unlock()
}

// Accept sends a 200 OK for the dialog's pending INVITE and transitions to
// Established.
func (d *Dialog) Accept(ctx context.Context, opts ...ResponseOpt) error {
	d.mu.RLock()
	inviteTx := d.inviteTx
	key := d.key
	localURI := d.localURI
	remoteURI := d.remoteURI
	d.mu.RUnlock()

	if inviteTx == nil {
		return fmt.Errorf("dialog: no pending INVITE transaction to accept")
	}

	resp := types.NewResponse(200, "OK")
	resp.SetHeader("Call-ID", key.CallID)
	resp.SetHeader("From", fmt.Sprintf("<%s>;tag=%s", remoteURI.String(), key.RemoteTag))
	resp.SetHeader("To", fmt.Sprintf("<%s>;tag=%s", localURI.String(), key.LocalTag))
	if invite := inviteTx.Request(); invite != nil {
		resp.SetHeader("CSeq", invite.GetHeader("CSeq"))
		if via := invite.GetHeader("Via"); via != "" {
			resp.SetHeader("Via", via)
		}
	}
	resp.SetHeader("Contact", fmt.Sprintf("<%s>", localURI.String()))

	for _, opt := range opts {
		opt(resp)
	}

	if err := inviteTx.SendResponse(resp); err != nil {
		return fmt.Errorf("dialog: send 200 OK: %w", err)
	}

	return d.stateMachine.TransitionTo(DialogStateEstablished)
}

// Reject sends a failure response for the dialog's pending INVITE and
// terminates the dialog.
func (d *Dialog) Reject(ctx context.Context, code int, reason string) error {
	d.mu.RLock()
	inviteTx := d.inviteTx
	key := d.key
	localURI := d.localURI
	remoteURI := d.remoteURI
	d.mu.RUnlock()

	if inviteTx == nil {
		return fmt.Errorf("dialog: no pending INVITE transaction to reject")
	}

	resp := types.NewResponse(code, reason)
	resp.SetHeader("Call-ID", key.CallID)
	resp.SetHeader("From", fmt.Sprintf("<%s>;tag=%s", remoteURI.String(), key.RemoteTag))
	resp.SetHeader("To", fmt.Sprintf("<%s>;tag=%s", localURI.String(), key.LocalTag))
	if invite := inviteTx.Request(); invite != nil {
		resp.SetHeader("CSeq", invite.GetHeader("CSeq"))
	}

	if err := inviteTx.SendResponse(resp); err != nil {
		return fmt.Errorf("dialog: send %d response: %w", code, err)
	}

	return d.stateMachine.TransitionTo(DialogStateTerminated)
}

// Bye sends a BYE for an established dialog and moves it to Terminating;
// the dialog reaches Terminated once the BYE transaction completes.
func (d *Dialog) Bye(ctx context.Context, reason string) error {
	if !d.stateMachine.IsEstablished() {
		return fmt.Errorf("dialog: cannot send BYE from state %s", d.State())
	}

	bye := d.createRequest(types.MethodBYE)
	if reason != "" {
		bye.SetHeader("Reason", reason)
	}

	tx, err := d.transactionMgr.CreateClientTransaction(bye)
	if err != nil {
		return fmt.Errorf("dialog: create BYE transaction: %w", err)
	}

	if err := d.stateMachine.TransitionTo(DialogStateTerminating); err != nil {
		return err
	}

	if err := tx.SendRequest(bye); err != nil {
		return fmt.Errorf("dialog: send BYE: %w", err)
	}

	go func() {
		<-tx.Context().Done()
		_ = d.stateMachine.TransitionTo(DialogStateTerminated)
	}()

	return nil
}

// ProcessRequest advances dialog state and bookkeeping for an in-dialog
// request (e.g. the BYE that closes it).
func (d *Dialog) ProcessRequest(req types.Message) error {
	method := req.Method()

	if cseqHeader := req.GetHeader("CSeq"); cseqHeader != "" {
		if cseq, _, err := ParseCSeq(cseqHeader); err == nil {
			d.sequenceManager.ValidateRemoteCSeq(cseq, method)
		}
	}

	_ = d.targetManager.UpdateFromRequest(req)

	if err := d.stateMachine.ProcessRequest(method, 0); err != nil {
		return err
	}

	if body := req.Body(); len(body) > 0 {
		d.deliverBody(req.GetHeader("Content-Type"), body)
	}
	return nil
}

// ProcessResponse advances dialog state and target/route tracking for an
// in-dialog response to a non-INVITE request. INVITE responses are routed
// through Stack.handleInviteResponse instead, since they arrive via the
// INVITE client transaction's own callback.
func (d *Dialog) ProcessResponse(resp types.Message, method string) error {
	_ = d.targetManager.UpdateFromResponse(resp, method)

	if err := d.stateMachine.ProcessResponse(method, resp.StatusCode()); err != nil {
		return err
	}

	if body := resp.Body(); len(body) > 0 {
		d.deliverBody(resp.GetHeader("Content-Type"), body)
	}
	return nil
}

// createRequest builds an in-dialog request for method, filling in the
// headers RFC 3261 §12.2.1.1 requires from this dialog's state: Call-ID,
// From/To with their tags, the next local CSeq, a fresh Via branch,
// Contact, and any Route headers the route set demands.
func (d *Dialog) createRequest(method string) *types.Request {
	d.mu.RLock()
	key := d.key
	localURI := d.localURI
	remoteURI := d.remoteURI
	d.mu.RUnlock()

	reqURI := remoteURI
	if target := d.targetManager.GetTargetURI(); target != nil {
		reqURI = target
	}

	req := types.NewRequest(method, reqURI)
	req.SetHeader("Call-ID", key.CallID)
	req.SetHeader("From", fmt.Sprintf("<%s>;tag=%s", localURI.String(), key.LocalTag))

	to := fmt.Sprintf("<%s>", remoteURI.String())
	if key.RemoteTag != "" {
		to += ";tag=" + key.RemoteTag
	}
	req.SetHeader("To", to)

	seq := d.sequenceManager.NextLocalCSeq()
	req.SetHeader("CSeq", FormatCSeq(seq, method))

	req.SetHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s;branch=z9hG4bK%s", localURI.Host(), generateRandomString(16)))
	req.SetHeader("Max-Forwards", "70")
	req.SetHeader("Contact", fmt.Sprintf("<%s>", localURI.String()))

	for _, route := range d.targetManager.BuildRouteHeaders() {
		req.AddHeader("Route", route)
	}

	return req
}

// OnStateChange registers a callback fired on every dialog state
// transition; delegated straight to the state machine, which already
// fans a transition out to every registered subscriber.
func (d *Dialog) OnStateChange(fn func(DialogState)) {
	d.stateMachine.OnStateChange(fn)
}

// OnBody registers a callback fired whenever an in-dialog request or
// response carries a body (typically a re-INVITE/UPDATE SDP offer or
// answer).
func (d *Dialog) OnBody(fn func(Body)) {
	d.mu.Lock()
	d.bodyHandlers = append(d.bodyHandlers, fn)
	d.mu.Unlock()
}

func (d *Dialog) deliverBody(contentType string, data []byte) {
	d.mu.RLock()
	handlers := append([]func(Body){}, d.bodyHandlers...)
	d.mu.RUnlock()

	body := NewSimpleBody(contentType, data)
	for _, h := range handlers {
		h(body)
	}
}

// Close releases the dialog's background state without sending BYE; used
// for abrupt teardown (e.g. stack shutdown after BYE was already sent).
func (d *Dialog) Close() error {
	d.cancel()
	return nil
}
