package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// DialogStateMachine drives a dialog through the states RFC 3261 §12
// defines (Init -> Trying -> Ringing -> Established -> Terminating ->
// Terminated), backed by looplab/fsm so the transition table lives in one
// declarative event list instead of a switch-per-state.
type DialogStateMachine struct {
	mu        sync.RWMutex
	fsm       *fsm.FSM
	isUAC     bool
	callbacks []func(DialogState)

	allowedMethods map[DialogState][]string
}

// Event names driving the dialog FSM; unexported, never surfaced to callers
// who think purely in terms of states.
const (
	evStart       = "start"
	evRing        = "ring"
	evEstablish   = "establish"
	evTerminating = "terminating"
	evTerminate   = "terminate"
)

func stateName(s DialogState) string { return s.String() }

func parseStateName(name string) DialogState {
	for _, s := range []DialogState{
		DialogStateInit, DialogStateTrying, DialogStateRinging,
		DialogStateEstablished, DialogStateTerminating, DialogStateTerminated,
	} {
		if s.String() == name {
			return s
		}
	}
	return DialogStateInit
}

// eventFor maps a (from, to) state pair to the FSM event that performs it;
// TransitionTo's callers think in states, looplab/fsm thinks in events.
func eventFor(from, to DialogState) string {
	switch {
	case from == DialogStateInit && to == DialogStateTrying:
		return evStart
	case from == DialogStateTrying && to == DialogStateRinging:
		return evRing
	case (from == DialogStateTrying || from == DialogStateRinging) && to == DialogStateEstablished:
		return evEstablish
	case from == DialogStateEstablished && to == DialogStateTerminating:
		return evTerminating
	case (from == DialogStateTrying || from == DialogStateRinging || from == DialogStateTerminating) && to == DialogStateTerminated:
		return evTerminate
	default:
		return ""
	}
}

func newFSM(dsm *DialogStateMachine) *fsm.FSM {
	return fsm.NewFSM(
		stateName(DialogStateInit),
		fsm.Events{
			{Name: evStart, Src: []string{stateName(DialogStateInit)}, Dst: stateName(DialogStateTrying)},
			{Name: evRing, Src: []string{stateName(DialogStateTrying)}, Dst: stateName(DialogStateRinging)},
			{Name: evEstablish, Src: []string{stateName(DialogStateTrying), stateName(DialogStateRinging)}, Dst: stateName(DialogStateEstablished)},
			{Name: evTerminating, Src: []string{stateName(DialogStateEstablished)}, Dst: stateName(DialogStateTerminating)},
			{Name: evTerminate, Src: []string{
				stateName(DialogStateTrying), stateName(DialogStateRinging), stateName(DialogStateTerminating),
			}, Dst: stateName(DialogStateTerminated)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				dsm.mu.RLock()
				callbacks := append([]func(DialogState){}, dsm.callbacks...)
				dsm.mu.RUnlock()
				newState := parseStateName(e.Dst)
				for _, cb := range callbacks {
					cb(newState)
				}
			},
		},
	)
}

// NewDialogStateMachine creates a new state machine in DialogStateInit.
func NewDialogStateMachine(isUAC bool) *DialogStateMachine {
	dsm := &DialogStateMachine{
		isUAC: isUAC,
		allowedMethods: map[DialogState][]string{
			DialogStateInit:        {"INVITE"},
			DialogStateTrying:      {"CANCEL", "PRACK", "UPDATE"},
			DialogStateRinging:     {"CANCEL", "PRACK", "UPDATE"},
			DialogStateEstablished: {"BYE", "INVITE", "UPDATE", "INFO", "REFER", "NOTIFY", "MESSAGE", "OPTIONS"},
			DialogStateTerminating: {},
			DialogStateTerminated:  {},
		},
	}
	dsm.fsm = newFSM(dsm)
	return dsm
}

// GetState returns the current state.
func (dsm *DialogStateMachine) GetState() DialogState {
	return parseStateName(dsm.currentFSM().Current())
}

// OnStateChange registers a callback fired after every successful
// transition with the new state. looplab/fsm allows only one callback per
// named hook, so fan-out to multiple subscribers happens here instead.
func (dsm *DialogStateMachine) OnStateChange(callback func(DialogState)) {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()
	dsm.callbacks = append(dsm.callbacks, callback)
}

// isValidTransition reports whether moving from `from` to `to` is legal.
func (dsm *DialogStateMachine) isValidTransition(from, to DialogState) bool {
	ev := eventFor(from, to)
	if ev == "" {
		return false
	}
	f := dsm.currentFSM()
	return parseStateName(f.Current()) == from && f.Can(ev)
}

// currentFSM snapshots the fsm pointer under lock; the pointer only
// changes on Reset, and the fsm library does its own internal locking for
// state reads/transitions, so callers operate on the snapshot without
// holding dsm.mu (the "enter_state" callback below needs to read
// dsm.callbacks without deadlocking against a lock TransitionTo is still
// holding).
func (dsm *DialogStateMachine) currentFSM() *fsm.FSM {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.fsm
}

// TransitionTo moves to newState if the transition is legal from the
// current state.
func (dsm *DialogStateMachine) TransitionTo(newState DialogState) error {
	f := dsm.currentFSM()
	from := parseStateName(f.Current())
	ev := eventFor(from, newState)
	if ev == "" {
		return fmt.Errorf("invalid transition from %s to %s", from, newState)
	}
	if err := f.Event(context.Background(), ev); err != nil {
		return fmt.Errorf("invalid transition from %s to %s: %w", from, newState, err)
	}
	return nil
}

// ProcessRequest advances state in response to an inbound or outbound
// request and reports whether method is allowed in the resulting state.
func (dsm *DialogStateMachine) ProcessRequest(method string, statusCode int) error {
	state := dsm.GetState()

	switch state {
	case DialogStateInit:
		if method == "INVITE" {
			return dsm.TransitionTo(DialogStateTrying)
		}
	case DialogStateTrying, DialogStateRinging:
		if method == "CANCEL" {
			return dsm.TransitionTo(DialogStateTerminated)
		}
	case DialogStateEstablished:
		if method == "BYE" {
			return dsm.TransitionTo(DialogStateTerminating)
		}
	}

	if !dsm.isMethodAllowed(state, method) {
		return fmt.Errorf("method %s not allowed in state %s", method, state)
	}
	return nil
}

// ProcessResponse advances state in response to a received status code for
// the given method.
func (dsm *DialogStateMachine) ProcessResponse(method string, statusCode int) error {
	state := dsm.GetState()

	switch state {
	case DialogStateTrying:
		if method != "INVITE" {
			return nil
		}
		switch {
		case statusCode == 180 || statusCode == 183:
			return dsm.TransitionTo(DialogStateRinging)
		case statusCode >= 200 && statusCode < 300:
			return dsm.TransitionTo(DialogStateEstablished)
		case statusCode >= 300:
			return dsm.TransitionTo(DialogStateTerminated)
		}
	case DialogStateRinging:
		if method == "INVITE" && statusCode >= 200 && statusCode < 300 {
			return dsm.TransitionTo(DialogStateEstablished)
		}
	case DialogStateTerminating:
		if method == "BYE" && statusCode >= 200 && statusCode < 300 {
			return dsm.TransitionTo(DialogStateTerminated)
		}
	}
	return nil
}

// IsEstablished reports whether the dialog has reached DialogStateEstablished.
func (dsm *DialogStateMachine) IsEstablished() bool {
	return dsm.GetState() == DialogStateEstablished
}

// IsTerminated reports whether the dialog has reached DialogStateTerminated.
func (dsm *DialogStateMachine) IsTerminated() bool {
	return dsm.GetState() == DialogStateTerminated
}

// CanSendRequest reports whether method may be sent from the current state.
func (dsm *DialogStateMachine) CanSendRequest(method string) bool {
	state := dsm.GetState()

	if method == "CANCEL" {
		return state == DialogStateTrying || state == DialogStateRinging
	}
	if method == "ACK" {
		return true
	}
	return dsm.isMethodAllowed(state, method)
}

func (dsm *DialogStateMachine) isMethodAllowed(state DialogState, method string) bool {
	if method == "ACK" {
		return true
	}
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	for _, m := range dsm.allowedMethods[state] {
		if m == method {
			return true
		}
	}
	return false
}

// Reset returns the machine to DialogStateInit. Registered callbacks
// survive the reset.
func (dsm *DialogStateMachine) Reset() {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()
	dsm.fsm = newFSM(dsm)
}
