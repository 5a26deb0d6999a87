// Package stun provides thin helpers around github.com/pion/stun for the
// pieces of STUN (RFC 5389) this stack needs directly rather than through
// the ICE agent: classifying a muxed datagram as STUN and building a
// short-term-credential binding response, used by pkg/rtptransport when
// acting as a minimal STUN server on a socket it also carries SRTP on.
package stun

import (
	"fmt"

	"github.com/pion/stun"
)

// IsMessage reports whether pkt looks like a STUN message (magic cookie
// present and length matches the header), RFC 5389 §6.
func IsMessage(pkt []byte) bool {
	return stun.IsMessage(pkt)
}

// ParseBindingRequest decodes pkt as a STUN Binding request and verifies
// its MESSAGE-INTEGRITY against the given short-term credential password
// (RFC 5389 §10.1, as ICE's connectivity checks use it, RFC 8445 §7.2.2).
func ParseBindingRequest(pkt []byte, password string) (*stun.Message, error) {
	msg := &stun.Message{Raw: append([]byte(nil), pkt...)}
	if err := msg.Decode(); err != nil {
		return nil, fmt.Errorf("stun: decode: %w", err)
	}
	if msg.Type != stun.BindingRequest {
		return nil, fmt.Errorf("stun: not a binding request: %v", msg.Type)
	}
	integrity := stun.NewShortTermIntegrity(password)
	if err := integrity.Check(msg); err != nil {
		return nil, fmt.Errorf("stun: message integrity: %w", err)
	}
	return msg, nil
}

// BuildBindingResponse builds a success Binding response carrying the
// observed transport address as XOR-MAPPED-ADDRESS, signed with the same
// short-term credential the request was checked against.
func BuildBindingResponse(req *stun.Message, mappedIP []byte, mappedPort int, password string) (*stun.Message, error) {
	resp := stun.MustBuild(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: mappedIP, Port: mappedPort},
		stun.NewShortTermIntegrity(password),
		stun.Fingerprint,
	)
	if err := resp.Encode(); err != nil {
		return nil, fmt.Errorf("stun: encode response: %w", err)
	}
	return resp, nil
}
