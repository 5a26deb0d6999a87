package transport

import (
	"net"
	"testing"
	"time"

	"github.com/arzzra/sipstack/pkg/sip/core/types"
	"github.com/stretchr/testify/require"
)

func newTestUDP(t *testing.T) (Transport, string) {
	t.Helper()
	tr := NewUDPTransport()
	require.NoError(t, tr.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, tr.LocalAddr().String()
}

func TestUDPTransport_BasicSendReceive(t *testing.T) {
	server, serverAddr := newTestUDP(t)
	client, _ := newTestUDP(t)

	received := make(chan types.Message, 1)
	server.OnMessage(func(msg types.Message, addr net.Addr, tr Transport) {
		received <- msg
	})

	req := types.NewRequest(types.MethodOPTIONS, mustParseURI(t, "sip:bob@example.com"))
	req.SetHeader("Via", "SIP/2.0/UDP 127.0.0.1:9999;branch=z9hG4bKtest")
	req.SetHeader("From", "<sip:alice@example.com>;tag=abc")
	req.SetHeader("To", "<sip:bob@example.com>")
	req.SetHeader("Call-ID", "udp-test-1")
	req.SetHeader("CSeq", "1 OPTIONS")
	req.SetHeader("Max-Forwards", "70")

	require.NoError(t, client.Send(req, serverAddr))

	select {
	case msg := <-received:
		require.True(t, msg.IsRequest())
		require.Equal(t, types.MethodOPTIONS, msg.Method())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestUDPTransport_ReportsMalformedDatagramWithoutCrashing(t *testing.T) {
	server, serverAddr := newTestUDP(t)

	errs := make(chan error, 1)
	server.OnError(func(err error, tr Transport) { errs <- err })

	raw, err := net.Dial("udp", serverAddr)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("not a sip message\r\n\r\n"))
	require.NoError(t, err)

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a reported parse error")
	}
}

func mustParseURI(t *testing.T, s string) types.URI {
	t.Helper()
	u, err := types.ParseURI(s)
	require.NoError(t, err)
	return u
}
