package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arzzra/sipstack/pkg/sip/core/parser"
	"github.com/arzzra/sipstack/pkg/sip/core/types"
)

// UDPTransport implements the Transport contract over a single UDP socket.
// UDP is connectionless, so unlike TCPTransport it never populates a
// ConnectionPool: every datagram is self-contained and Send always takes an
// explicit destination address.
type UDPTransport struct {
	conn      *net.UDPConn
	localAddr net.Addr
	parser    parser.Parser

	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	errorHandler      ErrorHandler

	workers    int
	workerPool chan struct{}

	closed atomic.Bool
	wg     sync.WaitGroup

	stats   TransportStats
	statsMu sync.RWMutex
}

// defaultUDPWorkers bounds how many datagrams are decoded concurrently
// before processing falls back to the read-loop goroutine inline.
const defaultUDPWorkers = 4

// NewUDPTransport creates a new UDP transport. Call Listen to bind it.
func NewUDPTransport() Transport {
	return &UDPTransport{
		parser:     parser.NewParser(),
		workers:    defaultUDPWorkers,
		workerPool: make(chan struct{}, defaultUDPWorkers),
	}
}

func (t *UDPTransport) Network() string { return "udp" }
func (t *UDPTransport) Reliable() bool  { return false }
func (t *UDPTransport) Secure() bool    { return false }

func (t *UDPTransport) Listen(addr string) error {
	if t.conn != nil {
		return fmt.Errorf("already listening")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "resolve", Err: err}
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "listen", Err: err}
	}

	t.conn = conn
	t.localAddr = conn.LocalAddr()

	for i := 0; i < t.workers; i++ {
		t.workerPool <- struct{}{}
	}

	t.wg.Add(1)
	go t.readLoop()

	return nil
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.reportError(err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case <-t.workerPool:
			t.wg.Add(1)
			go t.processDatagram(data, remote)
		default:
			// Worker pool exhausted: process inline rather than drop, UDP
			// has no flow control to push back on.
			t.processDatagramInline(data, remote)
		}
	}
}

func (t *UDPTransport) processDatagram(data []byte, remote *net.UDPAddr) {
	defer func() {
		t.wg.Done()
		t.workerPool <- struct{}{}
	}()
	t.processDatagramInline(data, remote)
}

func (t *UDPTransport) processDatagramInline(data []byte, remote *net.UDPAddr) {
	t.statsMu.Lock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += uint64(len(data))
	t.statsMu.Unlock()

	msg, err := t.parser.ParseMessage(data)
	if err != nil {
		// Malformed datagram: drop per spec.md §7 propagation policy,
		// never panic on peer-controlled input.
		t.reportError(fmt.Errorf("udp: parse: %w", err))
		return
	}

	if t.messageHandler != nil {
		t.messageHandler(msg, remote, t)
	}
}

func (t *UDPTransport) reportError(err error) {
	t.statsMu.Lock()
	t.stats.Errors++
	t.statsMu.Unlock()
	if t.errorHandler != nil {
		t.errorHandler(err, t)
	}
}

func (t *UDPTransport) Send(msg types.Message, addr string) error {
	if t.closed.Load() {
		return &TransportError{Transport: "udp", Operation: "send", Err: net.ErrClosed}
	}

	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &TransportError{Transport: "udp", Operation: "resolve", Err: err}
	}

	data := msg.Bytes()
	if len(data) > 65507 {
		return ErrMessageTooLarge
	}

	if _, err := t.conn.WriteToUDP(data, remote); err != nil {
		t.reportError(err)
		return &TransportError{Transport: "udp", Operation: "write", Err: err}
	}

	t.statsMu.Lock()
	t.stats.MessagesSent++
	t.stats.BytesSent += uint64(len(data))
	t.statsMu.Unlock()

	return nil
}

// SendTo ignores the connection argument: UDP is connectionless, a
// connected transport may ignore the destination address but a
// connectionless one always needs it (spec.md §4.2). Callers holding a
// Connection handle for UDP should use Send with the peer address instead.
func (t *UDPTransport) SendTo(msg types.Message, conn Connection) error {
	if conn == nil {
		return fmt.Errorf("udp: SendTo requires a destination; UDP has no persistent connection")
	}
	return t.Send(msg, conn.RemoteAddr().String())
}

func (t *UDPTransport) OnMessage(handler MessageHandler) { t.messageHandler = handler }
func (t *UDPTransport) OnConnection(h ConnectionHandler) { t.connectionHandler = h }
func (t *UDPTransport) OnError(h ErrorHandler)            { t.errorHandler = h }

func (t *UDPTransport) Stats() TransportStats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return t.stats
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.localAddr }

func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

var _ Transport = (*UDPTransport)(nil)
