package transport

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/arzzra/sipstack/pkg/sip/core/parser"
	"github.com/arzzra/sipstack/pkg/sip/core/types"
)

// DefaultTransportManager реализация TransportManager по умолчанию
type DefaultTransportManager struct {
	transports        map[string]Transport
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	mu                sync.RWMutex
	parser            parser.Parser
	started           bool

	// inventory tracks connection-oriented transports (spec.md §4.2's
	// Used/Unused state machine) so Select can reuse a live connection
	// instead of dialing a new one for every request.
	inventory *Inventory
}

// NewTransportManager создает новый TransportManager
func NewTransportManager() TransportManager {
	m := &DefaultTransportManager{
		transports: make(map[string]Transport),
		parser:     parser.NewParser(),
	}
	m.inventory = NewInventory(nil)
	return m
}

func (m *DefaultTransportManager) RegisterTransport(transport Transport) error {
	if transport == nil {
		return fmt.Errorf("transport is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	network := transport.Network()
	if _, exists := m.transports[network]; exists {
		return fmt.Errorf("transport %s already registered", network)
	}

	// Устанавливаем обработчики
	transport.OnMessage(m.handleMessage)
	transport.OnConnection(m.handleConnection)

	m.transports[network] = transport
	return nil
}

func (m *DefaultTransportManager) UnregisterTransport(network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if transport, exists := m.transports[network]; exists {
		transport.Close()
		delete(m.transports, network)
		return nil
	}

	return fmt.Errorf("transport %s not found", network)
}

func (m *DefaultTransportManager) GetTransport(network string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transport, exists := m.transports[network]
	return transport, exists
}

func (m *DefaultTransportManager) GetPreferredTransport(target string) (Transport, error) {
	// Парсим target
	var transport string
	var secure bool

	// Проверяем на SIP/SIPS URI
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target")
	}

	// Пытаемся распарсить URI
	if strings.HasPrefix(target, "sips:") {
		secure = true
		target = target[5:]
	} else if strings.HasPrefix(target, "sip:") {
		target = target[4:]
	}

	// Ищем параметр transport
	if idx := strings.Index(target, ";transport="); idx != -1 {
		transportParam := target[idx+11:]
		if endIdx := strings.IndexAny(transportParam, ";>"); endIdx != -1 {
			transport = transportParam[:endIdx]
		} else {
			transport = transportParam
		}
		transport = strings.ToLower(transport)
	}

	// Определяем транспорт по умолчанию
	if transport == "" {
		if secure {
			transport = "tls"
		} else {
			transport = "udp"
		}
	}

	// Получаем транспорт
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tr, exists := m.transports[transport]; exists {
		return tr, nil
	}

	return nil, fmt.Errorf("transport %s not available", transport)
}

func (m *DefaultTransportManager) Send(msg types.Message, target string) error {
	uri, err := types.ParseURI(target)
	if err != nil {
		// Not a parseable URI (a bare host:port, say) — fall back to the
		// legacy scheme/param stripping used before Select existed.
		return m.sendLegacy(msg, target)
	}

	tr, addr, err := m.Select(uri)
	if err != nil {
		return err
	}
	return tr.Send(msg, addr)
}

// sendLegacy handles targets that are not well-formed SIP URIs, preserving
// the manager's original best-effort behaviour for callers that pass a raw
// "host:port" or similar string instead of a sip:/sips: URI.
func (m *DefaultTransportManager) sendLegacy(msg types.Message, target string) error {
	transport, err := m.GetPreferredTransport(target)
	if err != nil {
		return err
	}

	addr := target
	if strings.HasPrefix(addr, "sips:") {
		addr = addr[5:]
	} else if strings.HasPrefix(addr, "sip:") {
		addr = addr[4:]
	}

	if idx := strings.IndexAny(addr, ";>"); idx != -1 {
		addr = addr[:idx]
	}

	if idx := strings.Index(addr, "@"); idx != -1 {
		addr = addr[idx+1:]
	}

	if !strings.Contains(addr, ":") {
		addr = addr + ":5060"
	}

	return transport.Send(msg, addr)
}

func (m *DefaultTransportManager) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageHandler = handler
}

func (m *DefaultTransportManager) OnConnection(handler ConnectionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionHandler = handler
}

func (m *DefaultTransportManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("already started")
	}

	m.started = true
	return nil
}

func (m *DefaultTransportManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return fmt.Errorf("not started")
	}

	// Закрываем все транспорты
	for _, transport := range m.transports {
		transport.Close()
	}

	m.started = false
	return nil
}

func (m *DefaultTransportManager) handleMessage(msg types.Message, addr net.Addr, transport Transport) {
	m.mu.RLock()
	handler := m.messageHandler
	m.mu.RUnlock()

	if handler != nil {
		handler(msg, addr, transport)
	}
}

func (m *DefaultTransportManager) handleConnection(conn Connection, event ConnectionEvent) {
	switch event {
	case ConnectionOpened:
		// A freshly accepted or dialed connection-oriented transport starts
		// Unused: nothing has claimed it yet, so it is immediately eligible
		// for idle teardown unless Select claims it for an in-flight send.
		m.inventory.AddUnused(conn)
	case ConnectionClosed, ConnectionError:
		m.inventory.Release(conn.ID())
	}

	m.mu.RLock()
	handler := m.connectionHandler
	m.mu.RUnlock()

	if handler != nil {
		handler(conn, event)
	}
}
