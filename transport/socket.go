package transport

import (
	"github.com/sipuago/sipua/sip"
)

// Socket is the abstract transport binding a UA drives: connect/disconnect/
// send plus the four lifecycle callbacks a dispatcher needs to track a
// peer's reachability. It is implemented here over the Layer's pooled
// Connection so callers never depend on which of UDP/TCP/TLS/WS/WSS backs
// a given binding.
type Socket interface {
	Connect() error
	Disconnect() error
	Send(msg sip.Message) error

	OnConnecting(f func())
	OnConnect(f func())
	OnDisconnect(f func(err error))
	OnData(f func(msg sip.Message))
}

// NewSocket builds a Socket bound to one remote network/addr pair, dialing
// lazily through the given Layer's connection pool.
func NewSocket(l *Layer, network, addr string) Socket {
	return &layerSocket{layer: l, network: NetworkToLower(network), addr: addr}
}

type layerSocket struct {
	layer   *Layer
	network string
	addr    string

	conn Connection

	onConnecting func()
	onConnect    func()
	onDisconnect func(err error)
	onData       func(msg sip.Message)
}

func (s *layerSocket) Connect() error {
	if s.onConnecting != nil {
		s.onConnecting()
	}

	conn, err := s.layer.CreateConnection(s.network, s.addr)
	if err != nil {
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
		return &sip.TransportError{Network: s.network, Addr: s.addr, Err: err}
	}
	s.conn = conn

	s.layer.OnMessage(func(msg sip.Message) {
		if s.onData == nil {
			return
		}
		if NetworkToLower(msg.Transport()) != s.network || msg.Source() != s.addr {
			return
		}
		s.onData(msg)
	})

	if s.onConnect != nil {
		s.onConnect()
	}
	return nil
}

func (s *layerSocket) Disconnect() error {
	if s.conn == nil {
		return nil
	}
	_, err := s.conn.TryClose()
	s.conn = nil
	if s.onDisconnect != nil {
		s.onDisconnect(err)
	}
	return err
}

func (s *layerSocket) Send(msg sip.Message) error {
	if s.conn == nil {
		if err := s.Connect(); err != nil {
			return err
		}
	}
	if err := s.conn.WriteMsg(msg); err != nil {
		return &sip.TransportError{Network: s.network, Addr: s.addr, Err: err}
	}
	return nil
}

func (s *layerSocket) OnConnecting(f func())         { s.onConnecting = f }
func (s *layerSocket) OnConnect(f func())            { s.onConnect = f }
func (s *layerSocket) OnDisconnect(f func(err error)) { s.onDisconnect = f }
func (s *layerSocket) OnData(f func(msg sip.Message)) { s.onData = f }
