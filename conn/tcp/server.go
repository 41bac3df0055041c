package tcp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/mavconn/conn"
	"github.com/ValentinKolb/mavconn/conn/common"
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

// --------------------------------------------------------------------------
// ServerConnection
// --------------------------------------------------------------------------

// ServerConnection listens for MAVLink peers and presents them as one
// aggregated connection: sends fan out to every live client, statistics
// sum over them, and every client's messages arrive through the one
// callback passed to Connect. The acceptor and all accepted sockets share
// a single io loop, so client completions interleave but never run in
// parallel with each other.
type ServerConnection struct {
	sysID  uint8
	compID uint8
	connID uint64
	cfg    common.Config

	bindEP *net.TCPAddr
	ln     net.Listener
	loop   *ioLoop

	mu    sync.Mutex
	state conn.State

	destroying atomic.Bool

	// live client set, keyed by each client's channel id
	clients *xsync.MapOf[uint64, *ClientConnection]

	onMessage conn.ReceivedFunc
	onClosed  conn.ClosedFunc
}

var _ conn.Connection = (*ServerConnection)(nil)

// NewServer resolves the bind address, opens a listening socket with
// address reuse and starts listening. Failures surface as DeviceError;
// nothing is accepted until Connect is called.
func NewServer(sysID, compID uint8, host string, port uint16, cfg common.Config) (*ServerConnection, error) {
	s := &ServerConnection{
		sysID:   sysID,
		compID:  compID,
		connID:  nextConnID(),
		cfg:     cfg,
		state:   conn.StateConnecting,
		clients: xsync.NewMapOf[uint64, *ClientConnection](),
	}

	ep, err := common.ResolveEndpoint(host, port)
	if err != nil {
		return nil, common.NewDeviceError("tcp-l: resolve", err)
	}
	s.bindEP = ep
	Logger.Infof("tcp-l%d: bind address: %s", s.connID, ep)

	ln, err := listenTCP(ep)
	if err != nil {
		return nil, common.NewDeviceError("tcp-l: listen", err)
	}
	s.ln = ln

	s.loop = newIOLoop(fmt.Sprintf("mtcps%d", s.connID))
	s.state = conn.StateOpen
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see conn.Connection)
// --------------------------------------------------------------------------

func (s *ServerConnection) Connect(onMessage conn.ReceivedFunc, onClosed conn.ClosedFunc) error {
	s.onMessage = onMessage
	s.onClosed = onClosed

	// give the loop some work before it starts
	s.loop.Post(s.doAccept)
	s.loop.Run()
	return nil
}

func (s *ServerConnection) Close() error {
	s.mu.Lock()
	if s.state != conn.StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = conn.StateClosing
	s.mu.Unlock()

	s.destroying.Store(true)
	Logger.Infof("tcp-l%d: terminating server, all connections will be closed", s.connID)

	if !s.cfg.OrphanClientsOnClose {
		// close every live client first so each one's closed callback
		// fires and the set empties deterministically
		s.clients.Range(func(_ uint64, c *ClientConnection) bool {
			_ = c.Close()
			return true
		})
	}

	s.loop.Stop()
	if err := s.ln.Close(); err != nil {
		Logger.Debugf("tcp-l%d: close listener: %v", s.connID, err)
	}

	s.mu.Lock()
	s.state = conn.StateClosed
	s.mu.Unlock()

	if s.onClosed != nil {
		s.onClosed()
	}
	return nil
}

// SendBytes broadcasts to every currently live client. A failure or
// overflow on one client does not prevent delivery attempts to the others
// and is reported only per client.
func (s *ServerConnection) SendBytes(b []byte) error {
	s.clients.Range(func(id uint64, c *ClientConnection) bool {
		if err := c.SendBytes(b); err != nil {
			Logger.Warningf("tcp-l%d: send to client %d: %v", s.connID, id, err)
		}
		return true
	})
	return nil
}

func (s *ServerConnection) SendMessage(msg *mavlink.RawMessage) error {
	s.clients.Range(func(id uint64, c *ClientConnection) bool {
		if err := c.SendMessage(msg); err != nil {
			Logger.Warningf("tcp-l%d: send to client %d: %v", s.connID, id, err)
		}
		return true
	})
	return nil
}

func (s *ServerConnection) SendEncoded(msg mavlink.Message, srcCompID uint8) error {
	s.clients.Range(func(id uint64, c *ClientConnection) bool {
		if err := c.SendEncoded(msg, srcCompID); err != nil {
			Logger.Warningf("tcp-l%d: send to client %d: %v", s.connID, id, err)
		}
		return true
	})
	return nil
}

// GetStatus sums the parse counters over the snapshot of clients connected
// at call time. Sequence counters stay zero at the server level.
func (s *ServerConnection) GetStatus() mavlink.Status {
	var total mavlink.Status
	s.clients.Range(func(_ uint64, c *ClientConnection) bool {
		total = total.Add(c.GetStatus())
		return true
	})
	return total
}

// GetIOStat sums byte and throughput counters over the snapshot of clients
// connected at call time.
func (s *ServerConnection) GetIOStat() conn.IOStat {
	var total conn.IOStat
	s.clients.Range(func(_ uint64, c *ClientConnection) bool {
		total = total.Add(c.GetIOStat())
		return true
	})
	return total
}

func (s *ServerConnection) SystemID() uint8 { return s.sysID }

func (s *ServerConnection) ComponentID() uint8 { return s.compID }

// Addr returns the actual listening address, useful when binding to an
// ephemeral port.
func (s *ServerConnection) Addr() net.Addr { return s.ln.Addr() }

// ClientCount returns the number of currently live clients.
func (s *ServerConnection) ClientCount() int { return s.clients.Size() }

// --------------------------------------------------------------------------
// Accept loop
// --------------------------------------------------------------------------

// doAccept pre-constructs one server-attached client slot, accepts into
// it and reschedules itself. There is no cap on the number of connected
// clients; a flood of peers is an operational concern, not handled here.
func (s *ServerConnection) doAccept() {
	if s.destroying.Load() {
		return
	}

	slot := newServerClient(s.sysID, s.compID, s.loop, s.cfg)
	ln := s.ln

	go func() {
		sock, err := ln.Accept()
		posted := s.loop.Post(func() {
			if err != nil {
				Logger.Errorf("tcp-l%d: accept: %v", s.connID, err)
				slot.stat.stop()
				_ = s.Close()
				return
			}

			if s.destroying.Load() {
				// shutdown won the race against this accept; a client
				// stored now would never be closed, so turn the peer away
				slot.stat.stop()
				_ = sock.Close()
				return
			}

			if tc, ok := sock.(*net.TCPConn); ok {
				if err := common.ApplyConnOptions(tc, s.cfg); err != nil {
					Logger.Warningf("tcp-l%d: socket options: %v", s.connID, err)
				}
			}

			// all clients report through the server's message sink; the
			// closed callback only removes the slot from the live set and
			// is a no-op once the slot is already gone
			id := slot.connID
			slot.onMessage = s.onMessage
			slot.onClosed = func() { s.clientClosed(id) }
			slot.onAttached(sock, s.connID)

			s.clients.Store(id, slot)
			s.doAccept()
		})
		if !posted {
			// loop already stopped, the slot never went live
			slot.stat.stop()
			if err == nil {
				_ = sock.Close()
			}
		}
	}()
}

// clientClosed removes a closed client from the live set. Safe to invoke
// multiple times and after partial teardown.
func (s *ServerConnection) clientClosed(id uint64) {
	if inst, ok := s.clients.LoadAndDelete(id); ok {
		Logger.Infof("tcp-l%d: client connection closed, id: %d, address: %s",
			s.connID, id, inst.RemoteAddr())
	}
}
