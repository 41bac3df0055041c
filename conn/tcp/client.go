package tcp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"

	"github.com/ValentinKolb/mavconn/conn"
	"github.com/ValentinKolb/mavconn/conn/common"
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

var Logger = logger.GetLogger("conn/tcp")

// connIDCounter hands out the channel id every connection (client or
// server) in this process is logged and aggregated under.
var connIDCounter atomic.Uint64

func nextConnID() uint64 { return connIDCounter.Add(1) }

// --------------------------------------------------------------------------
// ClientConnection
// --------------------------------------------------------------------------

// ClientConnection owns one TCP socket and moves MAVLink frames over it
// with an asynchronous receive pump and an asynchronous send pump, both
// running on the connection's io loop.
type ClientConnection struct {
	sysID  uint8
	compID uint8
	connID uint64
	cfg    common.Config

	ep *net.TCPAddr

	loop     *ioLoop
	ownsLoop bool

	mu     sync.Mutex
	state  conn.State
	sock   net.Conn
	txq    *outboundQueue
	txBusy bool

	// destroying blocks the pumps from scheduling new operations once
	// teardown has begun
	destroying atomic.Bool

	rxBuf  []byte
	parser *mavlink.Parser
	enc    *mavlink.Encoder
	stat   *ioStat

	onMessage conn.ReceivedFunc
	onClosed  conn.ClosedFunc
}

var _ conn.Connection = (*ClientConnection)(nil)

func newClientConn(sysID, compID uint8, cfg common.Config) *ClientConnection {
	id := nextConnID()
	return &ClientConnection{
		sysID:  sysID,
		compID: compID,
		connID: id,
		cfg:    cfg,
		state:  conn.StateIdle,
		txq:    newOutboundQueue(cfg.TxQueueDepth),
		rxBuf:  make([]byte, cfg.RxBufferSize),
		parser: mavlink.NewParser(cfg.GetDialect(), id),
		enc:    mavlink.NewEncoder(cfg.GetDialect(), id),
		stat:   newIOStat(id),
	}
}

// NewClient resolves the target, opens a TCP socket and synchronously
// connects. Any failure surfaces as a DeviceError and the returned
// connection is not usable.
func NewClient(sysID, compID uint8, host string, port uint16, cfg common.Config) (*ClientConnection, error) {
	c := newClientConn(sysID, compID, cfg)
	c.state = conn.StateConnecting

	ep, err := common.ResolveEndpoint(host, port)
	if err != nil {
		c.stat.stop()
		return nil, common.NewDeviceError("tcp: resolve", err)
	}
	c.ep = ep
	Logger.Infof("tcp%d: server address: %s", c.connID, ep)

	sock, err := net.DialTCP("tcp", nil, ep)
	if err != nil {
		c.stat.stop()
		return nil, common.NewDeviceError("tcp: connect", err)
	}
	if err := common.ApplyConnOptions(sock, cfg); err != nil {
		_ = sock.Close()
		c.stat.stop()
		return nil, common.NewDeviceError("tcp: socket options", err)
	}

	c.sock = sock
	c.loop = newIOLoop(fmt.Sprintf("mtcp%d", c.connID))
	c.ownsLoop = true
	c.state = conn.StateOpen
	return c, nil
}

// newServerClient constructs a connection slot in Idle state sharing the
// server's io loop. The socket is attached by the server's accept
// completion via onAttached.
func newServerClient(sysID, compID uint8, loop *ioLoop, cfg common.Config) *ClientConnection {
	c := newClientConn(sysID, compID, cfg)
	c.loop = loop
	c.ownsLoop = false
	return c
}

// onAttached populates the slot with an accepted socket and starts its
// receive pump by scheduling (not calling inline) the first receive on the
// shared loop.
func (c *ClientConnection) onAttached(sock net.Conn, serverChannel uint64) {
	c.mu.Lock()
	c.sock = sock
	c.state = conn.StateOpen
	c.mu.Unlock()

	Logger.Infof("tcp%d: got client, server id: %d, address: %s",
		c.connID, serverChannel, sock.RemoteAddr())

	c.loop.Post(c.doRecv)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see conn.Connection)
// --------------------------------------------------------------------------

func (c *ClientConnection) Connect(onMessage conn.ReceivedFunc, onClosed conn.ClosedFunc) error {
	c.onMessage = onMessage
	c.onClosed = onClosed

	// give the loop some work before it starts
	c.loop.Post(c.doRecv)
	c.loop.Run()
	return nil
}

func (c *ClientConnection) Close() error {
	c.mu.Lock()
	if c.state != conn.StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = conn.StateClosing
	c.destroying.Store(true)

	// half-close first so the peer sees a clean end of stream, then
	// release the socket, which also fails any in-flight pump operation
	if tc, ok := c.sock.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			Logger.Debugf("tcp%d: shutdown: %v", c.connID, err)
		}
	}
	if err := c.sock.Close(); err != nil {
		Logger.Debugf("tcp%d: close socket: %v", c.connID, err)
	}
	if c.txBusy {
		// an in-flight write still reads the head frame's bytes; its
		// completion releases what is left
		c.txq.clearBehindHead()
	} else {
		c.txq.clear()
	}
	c.state = conn.StateClosed
	c.mu.Unlock()

	c.stat.stop()

	// a server-attached client must not stop the shared loop; Stop itself
	// skips the join when already running on the loop goroutine
	if c.ownsLoop {
		c.loop.Stop()
	}

	if c.onClosed != nil {
		c.onClosed()
	}
	return nil
}

// Stop ends the connection's io loop without touching the socket. It is
// separate from Close because a server-attached client shares its loop
// with the server and must not stop it on its own.
func (c *ClientConnection) Stop() {
	if c.ownsLoop {
		c.loop.Stop()
	}
}

func (c *ClientConnection) SendBytes(b []byte) error {
	return c.enqueue("send_bytes", func(bb *bytebufferpool.ByteBuffer) error {
		_, _ = bb.Write(b)
		return nil
	})
}

func (c *ClientConnection) SendMessage(msg *mavlink.RawMessage) error {
	if msg == nil {
		return fmt.Errorf("tcp%d: send_message: nil message", c.connID)
	}
	return c.enqueue("send_message", func(bb *bytebufferpool.ByteBuffer) error {
		b, err := c.enc.EncodeRaw(msg)
		if err != nil {
			return err
		}
		_, _ = bb.Write(b)
		return nil
	})
}

func (c *ClientConnection) SendEncoded(msg mavlink.Message, srcCompID uint8) error {
	return c.enqueue("send_encoded", func(bb *bytebufferpool.ByteBuffer) error {
		b, err := c.enc.EncodeMessage(msg, c.sysID, srcCompID)
		if err != nil {
			return err
		}
		_, _ = bb.Write(b)
		return nil
	})
}

func (c *ClientConnection) GetStatus() mavlink.Status {
	s := c.parser.Status()
	s.TxSeq = c.enc.Seq()
	return s
}

func (c *ClientConnection) GetIOStat() conn.IOStat {
	return c.stat.snapshot()
}

func (c *ClientConnection) SystemID() uint8 { return c.sysID }

func (c *ClientConnection) ComponentID() uint8 { return c.compID }

// State returns the current lifecycle state.
func (c *ClientConnection) State() conn.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteAddr returns the peer address, or nil before a socket is attached.
func (c *ClientConnection) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil
	}
	return c.sock.RemoteAddr()
}

// --------------------------------------------------------------------------
// Send path
// --------------------------------------------------------------------------

// enqueue encodes one frame into a pooled buffer, pushes it under the
// queue lock and kicks the send pump. Sending on a connection that is not
// open is a logged no-op so fire-and-forget callers need not track state.
func (c *ClientConnection) enqueue(op string, encode func(*bytebufferpool.ByteBuffer) error) error {
	c.mu.Lock()
	if c.state != conn.StateOpen {
		c.mu.Unlock()
		Logger.Errorf("tcp%d: %s: channel closed", c.connID, op)
		return nil
	}
	c.mu.Unlock()

	bb := bytebufferpool.Get()
	if err := encode(bb); err != nil {
		bytebufferpool.Put(bb)
		return err
	}

	c.mu.Lock()
	if c.state != conn.StateOpen {
		// close won the race since the check above; the frame must not
		// land in the dead connection's queue
		c.mu.Unlock()
		bytebufferpool.Put(bb)
		Logger.Errorf("tcp%d: %s: channel closed", c.connID, op)
		return nil
	}
	if err := c.txq.push(bb); err != nil {
		c.mu.Unlock()
		bytebufferpool.Put(bb)
		return fmt.Errorf("tcp%d: %s: %w", c.connID, op, err)
	}
	c.mu.Unlock()

	if !c.destroying.Load() {
		c.loop.Post(func() { c.doSend(true) })
	}
	return nil
}

// doSend drains the outbound queue head-first on the io loop. checkTx
// carries the tx-in-progress guard: a caller-triggered kick must not start
// a second writer while one is already draining.
func (c *ClientConnection) doSend(checkTx bool) {
	c.mu.Lock()
	if checkTx && c.txBusy {
		c.mu.Unlock()
		return
	}
	if c.txq.empty() {
		c.txBusy = false
		c.mu.Unlock()
		return
	}
	c.txBusy = true
	data := c.txq.head().pending()
	sock := c.sock
	c.mu.Unlock()

	if sock == nil {
		return
	}

	go func() {
		// the transport may accept fewer bytes than requested; the
		// completion advances the cursor by what was actually transferred
		n, err := sock.Write(data)
		c.loop.Post(func() {
			if err != nil {
				Logger.Errorf("tcp%d: send: %v", c.connID, err)
				_ = c.Close()
				c.finishSend()
				return
			}

			c.stat.txAdd(n)

			c.mu.Lock()
			if c.destroying.Load() {
				// close kept the head alive for this write; release it now
				c.txq.clear()
				c.txBusy = false
				c.mu.Unlock()
				return
			}
			c.txq.advance(n)
			again := !c.txq.empty()
			if !again {
				c.txBusy = false
			}
			c.mu.Unlock()

			if again {
				c.doSend(false)
			}
		})
	}()
}

// finishSend releases whatever close left in the queue for the in-flight
// write and marks the send pump idle.
func (c *ClientConnection) finishSend() {
	c.mu.Lock()
	c.txq.clear()
	c.txBusy = false
	c.mu.Unlock()
}

// --------------------------------------------------------------------------
// Receive path
// --------------------------------------------------------------------------

// doRecv reads into the fixed receive buffer, hands the received range to
// the frame parser and reschedules itself. The pump halts only on socket
// error or explicit close.
func (c *ClientConnection) doRecv() {
	if c.destroying.Load() {
		return
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return
	}

	go func() {
		n, err := sock.Read(c.rxBuf)
		c.loop.Post(func() {
			if err != nil {
				Logger.Errorf("tcp%d: receive: %v", c.connID, err)
				_ = c.Close()
				return
			}

			c.stat.rxAdd(n)
			if n == len(c.rxBuf) {
				// a completely filled read hints that the consumer lags
				c.parser.CountBufferOverrun()
			}
			c.parser.Push(c.rxBuf[:n], c.onMessage)
			c.doRecv()
		})
	}()
}
