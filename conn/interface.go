package conn

import (
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

// ReceivedFunc is called once per complete message extracted from the byte
// stream. It runs on the connection's io loop and must not block.
type ReceivedFunc func(msg *mavlink.RawMessage, framing mavlink.Framing)

// ClosedFunc is called at most once, after the connection is fully torn
// down. It is never invoked while an internal lock is held.
type ClosedFunc func()

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// State is the lifecycle state of a connection. A connection is created
// Idle (server-attached variant) or goes straight to Open after a
// successful synchronous connect/bind. Closing and Closed are reached
// exactly once.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// I/O Statistics
// --------------------------------------------------------------------------

// IOStat holds byte totals and current throughput for one connection.
type IOStat struct {
	TxTotalBytes uint64
	RxTotalBytes uint64
	TxSpeed      float64 // bytes per second
	RxSpeed      float64 // bytes per second
}

// Add returns the field-wise sum of two IOStat values.
func (s IOStat) Add(o IOStat) IOStat {
	return IOStat{
		TxTotalBytes: s.TxTotalBytes + o.TxTotalBytes,
		RxTotalBytes: s.RxTotalBytes + o.RxTotalBytes,
		TxSpeed:      s.TxSpeed + o.TxSpeed,
		RxSpeed:      s.RxSpeed + o.RxSpeed,
	}
}

// --------------------------------------------------------------------------
// Connection Interface
// --------------------------------------------------------------------------

// Connection is the interface for a MAVLink link. Both the TCP client and
// the TCP server implement it; the server presents its whole client set as
// a single aggregated connection.
type Connection interface {
	// Connect stores the two callbacks and starts the asynchronous I/O
	// machinery. Message delivery begins after this call.
	Connect(onMessage ReceivedFunc, onClosed ClosedFunc) error

	// Close tears the connection down. It is idempotent; the closed
	// callback fires exactly once no matter how often Close is called or
	// whether the connection already closed itself on an I/O error.
	Close() error

	// SendBytes queues raw bytes for transmission. It returns
	// common.ErrQueueOverflow when the bounded outbound queue is full and
	// is a logged no-op when the connection is not open.
	SendBytes(b []byte) error

	// SendMessage queues an already-parsed message for transmission,
	// preserving its original sequence number and identity fields.
	SendMessage(msg *mavlink.RawMessage) error

	// SendEncoded encodes a typed message with this connection's system id,
	// the given source component id and the next outbound sequence number,
	// then queues it for transmission.
	SendEncoded(msg mavlink.Message, srcCompID uint8) error

	// GetStatus returns the protocol-level parse counters. For a server
	// this is the field-wise sum over the clients connected right now.
	GetStatus() mavlink.Status

	// GetIOStat returns byte/throughput counters. For a server this is the
	// field-wise sum over the clients connected right now.
	GetIOStat() IOStat

	SystemID() uint8
	ComponentID() uint8
}
