package common

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

// --------------------------------------------------------------------------
// Socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds kernel socket buffer sizing, applied to every connected
// socket (client side and each accepted server-side socket).
type SocketConf struct {
	// WriteBufferSize is the kernel send buffer size in bytes (0 = default)
	WriteBufferSize int
	// ReadBufferSize is the kernel receive buffer size in bytes (0 = default)
	ReadBufferSize int
}

// TCPConf holds TCP-specific socket options.
type TCPConf struct {
	// TCPNoDelay disables Nagle's algorithm when true
	TCPNoDelay bool
	// TCPKeepAliveSec enables keep-alive with the given period (0 = off)
	TCPKeepAliveSec int
	// TCPLingerSec sets SO_LINGER (negative = leave at system default)
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// Connection configuration struct
// --------------------------------------------------------------------------

// Config holds all tunables of a connection. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// TxQueueDepth is the maximum number of frames the outbound queue
	// holds. A send call against a full queue fails with ErrQueueOverflow.
	TxQueueDepth int

	// RxBufferSize is the size of the fixed receive buffer in bytes.
	RxBufferSize int

	// OrphanClientsOnClose restores the historical server shutdown
	// behavior: the shared io loop stops without closing the accepted
	// clients first, so their closed callbacks never fire.
	OrphanClientsOnClose bool

	// Dialect supplies the CRC_EXTRA table used for parsing and encoding.
	// Nil means mavlink.DefaultDialect().
	Dialect *mavlink.Dialect

	SocketConf
	TCPConf
}

// DefaultConfig returns the configuration used when callers pass no
// overrides.
func DefaultConfig() Config {
	return Config{
		TxQueueDepth: 1000,
		RxBufferSize: 65536,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
	}
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	var sb strings.Builder

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	sb.WriteString("\nCONNECTION\n")
	addField("TX Queue Depth", fmt.Sprintf("%d frames", c.TxQueueDepth))
	addField("RX Buffer", fmt.Sprintf("%d bytes", c.RxBufferSize))
	addField("Orphan Clients", fmt.Sprintf("%t", c.OrphanClientsOnClose))

	sb.WriteString("\nSOCKET\n")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))

	return sb.String()
}

// GetDialect returns the configured dialect or the default one.
func (c Config) GetDialect() *mavlink.Dialect {
	if c.Dialect != nil {
		return c.Dialect
	}
	return mavlink.DefaultDialect()
}

// --------------------------------------------------------------------------
// Socket option plumbing
// --------------------------------------------------------------------------

// ApplyConnOptions applies the socket-level settings from the configuration
// to an established TCP connection.
func ApplyConnOptions(conn *net.TCPConn, c Config) error {
	if err := conn.SetNoDelay(c.TCPNoDelay); err != nil {
		return err
	}

	if c.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(c.WriteBufferSize); err != nil {
			return err
		}
	}

	if c.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(c.ReadBufferSize); err != nil {
			return err
		}
	}

	if c.TCPKeepAliveSec > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := conn.SetKeepAlivePeriod(time.Duration(c.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if c.TCPLingerSec >= 0 {
		if err := conn.SetLinger(c.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
