package mavlink

import "sync"

// --------------------------------------------------------------------------
// Dialect (CRC_EXTRA registry)
// --------------------------------------------------------------------------

// Dialect maps message ids to their CRC_EXTRA byte. The checksum of a
// MAVLink frame is seeded with this per-message byte, so frames with
// unregistered ids cannot be validated and are dropped by the parser.
type Dialect struct {
	mu       sync.RWMutex
	crcExtra map[uint32]uint8
}

func NewDialect() *Dialect {
	return &Dialect{crcExtra: make(map[uint32]uint8)}
}

// Register adds or overrides the CRC_EXTRA byte for a message id.
func (d *Dialect) Register(msgID uint32, crcExtra uint8) *Dialect {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crcExtra[msgID] = crcExtra
	return d
}

// CRCExtra looks up the CRC_EXTRA byte for a message id.
func (d *Dialect) CRCExtra(msgID uint32) (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.crcExtra[msgID]
	return b, ok
}

// --------------------------------------------------------------------------
// Default dialect
// --------------------------------------------------------------------------

// commonCRCExtras covers the messages of the "common" dialect this module
// is typically used with. Callers with other dialects register their own.
var commonCRCExtras = map[uint32]uint8{
	0:   50,  // HEARTBEAT
	1:   124, // SYS_STATUS
	2:   137, // SYSTEM_TIME
	4:   237, // PING
	30:  39,  // ATTITUDE
	33:  104, // GLOBAL_POSITION_INT
	65:  118, // RC_CHANNELS
	76:  152, // COMMAND_LONG
	77:  143, // COMMAND_ACK
	253: 83,  // STATUSTEXT
}

var (
	defaultDialect     *Dialect
	defaultDialectOnce sync.Once
)

// DefaultDialect returns the shared dialect pre-populated with the common
// message set.
func DefaultDialect() *Dialect {
	defaultDialectOnce.Do(func() {
		defaultDialect = NewDialect()
		for id, extra := range commonCRCExtras {
			defaultDialect.Register(id, extra)
		}
	})
	return defaultDialect
}
