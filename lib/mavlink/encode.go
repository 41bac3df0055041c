package mavlink

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Frame encoding
// --------------------------------------------------------------------------

// Marshal returns the wire encoding of msg using msg.Framing (v2 when
// unset). For v2 frames the payload is trailing-zero truncated as the
// wire format requires; signed frames are not produced.
func Marshal(msg *RawMessage, d *Dialect) ([]byte, error) {
	extra, ok := d.CRCExtra(msg.MsgID)
	if !ok {
		return nil, fmt.Errorf("mavlink: marshal: unknown message id %d", msg.MsgID)
	}
	if len(msg.Payload) > maxPayloadLen {
		return nil, fmt.Errorf("mavlink: marshal: payload too large (%d bytes)", len(msg.Payload))
	}

	framing := msg.Framing
	if framing == 0 {
		framing = FramingV2
	}

	var b []byte
	switch framing {
	case FramingV1:
		if msg.MsgID > 0xff {
			return nil, fmt.Errorf("mavlink: marshal: message id %d does not fit a v1 frame", msg.MsgID)
		}
		b = make([]byte, v1HeaderLen+len(msg.Payload)+checksumLen)
		b[0] = magicV1
		b[1] = uint8(len(msg.Payload))
		b[2] = msg.Seq
		b[3] = msg.SysID
		b[4] = msg.CompID
		b[5] = uint8(msg.MsgID)
		copy(b[v1HeaderLen:], msg.Payload)

	case FramingV2:
		payload := truncatePayload(msg.Payload)
		b = make([]byte, v2HeaderLen+len(payload)+checksumLen)
		b[0] = magicV2
		b[1] = uint8(len(payload))
		b[2] = msg.IncompatFlags &^ incompatSigned
		b[3] = msg.CompatFlags
		b[4] = msg.Seq
		b[5] = msg.SysID
		b[6] = msg.CompID
		b[7] = uint8(msg.MsgID)
		b[8] = uint8(msg.MsgID >> 8)
		b[9] = uint8(msg.MsgID >> 16)
		copy(b[v2HeaderLen:], payload)

	default:
		return nil, fmt.Errorf("mavlink: marshal: unsupported framing %d", framing)
	}

	crc := frameChecksum(b[1:len(b)-checksumLen], extra)
	binary.LittleEndian.PutUint16(b[len(b)-checksumLen:], crc)
	return b, nil
}

// truncatePayload removes trailing zero bytes, keeping at least one byte
// (v2 wire rule).
func truncatePayload(p []byte) []byte {
	n := len(p)
	for n > 1 && p[n-1] == 0 {
		n--
	}
	return p[:n]
}

// --------------------------------------------------------------------------
// Encoder
// --------------------------------------------------------------------------

// Encoder is the outbound half of one channel: it owns the tx sequence
// number and logs every message it produces.
type Encoder struct {
	dialect *Dialect
	channel uint64
	seq     atomic.Uint32
}

func NewEncoder(d *Dialect, channel uint64) *Encoder {
	return &Encoder{dialect: d, channel: channel}
}

// Seq returns the sequence number of the most recently encoded message.
func (e *Encoder) Seq() uint8 {
	s := e.seq.Load()
	if s == 0 {
		return 0
	}
	return uint8(s - 1)
}

// EncodeMessage encodes a typed message with the given identity and the
// channel's next sequence number.
func (e *Encoder) EncodeMessage(m Message, sysID, srcCompID uint8) ([]byte, error) {
	payload, err := m.MarshalPayload()
	if err != nil {
		return nil, fmt.Errorf("mavlink: encode message %d: %v", m.ID(), err)
	}

	raw := &RawMessage{
		Framing: FramingV2,
		Seq:     uint8(e.seq.Add(1) - 1),
		SysID:   sysID,
		CompID:  srcCompID,
		MsgID:   m.ID(),
		Payload: payload,
	}

	b, err := Marshal(raw, e.dialect)
	if err != nil {
		return nil, err
	}

	Logger.Debugf("chan%d: send: Message-Id: %d [%d bytes] IDs: %d.%d Seq: %d",
		e.channel, raw.MsgID, len(b), raw.SysID, raw.CompID, raw.Seq)
	return b, nil
}

// EncodeRaw re-encodes an already-parsed message, keeping its sequence
// number and identity fields.
func (e *Encoder) EncodeRaw(msg *RawMessage) ([]byte, error) {
	b, err := Marshal(msg, e.dialect)
	if err != nil {
		return nil, err
	}

	Logger.Debugf("chan%d: send: Message-Id: %d [%d bytes] IDs: %d.%d Seq: %d",
		e.channel, msg.MsgID, len(b), msg.SysID, msg.CompID, msg.Seq)
	return b, nil
}
