package mavlink

import (
	"encoding/binary"
)

// --------------------------------------------------------------------------
// Wire constants
// --------------------------------------------------------------------------

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	v1HeaderLen  = 6  // stx, len, seq, sysid, compid, msgid
	v2HeaderLen  = 10 // stx, len, incompat, compat, seq, sysid, compid, msgid[3]
	checksumLen  = 2
	signatureLen = 13

	maxPayloadLen = 255
	maxFrameLen   = v2HeaderLen + maxPayloadLen + checksumLen + signatureLen

	// incompatSigned marks a signed v2 frame
	incompatSigned = 0x01
)

// Framing identifies the wire version a frame was received or will be sent
// with.
type Framing int

const (
	FramingV1 Framing = 1
	FramingV2 Framing = 2
)

func (f Framing) String() string {
	switch f {
	case FramingV1:
		return "v1.0"
	case FramingV2:
		return "v2.0"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// RawMessage
// --------------------------------------------------------------------------

// RawMessage is one decoded MAVLink frame. The payload is the on-wire
// payload (for v2 frames it may be shorter than the message definition due
// to trailing-zero truncation).
type RawMessage struct {
	Framing Framing
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint32
	Payload []byte

	// v2 only
	IncompatFlags uint8
	CompatFlags   uint8

	Checksum uint16

	// Channel is the id of the connection this frame arrived on; a server
	// callback uses it to tell its clients apart.
	Channel uint64
}

// --------------------------------------------------------------------------
// Typed messages
// --------------------------------------------------------------------------

// Message is a typed MAVLink message that can be encoded for transmission.
type Message interface {
	// ID returns the MAVLink message id
	ID() uint32
	// MarshalPayload returns the full (untruncated) payload bytes
	MarshalPayload() ([]byte, error)
}

// Heartbeat is the HEARTBEAT message (id 0), the one message every MAVLink
// participant emits.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (Heartbeat) ID() uint32 { return 0 }

func (h Heartbeat) MarshalPayload() ([]byte, error) {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint32(b[0:4], h.CustomMode)
	b[4] = h.Type
	b[5] = h.Autopilot
	b[6] = h.BaseMode
	b[7] = h.SystemStatus
	b[8] = h.MavlinkVersion
	return b, nil
}

// DecodeHeartbeat decodes a HEARTBEAT payload, accepting v2-truncated
// payloads by treating missing trailing bytes as zero.
func DecodeHeartbeat(payload []byte) Heartbeat {
	b := make([]byte, 9)
	copy(b, payload)
	return Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(b[0:4]),
		Type:           b[4],
		Autopilot:      b[5],
		BaseMode:       b[6],
		SystemStatus:   b[7],
		MavlinkVersion: b[8],
	}
}
