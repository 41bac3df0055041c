package mavlink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("mavlink")

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// Status holds the protocol-level parse counters of one channel.
type Status struct {
	// RxSuccess counts frames delivered to the message callback
	RxSuccess uint64
	// RxDrop counts frames discarded for bad checksum or unknown id
	RxDrop uint64
	// BufferOverrun counts receive-buffer-filled events
	BufferOverrun uint64
	// ParseError counts stream resyncs over non-frame bytes
	ParseError uint64

	// RxSeq and TxSeq are the last sequence numbers seen/sent on this
	// channel. They stay zero in aggregated views: sequencing is
	// meaningful per physical link only.
	RxSeq uint8
	TxSeq uint8
}

// Add returns the field-wise sum of the counters. The per-link sequence
// numbers are not summed.
func (s Status) Add(o Status) Status {
	return Status{
		RxSuccess:     s.RxSuccess + o.RxSuccess,
		RxDrop:        s.RxDrop + o.RxDrop,
		BufferOverrun: s.BufferOverrun + o.BufferOverrun,
		ParseError:    s.ParseError + o.ParseError,
	}
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

var (
	errBadCRC       = errors.New("mavlink: bad checksum")
	errUnknownMsgID = errors.New("mavlink: unknown message id")
)

// Parser incrementally extracts complete frames from a byte stream. It is
// not safe for concurrent Push calls; the connection's io loop is its only
// writer. Status may be read from any goroutine.
type Parser struct {
	dialect *Dialect
	channel uint64
	buf     []byte

	rxSuccess     atomic.Uint64
	rxDrop        atomic.Uint64
	bufferOverrun atomic.Uint64
	parseError    atomic.Uint64
	rxSeq         atomic.Uint32
}

// NewParser creates a parser for one channel. Emitted messages carry the
// channel id so aggregated callbacks can tell links apart.
func NewParser(d *Dialect, channel uint64) *Parser {
	return &Parser{dialect: d, channel: channel}
}

// Status returns a snapshot of the parse counters.
func (p *Parser) Status() Status {
	return Status{
		RxSuccess:     p.rxSuccess.Load(),
		RxDrop:        p.rxDrop.Load(),
		BufferOverrun: p.bufferOverrun.Load(),
		ParseError:    p.parseError.Load(),
		RxSeq:         uint8(p.rxSeq.Load()),
	}
}

// CountBufferOverrun records that the transport's receive buffer was
// completely filled by a single read.
func (p *Parser) CountBufferOverrun() {
	p.bufferOverrun.Add(1)
}

// Push feeds a received byte range to the parser. emit is invoked
// synchronously, zero or more times, once per complete valid frame.
func (p *Parser) Push(data []byte, emit func(*RawMessage, Framing)) {
	p.buf = append(p.buf, data...)

	for len(p.buf) > 0 {
		// resync to the next magic byte
		if p.buf[0] != magicV1 && p.buf[0] != magicV2 {
			i := indexMagic(p.buf)
			p.parseError.Add(1)
			Logger.Debugf("chan%d: parse: dropped garbage, resync", p.channel)
			if i < 0 {
				p.buf = p.buf[:0]
				return
			}
			p.buf = p.buf[i:]
			continue
		}

		need, ok := frameNeed(p.buf)
		if !ok || len(p.buf) < need {
			// incomplete frame, wait for more data
			return
		}

		msg, framing, err := decodeFrame(p.buf[:need], p.dialect)
		switch {
		case err == nil:
			p.rxSuccess.Add(1)
			p.rxSeq.Store(uint32(msg.Seq))
			msg.Channel = p.channel
			Logger.Debugf("chan%d: recv: Message-Id: %d [%d bytes] IDs: %d.%d Seq: %d",
				p.channel, msg.MsgID, need, msg.SysID, msg.CompID, msg.Seq)
			if emit != nil {
				emit(msg, framing)
			}
			p.buf = p.buf[need:]

		case errors.Is(err, errUnknownMsgID):
			// cannot checksum-verify, skip the whole declared frame
			p.rxDrop.Add(1)
			p.buf = p.buf[need:]

		case errors.Is(err, errBadCRC):
			// the magic may have been payload of another stream, rescan
			// from the next byte
			p.rxDrop.Add(1)
			p.buf = p.buf[1:]
		}
	}
}

// --------------------------------------------------------------------------
// Frame decoding helpers
// --------------------------------------------------------------------------

func indexMagic(b []byte) int {
	i1 := bytes.IndexByte(b, magicV1)
	i2 := bytes.IndexByte(b, magicV2)
	switch {
	case i1 < 0:
		return i2
	case i2 < 0:
		return i1
	case i1 < i2:
		return i1
	default:
		return i2
	}
}

// frameNeed returns the total frame length declared by the header, or
// ok=false when not enough bytes arrived yet to know it.
func frameNeed(buf []byte) (int, bool) {
	switch buf[0] {
	case magicV1:
		if len(buf) < 2 {
			return 0, false
		}
		return v1HeaderLen + int(buf[1]) + checksumLen, true
	case magicV2:
		if len(buf) < 3 {
			return 0, false
		}
		n := v2HeaderLen + int(buf[1]) + checksumLen
		if buf[2]&incompatSigned != 0 {
			n += signatureLen
		}
		return n, true
	}
	return 0, false
}

func decodeFrame(frame []byte, d *Dialect) (*RawMessage, Framing, error) {
	var msg *RawMessage
	var framing Framing
	var crcEnd int // offset of the checksum field

	switch frame[0] {
	case magicV1:
		payloadLen := int(frame[1])
		crcEnd = v1HeaderLen + payloadLen
		msg = &RawMessage{
			Framing: FramingV1,
			Seq:     frame[2],
			SysID:   frame[3],
			CompID:  frame[4],
			MsgID:   uint32(frame[5]),
			Payload: append([]byte(nil), frame[v1HeaderLen:crcEnd]...),
		}
		framing = FramingV1

	case magicV2:
		payloadLen := int(frame[1])
		crcEnd = v2HeaderLen + payloadLen
		msg = &RawMessage{
			Framing:       FramingV2,
			IncompatFlags: frame[2],
			CompatFlags:   frame[3],
			Seq:           frame[4],
			SysID:         frame[5],
			CompID:        frame[6],
			MsgID:         uint32(frame[7]) | uint32(frame[8])<<8 | uint32(frame[9])<<16,
			Payload:       append([]byte(nil), frame[v2HeaderLen:crcEnd]...),
		}
		framing = FramingV2
	}

	extra, ok := d.CRCExtra(msg.MsgID)
	if !ok {
		return nil, framing, errUnknownMsgID
	}

	want := binary.LittleEndian.Uint16(frame[crcEnd : crcEnd+checksumLen])
	if got := frameChecksum(frame[1:crcEnd], extra); got != want {
		return nil, framing, errBadCRC
	}
	msg.Checksum = want

	return msg, framing, nil
}
