package tcp

import (
	"github.com/eapache/queue"
	"github.com/valyala/bytebufferpool"

	"github.com/ValentinKolb/mavconn/conn/common"
)

// --------------------------------------------------------------------------
// frame
// --------------------------------------------------------------------------

// frame is one queued outbound message: a pooled byte buffer plus a
// transmission cursor. The cursor only moves forward; the frame leaves the
// queue exactly when the cursor reaches the end.
type frame struct {
	bb  *bytebufferpool.ByteBuffer
	pos int
}

// pending returns the not-yet-transmitted byte range.
func (f *frame) pending() []byte { return f.bb.B[f.pos:] }

func (f *frame) drained() bool { return f.pos >= len(f.bb.B) }

func (f *frame) release() {
	bytebufferpool.Put(f.bb)
	f.bb = nil
}

// --------------------------------------------------------------------------
// outbound queue
// --------------------------------------------------------------------------

// outboundQueue is the bounded FIFO of frames awaiting transmission. It is
// not internally synchronized; the owning connection's mutex guards it.
type outboundQueue struct {
	ring     *queue.Queue
	maxDepth int
}

func newOutboundQueue(maxDepth int) *outboundQueue {
	return &outboundQueue{ring: queue.New(), maxDepth: maxDepth}
}

// push appends a frame. At capacity it fails with ErrQueueOverflow and
// leaves the queue unchanged; the caller is told, nothing is buffered
// beyond the cap.
func (q *outboundQueue) push(bb *bytebufferpool.ByteBuffer) error {
	if q.ring.Length() >= q.maxDepth {
		return common.ErrQueueOverflow
	}
	q.ring.Add(&frame{bb: bb})
	return nil
}

func (q *outboundQueue) empty() bool { return q.ring.Length() == 0 }

func (q *outboundQueue) len() int { return q.ring.Length() }

// head returns the frame currently being transmitted.
func (q *outboundQueue) head() *frame {
	return q.ring.Peek().(*frame)
}

// advance moves the head frame's cursor by n transferred bytes and removes
// the frame once fully drained.
func (q *outboundQueue) advance(n int) {
	f := q.head()
	f.pos += n
	if f.drained() {
		q.ring.Remove()
		f.release()
	}
}

// clear drops all queued frames, returning their buffers to the pool.
func (q *outboundQueue) clear() {
	for q.ring.Length() > 0 {
		q.ring.Remove().(*frame).release()
	}
}

// clearBehindHead drops every frame queued behind the head. The head stays
// in place: its bytes may still be referenced by an in-flight write, so
// only that write's completion may release it.
func (q *outboundQueue) clearBehindHead() {
	if q.ring.Length() == 0 {
		return
	}
	head := q.ring.Remove().(*frame)
	for q.ring.Length() > 0 {
		q.ring.Remove().(*frame).release()
	}
	q.ring.Add(head)
}
