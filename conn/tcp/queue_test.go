package tcp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/valyala/bytebufferpool"

	"github.com/ValentinKolb/mavconn/conn/common"
)

func pushBytes(t *testing.T, q *outboundQueue, b []byte) {
	t.Helper()
	bb := bytebufferpool.Get()
	_, _ = bb.Write(b)
	if err := q.push(bb); err != nil {
		t.Fatalf("Failed to push %q: %v", b, err)
	}
}

// TestQueueFIFO checks ordering and cursor-driven removal
func TestQueueFIFO(t *testing.T) {
	q := newOutboundQueue(10)
	pushBytes(t, q, []byte("first"))
	pushBytes(t, q, []byte("second"))

	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	if !bytes.Equal(q.head().pending(), []byte("first")) {
		t.Fatalf("head = %q, want %q", q.head().pending(), "first")
	}

	// a partial transfer keeps the frame queued with the cursor advanced
	q.advance(2)
	if q.len() != 2 {
		t.Errorf("len = %d after partial advance, want 2", q.len())
	}
	if !bytes.Equal(q.head().pending(), []byte("rst")) {
		t.Errorf("head = %q after partial advance, want %q", q.head().pending(), "rst")
	}

	// draining the remainder removes the frame
	q.advance(3)
	if q.len() != 1 {
		t.Errorf("len = %d after drain, want 1", q.len())
	}
	if !bytes.Equal(q.head().pending(), []byte("second")) {
		t.Errorf("head = %q after drain, want %q", q.head().pending(), "second")
	}
}

// TestQueueOverflow checks that the depth cap rejects the overflowing
// frame and leaves the queue unchanged
func TestQueueOverflow(t *testing.T) {
	q := newOutboundQueue(2)
	pushBytes(t, q, []byte("a"))
	pushBytes(t, q, []byte("b"))

	bb := bytebufferpool.Get()
	_, _ = bb.Write([]byte("c"))
	err := q.push(bb)
	if !errors.Is(err, common.ErrQueueOverflow) {
		t.Fatalf("push at capacity = %v, want ErrQueueOverflow", err)
	}
	bytebufferpool.Put(bb)

	if q.len() != 2 {
		t.Errorf("len = %d after rejected push, want 2", q.len())
	}
	if !bytes.Equal(q.head().pending(), []byte("a")) {
		t.Errorf("head = %q after rejected push, want %q", q.head().pending(), "a")
	}

	// removing one frame frees a slot again
	q.advance(1)
	pushBytes(t, q, []byte("d"))
	if q.len() != 2 {
		t.Errorf("len = %d after refill, want 2", q.len())
	}
}

// TestQueueClearBehindHead checks that only the frames behind the head
// are dropped, with the in-flight head left for its completion
func TestQueueClearBehindHead(t *testing.T) {
	q := newOutboundQueue(10)
	pushBytes(t, q, []byte("inflight"))
	pushBytes(t, q, []byte("waiting"))
	pushBytes(t, q, []byte("waiting"))

	q.clearBehindHead()
	if q.len() != 1 {
		t.Fatalf("len = %d after clearBehindHead, want 1", q.len())
	}
	if !bytes.Equal(q.head().pending(), []byte("inflight")) {
		t.Errorf("head = %q after clearBehindHead, want %q", q.head().pending(), "inflight")
	}

	// empty queue is a no-op
	q.clear()
	q.clearBehindHead()
	if !q.empty() {
		t.Errorf("queue not empty, len = %d", q.len())
	}
}

// TestQueueClear checks that clear empties the queue completely
func TestQueueClear(t *testing.T) {
	q := newOutboundQueue(10)
	for i := 0; i < 5; i++ {
		pushBytes(t, q, []byte{byte(i)})
	}

	q.clear()
	if !q.empty() || q.len() != 0 {
		t.Errorf("queue not empty after clear, len = %d", q.len())
	}
}
