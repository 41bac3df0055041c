package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/goleak"

	"github.com/ValentinKolb/mavconn/conn/common"
	"github.com/ValentinKolb/mavconn/lib/mavlink"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the meter rate arbiter is a process-wide ticker goroutine
		goleak.IgnoreTopFunction("github.com/rcrowley/go-metrics.(*meterArbiter).tick"),
	)
}

// --------------------------------------------------------------------------
// fake socket
// --------------------------------------------------------------------------

// fakeConn records everything written to it. chunk limits how many bytes
// one Write accepts, gate (when set) blocks writes until closed, and Read
// blocks until the conn is closed.
type fakeConn struct {
	mu     sync.Mutex
	wrote  []byte
	writes int

	chunk int
	gate  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(chunk int) *fakeConn {
	return &fakeConn{chunk: chunk, closed: make(chan struct{})}
}

func (f *fakeConn) Read(b []byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *fakeConn) Write(b []byte) (int, error) {
	if f.gate != nil {
		<-f.gate
	}
	select {
	case <-f.closed:
		return 0, net.ErrClosed
	default:
	}

	n := len(b)
	if f.chunk > 0 && f.chunk < n {
		n = f.chunk
	}
	f.mu.Lock()
	f.wrote = append(f.wrote, b[:n]...)
	f.writes++
	f.mu.Unlock()
	return n, nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.wrote...)
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeConn) LocalAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4zero} }

func (f *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4zero} }

func (f *fakeConn) SetDeadline(t time.Time) error { return nil }

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// stallConn blocks its Write until released, snapshotting the caller's
// slice before and after the stall. A reused buffer shows up as the two
// snapshots diverging.
type stallConn struct {
	*fakeConn
	release chan struct{}

	snapMu sync.Mutex
	before []byte
	after  []byte
}

func newStallConn() *stallConn {
	return &stallConn{fakeConn: newFakeConn(0), release: make(chan struct{})}
}

func (s *stallConn) Write(b []byte) (int, error) {
	s.snapMu.Lock()
	s.before = append([]byte(nil), b...)
	s.snapMu.Unlock()

	<-s.release

	s.snapMu.Lock()
	s.after = append([]byte(nil), b...)
	s.snapMu.Unlock()
	return len(b), nil
}

func (s *stallConn) snapshots() ([]byte, []byte) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return append([]byte(nil), s.before...), append([]byte(nil), s.after...)
}

// fakeClient attaches a fake socket to a loop-sharing connection, the same
// way the server attaches accepted sockets.
func fakeClient(t *testing.T, sock net.Conn, cfg common.Config, onMessage func(*mavlink.RawMessage, mavlink.Framing), onClosed func()) (*ClientConnection, *ioLoop) {
	t.Helper()
	loop := newIOLoop("test")
	c := newServerClient(1, 240, loop, cfg)
	require.NoError(t, c.Connect(onMessage, onClosed))
	c.onAttached(sock, 0)
	return c, loop
}

// --------------------------------------------------------------------------
// tests
// --------------------------------------------------------------------------

// TestClientPartialWrites checks that short writes resume from the cursor
// so the byte stream stays intact and ordered
func TestClientPartialWrites(t *testing.T) {
	sock := newFakeConn(1) // one byte per write
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, nil)
	defer loop.Stop()
	defer c.Close()

	want := []byte("MAVLink bytes, delivered one at a time")
	require.NoError(t, c.SendBytes(want))

	require.Eventually(t, func() bool {
		return len(sock.written()) == len(want)
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, want, sock.written())
	assert.Equal(t, len(want), sock.writeCount())

	// the byte counter updates on each write completion
	require.Eventually(t, func() bool {
		return c.GetIOStat().TxTotalBytes == uint64(len(want))
	}, 5*time.Second, time.Millisecond)
}

// TestClientSendOrdering checks that frames queued back to back arrive
// back to back
func TestClientSendOrdering(t *testing.T) {
	sock := newFakeConn(3)
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, nil)
	defer loop.Stop()
	defer c.Close()

	var want []byte
	for i := 0; i < 20; i++ {
		b := []byte{byte(i), byte(i), byte(i), byte(i), byte(i)}
		want = append(want, b...)
		require.NoError(t, c.SendBytes(b))
	}

	require.Eventually(t, func() bool {
		return len(sock.written()) == len(want)
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, want, sock.written())
}

// TestClientQueueOverflow checks that a stalled socket makes the bounded
// queue reject further frames with the overflow error
func TestClientQueueOverflow(t *testing.T) {
	sock := newFakeConn(0)
	sock.gate = make(chan struct{})

	cfg := common.DefaultConfig()
	cfg.TxQueueDepth = 2
	c, loop := fakeClient(t, sock, cfg, nil, nil)
	defer loop.Stop()
	defer c.Close()

	// the head frame stays queued while its write is stalled
	require.NoError(t, c.SendBytes([]byte("one")))
	require.NoError(t, c.SendBytes([]byte("two")))

	err := c.SendBytes([]byte("three"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrQueueOverflow), "error = %v, want ErrQueueOverflow", err)

	// releasing the socket drains the accepted frames
	close(sock.gate)
	require.Eventually(t, func() bool {
		return string(sock.written()) == "onetwo"
	}, 5*time.Second, time.Millisecond)
}

// TestClientCloseIdempotent checks that the closed callback fires exactly
// once however often Close is called
func TestClientCloseIdempotent(t *testing.T) {
	var closedCount atomic.Int32
	sock := newFakeConn(0)
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, func() {
		closedCount.Add(1)
	})
	defer loop.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Close())
		}()
	}
	wg.Wait()
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), closedCount.Load())
}

// TestClientCloseKeepsInFlightBuffer checks that Close does not recycle
// the buffer a stalled write is still reading: the frame's bytes must
// reach the socket intact even when closed mid-write and the buffer pool
// is churned in between
func TestClientCloseKeepsInFlightBuffer(t *testing.T) {
	sock := newStallConn()
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, nil)
	defer loop.Stop()

	want := []byte("frame still on the wire")
	require.NoError(t, c.SendBytes(want))

	// wait for the write to pick the frame up, then close underneath it
	require.Eventually(t, func() bool {
		before, _ := sock.snapshots()
		return len(before) > 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	// a prematurely released buffer would be handed out and overwritten
	// right here
	for i := 0; i < 256; i++ {
		bb := bytebufferpool.Get()
		for len(bb.B) < len(want) {
			_, _ = bb.Write([]byte("XXXXXXXX"))
		}
		bytebufferpool.Put(bb)
	}

	close(sock.release)
	require.Eventually(t, func() bool {
		_, after := sock.snapshots()
		return len(after) > 0
	}, 5*time.Second, time.Millisecond)

	before, after := sock.snapshots()
	assert.Equal(t, want, before)
	assert.Equal(t, want, after, "frame bytes changed while the write was in flight")
}

// TestClientCloseDuringSends closes the connection while several
// goroutines hammer the send path; no frame may stay stranded in the
// dead connection's queue
func TestClientCloseDuringSends(t *testing.T) {
	sock := newFakeConn(0)
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, nil)
	defer loop.Stop()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if err := c.SendBytes([]byte("spin")); err != nil && !errors.Is(err, common.ErrQueueOverflow) {
						assert.NoError(t, err)
					}
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	close(stop)
	wg.Wait()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.txq.empty() && !c.txBusy
	}, 5*time.Second, time.Millisecond)
}

// TestClientSelfCloseOnReadError checks that a failed read tears the
// connection down and that a later external Close stays a no-op
func TestClientSelfCloseOnReadError(t *testing.T) {
	var closedCount atomic.Int32
	sock := newFakeConn(0)
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, func() {
		closedCount.Add(1)
	})
	defer loop.Stop()

	// EOF from the peer side
	sock.Close()

	require.Eventually(t, func() bool {
		return closedCount.Load() == 1
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), closedCount.Load())
}

// TestClientSendAfterClose checks that sending on a closed connection is
// a logged no-op, not an error or a panic
func TestClientSendAfterClose(t *testing.T) {
	sock := newFakeConn(0)
	c, loop := fakeClient(t, sock, common.DefaultConfig(), nil, nil)
	defer loop.Stop()
	require.NoError(t, c.Close())

	assert.NoError(t, c.SendBytes([]byte("late")))
	assert.NoError(t, c.SendEncoded(mavlink.Heartbeat{}, 240))
	assert.Empty(t, sock.written())
}

// TestClientReceive checks that bytes arriving on the socket surface as
// parsed messages through the connection callback
func TestClientReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frame, err := mavlink.Marshal(&mavlink.RawMessage{
		Seq: 3, SysID: 9, CompID: 1, MsgID: 0,
		Payload: []byte{0, 0, 0, 0, 6, 8, 0, 4, 3},
	}, mavlink.DefaultDialect())
	require.NoError(t, err)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		peer, err := ln.Accept()
		if err != nil {
			return
		}
		defer peer.Close()
		_, _ = peer.Write(frame)

		// wait for the client frame before closing
		buf := make([]byte, 1024)
		_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := peer.Read(buf)
		if err != nil {
			t.Errorf("Peer read failed: %v", err)
			return
		}

		p := mavlink.NewParser(mavlink.DefaultDialect(), 0)
		var got *mavlink.RawMessage
		p.Push(buf[:n], func(m *mavlink.RawMessage, _ mavlink.Framing) { got = m })
		if got == nil || got.MsgID != 0 || got.SysID != 1 || got.CompID != 240 {
			t.Errorf("Peer parsed %+v, want a heartbeat from 1.240", got)
		}
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	c, err := NewClient(1, 240, "127.0.0.1", port, common.DefaultConfig())
	require.NoError(t, err)

	received := make(chan *mavlink.RawMessage, 1)
	closed := make(chan struct{})
	require.NoError(t, c.Connect(
		func(m *mavlink.RawMessage, f mavlink.Framing) {
			if f != mavlink.FramingV2 {
				t.Errorf("framing = %v, want v2", f)
			}
			received <- m
		},
		func() { close(closed) },
	))

	select {
	case m := <-received:
		assert.Equal(t, uint32(0), m.MsgID)
		assert.Equal(t, uint8(3), m.Seq)
		assert.Equal(t, uint8(9), m.SysID)
		hb := mavlink.DecodeHeartbeat(m.Payload)
		assert.Equal(t, uint8(6), hb.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the received message")
	}

	st := c.GetStatus()
	assert.Equal(t, uint64(1), st.RxSuccess)
	assert.Equal(t, uint8(3), st.RxSeq)

	require.NoError(t, c.SendEncoded(mavlink.Heartbeat{Type: 6, Autopilot: 8, SystemStatus: 4, MavlinkVersion: 3}, 240))

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the peer")
	}

	require.NoError(t, c.Close())
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the closed callback")
	}
}

// TestNewClientConnectFailure checks that dialing a dead endpoint fails
// with a device error instead of a half-built connection
func TestNewClientConnectFailure(t *testing.T) {
	// grab a port and close it again so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	c, err := NewClient(1, 240, "127.0.0.1", port, common.DefaultConfig())
	require.Error(t, err)
	assert.Nil(t, c)

	var devErr *common.DeviceError
	assert.True(t, errors.As(err, &devErr), "error = %v, want a DeviceError", err)
}
