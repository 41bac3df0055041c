package tcp

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// --------------------------------------------------------------------------
// io loop
// --------------------------------------------------------------------------

// ioLoop is a serial executor: one goroutine drains posted operations in
// order, so no two completions for the connections sharing the loop ever
// run concurrently with each other. A direct client owns its loop; a
// server shares one loop between its acceptor and every accepted client.
type ioLoop struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	running  bool
	stopping bool
	done     chan struct{}
	goid     uint64
}

func newIOLoop(name string) *ioLoop {
	l := &ioLoop{name: name}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post enqueues an operation for execution on the loop goroutine. It
// reports false once the loop is stopping; the operation is then dropped,
// never run.
func (l *ioLoop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopping {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Run starts the loop goroutine. Operations posted before Run are executed
// once it starts. Calling Run on a stopped loop resets it for reuse.
func (l *ioLoop) Run() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopping = false
	l.done = make(chan struct{})
	go l.run(l.done)
}

func (l *ioLoop) run(done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("io loop %s: uncaught panic: %v", l.name, r)
			l.mu.Lock()
			l.running = false
			l.stopping = true
			l.queue = nil
			l.mu.Unlock()
		}
		Logger.Debugf("io loop %s: stopped", l.name)
		close(done)
	}()

	l.mu.Lock()
	l.goid = curGoroutineID()
	l.mu.Unlock()

	Logger.Debugf("io loop %s: started", l.name)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopping {
			l.cond.Wait()
		}
		if l.stopping {
			// pending operations are abandoned, like a stopped io service
			l.queue = nil
			l.running = false
			l.mu.Unlock()
			break
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

// Stop ends the loop and joins its goroutine. Joining is skipped when Stop
// runs on the loop goroutine itself (stopping the loop from inside would
// deadlock); the loop then exits right after the current operation.
func (l *ioLoop) Stop() {
	l.mu.Lock()
	if !l.running && !l.stopping {
		l.mu.Unlock()
		return
	}
	l.stopping = true
	l.cond.Broadcast()
	done := l.done
	self := l.goid == curGoroutineID()
	l.mu.Unlock()

	if !self && done != nil {
		<-done
	}
}

// onLoop reports whether the caller is running on the loop goroutine.
func (l *ioLoop) onLoop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.goid == curGoroutineID()
}

// curGoroutineID parses the goroutine id out of the runtime stack header.
// Same trade-off as the usual thread-id check in event loop code: only
// used to avoid self-joins, never for scheduling.
func curGoroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	n, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return n
}
