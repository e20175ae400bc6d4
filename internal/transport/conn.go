package transport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// outFrame is one queued send: the bytes and the reliability hint they
// were submitted with. The hint decides what a stalled wire does to the
// frame: reliable frames close the connection, lossy ones are dropped.
type outFrame struct {
	data     []byte
	reliable bool
}

// conn is the transport-independent half of a connection. The owning
// transport supplies writeFrame (blocking write of one buffer to the wire,
// honouring the reliability hint) and closeRaw (release of the underlying
// handle), and runs a read loop that feeds push/fail.
//
// A single writer goroutine drains the outbox so writes are never
// interleaved; unsent tracks the bytes queued but not yet on the wire,
// which is what the unreliable-send watermark is measured against.
type conn struct {
	writeFrame func(data []byte, reliable bool) error
	closeRaw   func()

	mu      sync.Mutex
	inbound []byte
	notify  func()

	outbox chan outFrame
	unsent atomic.Int64

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(writeFrame func([]byte, bool) error, closeRaw func()) *conn {
	c := &conn{
		writeFrame: writeFrame,
		closeRaw:   closeRaw,
		outbox:     make(chan outFrame, outboxDepth),
		done:       make(chan struct{}),
	}
	c.open.Store(true)
	go c.writeLoop()
	return c
}

// writeLoop is the single-writer goroutine.
func (c *conn) writeLoop() {
	for {
		select {
		case f := <-c.outbox:
			err := c.writeFrame(f.data, f.reliable)
			c.unsent.Add(int64(-len(f.data)))
			if err != nil {
				c.teardown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// push appends bytes produced by the transport's read loop and wakes the
// poller. The accumulator only ever grows by appending here and shrinks by
// consuming a prefix in Recv.
func (c *conn) push(data []byte) {
	c.mu.Lock()
	c.inbound = append(c.inbound, data...)
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fail is called by the transport's read loop on peer close or a fatal
// error.
func (c *conn) fail() {
	c.teardown()
}

func (c *conn) teardown() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		c.closeRaw()
		c.mu.Lock()
		fn := c.notify
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *conn) Close() error {
	c.teardown()
	return nil
}

func (c *conn) IsOpen() bool {
	return c.open.Load()
}

func (c *conn) SetNotify(fn func()) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *conn) Recv(p []byte) (int, error) {
	c.mu.Lock()
	n := copy(p, c.inbound)
	if n > 0 {
		rest := copy(c.inbound, c.inbound[n:])
		c.inbound = c.inbound[:rest]
	}
	c.mu.Unlock()
	if n == 0 && !c.IsOpen() {
		return 0, io.EOF
	}
	return n, nil
}

func (c *conn) Send(p []byte, reliable bool) (int, error) {
	if !c.IsOpen() {
		return 0, ErrClosed
	}
	if !reliable && c.unsent.Load() > unsentWatermark {
		return 0, nil
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	c.unsent.Add(int64(len(buf)))

	if !reliable {
		select {
		case c.outbox <- outFrame{buf, false}:
			return len(p), nil
		default:
			c.unsent.Add(int64(-len(buf)))
			return 0, nil
		}
	}

	timer := time.NewTimer(reliableWait)
	defer timer.Stop()
	select {
	case c.outbox <- outFrame{buf, true}:
		return len(p), nil
	case <-timer.C:
		c.unsent.Add(int64(-len(buf)))
		c.teardown()
		return 0, ErrClosed
	case <-c.done:
		c.unsent.Add(int64(-len(buf)))
		return 0, ErrClosed
	}
}
