package transport

import (
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// newStreamConn wraps a net.Conn (unix or TCP stream socket) in the shared
// connection core and starts its read loop.
func newStreamConn(nc net.Conn) *conn {
	c := newConn(
		func(buf []byte, reliable bool) error { return writeFull(nc, buf, reliable) },
		func() { nc.Close() },
	)
	go streamReadLoop(nc, c)
	return c
}

// writeFull writes the whole buffer, waiting at most reliableWait for
// writability at a time. Partial progress extends the wait so a buffer is
// never left half-written on the wire. A wait that expires before any byte
// went out drops a lossy frame and is fatal for a reliable one.
func writeFull(nc net.Conn, buf []byte, reliable bool) error {
	wrote := false
	for len(buf) > 0 {
		nc.SetWriteDeadline(time.Now().Add(reliableWait))
		n, err := nc.Write(buf)
		buf = buf[n:]
		if n > 0 {
			wrote = true
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if n > 0 {
					continue
				}
				if !reliable && !wrote {
					return nil // dropped before any byte hit the wire
				}
			}
			return err
		}
	}
	return nil
}

func streamReadLoop(nc net.Conn, c *conn) {
	buf := make([]byte, readChunk)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			c.push(buf[:n])
		}
		if err != nil {
			c.fail()
			return
		}
	}
}

// listenerCore implements the non-blocking Accept/notify half of a
// Listener. Transports feed accepted connections through offer.
type listenerCore struct {
	pending   chan Conn
	listening atomic.Bool
	notify    atomic.Value // func()
}

func (l *listenerCore) init() {
	l.pending = make(chan Conn, acceptBacklog)
}

func (l *listenerCore) Accept() Conn {
	select {
	case c := <-l.pending:
		return c
	default:
		return nil
	}
}

func (l *listenerCore) IsListening() bool {
	return l.listening.Load()
}

func (l *listenerCore) SetNotify(fn func()) {
	l.notify.Store(fn)
}

func (l *listenerCore) wake() {
	if fn, ok := l.notify.Load().(func()); ok && fn != nil {
		fn()
	}
}

// offer hands an accepted connection to the poller, dropping it when the
// backlog is full.
func (l *listenerCore) offer(c Conn) {
	select {
	case l.pending <- c:
		l.wake()
	default:
		c.Close()
	}
}

// drainPending closes connections accepted but never collected.
func (l *listenerCore) drainPending() {
	for {
		select {
		case c := <-l.pending:
			c.Close()
		default:
			return
		}
	}
}
