package transport

import (
	"fmt"
	"net"
)

// TCPListener serves the Perun protocol on a TCP socket.
type TCPListener struct {
	listenerCore
	ln net.Listener
}

// NewTCPListener creates an unopened TCP listener.
func NewTCPListener() *TCPListener {
	l := &TCPListener{}
	l.init()
	return l
}

// Listen binds address, which is "host:port" or ":port" (empty host binds
// all interfaces).
func (l *TCPListener) Listen(address string) error {
	host, port, err := ParseAddress(address)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("tcp listen on %s: %w", address, err)
	}
	l.ln = ln
	l.listening.Store(true)
	go l.acceptLoop()
	return nil
}

func (l *TCPListener) acceptLoop() {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return
		}
		tuneTCP(nc)
		l.offer(newStreamConn(nc))
	}
}

func (l *TCPListener) Close() error {
	if !l.listening.Swap(false) {
		return nil
	}
	err := l.ln.Close()
	l.drainPending()
	return err
}

// Addr returns the bound address, with the kernel-assigned port when the
// listen address used port 0.
func (l *TCPListener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// tuneTCP disables Nagle and widens the send buffer so a burst of video
// frames queues in the kernel instead of stalling the writer.
func tuneTCP(nc net.Conn) {
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetWriteBuffer(sendBufferSize)
	}
}

// DialTCP connects to a Perun endpoint at "host:port".
func DialTCP(address string) (Conn, error) {
	host, port, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	nc, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", address, err)
	}
	tuneTCP(nc)
	return newStreamConn(nc), nil
}
