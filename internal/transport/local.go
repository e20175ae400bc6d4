package transport

import (
	"fmt"
	"net"
	"os"
)

// LocalListener serves the Perun protocol on a filesystem stream socket.
type LocalListener struct {
	listenerCore
	path string
	ln   net.Listener
}

// NewLocalListener creates an unopened local-socket listener.
func NewLocalListener() *LocalListener {
	l := &LocalListener{}
	l.init()
	return l
}

// Listen binds a stream socket at path, removing any stale socket file
// left behind by a previous run.
func (l *LocalListener) Listen(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty socket path", ErrInvalidAddress)
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("local listen on %s: %w", path, err)
	}
	l.path = path
	l.ln = ln
	l.listening.Store(true)
	go l.acceptLoop()
	return nil
}

func (l *LocalListener) acceptLoop() {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.offer(newStreamConn(nc))
	}
}

func (l *LocalListener) Close() error {
	if !l.listening.Swap(false) {
		return nil
	}
	err := l.ln.Close()
	l.drainPending()
	os.Remove(l.path)
	return err
}

// Addr returns the bound socket path.
func (l *LocalListener) Addr() string {
	return l.path
}

// DialLocal connects to a local stream socket at path.
func DialLocal(path string) (Conn, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("local dial %s: %w", path, err)
	}
	return newStreamConn(nc), nil
}
