package server

import (
	"net"
	"sync"
)

// SafeConn wraps a net.Conn with automatic write synchronization so that
// concurrent writers (the session's own handler and broadcast/moderation
// paths running in other goroutines) cannot interleave their bytes on the
// wire. Reads stay with the single session goroutine and need no lock.
type SafeConn struct {
	conn net.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// Send writes one response to the connection, appending a trailing newline
// when the text does not already carry one. This is the only way to write to
// the connection - the raw conn is private.
func (sc *SafeConn) Send(text string) error {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write([]byte(text))
	return err
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}

// Raw exposes the underlying connection for the session's read loop.
func (sc *SafeConn) Raw() net.Conn {
	return sc.conn
}
