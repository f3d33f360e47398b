package relay

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"
)

// peerConn reports whether conn is a network connection whose closure can be
// observed by reading from it. In-memory connections used by fiber's
// app.Test report EOF as soon as the request is consumed and are skipped.
func peerConn(conn net.Conn) (net.Conn, bool) {
	switch conn.(type) {
	case *net.TCPConn, *net.UnixConn, *tls.Conn:
		return conn, true
	default:
		return nil, false
	}
}

// watchPeer blocks on a one-byte read from conn, whose request has already
// been read in full, and calls onGone when the read fails because the peer
// went away. The returned stop unblocks the read and waits for the watcher.
func watchPeer(conn net.Conn, onGone func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var b [1]byte
		_, err := conn.Read(b[:])
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			onGone()
		}
	}()

	return func() {
		_ = conn.SetReadDeadline(time.Now())
		<-done
		_ = conn.SetReadDeadline(time.Time{})
	}
}
