package fcgi

import (
	"net"
	"net/http"
	"time"
)

// Handler is the single user-supplied callback the engine invokes once
// a request's parameters and role have been established. It reads
// parameters and stdin from in and writes the HTTP response to out.
// It is a function value, not a one-method interface, matching how
// net/http/fcgi exposes its own handler hook.
type Handler func(in *InputSide, out *OutputSide)

// ConnectionWorker runs the per-connection loop: construct fresh
// Input/Output sides, run the handler, honor keep-alive, close cleanly
// on error. Grounded on eudore-eudore/protocol/fastcgi/child.go's
// serve loop, simplified to one live request at a time (this package
// does not multiplex several requests per connection) instead of the
// teacher's map[uint16]*request.
type ConnectionWorker struct {
	conn    net.Conn
	timeout func() time.Duration
	maxHdr  func() int
	handler Handler
	logger  Logger

	dec Decoder
	enc Encoder
}

func newConnectionWorker(conn net.Conn, timeout func() time.Duration, maxHdr func() int, handler Handler, logger Logger) *ConnectionWorker {
	return &ConnectionWorker{
		conn:    conn,
		timeout: timeout,
		maxHdr:  maxHdr,
		handler: handler,
		logger:  logger,
	}
}

func (w *ConnectionWorker) readDeadlined(p []byte) (int, error) {
	if d := w.timeout(); d > 0 {
		w.conn.SetReadDeadline(time.Now().Add(d))
	}
	return w.conn.Read(p)
}

func (w *ConnectionWorker) writeDeadlined(p []byte) (int, error) {
	if d := w.timeout(); d > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(d))
	}
	return w.conn.Write(p)
}

func (w *ConnectionWorker) writeUnknownType(recType byte) error {
	return w.enc.WriteUnknownType(w.writeDeadlined, recType)
}

// Run serves an unbounded sequence of requests on the connection
// until a protocol/IO error occurs or the peer declines keep-alive.
func (w *ConnectionWorker) Run() {
	remote := w.conn.RemoteAddr().String()
	defer w.conn.Close()
	for {
		in := newInputSide(&w.dec, w.readDeadlined, w.maxHdr(), w.writeUnknownType)
		if err := in.initialize(); err != nil {
			w.handleInitError(remote, in, err)
			return
		}

		out := newOutputSide(&w.enc, w.writeDeadlined, in.RequestID(), in)
		w.runHandler(in, out)

		if !out.Ended() {
			if !out.HeadersSent() {
				out.SetStatus(http.StatusInternalServerError)
			}
			if err := out.End(); err != nil {
				w.logger.Errorf("fcgi: %s: implicit end failed: %v", remote, err)
				return
			}
		}

		if !in.KeepConn() {
			return
		}
	}
}

func (w *ConnectionWorker) handleInitError(remote string, in *InputSide, err error) {
	if err == errUnknownRole {
		if werr := w.enc.WriteEndRequest(w.writeDeadlined, in.RequestID(), 0, StatusUnknownRole); werr != nil {
			w.logger.Errorf("fcgi: %s: writing UNKNOWN_ROLE response: %v", remote, werr)
		}
		return
	}
	if err == ErrPeerClosed {
		// Clean shutdown between requests; nothing to log.
		return
	}
	w.logger.Errorf("fcgi: %s: %v", remote, err)
}

// runHandler invokes the user handler, converting a panic into an
// internal-server-error response instead of letting it escape and
// take down the connection's goroutine.
func (w *ConnectionWorker) runHandler(in *InputSide, out *OutputSide) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("fcgi: handler panic: %v", r)
			if !out.HeadersSent() {
				out.SetStatus(http.StatusInternalServerError)
			}
		}
	}()
	w.handler(in, out)
}
