package fcgi

import (
	"net/http"
	"strconv"
	"time"
)

const serverBanner = "gofcgi-responder"

// OutputSide builds the HTTP response prefix and the STDOUT record
// stream for one request, finalizing with END_REQUEST. Grounded on
// eudore-eudore/protocol/fastcgi/response.go (header buffering,
// write-headers-once) and conn.go's maxWrite fragmentation, but emits
// a full HTTP/1.1 status line (the teacher emits the older CGI
// "Status: <code> <reason>" line) and adds a stdin-drain-before-first-
// flush back-pressure rule that neither the teacher nor stdlib
// net/http/fcgi implements.
type OutputSide struct {
	enc   *Encoder
	write WriteFunc
	id    uint16
	in    *InputSide

	headerKeys []string
	headerVals map[string]string
	status     int

	buf         ByteQueue
	headersSent bool
	ended       bool
}

func newOutputSide(enc *Encoder, write WriteFunc, id uint16, in *InputSide) *OutputSide {
	out := &OutputSide{
		enc:        enc,
		write:      write,
		id:         id,
		in:         in,
		headerVals: make(map[string]string, 4),
		status:     http.StatusOK,
	}
	out.setHeaderDefault("Content-Type", "text/html; charset=utf-8")
	out.setHeaderDefault("Cache-Control", "no-cache")
	out.setHeaderDefault("Server", serverBanner)
	return out
}

func (out *OutputSide) setHeaderDefault(name, value string) {
	out.headerKeys = append(out.headerKeys, name)
	out.headerVals[name] = value
}

// SetStatus sets the HTTP status code to use for the response line.
// Permitted only before the first Write; ignored once headers have
// been sent.
func (out *OutputSide) SetStatus(code int) {
	if out.headersSent {
		return
	}
	out.status = code
}

// SetHeader sets (or overwrites) a response header. Idempotent; last
// call wins. Permitted only before the first Write.
func (out *OutputSide) SetHeader(name, value string) {
	if out.headersSent {
		return
	}
	if _, ok := out.headerVals[name]; !ok {
		out.headerKeys = append(out.headerKeys, name)
	}
	out.headerVals[name] = value
}

// WriteString appends UTF-8 text to the response body, sending the
// header prefix first if this is the first write.
func (out *OutputSide) WriteString(s string) (int, error) {
	return out.Write([]byte(s))
}

// Write appends bytes to the response body, sending the header prefix
// first if this is the first write.
func (out *OutputSide) Write(p []byte) (int, error) {
	if err := out.ensureHeadersSent(); err != nil {
		return 0, err
	}
	out.buf.Append(append([]byte(nil), p...))
	for out.buf.Len() >= maxWrite {
		if err := out.flushChunk(maxWrite); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (out *OutputSide) ensureHeadersSent() error {
	if out.headersSent {
		return nil
	}
	out.headersSent = true
	if _, ok := out.headerVals["Date"]; !ok {
		out.setHeaderDefault("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	prefix := out.buildHeaderPrefix()
	out.buf.Append(prefix)
	return nil
}

func (out *OutputSide) buildHeaderPrefix() []byte {
	line := httpStatusLine(out.status, http.StatusText(out.status))
	b := make([]byte, 0, 256)
	b = append(b, line...)
	for _, k := range out.headerKeys {
		b = append(b, k...)
		b = append(b, ':', ' ')
		b = append(b, out.headerVals[k]...)
		b = append(b, '\r', '\n')
	}
	b = append(b, '\r', '\n')
	return b
}

func httpStatusLine(code int, reason string) string {
	if reason == "" {
		return "HTTP/1.1 " + strconv.Itoa(code) + "\r\n"
	}
	return "HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n"
}

// flushChunk drains up to n bytes from buf into one STDOUT record,
// first draining any unread stdin so a response can be written before
// the peer has finished sending the request body.
func (out *OutputSide) flushChunk(n int) error {
	if err := out.drainStdinIfNeeded(); err != nil {
		return err
	}
	chunk := make([]byte, n)
	got := out.buf.Read(n, chunk, 0)
	return out.enc.WriteStdout(out.write, out.id, chunk[:got])
}

func (out *OutputSide) drainStdinIfNeeded() error {
	if out.in == nil || out.in.StdinComplete() {
		return nil
	}
	return out.in.DiscardRemaining()
}

// HeadersSent reports whether the header prefix has been emitted.
func (out *OutputSide) HeadersSent() bool { return out.headersSent }

// Ended reports whether End has already run.
func (out *OutputSide) Ended() bool { return out.ended }

// End flushes any remaining buffered bytes, sends the zero-length
// STDOUT end-of-stream marker, and emits END_REQUEST. Calling End more
// than once is a no-op.
func (out *OutputSide) End() error {
	if out.ended {
		return nil
	}
	out.ended = true
	if err := out.ensureHeadersSent(); err != nil {
		return err
	}
	for out.buf.Len() > 0 {
		if err := out.flushChunk(out.buf.Len()); err != nil {
			return err
		}
	}
	if err := out.drainStdinIfNeeded(); err != nil {
		return err
	}
	if err := out.enc.WriteStdout(out.write, out.id, nil); err != nil {
		return err
	}
	return out.enc.WriteEndRequest(out.write, out.id, 0, StatusRequestComplete)
}
