package fcgi

import (
	"io"
	"testing"
)

// streamBuilder accumulates whole FastCGI records into one buffer that
// a single io.Reader-shaped callback can then be wired to.
type streamBuilder struct {
	buf []byte
}

func (s *streamBuilder) record(t RecType, id uint16, content []byte) *streamBuilder {
	padLen := byte(-len(content) & 7)
	b := make([]byte, headerLen+len(content)+int(padLen))
	encodeHeader(b, t, id, len(content), padLen)
	copy(b[headerLen:], content)
	s.buf = append(s.buf, b...)
	return s
}

func beginRequestContent(role Role, keepConn bool) []byte {
	b := make([]byte, 8)
	b[0] = byte(role >> 8)
	b[1] = byte(role)
	if keepConn {
		b[2] = flagKeepConn
	}
	return b
}

func (s *streamBuilder) reader() ReadFunc {
	return (&chunkedReader{data: s.buf, chunkSize: 4096}).Read
}

func newTestInputSide(read ReadFunc, maxHeaderBytes int) *InputSide {
	return newInputSide(&Decoder{}, read, maxHeaderBytes, nil)
}

func TestInputSideInitializeResponderRequest(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, true)).
		record(TypeParams, 1, EncodeNameValuePairs(map[string]string{"REQUEST_METHOD": "GET"})).
		record(TypeParams, 1, nil)

	in := newTestInputSide(s.reader(), 16384)
	if err := in.initialize(); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	if in.RequestID() != 1 {
		t.Fatalf("RequestID() = %d, want 1", in.RequestID())
	}
	if !in.KeepConn() {
		t.Fatal("KeepConn() = false, want true")
	}
	v, err := in.Parameter("REQUEST_METHOD")
	if err != nil || v != "GET" {
		t.Fatalf("Parameter(REQUEST_METHOD) = %q, %v, want GET, nil", v, err)
	}
}

func TestInputSideUnknownRoleIsRejected(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 5, beginRequestContent(RoleFilter, false))

	in := newTestInputSide(s.reader(), 16384)
	err := in.initialize()
	if err != errUnknownRole {
		t.Fatalf("initialize() error = %v, want errUnknownRole", err)
	}
	if in.RequestID() != 5 {
		t.Fatalf("RequestID() after unknown role = %d, want 5 (must survive for the END_REQUEST response)", in.RequestID())
	}
}

func TestInputSideMissingParameterIsAnError(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 1, nil)

	in := newTestInputSide(s.reader(), 16384)
	if err := in.initialize(); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	if _, err := in.Parameter("DOES_NOT_EXIST"); err == nil {
		t.Fatal("Parameter() on missing key: got nil error, want *ParameterNotFoundError")
	} else if _, ok := err.(*ParameterNotFoundError); !ok {
		t.Fatalf("Parameter() error type = %T, want *ParameterNotFoundError", err)
	}
}

func TestInputSideStdinContentAndEOF(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 1, nil).
		record(TypeStdin, 1, []byte("body-part-1")).
		record(TypeStdin, 1, []byte("body-part-2")).
		record(TypeStdin, 1, nil)

	in := newTestInputSide(s.reader(), 16384)
	if err := in.initialize(); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	got, err := in.Content()
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if want := "body-part-1body-part-2"; got != want {
		t.Fatalf("Content() = %q, want %q", got, want)
	}
	if !in.StdinComplete() {
		t.Fatal("StdinComplete() = false after Content() drained stdin")
	}
}

func TestInputSideReadPullsProgressively(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 1, nil).
		record(TypeStdin, 1, []byte("abcdef")).
		record(TypeStdin, 1, nil)

	in := newTestInputSide(s.reader(), 16384)
	if err := in.initialize(); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	buf := make([]byte, 3)
	n, err := in.Read(buf)
	if err != nil || n != 3 || string(buf[:n]) != "abc" {
		t.Fatalf("Read() = %d,%q,%v, want 3,abc,nil", n, buf[:n], err)
	}
	n, err = in.Read(buf)
	if err != nil || n != 3 || string(buf[:n]) != "def" {
		t.Fatalf("Read() second = %d,%q,%v, want 3,def,nil", n, buf[:n], err)
	}
	_, err = in.Read(buf)
	if err != io.EOF {
		t.Fatalf("Read() at end = %v, want io.EOF", err)
	}
}

func TestInputSideAbortRequestIsAnError(t *testing.T) {
	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeAbortRequest, 1, nil)

	in := newTestInputSide(s.reader(), 16384)
	if err := in.initialize(); err != ErrAborted {
		t.Fatalf("initialize() error = %v, want ErrAborted", err)
	}
}

func TestInputSideHeaderTooLarge(t *testing.T) {
	s := &streamBuilder{}
	big := make([]byte, 100)
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 1, big)

	in := newTestInputSide(s.reader(), 50)
	if err := in.initialize(); err != ErrHeaderTooLarge {
		t.Fatalf("initialize() error = %v, want ErrHeaderTooLarge", err)
	}
}
