package fcgi

import (
	"io"
	"net"
	"testing"
	"time"
)

func noTimeout() time.Duration { return 0 }

func drainToEOF(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return b
}

func TestConnectionWorkerRunRespondsAndClosesWithoutKeepConn(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	var gotMethod string
	handler := func(in *InputSide, out *OutputSide) {
		gotMethod, _ = in.Parameter("REQUEST_METHOD")
		in.DiscardRemaining()
		out.WriteString("ok")
	}

	w := newConnectionWorker(serverConn, noTimeout, func() int { return 16384 }, handler, discardLogger{})
	go w.Run()

	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 1, EncodeNameValuePairs(map[string]string{"REQUEST_METHOD": "GET"})).
		record(TypeParams, 1, nil).
		record(TypeStdin, 1, nil)

	go func() {
		clientConn.Write(s.buf)
	}()

	resp := drainToEOF(t, clientConn)

	if gotMethod != "GET" {
		t.Fatalf("handler saw REQUEST_METHOD = %q, want GET", gotMethod)
	}

	_, frames := readAllStdoutFrames(t, resp)
	if len(frames) == 0 {
		t.Fatal("no frames decoded from response")
	}
	last := frames[len(frames)-1]
	if last.Type() != TypeEndRequest {
		t.Fatalf("last frame type = %v, want END_REQUEST", last.Type())
	}
	if last.Content()[4] != byte(StatusRequestComplete) {
		t.Fatalf("protocolStatus = %d, want %d (REQUEST_COMPLETE)", last.Content()[4], StatusRequestComplete)
	}
}

// readAllEndRequestFrames decodes raw until the peer closes (the
// client side closes its write end once done), collecting every
// END_REQUEST frame seen — unlike readAllStdoutFrames, it does not
// stop at the first one, so it can assert on a keep-alive connection
// that served more than one request.
func readAllEndRequestFrames(t *testing.T, raw []byte) []*Frame {
	t.Helper()
	r := &chunkedReader{data: raw, chunkSize: len(raw) + 1}
	var d Decoder
	var ends []*Frame
	for {
		f, err := d.Next(r.Read)
		if err != nil {
			if err == ErrPeerClosed {
				return ends
			}
			t.Fatalf("decoding written stream: %v", err)
		}
		if f.Type() == TypeEndRequest {
			content := append([]byte(nil), f.Content()...)
			ends = append(ends, &Frame{h: f.h, body: content})
		}
	}
}

func TestConnectionWorkerRunKeepsConnectionAliveAcrossRequests(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	var methods []string
	handler := func(in *InputSide, out *OutputSide) {
		m, _ := in.Parameter("REQUEST_METHOD")
		methods = append(methods, m)
		in.DiscardRemaining()
		out.WriteString("ok")
	}

	w := newConnectionWorker(serverConn, noTimeout, func() int { return 16384 }, handler, discardLogger{})
	go w.Run()

	s := &streamBuilder{}
	s.record(TypeBeginRequest, 1, beginRequestContent(RoleResponder, true)).
		record(TypeParams, 1, EncodeNameValuePairs(map[string]string{"REQUEST_METHOD": "GET"})).
		record(TypeParams, 1, nil).
		record(TypeStdin, 1, nil).
		record(TypeBeginRequest, 2, beginRequestContent(RoleResponder, false)).
		record(TypeParams, 2, EncodeNameValuePairs(map[string]string{"REQUEST_METHOD": "POST"})).
		record(TypeParams, 2, nil).
		record(TypeStdin, 2, nil)

	go func() {
		clientConn.Write(s.buf)
	}()

	resp := drainToEOF(t, clientConn)

	if len(methods) != 2 || methods[0] != "GET" || methods[1] != "POST" {
		t.Fatalf("handler invocations = %v, want [GET POST]", methods)
	}

	ends := readAllEndRequestFrames(t, resp)
	if len(ends) != 2 {
		t.Fatalf("END_REQUEST count = %d, want 2 (one per request on the kept-alive connection)", len(ends))
	}
	if ends[0].RequestID() != 1 || ends[1].RequestID() != 2 {
		t.Fatalf("END_REQUEST ids = [%d %d], want [1 2]", ends[0].RequestID(), ends[1].RequestID())
	}
	for i, f := range ends {
		if f.Content()[4] != byte(StatusRequestComplete) {
			t.Fatalf("END_REQUEST[%d] protocolStatus = %d, want %d (REQUEST_COMPLETE)", i, f.Content()[4], StatusRequestComplete)
		}
	}
}

func TestConnectionWorkerRunRejectsUnsupportedRole(t *testing.T) {
	serverConn, clientConn := net.Pipe()

	handler := func(in *InputSide, out *OutputSide) {
		t.Fatal("handler must not run for an unsupported role")
	}

	w := newConnectionWorker(serverConn, noTimeout, func() int { return 16384 }, handler, discardLogger{})
	go w.Run()

	s := &streamBuilder{}
	s.record(TypeBeginRequest, 9, beginRequestContent(RoleFilter, false))
	go func() {
		clientConn.Write(s.buf)
	}()

	resp := drainToEOF(t, clientConn)
	_, frames := readAllStdoutFrames(t, resp)
	if len(frames) != 1 || frames[0].Type() != TypeEndRequest {
		t.Fatalf("frames = %v, want exactly one END_REQUEST", frames)
	}
	if frames[0].RequestID() != 9 {
		t.Fatalf("END_REQUEST id = %d, want 9", frames[0].RequestID())
	}
	if frames[0].Content()[4] != byte(StatusUnknownRole) {
		t.Fatalf("protocolStatus = %d, want %d (UNKNOWN_ROLE)", frames[0].Content()[4], StatusUnknownRole)
	}
}
