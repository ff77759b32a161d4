package fcgi

import (
	"fmt"
	"io"
	"sync"
)

// ReadFunc reads into p, mirroring io.Reader.Read. ConnectionWorker
// binds this to a deadline-refreshing wrapper around the connection;
// tests can bind it to anything, including a reader that delivers
// bytes in arbitrary-sized chunks.
type ReadFunc func(p []byte) (int, error)

// WriteFunc writes p, mirroring io.Writer.Write.
type WriteFunc func(p []byte) (int, error)

// Frame is a decoded record. Its Content() slice aliases the
// Decoder's internal buffer and is only valid until the next call to
// Decoder.Next; callers that need to retain the bytes (e.g. appending
// to a ByteQueue) must copy them out first.
type Frame struct {
	h    header
	body []byte // content followed by padding
}

func (f *Frame) Type() RecType         { return f.h.Type }
func (f *Frame) RequestID() uint16     { return f.h.RequestID }
func (f *Frame) ContentLength() int    { return int(f.h.ContentLength) }
func (f *Frame) Content() []byte       { return f.body[:f.h.ContentLength] }
func (f *Frame) BeginRequest() beginRequestBody {
	return decodeBeginRequestBody(f.Content())
}

// Decoder reassembles FastCGI records from a duplex byte stream. A
// single instance is reused for the lifetime of a connection: its
// internal buffer retains any bytes read past the end of one frame
// and slides them to the front before the next decode, so a caller
// issuing Next in a tight loop sees one frame at a time regardless of
// how the underlying reads happened to chunk the bytes.
//
// Grounded on eudore-eudore/protocol/fastcgi/record.go's record.read
// and conn.go's fixed-size buffer discipline, restructured around a
// caller-supplied ReadFunc (rather than a bound io.Reader) so
// ConnectionWorker can apply a read deadline per call.
type Decoder struct {
	buf      [maxFrame]byte
	n        int // buf[:n] holds buffered bytes
	consumed int // buf[:consumed] is the frame last returned by Next
}

// Next blocks, issuing reads via read, until a full record is
// buffered, then returns a view of it. The returned *Frame is only
// valid until the next call to Next.
func (d *Decoder) Next(read ReadFunc) (*Frame, error) {
	if d.consumed > 0 {
		remaining := d.n - d.consumed
		copy(d.buf[:remaining], d.buf[d.consumed:d.n])
		d.n = remaining
		d.consumed = 0
	}
	for {
		if d.n >= headerLen {
			h := decodeHeader(d.buf[:headerLen])
			if h.Version != protocolVersion1 {
				return nil, newClientError(KindProtocolError, fmt.Errorf("unsupported protocol version %d", h.Version))
			}
			total := headerLen + int(h.ContentLength) + int(h.PaddingLength)
			if d.n >= total {
				d.consumed = total
				return &Frame{h: h, body: d.buf[headerLen:total]}, nil
			}
		}
		nr, err := read(d.buf[d.n:])
		if nr == 0 {
			if err == nil || err == io.EOF {
				if d.n > 0 {
					return nil, ErrTruncated
				}
				return nil, ErrPeerClosed
			}
			return nil, classifyReadError(err)
		}
		d.n += nr
		if err != nil && err != io.EOF {
			return nil, classifyReadError(err)
		}
	}
}

func classifyReadError(err error) error {
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return newClientError(KindIoTimeout, err)
	}
	return newClientError(KindIoError, err)
}

// Encoder serializes STDOUT/STDERR/END_REQUEST/UNKNOWN_TYPE records
// onto a duplex stream. Grounded on
// eudore-eudore/protocol/fastcgi/conn.go's writeRecord/pad handling.
type Encoder struct {
	mu  sync.Mutex
	buf [maxFrame]byte
}

var zeroPad [maxPad]byte

func (e *Encoder) writeRecord(write WriteFunc, t RecType, id uint16, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	padLen := byte(-len(content) & 7)
	encodeHeader(e.buf[:headerLen], t, id, len(content), padLen)
	n := headerLen
	n += copy(e.buf[n:], content)
	n += copy(e.buf[n:], zeroPad[:padLen])
	_, err := write(e.buf[:n])
	return err
}

// WriteStdout emits one STDOUT record. p must be at most 65535 bytes;
// OutputSide is responsible for fragmenting larger payloads. A
// zero-length call is the end-of-stream marker.
func (e *Encoder) WriteStdout(write WriteFunc, id uint16, p []byte) error {
	return e.writeRecord(write, TypeStdout, id, p)
}

// WriteStderr emits one STDERR record.
func (e *Encoder) WriteStderr(write WriteFunc, id uint16, p []byte) error {
	return e.writeRecord(write, TypeStderr, id, p)
}

// WriteEndRequest emits the 8-byte-content END_REQUEST record that
// closes a request.
func (e *Encoder) WriteEndRequest(write WriteFunc, id uint16, appStatus uint32, protoStatus ProtocolStatus) error {
	var b [8]byte
	b[0] = byte(appStatus >> 24)
	b[1] = byte(appStatus >> 16)
	b[2] = byte(appStatus >> 8)
	b[3] = byte(appStatus)
	b[4] = byte(protoStatus)
	return e.writeRecord(write, TypeEndRequest, id, b[:])
}

// WriteUnknownType answers a record of an unrecognized type per the
// FastCGI 1.0 management convention.
func (e *Encoder) WriteUnknownType(write WriteFunc, recType byte) error {
	var b [8]byte
	b[0] = recType
	return e.writeRecord(write, TypeUnknownType, 0, b[:])
}
