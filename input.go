package fcgi

import "io"

type inputState int

const (
	stateExpectBegin inputState = iota
	stateExpectParams
	stateExpectStdin
	stateClosed
)

// InputSide drives the per-request record-consumption state machine
// (Expect-Begin → Expect-Params → Expect-Stdin → Closed) and exposes
// the decoded parameters and stdin body to the handler. Grounded on
// eudore-eudore/protocol/fastcgi/child.go's handleRecord/parseParams,
// restructured into an explicit state enum and a pull-style stdin
// reader instead of the teacher's io.Pipe goroutine, because Content
// and DiscardRemaining are synchronous pull operations and there is
// exactly one live request per connection, so there is no need for a
// map keyed by request ID.
type InputSide struct {
	dec            *Decoder
	read           ReadFunc
	maxHeaderBytes int
	writeUnknown   func(recType byte) error

	state      inputState
	id         uint16
	role       Role
	keepConn   bool
	paramsRaw  ByteQueue
	params     map[string]string
	stdin      ByteQueue
	stdinEOF   bool
}

func newInputSide(dec *Decoder, read ReadFunc, maxHeaderBytes int, writeUnknown func(recType byte) error) *InputSide {
	return &InputSide{
		dec:            dec,
		read:           read,
		maxHeaderBytes: maxHeaderBytes,
		writeUnknown:   writeUnknown,
		state:          stateExpectBegin,
	}
}

// initialize advances the state machine from Expect-Begin through
// Expect-Params, leaving the request ready for the handler to read
// parameters and pull stdin. A record of a type outside the eleven
// FastCGI defines gets an UNKNOWN_TYPE reply and is otherwise
// ignored, rather than aborting the connection.
func (in *InputSide) initialize() error {
	for in.state != stateExpectStdin {
		frame, err := in.dec.Next(in.read)
		if err != nil {
			return err
		}
		if !knownRecType(frame.Type()) {
			if err := in.replyUnknown(frame); err != nil {
				return err
			}
			continue
		}
		if err := in.handleRecord(frame); err != nil {
			return err
		}
	}
	return nil
}

func (in *InputSide) replyUnknown(f *Frame) error {
	if in.writeUnknown == nil {
		return nil
	}
	if err := in.writeUnknown(byte(f.Type())); err != nil {
		return newClientError(KindIoError, err)
	}
	return nil
}

func (in *InputSide) handleRecord(f *Frame) error {
	if f.Type() == TypeGetValues {
		return ErrUnsupportedManagementRequest
	}
	if in.state != stateExpectBegin {
		if f.RequestID() != in.id && f.RequestID() != 0 {
			return ErrUnknownRequestID
		}
	}
	if f.Type() == TypeAbortRequest {
		return ErrAborted
	}

	switch in.state {
	case stateExpectBegin:
		if f.Type() != TypeBeginRequest {
			return ErrUnexpectedRecord
		}
		br := f.BeginRequest()
		if br.Role != RoleResponder {
			in.id = f.RequestID()
			return errUnknownRole
		}
		in.id = f.RequestID()
		in.role = br.Role
		in.keepConn = br.KeepConn
		in.state = stateExpectParams
		return nil

	case stateExpectParams:
		if f.Type() != TypeParams {
			return ErrUnexpectedRecord
		}
		if f.ContentLength() == 0 {
			params, err := in.paramsRaw.DecodeNameValuePairs()
			if err != nil {
				return err
			}
			in.params = params
			in.state = stateExpectStdin
			return nil
		}
		if in.paramsRaw.Len()+f.ContentLength() > in.maxHeaderBytes {
			return ErrHeaderTooLarge
		}
		in.paramsRaw.Append(append([]byte(nil), f.Content()...))
		return nil

	default:
		return ErrUnexpectedRecord
	}
}

// fillStdin reads the next STDIN record and either buffers it or,
// when discard is true, drops its content immediately — the latter
// backs DiscardRemaining without ever growing the stdin queue. A
// record of an unrecognized type gets an UNKNOWN_TYPE reply and is
// skipped rather than aborting the request.
func (in *InputSide) fillStdin(discard bool) error {
	for {
		if in.stdinEOF {
			return nil
		}
		f, err := in.dec.Next(in.read)
		if err != nil {
			return err
		}
		if !knownRecType(f.Type()) {
			if err := in.replyUnknown(f); err != nil {
				return err
			}
			continue
		}
		if err := in.checkStdinFrame(f); err != nil {
			return err
		}
		if f.ContentLength() == 0 {
			in.stdinEOF = true
			in.state = stateClosed
			return nil
		}
		if !discard {
			in.stdin.Append(append([]byte(nil), f.Content()...))
		}
		return nil
	}
}

func (in *InputSide) checkStdinFrame(f *Frame) error {
	if f.Type() == TypeGetValues {
		return ErrUnsupportedManagementRequest
	}
	if f.RequestID() != in.id && f.RequestID() != 0 {
		return ErrUnknownRequestID
	}
	if f.Type() == TypeAbortRequest {
		return ErrAborted
	}
	if f.Type() != TypeStdin {
		return ErrUnexpectedRecord
	}
	return nil
}

// Read implements io.Reader over the stdin body, pulling additional
// STDIN records from the connection as needed so a handler can
// consume the body progressively.
func (in *InputSide) Read(p []byte) (int, error) {
	for in.stdin.Len() == 0 && !in.stdinEOF {
		if err := in.fillStdin(false); err != nil {
			return 0, err
		}
	}
	if in.stdin.Len() == 0 {
		return 0, io.EOF
	}
	return in.stdin.Read(len(p), p, 0), nil
}

// Content drains stdin to completion and returns it as a string.
func (in *InputSide) Content() (string, error) {
	b, err := in.BinaryContent()
	return string(b), err
}

// BinaryContent drains stdin to completion and returns the raw bytes.
func (in *InputSide) BinaryContent() ([]byte, error) {
	for !in.stdinEOF {
		if err := in.fillStdin(false); err != nil {
			return nil, err
		}
	}
	return in.stdin.Snapshot(), nil
}

// DiscardRemaining drains any unread stdin without buffering it, so a
// handler may safely write a response before the peer has finished
// sending the request body. OutputSide calls this automatically
// before its first flush.
func (in *InputSide) DiscardRemaining() error {
	in.stdin.Reset()
	for !in.stdinEOF {
		if err := in.fillStdin(true); err != nil {
			return err
		}
	}
	return nil
}

// StdinComplete reports whether the end-of-stdin marker has been seen.
func (in *InputSide) StdinComplete() bool {
	return in.stdinEOF
}

// RequestID returns the peer-chosen request identifier.
func (in *InputSide) RequestID() uint16 { return in.id }

// KeepConn reports the KEEP_CONN flag from BEGIN_REQUEST.
func (in *InputSide) KeepConn() bool { return in.keepConn }

// Parameter looks up a single CGI parameter. A missing key is
// reported as an error rather than a silently empty string.
func (in *InputSide) Parameter(name string) (string, error) {
	v, ok := in.params[name]
	if !ok {
		return "", &ParameterNotFoundError{Name: name}
	}
	return v, nil
}

// Parameters returns the full decoded parameter map. The returned map
// must not be mutated by the caller.
func (in *InputSide) Parameters() map[string]string {
	return in.params
}
