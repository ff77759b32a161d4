package fcgi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the family a ClientError belongs to, so callers
// can branch on the kind of failure without string matching.
type ErrorKind int

const (
	KindProtocolError ErrorKind = iota
	KindPeerClosed
	KindTruncated
	KindIoTimeout
	KindIoError
	KindHeaderTooLarge
	KindAborted
	KindUnsupportedManagementRequest
	KindHandlerFailed
	KindEncoding
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolError:
		return "ProtocolError"
	case KindPeerClosed:
		return "PeerClosed"
	case KindTruncated:
		return "Truncated"
	case KindIoTimeout:
		return "IoTimeout"
	case KindIoError:
		return "IoError"
	case KindHeaderTooLarge:
		return "HeaderTooLarge"
	case KindAborted:
		return "Aborted"
	case KindUnsupportedManagementRequest:
		return "UnsupportedManagementRequest"
	case KindHandlerFailed:
		return "HandlerFailed"
	case KindEncoding:
		return "EncodingError"
	default:
		return "Unknown"
	}
}

// ClientError is the single error taxonomy every connection-local
// failure is routed through. Kind lets call sites branch with
// errors.Is/errors.As without string matching; Err carries the
// underlying cause, if any.
type ClientError struct {
	Kind ErrorKind
	Err  error
}

func newClientError(kind ErrorKind, err error) *ClientError {
	return &ClientError{Kind: kind, Err: err}
}

func newEncodingError(msg string) *ClientError {
	return newClientError(KindEncoding, errors.New(msg))
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return "fcgi: " + e.Kind.String()
	}
	return fmt.Sprintf("fcgi: %s: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

var (
	// ErrPeerClosed is returned when the connection reached a clean EOF
	// between records.
	ErrPeerClosed = newClientError(KindPeerClosed, errors.New("peer closed the connection"))
	// ErrTruncated is returned when EOF was reached mid-record.
	ErrTruncated = newClientError(KindTruncated, errors.New("connection closed mid-record"))
	// ErrAborted is returned when the peer sent ABORT_REQUEST; a request
	// once aborted is always treated as an error, never silently
	// ignored.
	ErrAborted = newClientError(KindAborted, errors.New("request aborted by peer"))
	// ErrUnsupportedManagementRequest is returned for GET_VALUES, which
	// this core does not answer.
	ErrUnsupportedManagementRequest = newClientError(KindUnsupportedManagementRequest, errors.New("management record not supported"))
	// ErrHeaderTooLarge is returned when accumulated PARAMS content
	// exceeds the configured maximum.
	ErrHeaderTooLarge = newClientError(KindHeaderTooLarge, errors.New("accumulated header content exceeds configured maximum"))
	// ErrUnknownRequestID is returned for a record whose request ID does
	// not match the connection's current request (and isn't 0).
	ErrUnknownRequestID = newClientError(KindProtocolError, errors.New("record references unknown request id"))
	// ErrUnexpectedRecord is returned for a record type that is not
	// valid in the input side's current state.
	ErrUnexpectedRecord = newClientError(KindProtocolError, errors.New("record not valid in current state"))
	// errUnknownRole signals that BEGIN_REQUEST named a role other than
	// RoleResponder; the connection worker answers with
	// END_REQUEST(UNKNOWN_ROLE) before closing.
	errUnknownRole = newClientError(KindProtocolError, errors.New("unsupported role, only RESPONDER is implemented"))
)

// ParameterNotFoundError is returned by InputSide.Parameter when the
// requested key is absent, so callers get an explicit error rather
// than a silently empty string.
type ParameterNotFoundError struct {
	Name string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("fcgi: parameter %q not set", e.Name)
}

// multiError aggregates independent failures that should all be
// attempted and reported together (e.g. closing several listeners
// during shutdown), grounded on eudore-eudore's error.go Errors type.
type multiError struct {
	errs []error
}

func (m *multiError) Add(err error) {
	if err != nil {
		m.errs = append(m.errs, err)
	}
}

func (m *multiError) ErrorOrNil() error {
	if len(m.errs) == 0 {
		return nil
	}
	return m
}

func (m *multiError) Error() string {
	if len(m.errs) == 1 {
		return m.errs[0].Error()
	}
	s := fmt.Sprintf("%d errors occurred:", len(m.errs))
	for _, e := range m.errs {
		s += " " + e.Error() + ";"
	}
	return s
}
