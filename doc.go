// Package fcgi implements the application side of the FastCGI 1.0
// wire protocol for a Responder: it frames and decodes records on a
// duplex byte stream, assembles requests from BEGIN_REQUEST, PARAMS,
// and STDIN records, and drives a user-supplied handler that produces
// an HTTP response over STDOUT followed by END_REQUEST.
//
// Only the Responder role is implemented. Authorizer, Filter, and
// GET_VALUES management requests are rejected rather than answered.
package fcgi
