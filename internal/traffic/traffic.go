// Package traffic defines the boundary between the correlation engine and
// whatever transport intercepts HTTP transactions.
package traffic

import (
	"fmt"
	"net/url"
	"strings"
)

// Request is an outbound request as seen by the engine. Implementations are
// immutable: WithPath returns a new value.
type Request interface {
	Method() string
	URL() string
	// Path returns the request target, path plus query string.
	Path() string
	// FromReplayTool reports whether the operator sent the request by hand.
	FromReplayTool() bool
	WithPath(path string) Request
}

// Response is an inbound response together with the request that produced it.
type Response interface {
	Body() string
	Request() Request
}

// Dumper is implemented by messages that can render their raw wire form for
// inspection.
type Dumper interface {
	Dump() []byte
}

// SimpleRequest is an in-memory Request, used by the CLI and by tests.
type SimpleRequest struct {
	method string
	scheme string
	host   string
	path   string
	replay bool
}

// NewRequest builds a request from a method and an absolute or origin-form URL.
func NewRequest(method, rawURL string) (*SimpleRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request url: %w", err)
	}

	return &SimpleRequest{
		method: strings.ToUpper(method),
		scheme: u.Scheme,
		host:   u.Host,
		path:   u.RequestURI(),
	}, nil
}

// MustRequest is like NewRequest but panics on a malformed URL.
func MustRequest(method, rawURL string) *SimpleRequest {
	req, err := NewRequest(method, rawURL)
	if err != nil {
		panic(err)
	}
	return req
}

// AsReplay returns a copy flagged as operator replay traffic.
func (r *SimpleRequest) AsReplay() *SimpleRequest {
	c := *r
	c.replay = true
	return &c
}

func (r *SimpleRequest) Method() string       { return r.method }
func (r *SimpleRequest) Path() string         { return r.path }
func (r *SimpleRequest) FromReplayTool() bool { return r.replay }

func (r *SimpleRequest) URL() string {
	if r.host == "" {
		return r.path
	}
	scheme := r.scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + r.host + r.path
}

func (r *SimpleRequest) WithPath(path string) Request {
	c := *r
	c.path = path
	return &c
}

func (r *SimpleRequest) Dump() []byte {
	host := r.host
	if host == "" {
		host = "localhost"
	}
	return []byte(fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\n\r\n", r.method, r.path, host))
}

// SimpleResponse is an in-memory Response.
type SimpleResponse struct {
	body string
	req  Request
}

// NewResponse pairs a body with its initiating request.
func NewResponse(req Request, body string) *SimpleResponse {
	return &SimpleResponse{body: body, req: req}
}

func (r *SimpleResponse) Body() string     { return r.body }
func (r *SimpleResponse) Request() Request { return r.req }

func (r *SimpleResponse) Dump() []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(r.body), r.body))
}
