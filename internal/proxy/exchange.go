package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/raaihank/bolahunter/internal/traffic"
)

// Request adapts an intercepted *http.Request to traffic.Request. It holds a
// private copy of the request line and headers: goproxy keeps editing the
// request it forwards, while captured items may be dumped at any time. body
// holds the inspected prefix of the request body.
type Request struct {
	req    *http.Request
	body   []byte
	replay bool
}

func newRequest(r *http.Request, body []byte, replay bool) *Request {
	c := r.Clone(context.Background())
	c.Body = http.NoBody
	c.GetBody = nil
	return &Request{req: c, body: body, replay: replay}
}

func (r *Request) Method() string       { return r.req.Method }
func (r *Request) URL() string          { return r.req.URL.String() }
func (r *Request) Path() string         { return r.req.URL.RequestURI() }
func (r *Request) FromReplayTool() bool { return r.replay }

// WithPath returns a copy targeting path. A path that does not parse as a
// request URI leaves the request unchanged.
func (r *Request) WithPath(path string) traffic.Request {
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return r
	}

	clone := r.req.Clone(context.Background())
	clone.URL.Path = u.Path
	clone.URL.RawPath = u.RawPath
	clone.URL.RawQuery = u.RawQuery
	clone.RequestURI = ""
	return &Request{req: clone, body: r.body, replay: r.replay}
}

// outbound returns the request to send upstream in place of live: live
// itself when r targets the same URI, otherwise a copy of live pointed at
// r's path and query. The copy shares live's body stream.
func (r *Request) outbound(live *http.Request) *http.Request {
	if live.URL.RequestURI() == r.Path() {
		return live
	}
	out := live.Clone(live.Context())
	out.URL.Path = r.req.URL.Path
	out.URL.RawPath = r.req.URL.RawPath
	out.URL.RawQuery = r.req.URL.RawQuery
	out.RequestURI = ""
	return out
}

func (r *Request) Dump() []byte {
	c := r.req.Clone(context.Background())
	c.RequestURI = ""
	c.Body = io.NopCloser(bytes.NewReader(r.body))
	c.ContentLength = int64(len(r.body))
	c.TransferEncoding = nil
	dump, err := httputil.DumpRequest(c, true)
	if err != nil {
		return nil
	}
	return dump
}

// Response adapts an intercepted *http.Response to traffic.Response. Like
// Request it keeps its own copy of the status line and headers.
type Response struct {
	resp *http.Response
	body []byte
	req  traffic.Request
}

func newResponse(resp *http.Response, body []byte, req traffic.Request) *Response {
	c := *resp
	c.Header = resp.Header.Clone()
	c.Trailer = resp.Trailer.Clone()
	c.TransferEncoding = append([]string(nil), resp.TransferEncoding...)
	c.Body = nil
	c.Request = nil
	return &Response{resp: &c, body: body, req: req}
}

func (r *Response) Body() string             { return string(r.body) }
func (r *Response) Request() traffic.Request { return r.req }

func (r *Response) Dump() []byte {
	c := *r.resp
	c.Header = r.resp.Header.Clone()
	c.Body = io.NopCloser(bytes.NewReader(r.body))
	c.ContentLength = int64(len(r.body))
	c.TransferEncoding = nil
	dump, err := httputil.DumpResponse(&c, true)
	if err != nil {
		return nil
	}
	return dump
}

// readBody reads at most limit bytes of rc for inspection and returns a
// replacement body that still yields the full stream.
func readBody(rc io.ReadCloser, limit int64) ([]byte, io.ReadCloser, error) {
	if rc == nil || rc == http.NoBody {
		return nil, rc, nil
	}

	buf, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if int64(len(buf)) <= limit || err != nil {
		rc.Close()
		return buf, io.NopCloser(bytes.NewReader(buf)), err
	}

	rest := struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), rc), rc}
	return buf[:limit], rest, nil
}
