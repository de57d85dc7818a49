package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAdapter(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://api.example/users/1234/orders?sort=asc", nil)
	req := newRequest(r, nil, false)

	assert.Equal(t, "GET", req.Method())
	assert.Equal(t, "http://api.example/users/1234/orders?sort=asc", req.URL())
	assert.Equal(t, "/users/1234/orders?sort=asc", req.Path())
	assert.False(t, req.FromReplayTool())

	out := req.WithPath("/users/5678/orders?sort=desc").(*Request)
	assert.Equal(t, "/users/5678/orders?sort=desc", out.Path())
	assert.Equal(t, "http://api.example/users/5678/orders?sort=desc", out.URL())
	assert.Equal(t, "/users/1234/orders?sort=asc", req.Path(), "original untouched")

	assert.Same(t, r, req.outbound(r))
	sent := out.outbound(r)
	assert.NotSame(t, r, sent)
	assert.Equal(t, "/users/5678/orders?sort=desc", sent.URL.RequestURI())
	assert.Equal(t, "api.example", sent.URL.Host)
	assert.Empty(t, sent.RequestURI)
	assert.Equal(t, "/users/1234/orders?sort=asc", r.URL.RequestURI())
}

func TestRequestIsDetachedFromLiveRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://api.example/orders/9001", nil)
	r.Header.Set("Proxy-Connection", "keep-alive")
	req := newRequest(r, nil, false)

	r.Header.Del("Proxy-Connection")
	r.RequestURI = ""
	r.URL.Path = "/elsewhere"

	assert.Equal(t, "/orders/9001", req.Path())
	assert.Contains(t, string(req.Dump()), "Proxy-Connection: keep-alive")
}

func TestResponseIsDetachedFromLiveResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Length": {"2"}},
	}
	adapted := newResponse(resp, []byte("{}"), nil)

	resp.Header.Del("Content-Length")
	resp.Header.Set("X-Later", "1")

	dump := string(adapted.Dump())
	assert.NotContains(t, dump, "X-Later")
	assert.Equal(t, "2", adapted.resp.Header.Get("Content-Length"))
}

func TestRequestWithInvalidPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://api.example/a", nil)
	req := newRequest(r, nil, false)
	assert.Same(t, req, req.WithPath("not a path"))
}

func TestRequestDump(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://api.example/orders", strings.NewReader(`{"id":1}`))
	req := newRequest(r, []byte(`{"id":1}`), false)

	dump := string(req.Dump())
	assert.Contains(t, dump, "POST /orders HTTP/1.1")
	assert.Contains(t, dump, `{"id":1}`)
}

func TestResponseDump(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://api.example/orders/1", nil)
	resp := &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": {"application/json"}},
	}
	adapted := newResponse(resp, []byte(`{"ok":true}`), newRequest(r, nil, false))

	assert.Equal(t, `{"ok":true}`, adapted.Body())
	assert.Equal(t, "/orders/1", adapted.Request().Path())
	dump := string(adapted.Dump())
	assert.Contains(t, dump, "HTTP/1.1 200 OK")
	assert.Contains(t, dump, `{"ok":true}`)
}

func TestReadBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		body, restored, err := readBody(io.NopCloser(strings.NewReader("hello")), 10)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
		all, _ := io.ReadAll(restored)
		assert.Equal(t, "hello", string(all))
	})

	t.Run("over limit keeps full stream", func(t *testing.T) {
		body, restored, err := readBody(io.NopCloser(strings.NewReader("hello world")), 5)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
		all, _ := io.ReadAll(restored)
		assert.Equal(t, "hello world", string(all))
	})

	t.Run("no body", func(t *testing.T) {
		body, restored, err := readBody(http.NoBody, 5)
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Equal(t, http.NoBody, restored)
	})
}

func TestIsReplay(t *testing.T) {
	i := NewInterceptor(nil, "X-Bola-Source", "replay", 0, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, i.isReplay(r))

	r.Header.Set("X-Bola-Source", " REPLAY ")
	assert.True(t, i.isReplay(r))

	r.Header.Set("X-Bola-Source", "browser")
	assert.False(t, i.isReplay(r))
}
