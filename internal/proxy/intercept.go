package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/bolahunter/internal/engine"
	"github.com/raaihank/bolahunter/internal/logger"
)

// Interceptor feeds proxied traffic through the engine. Requests are
// harvested and possibly rewritten on the way out; responses are correlated
// and harvested on the way back and forwarded unmodified.
type Interceptor struct {
	engine       *engine.Engine
	replayHeader string
	replayValue  string
	maxBody      int64
	logger       *logger.Logger
}

// exchange carries per-transaction state from the request handler to the
// response handler through goproxy's ctx.UserData.
type exchange struct {
	id        string
	forwarded *Request
	start     time.Time
}

// NewInterceptor creates an interceptor. Requests whose replayHeader equals
// replayValue (case-insensitively) are treated as operator replay traffic.
func NewInterceptor(eng *engine.Engine, replayHeader, replayValue string, maxBody int64, log *logger.Logger) *Interceptor {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Interceptor{
		engine:       eng,
		replayHeader: replayHeader,
		replayValue:  replayValue,
		maxBody:      maxBody,
		logger:       log,
	}
}

// Register installs the request and response handlers on p.
func (i *Interceptor) Register(p *goproxy.ProxyHttpServer) {
	p.OnRequest().DoFunc(i.OnRequest)
	p.OnResponse().DoFunc(i.OnResponse)
}

// OnRequest harvests identifiers from the request path and forwards the
// request, rewritten when attack mode applies.
func (i *Interceptor) OnRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	id := uuid.NewString()
	log := i.logger.WithRequestID(id)

	replay := i.isReplay(r)
	r.Header.Del(i.replayHeader)
	// Let the transport negotiate compression so response bodies arrive decoded.
	r.Header.Del("Accept-Encoding")

	body, restored, err := readBody(r.Body, i.maxBody)
	if err != nil {
		log.Warn("Failed to read request body", zap.String("url", r.URL.String()), zap.Error(err))
	}
	r.Body = restored

	log.LogRequest(r.Method, r.URL.String(), r.Header)

	req := newRequest(r, body, replay)
	i.engine.HarvestFromPath(req)

	forwarded := req
	if out, ok := i.engine.MaybeAttack(req).(*Request); ok {
		forwarded = out
	}

	if ctx != nil {
		ctx.UserData = &exchange{id: id, forwarded: forwarded, start: time.Now()}
	}
	return forwarded.outbound(r), nil
}

// OnResponse attaches the response to captured identifiers from the request
// path, then harvests identifiers from its body.
func (i *Interceptor) OnResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return resp
	}

	var ex *exchange
	req := resp.Request
	if ctx != nil {
		ex, _ = ctx.UserData.(*exchange)
		if ctx.Req != nil {
			req = ctx.Req
		}
	}
	if ex == nil {
		if req == nil {
			return resp
		}
		ex = &exchange{id: uuid.NewString(), forwarded: newRequest(req, nil, false), start: time.Now()}
	}
	log := i.logger.WithRequestID(ex.id)

	// readBody hands back nil and http.NoBody untouched, so goproxy keeps
	// Content-Length on bodiless responses. Any body that was read is swapped
	// and goes back to the client chunked.
	body, restored, err := readBody(resp.Body, i.maxBody)
	if err != nil {
		log.Warn("Failed to read response body", zap.String("url", ex.forwarded.URL()), zap.Error(err))
	}
	resp.Body = restored

	log.LogResponse(resp.StatusCode, ex.forwarded.URL(), resp.Header, len(body))

	r := newResponse(resp, body, ex.forwarded)
	i.engine.Correlate(r)
	i.engine.HarvestFromBody(r)

	log.Debug("Transaction complete",
		zap.String("method", ex.forwarded.Method()),
		zap.String("url", ex.forwarded.URL()),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(ex.start)),
	)
	return resp
}

func (i *Interceptor) isReplay(r *http.Request) bool {
	for _, v := range r.Header.Values(i.replayHeader) {
		if strings.EqualFold(strings.TrimSpace(v), i.replayValue) {
			return true
		}
	}
	return false
}
