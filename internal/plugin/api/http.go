package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

var errRateLimited = errors.New("rate limit exceeded")

// HTTPModule implements the http namespace. Every request is rate limited
// per plugin and checked by the network guard before it is sent.
type HTTPModule struct {
	ctx *Context
	env *Env
	log logrus.FieldLogger
}

// NewHTTPModule creates the http module for env.
func NewHTTPModule(ctx *Context, env *Env) *HTTPModule {
	return &HTTPModule{ctx: ctx, env: env, log: env.logger(ctx)}
}

// Name returns the module name.
func (m *HTTPModule) Name() string { return "http" }

// Permissions returns the permissions that unlock the module.
func (m *HTTPModule) Permissions() []security.Permission {
	return []security.Permission{security.PermNetwork}
}

// Register builds the module table.
func (m *HTTPModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"get":     m.simple(http.MethodGet, false),
		"head":    m.simple(http.MethodHead, false),
		"delete":  m.simple(http.MethodDelete, false),
		"post":    m.simple(http.MethodPost, true),
		"put":     m.simple(http.MethodPut, true),
		"patch":   m.simple(http.MethodPatch, true),
		"request": m.request,
	})
	return mod, nil
}

// Cleanup drops the plugin's rate limiter.
func (m *HTTPModule) Cleanup() {
	m.ctx.Rates.Forget(m.env.PluginID)
}

type httpRequest struct {
	method      string
	url         string
	headers     map[string]string
	body        []byte
	contentType string
	timeout     time.Duration
}

// simple returns http.<method>(url, [body,] opts?).
func (m *HTTPModule) simple(method string, withBody bool) lua.LGFunction {
	return func(L *lua.LState) int {
		req := httpRequest{method: method, url: L.CheckString(1)}
		optsIdx := 2
		if withBody {
			optsIdx = 3
			req.body, req.contentType = m.encodeBody(L, 2)
		}
		m.applyOptions(&req, optTable(L, optsIdx))
		return m.do(L, req)
	}
}

// request({method, url, headers, body, timeout}) -> response | nil, err
func (m *HTTPModule) request(L *lua.LState) int {
	t := L.CheckTable(1)
	req := httpRequest{
		method: strings.ToUpper(stringField(t, "method", http.MethodGet)),
		url:    stringField(t, "url", ""),
	}
	if req.url == "" {
		L.ArgError(1, "url is required")
		return 0
	}
	if body := t.RawGetString("body"); body != lua.LNil {
		L.Push(body)
		req.body, req.contentType = m.encodeBody(L, L.GetTop())
		L.Pop(1)
	}
	m.applyOptions(&req, t)
	return m.do(L, req)
}

// encodeBody reads argument n: strings are sent as-is, tables as JSON.
func (m *HTTPModule) encodeBody(L *lua.LState, n int) ([]byte, string) {
	switch v := L.Get(n).(type) {
	case *lua.LNilType:
		return nil, ""
	case lua.LString:
		return []byte(v), ""
	default:
		data, err := plua.CheckValue(L, n).MarshalJSON()
		if err != nil {
			L.ArgError(n, err.Error())
			return nil, ""
		}
		return data, "application/json"
	}
}

func (m *HTTPModule) applyOptions(req *httpRequest, opts *lua.LTable) {
	if opts == nil {
		return
	}
	if h, ok := opts.RawGetString("headers").(*lua.LTable); ok {
		req.headers = plua.StringMap(h)
	}
	if secs := numberField(opts, "timeout", 0); secs > 0 {
		req.timeout = time.Duration(secs * float64(time.Second))
	}
}

func (m *HTTPModule) do(L *lua.LState, req httpRequest) int {
	limits := m.ctx.Limits
	if int64(len(req.body)) > limits.HTTPMaxRequestBytes {
		return fail(L, &security.LimitError{Resource: "request body", Limit: limits.HTTPMaxRequestBytes, Actual: int64(len(req.body))})
	}
	if !m.ctx.Rates.Allow(m.env.PluginID) {
		return fail(L, errRateLimited)
	}

	ctx := callContext(L)
	if _, err := m.ctx.NetGuard.Check(ctx, req.url); err != nil {
		m.log.WithField("url", req.url).WithError(err).Warn("blocked outbound request")
		return fail(L, err)
	}

	timeout := limits.HTTPTimeout
	if req.timeout > 0 && req.timeout < timeout {
		timeout = req.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fail(L, err)
	}
	hreq.Header.Set("User-Agent", "blockhost-plugin/"+m.ctx.Version)
	if req.contentType != "" {
		hreq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		hreq.Header.Set(k, v)
	}

	resp, err := m.ctx.HTTP.Do(hreq)
	if err != nil {
		return fail(L, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limits.HTTPMaxBodySize+1))
	if err != nil {
		return fail(L, err)
	}
	if int64(len(data)) > limits.HTTPMaxBodySize {
		return fail(L, &security.LimitError{Resource: "response body", Limit: limits.HTTPMaxBodySize, Actual: int64(len(data))})
	}

	headers := make(map[string]value.Value, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = value.StringOf(resp.Header.Get(k))
	}
	return pushValue(L, value.MapOf(map[string]value.Value{
		"status":  value.IntOf(int64(resp.StatusCode)),
		"ok":      value.BoolOf(resp.StatusCode >= 200 && resp.StatusCode < 300),
		"headers": value.MapOf(headers),
		"body":    value.StringOf(string(data)),
	}))
}
