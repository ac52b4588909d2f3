package loader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
)

const (
	localContext     = "forge.context"
	maxResponseBytes = 32 << 20
	defaultUserAgent = "mcp-tool-forge"
)

// NewHTTPClient builds the client used by the http builtin.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DisableKeepAlives:   true,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			Proxy:                 http.ProxyFromEnvironment,
		},
	}
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(localContext).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func (l *Loader) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":    starlarkjson.Module,
		"http":    l.httpModule,
		"package": starlark.NewBuiltin("package", l.packageBuiltin),
	}
}

func (l *Loader) newHTTPModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "http",
		Members: starlark.StringDict{
			"request": starlark.NewBuiltin("http.request", l.httpRequest),
			"get":     starlark.NewBuiltin("http.get", l.httpGet),
		},
	}
}

// packageBuiltin returns the host package registered under name, or None.
func (l *Loader) packageBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	if pkg, ok := l.packages[name]; ok {
		return pkg, nil
	}
	return starlark.None, nil
}

func (l *Loader) httpGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		rawURL  string
		params  starlark.Value = starlark.None
		headers starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &rawURL, "params?", &params, "headers?", &headers); err != nil {
		return nil, err
	}
	return l.doRequest(thread, b.Name(), http.MethodGet, rawURL, params, headers, starlark.None)
}

func (l *Loader) httpRequest(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		method  string
		rawURL  string
		params  starlark.Value = starlark.None
		headers starlark.Value = starlark.None
		body    starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"method", &method, "url", &rawURL, "params?", &params, "headers?", &headers, "body?", &body); err != nil {
		return nil, err
	}
	return l.doRequest(thread, b.Name(), strings.ToUpper(method), rawURL, params, headers, body)
}

// doRequest issues the request and returns the decoded JSON body, or the raw text
// when the body is not JSON. Non-2xx statuses fail the calling thread.
func (l *Loader) doRequest(thread *starlark.Thread, fn, method, rawURL string, params, headers, body starlark.Value) (starlark.Value, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid url %q: %w", fn, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported url scheme %q", fn, u.Scheme)
	}

	query := u.Query()
	if err := eachItem(params, func(key string, value starlark.Value) {
		addQueryValue(query, key, value)
	}); err != nil {
		return nil, fmt.Errorf("%s: params: %w", fn, err)
	}
	u.RawQuery = query.Encode()

	var reader io.Reader
	contentType := ""
	switch v := body.(type) {
	case starlark.NoneType:
	case starlark.String:
		reader = strings.NewReader(string(v))
	default:
		data, err := encodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%s: body: %w", fn, err)
		}
		reader = strings.NewReader(string(data))
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(threadContext(thread), method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := eachItem(headers, func(key string, value starlark.Value) {
		if s, ok := starlark.AsString(value); ok {
			req.Header.Set(key, s)
		} else if value != starlark.None {
			req.Header.Set(key, value.String())
		}
	}); err != nil {
		return nil, fmt.Errorf("%s: headers: %w", fn, err)
	}

	start := time.Now()
	resp, err := l.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(metrics.BackendHTTP, time.Since(start), false)
		metrics.RecordBackendError(metrics.BackendHTTP, "transport")
		return nil, fmt.Errorf("%s %s %s: %w", fn, method, u.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	success := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordBackendRequest(metrics.BackendHTTP, time.Since(start), success)
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: read body: %w", fn, method, u.Redacted(), err)
	}
	if !success {
		metrics.RecordBackendError(metrics.BackendHTTP, fmt.Sprintf("status_%d", resp.StatusCode))
		return nil, fmt.Errorf("%s %s %s: unexpected status %s", fn, method, u.Redacted(), resp.Status)
	}

	l.logger.Debug("capability http request",
		zap.String("method", method),
		zap.String("url", u.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	text := strings.TrimSpace(string(data))
	if text == "" {
		return starlark.None, nil
	}
	decoded, err := starlark.Call(thread, starlarkjson.Module.Members["decode"], starlark.Tuple{starlark.String(text)}, nil)
	if err != nil {
		return starlark.String(data), nil
	}
	return decoded, nil
}

func eachItem(v starlark.Value, fn func(string, starlark.Value)) error {
	switch m := v.(type) {
	case starlark.NoneType:
		return nil
	case *starlark.Dict:
		for _, item := range m.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return fmt.Errorf("key %s is not a string", item[0])
			}
			fn(key, item[1])
		}
		return nil
	}
	return fmt.Errorf("got %s, want dict", v.Type())
}

func addQueryValue(query url.Values, key string, value starlark.Value) {
	switch v := value.(type) {
	case starlark.NoneType:
	case starlark.String:
		query.Add(key, string(v))
	case starlark.Bool:
		if v {
			query.Add(key, "true")
		} else {
			query.Add(key, "false")
		}
	case *starlark.List:
		for i := 0; i < v.Len(); i++ {
			addQueryValue(query, key, v.Index(i))
		}
	case starlark.Tuple:
		for _, item := range v {
			addQueryValue(query, key, item)
		}
	default:
		query.Add(key, v.String())
	}
}
