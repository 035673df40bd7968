// Package proxy encaminha requisições admitidas para o upstream único e
// devolve a resposta sem alterações (status, headers e body em streaming).
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"apikey-gateway/middleware/ratelimit"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Headers que o ReverseProxy remove no modo Rewrite; o gateway os repassa como vieram.
var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

type Options struct {
	Upstream    *url.URL
	StripPrefix string
	// Timeout limita a chamada inteira ao upstream (0 = sem limite além do cliente).
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *zap.Logger
	// OwnedHeaders são headers de resposta definidos pelo gateway antes do
	// forward; as cópias vindas do upstream são descartadas e o valor do gateway vence.
	OwnedHeaders []string
}

// Forwarder é o http.Handler montado atrás do dispatcher.
//
// O contexto da requisição de entrada é o contexto da chamada de saída:
// cliente desconectado cancela o upstream.
type Forwarder struct {
	upstream    *url.URL
	stripPrefix string
	timeout     time.Duration
	rp          *httputil.ReverseProxy
	log         *zap.Logger
	errLog      rate.Sometimes
	owned       []string
}

func New(opts Options) (*Forwarder, error) {
	if opts.Upstream == nil || opts.Upstream.Scheme == "" || opts.Upstream.Host == "" {
		return nil, errors.New("proxy: upstream must be an absolute URL")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	u := *opts.Upstream
	u.RawQuery = ""
	u.Fragment = ""

	f := &Forwarder{
		upstream:    &u,
		stripPrefix: strings.TrimSuffix(opts.StripPrefix, "/"),
		timeout:     opts.Timeout,
		log:         opts.Logger,
		errLog:      rate.Sometimes{First: 5, Interval: 10 * time.Second},
		owned:       append([]string(nil), opts.OwnedHeaders...),
	}
	f.rp = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      opts.Transport,
		ErrorHandler:   f.handleError,
		ModifyResponse: f.dropOwnedHeaders,
		ErrorLog:       zap.NewStdLog(opts.Logger.Named("reverseproxy")),
	}
	return f, nil
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	f.rp.ServeHTTP(w, r)
}

// Target monta a URL do upstream: base + path sem o prefixo público + query crua.
func (f *Forwarder) Target(in *url.URL) *url.URL {
	rel := strings.TrimPrefix(in.EscapedPath(), f.stripPrefix)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	base := strings.TrimSuffix(f.upstream.EscapedPath(), "/")

	out := *f.upstream
	out.RawPath = base + rel
	if p, err := url.PathUnescape(out.RawPath); err == nil {
		out.Path = p
	} else {
		out.Path = out.RawPath
		out.RawPath = ""
	}
	out.RawQuery = in.RawQuery
	return &out
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL = f.Target(pr.In.URL)
	// Host vazio: o upstream recebe o próprio host, não o do gateway.
	pr.Out.Host = ""
	for _, h := range forwardedHeaders {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = v
		}
	}
}

func (f *Forwarder) dropOwnedHeaders(resp *http.Response) error {
	for _, h := range f.owned {
		resp.Header.Del(h)
	}
	return nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		f.log.Debug("client went away before upstream answered", zap.String("path", r.URL.Path))
		return
	case isTimeout(err):
		f.logUpstreamError("upstream timeout", r, err)
		ratelimit.WriteJSON(w, http.StatusGatewayTimeout, gatewayError{Error: "upstream_timeout"})
	default:
		f.logUpstreamError("upstream unreachable", r, err)
		ratelimit.WriteJSON(w, http.StatusBadGateway, gatewayError{Error: "upstream_unreachable"})
	}
}

func (f *Forwarder) logUpstreamError(msg string, r *http.Request, err error) {
	f.errLog.Do(func() {
		f.log.Warn(msg,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("upstream", f.upstream.Host),
			zap.Error(err),
		)
	})
}

type gatewayError struct {
	Error string `json:"error"`
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (f *Forwarder) String() string { return fmt.Sprintf("proxy -> %s", f.upstream) }
