package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"apikey-gateway/config"
	"apikey-gateway/middleware/ratelimit"
	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/infra"
	"apikey-gateway/proxy"
)

const gatewayYAML = `
upstreamBaseUrl: http://upstream.invalid
apiKeys:
  key-free-123: free
  key-pro-456: pro
plans:
  free:
    windowSeconds: 60
    defaultLimit: 2
    routes:
      /orders: 1
  pro:
    windowSeconds: 60
    defaultLimit: 100
`

type env struct {
	gateway  *httptest.Server
	upstream *httptest.Server
	hits     atomic.Int64
	stats    *infra.MemoryStatsStore
}

func newEnv(t *testing.T, concurrency ratelimit.ConcurrencyOptions) *env {
	t.Helper()

	e := &env{stats: infra.NewMemoryStatsStore()}
	e.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.hits.Add(1)
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.Header().Set("X-Upstream-Query", r.URL.RawQuery)
		w.Header().Set("X-Upstream-Key", r.Header.Get("X-API-Key"))
		w.Header().Set("X-RateLimit-Remaining", "999")
		if r.URL.Path == "/slow" {
			time.Sleep(100 * time.Millisecond)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "upstream:"+r.Method)
	}))
	t.Cleanup(e.upstream.Close)

	cfg, err := config.Parse([]byte(gatewayYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	target, _ := url.Parse(e.upstream.URL)

	fwd, err := proxy.New(proxy.Options{
		Upstream:     target,
		StripPrefix:  "/api",
		Timeout:      2 * time.Second,
		OwnedHeaders: ratelimit.ResponseHeaders,
	})
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}

	// meio da janela [1_700_000_040, 1_700_000_100)
	now := time.Unix(1_700_000_070, 0)
	reg := infra.NewRegistry("/api", cfg.APIKeys, cfg.DomainPlans(), cfg.DomainRouteClasses())

	h := NewRouter(Config{
		Admission: application.AdmissionService{
			Registry: reg,
			Limiter:  infra.NewWindowStore(),
			Stats:    e.stats,
			Clock:    func() time.Time { return now },
		},
		Forwarder:   fwd,
		Stats:       e.stats,
		Concurrency: concurrency,
		AccessLog:   true,
	})
	e.gateway = httptest.NewServer(h)
	t.Cleanup(e.gateway.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.gateway.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRouter_AdminBypassesAuth(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	resp := e.do(t, http.MethodGet, "/admin/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]bool
	readJSON(t, resp, &body)
	if !body["ok"] {
		t.Fatalf("unexpected body %+v", body)
	}
	if e.hits.Load() != 0 {
		t.Fatalf("admin routes must not reach upstream")
	}
}

func TestRouter_ForwardsAdmittedRequest(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	resp := e.do(t, http.MethodPost, "/api/auth/login?x=1&y=two", "key-free-123")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want upstream 201", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Upstream-Path"); got != "/auth/login" {
		t.Fatalf("upstream path = %q", got)
	}
	if got := resp.Header.Get("X-Upstream-Query"); got != "x=1&y=two" {
		t.Fatalf("upstream query = %q", got)
	}
	if got := resp.Header.Get("X-Upstream-Key"); got != "key-free-123" {
		t.Fatalf("api key header should be forwarded, got %q", got)
	}
	if got := resp.Header.Values("X-RateLimit-Remaining"); len(got) != 1 || got[0] != "1" {
		t.Fatalf("X-RateLimit-Remaining = %v, want only the gateway value 1", got)
	}
	if got := resp.Header.Get("X-RateLimit-Reset"); got != "1700000100" {
		t.Fatalf("X-RateLimit-Reset = %q", got)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "upstream:POST" {
		t.Fatalf("body = %q", b)
	}
}

func TestRouter_RejectsLocally(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	cases := []struct {
		key    string
		status int
		msg    string
	}{
		{"", http.StatusUnauthorized, "Missing X-API-Key"},
		{"nope", http.StatusForbidden, "Invalid API key"},
	}
	for _, tc := range cases {
		resp := e.do(t, http.MethodGet, "/api/orders/1", tc.key)
		if resp.StatusCode != tc.status {
			t.Fatalf("key %q: status = %d, want %d", tc.key, resp.StatusCode, tc.status)
		}
		var body map[string]string
		readJSON(t, resp, &body)
		if body["error"] != tc.msg {
			t.Fatalf("key %q: error = %q", tc.key, body["error"])
		}
	}
	if e.hits.Load() != 0 {
		t.Fatalf("rejected requests must not reach upstream")
	}
}

func TestRouter_RateLimitAndStats(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	if resp := e.do(t, http.MethodGet, "/api/orders/1", "key-free-123"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first call status = %d", resp.StatusCode)
	}

	resp := e.do(t, http.MethodGet, "/api/orders/2", "key-free-123")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want 30", got)
	}
	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int64  `json:"retryAfterSeconds"`
	}
	readJSON(t, resp, &body)
	if body.Error != "rate_limited" || body.RetryAfterSeconds != 30 {
		t.Fatalf("unexpected body %+v", body)
	}
	if e.hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", e.hits.Load())
	}

	// outra chave não compartilha contador
	if resp := e.do(t, http.MethodGet, "/api/orders/3", "key-pro-456"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("pro key status = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/admin/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var snap struct {
		Allowed map[string]int64 `json:"allowed"`
		Blocked map[string]int64 `json:"blocked"`
	}
	readJSON(t, resp, &snap)
	if snap.Allowed["key-free-123"] != 1 || snap.Blocked["key-free-123"] != 1 {
		t.Fatalf("unexpected free stats %+v", snap)
	}
	if snap.Allowed["key-pro-456"] != 1 {
		t.Fatalf("unexpected pro stats %+v", snap)
	}
}

func TestRouter_UnprotectedPathsAreNotFound(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	for _, p := range []string{"/", "/api", "/other", "/administrator"} {
		resp := e.do(t, http.MethodGet, p, "key-free-123")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", p, resp.StatusCode)
		}
	}
	if e.hits.Load() != 0 {
		t.Fatalf("bypassed paths must not reach upstream")
	}
	if got := e.stats.Total(); got.Allowed != 0 || got.Blocked != 0 {
		t.Fatalf("bypassed paths must not touch stats, got %+v", got)
	}
}

func TestRouter_EncodedPrefixIsNotFoundWithoutQuota(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	for _, p := range []string{"/api%2Forders/7", "/ap%69/orders/7"} {
		resp := e.do(t, http.MethodGet, p, "key-free-123")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", p, resp.StatusCode)
		}
		if got := resp.Header.Get("X-RateLimit-Remaining"); got != "" {
			t.Fatalf("%s: unexpected X-RateLimit-Remaining %q", p, got)
		}
	}
	if e.hits.Load() != 0 {
		t.Fatalf("encoded prefixes must not reach upstream")
	}
	if got := e.stats.Total(); got.Allowed != 0 || got.Blocked != 0 {
		t.Fatalf("encoded prefixes must not consume quota, got %+v", got)
	}

	// a cota de /orders continua intacta
	if resp := e.do(t, http.MethodGet, "/api/orders/7", "key-free-123"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("orders status = %d", resp.StatusCode)
	}
}

func TestRouter_EncodedTailIsForwarded(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{})

	resp := e.do(t, http.MethodGet, "/api/files/a%2Fb", "key-pro-456")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want upstream 201", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Upstream-Path"); got != "/files/a/b" {
		t.Fatalf("upstream path = %q", got)
	}
}

func TestRouter_ConcurrencyGuard(t *testing.T) {
	e := newEnv(t, ratelimit.ConcurrencyOptions{Max: 1, AcquireTimeout: 10 * time.Millisecond})

	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, e.gateway.URL+"/api/slow", nil)
		req.Header.Set("X-API-Key", "key-pro-456")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	deadline := time.Now().Add(time.Second)
	for e.hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp := e.do(t, http.MethodGet, "/api/orders/1", "key-pro-456")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while slot is busy", resp.StatusCode)
	}

	if got := <-done; got != http.StatusCreated {
		t.Fatalf("slow request status = %d", got)
	}
}
