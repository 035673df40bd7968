package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
upstreamBaseUrl: http://localhost:8081
apiKeys:
  key-free-123: free
  key-pro-456: pro
plans:
  free:
    windowSeconds: 60
    defaultLimit: 2
    routes:
      /orders: 1
      /health: 10
  pro:
    windowSeconds: 60
    defaultLimit: 100
routeClasses:
  /auth: auth
  /reports: heavy
`

func TestParse_Sample(t *testing.T) {
	g, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.UpstreamURL().Host != "localhost:8081" {
		t.Fatalf("upstream host = %q", g.UpstreamURL().Host)
	}
	if g.APIKeys["key-pro-456"] != "pro" {
		t.Fatalf("key-pro-456 should map to pro, got %q", g.APIKeys["key-pro-456"])
	}

	free := g.Plans["free"]
	if free.WindowSeconds != 60 || free.DefaultLimit != 2 {
		t.Fatalf("unexpected free plan: %+v", free)
	}
	if len(free.Routes) != 2 || free.Routes[0].Prefix != "/orders" || free.Routes[1].Prefix != "/health" {
		t.Fatalf("routes should keep file order, got %+v", free.Routes)
	}
	if len(g.RouteClasses) != 2 || g.RouteClasses[1].Class != "heavy" {
		t.Fatalf("unexpected route classes: %+v", g.RouteClasses)
	}
}

func TestParse_DefaultRouteClasses(t *testing.T) {
	src := strings.Replace(sample, "routeClasses:\n  /auth: auth\n  /reports: heavy\n", "", 1)
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.RouteClasses) != 1 || g.RouteClasses[0].Prefix != "/auth" || g.RouteClasses[0].Class != "auth" {
		t.Fatalf("expected default /auth class, got %+v", g.RouteClasses)
	}
}

func TestParse_EmptyRouteClassesDisablesDefault(t *testing.T) {
	src := strings.Replace(sample, "routeClasses:\n  /auth: auth\n  /reports: heavy\n", "routeClasses: {}\n", 1)
	g, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.RouteClasses) != 0 {
		t.Fatalf("expected no classes, got %+v", g.RouteClasses)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]struct {
		old, new string
		want     string
	}{
		"unknown plan":      {"key-pro-456: pro", "key-pro-456: gold", "unknown plan"},
		"zero window":       {"windowSeconds: 60\n    defaultLimit: 2", "windowSeconds: 0\n    defaultLimit: 2", "WindowSeconds"},
		"negative limit":    {"defaultLimit: 100", "defaultLimit: -1", "DefaultLimit"},
		"prefix without /":  {"/orders: 1", "orders: 1", "Prefix"},
		"relative upstream": {"http://localhost:8081", "localhost:8081", "upstreamBaseUrl"},
		"ftp upstream":      {"http://localhost:8081", "ftp://localhost:8081", "http(s)"},
		"unknown field":     {"upstreamBaseUrl:", "upstream:", "upstream"},
		"duplicate prefix":  {"/health: 10", "/orders: 10", "duplicate prefix"},
		"zero route limit":  {"/health: 10", "/health: 0", "Limit"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			src := strings.Replace(sample, tc.old, tc.new, 1)
			if src == sample {
				t.Fatalf("replacement %q did not apply", tc.old)
			}
			_, err := Parse([]byte(src))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatalf("empty config should fail validation")
	}
}

func TestDomainConversion(t *testing.T) {
	g, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plans := g.DomainPlans()
	free, ok := plans["free"]
	if !ok {
		t.Fatalf("missing free plan")
	}
	if free.Name != "free" {
		t.Fatalf("plan name = %q", free.Name)
	}
	if got := free.LimitFor("/orders/42"); got != 1 {
		t.Fatalf("LimitFor(/orders/42) = %d, want 1", got)
	}
	if got := free.LimitFor("/anything"); got != 2 {
		t.Fatalf("LimitFor(/anything) = %d, want 2", got)
	}

	rules := g.DomainRouteClasses()
	if len(rules) != 2 || rules[0].Prefix != "/auth" || string(rules[0].Class) != "auth" {
		t.Fatalf("unexpected class rules: %+v", rules)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(g.Plans))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
