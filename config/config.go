// Package config carrega o arquivo do gateway (upstream, chaves, planos e
// classes de rota) para uma estrutura validada e imutável.
//
// Exemplo:
//
//	upstreamBaseUrl: http://localhost:8081
//	apiKeys:
//	  key-free-123: free
//	plans:
//	  free:
//	    windowSeconds: 60
//	    defaultLimit: 2
//	    routes:
//	      /orders: 1
//	routeClasses:
//	  /auth: auth
//
// routes e routeClasses mantêm a ordem do arquivo: vence o primeiro prefixo que casar.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"

	"apikey-gateway/middleware/ratelimit/domain"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Gateway struct {
	UpstreamBaseURL string            `yaml:"upstreamBaseUrl" validate:"required"`
	APIKeys         map[string]string `yaml:"apiKeys" validate:"required,min=1,dive,keys,required,endkeys,required"`
	Plans           map[string]Plan   `yaml:"plans" validate:"required,min=1,dive,keys,required,endkeys"`
	RouteClasses    ClassRules        `yaml:"routeClasses" validate:"dive"`
}

type Plan struct {
	WindowSeconds int64       `yaml:"windowSeconds" validate:"gt=0"`
	DefaultLimit  int         `yaml:"defaultLimit" validate:"gt=0"`
	Routes        RouteLimits `yaml:"routes" validate:"dive"`
}

type RouteLimit struct {
	Prefix string `validate:"required,startswith=/"`
	Limit  int    `validate:"gt=0"`
}

// RouteLimits decodifica um mapeamento YAML preservando a ordem das chaves.
type RouteLimits []RouteLimit

func (r *RouteLimits) UnmarshalYAML(n *yaml.Node) error {
	out := RouteLimits{}
	err := eachPair(n, func(key, value *yaml.Node) error {
		var limit int
		if err := value.Decode(&limit); err != nil {
			return fmt.Errorf("route %q: %w", key.Value, err)
		}
		out = append(out, RouteLimit{Prefix: key.Value, Limit: limit})
		return nil
	})
	if err != nil {
		return err
	}
	*r = out
	return nil
}

type ClassRule struct {
	Prefix string `validate:"required,startswith=/"`
	Class  string `validate:"required"`
}

// ClassRules decodifica um mapeamento YAML prefixo -> classe preservando a ordem.
type ClassRules []ClassRule

func (c *ClassRules) UnmarshalYAML(n *yaml.Node) error {
	out := ClassRules{}
	err := eachPair(n, func(key, value *yaml.Node) error {
		var class string
		if err := value.Decode(&class); err != nil {
			return fmt.Errorf("route class %q: %w", key.Value, err)
		}
		out = append(out, ClassRule{Prefix: key.Value, Class: class})
		return nil
	})
	if err != nil {
		return err
	}
	*c = out
	return nil
}

func eachPair(n *yaml.Node, fn func(key, value *yaml.Node) error) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if seen[key.Value] {
			return fmt.Errorf("line %d: duplicate prefix %q", key.Line, key.Value)
		}
		seen[key.Value] = true
		if err := fn(key, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRouteClasses isola "/auth" do resto quando o arquivo não define classes.
func DefaultRouteClasses() ClassRules {
	return ClassRules{{Prefix: "/auth", Class: "auth"}}
}

// Load lê e valida o arquivo em path.
func Load(path string) (*Gateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway config: %w", err)
	}
	return Parse(data)
}

// Parse decodifica YAML (campos desconhecidos são erro), aplica defaults e valida.
func Parse(data []byte) (*Gateway, error) {
	var g Gateway
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	if g.RouteClasses == nil {
		g.RouteClasses = DefaultRouteClasses()
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checa tags e regras entre campos (planos referenciados, esquema do upstream).
func (g *Gateway) Validate() error {
	if err := validate.Struct(g); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}

	u, err := url.Parse(g.UpstreamBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid gateway config: upstreamBaseUrl %q must be an absolute http(s) URL", g.UpstreamBaseURL)
	}

	keys := make([]string, 0, len(g.APIKeys))
	for k := range g.APIKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := g.Plans[g.APIKeys[k]]; !ok {
			return fmt.Errorf("invalid gateway config: api key %q references unknown plan %q", redact(k), g.APIKeys[k])
		}
	}
	return nil
}

// UpstreamURL devolve a URL já validada.
func (g *Gateway) UpstreamURL() *url.URL {
	u, _ := url.Parse(g.UpstreamBaseURL)
	return u
}

// DomainPlans converte os planos para o domínio (cópias).
func (g *Gateway) DomainPlans() map[string]domain.Plan {
	out := make(map[string]domain.Plan, len(g.Plans))
	for name, p := range g.Plans {
		routes := make([]domain.RouteLimit, 0, len(p.Routes))
		for _, r := range p.Routes {
			routes = append(routes, domain.RouteLimit{Prefix: r.Prefix, Limit: r.Limit})
		}
		out[name] = domain.Plan{
			Name:          name,
			WindowSeconds: p.WindowSeconds,
			DefaultLimit:  p.DefaultLimit,
			Routes:        routes,
		}
	}
	return out
}

func (g *Gateway) DomainRouteClasses() []domain.RouteClassRule {
	out := make([]domain.RouteClassRule, 0, len(g.RouteClasses))
	for _, c := range g.RouteClasses {
		out = append(out, domain.RouteClassRule{Prefix: c.Prefix, Class: domain.RouteClass(c.Class)})
	}
	return out
}

func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
