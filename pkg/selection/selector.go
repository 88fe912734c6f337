package selection

import (
	"strings"

	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/endpoint"
)

// ClaudePrefix is the prefix of Anthropic model ids.
const ClaudePrefix = "claude-"

// Rule is a substitution fallback applied when no endpoint matches the
// requested model exactly. When the requested model starts with Prefix, each
// entry of Prefer is tried in order and the first endpoint whose model id
// contains it is selected.
type Rule struct {
	Prefix string   `yaml:"prefix" json:"prefix"`
	Prefer []string `yaml:"prefer" json:"prefer"`
}

// DefaultRules returns the built-in substitution rules.
//
// The claude-3-5-haiku rule substitutes a different vendor's small model and
// can be removed through configuration.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "claude-sonnet-4", Prefer: []string{"claude-sonnet-4", "claude"}},
		{Prefix: "claude-3-5-haiku", Prefer: []string{"gpt-4o-mini", "mini"}},
	}
}

// Selector picks an upstream endpoint for a requested model. It holds no
// mutable state and is safe for concurrent use.
type Selector struct {
	rules []Rule
}

// New returns a Selector using rules. A nil slice selects DefaultRules; an
// empty non-nil slice disables substitution.
func New(rules []Rule) *Selector {
	if rules == nil {
		rules = DefaultRules()
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Selector{rules: cp}
}

// FromConfig builds a Selector from configuration. Configured rules are
// tried before the defaults, which DisableDefaults removes.
func FromConfig(cfg config.SelectionConfig) *Selector {
	rules := make([]Rule, 0, len(cfg.Rules)+2)
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{Prefix: r.Prefix, Prefer: r.Prefer})
	}
	if !cfg.DisableDefaults {
		rules = append(rules, DefaultRules()...)
	}
	return New(rules)
}

// Rules returns a copy of the selector's rules.
func (s *Selector) Rules() []Rule {
	cp := make([]Rule, len(s.rules))
	copy(cp, s.rules)
	return cp
}

var defaultSelector = New(nil)

// Select picks an endpoint with the default rules.
func Select(endpoints []endpoint.Endpoint, requested string) endpoint.Endpoint {
	return defaultSelector.Select(endpoints, requested)
}

// Select returns the best endpoint for requested, or nil when nothing
// matches. With an empty requested model the first endpoint wins.
//
// Matching proceeds in order: exact family or model match (against the
// normalized id and the raw id), the substitution rules, and finally any
// endpoint whose model or family mentions "claude" for claude- requests.
func (s *Selector) Select(endpoints []endpoint.Endpoint, requested string) endpoint.Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	if requested == "" {
		return endpoints[0]
	}

	normalized := Normalize(requested)
	for _, ep := range endpoints {
		if ep.Family() == normalized || ep.Model() == normalized {
			return ep
		}
	}
	if normalized != requested {
		for _, ep := range endpoints {
			if ep.Family() == requested || ep.Model() == requested {
				return ep
			}
		}
	}

	for _, rule := range s.rules {
		if rule.Prefix == "" || !strings.HasPrefix(requested, rule.Prefix) {
			continue
		}
		for _, want := range rule.Prefer {
			for _, ep := range endpoints {
				if strings.Contains(ep.Model(), want) {
					return ep
				}
			}
		}
	}

	if strings.HasPrefix(requested, ClaudePrefix) {
		for _, ep := range endpoints {
			if strings.Contains(ep.Model(), "claude") || strings.Contains(ep.Family(), "claude") {
				return ep
			}
		}
	}

	return nil
}

// Normalize rewrites dated claude model ids into the dotted form used by
// catalogs: claude-opus-4-1-20250805 becomes claude-opus-4.1. Ids that are
// not claude models or have fewer than four dash-separated tokens are
// returned unchanged.
func Normalize(model string) string {
	if !strings.HasPrefix(model, ClaudePrefix) {
		return model
	}
	parts := strings.Split(model, "-")
	if len(parts) < 4 {
		return model
	}
	return parts[0] + "-" + parts[1] + "-" + parts[2] + "." + parts[3]
}

// Eligible returns the endpoints that speak the Messages API, preserving
// order.
func Eligible(endpoints []endpoint.Endpoint) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	for _, ep := range endpoints {
		if ep.APIType() == endpoint.APIMessages {
			out = append(out, ep)
		}
	}
	return out
}
