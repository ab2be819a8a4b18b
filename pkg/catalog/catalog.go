// Package catalog represents versioned rule catalogs as data: rules grouped
// by domain, each domain declaring exactly one evaluation mode, loaded once
// per evaluation epoch and never mutated afterwards.
package catalog

import (
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/expr"
)

// EvaluationMode declares how a domain's rules combine.
type EvaluationMode string

const (
	// ModeFirstMatch iterates rules in priority order; the first rule whose
	// condition holds determines the domain's contribution.
	ModeFirstMatch EvaluationMode = "first-match"
	// ModeAllMatch evaluates every rule; each holding rule contributes its
	// effect independently.
	ModeAllMatch EvaluationMode = "all-match"
)

// IsValid reports whether the mode is recognised.
func (m EvaluationMode) IsValid() bool {
	switch m {
	case ModeFirstMatch, ModeAllMatch:
		return true
	default:
		return false
	}
}

// EffectType discriminates rule effects.
type EffectType string

const (
	// EffectAllow grants the domain's verdict.
	EffectAllow EffectType = "allow"
	// EffectDeny denies the request outright.
	EffectDeny EffectType = "deny"
	// EffectViolation raises a violation of the declared kind and severity.
	EffectViolation EffectType = "violation"
	// EffectWarning attaches an advisory message.
	EffectWarning EffectType = "warning"
	// EffectObligation contributes an obligation fragment.
	EffectObligation EffectType = "obligation"
)

// Effect is the outcome a rule contributes when its condition holds.
//
// For deny effects, Kind optionally names the reason code reported to the
// caller (it must belong to the closed enumeration). For violation effects,
// Kind names the violation kind. For obligation effects, Kind names the
// obligation kind. Warning effects may set Kind to a reason code that
// overrides the reason on an otherwise-allowed decision.
type Effect struct {
	Type     EffectType      `json:"type" yaml:"type"`
	Kind     string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Severity domain.Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message  string          `json:"message,omitempty" yaml:"message,omitempty"`
	Params   map[string]any  `json:"params,omitempty" yaml:"params,omitempty"`
}

// Rule pairs a compiled condition with its effect.
type Rule struct {
	ID        string `json:"id" yaml:"id"`
	Domain    string `json:"domain" yaml:"domain"`
	Priority  int    `json:"priority" yaml:"priority"`
	Condition string `json:"condition" yaml:"condition"`
	Effect    Effect `json:"effect" yaml:"effect"`

	program *expr.Program
}

// Program returns the compiled condition.
func (r Rule) Program() *expr.Program { return r.program }

// Domain groups rules under a single evaluation mode. DefaultAllow marks
// domains whose engagement without a deny counts as a grant; domains without
// it defer to the global default deny when nothing matches.
type Domain struct {
	Name         string         `json:"name" yaml:"name"`
	Mode         EvaluationMode `json:"mode" yaml:"mode"`
	DefaultAllow bool           `json:"defaultAllow,omitempty" yaml:"defaultAllow,omitempty"`
	NonWaivable  []string       `json:"nonWaivable,omitempty" yaml:"nonWaivable,omitempty"`
}

// Catalog is an immutable, versioned collection of rules grouped by domain.
// Construct one through Load; never mutate it afterwards. Reloads swap whole
// catalogs atomically.
type Catalog struct {
	version  string
	revision string
	domains  []Domain
	rules    map[string][]Rule
	waivable map[string]map[string]struct{}
}

// Version returns the author-assigned catalog version.
func (c *Catalog) Version() string { return c.version }

// Revision returns the SHA-256 digest of the catalog source.
func (c *Catalog) Revision() string { return c.revision }

// Domains returns the declared domains in catalog order.
func (c *Catalog) Domains() []Domain {
	return append([]Domain(nil), c.domains...)
}

// Rules returns the rules of one domain sorted by priority then ID.
func (c *Catalog) Rules(domainName string) []Rule {
	return append([]Rule(nil), c.rules[domainName]...)
}

// RuleCount returns the total number of rules across all domains.
func (c *Catalog) RuleCount() int {
	total := 0
	for _, rules := range c.rules {
		total += len(rules)
	}
	return total
}

// NonWaivable reports whether the violation kind is flagged non-waivable in
// the named domain. Exceptions never suppress such violations.
func (c *Catalog) NonWaivable(domainName, kind string) bool {
	kinds, ok := c.waivable[domainName]
	if !ok {
		return false
	}
	_, flagged := kinds[kind]
	return flagged
}
