package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/expr"
)

// file is the on-disk catalog schema (YAML, JSON-compatible).
type file struct {
	Version string   `yaml:"version" json:"version"`
	Domains []Domain `yaml:"domains" json:"domains"`
	Rules   []Rule   `yaml:"rules" json:"rules"`
}

// Load parses, validates, and compiles a catalog from its serialized form.
// Every condition is compiled eagerly so authoring defects fail the load, not
// a live evaluation. Duplicate rule IDs are rejected outright: conflicting
// definitions are drift for the catalog owner to resolve, never merged.
func Load(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, errors.New("catalog: empty source")
	}

	var parsed file
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	if strings.TrimSpace(parsed.Version) == "" {
		return nil, errors.New("catalog: version is required")
	}
	if len(parsed.Domains) == 0 {
		return nil, errors.New("catalog: at least one domain is required")
	}

	domains := make([]Domain, 0, len(parsed.Domains))
	waivable := make(map[string]map[string]struct{}, len(parsed.Domains))
	seenDomains := make(map[string]struct{}, len(parsed.Domains))
	for _, d := range parsed.Domains {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, errors.New("catalog: domain name is required")
		}
		if _, dup := seenDomains[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate domain %q", name)
		}
		if !d.Mode.IsValid() {
			return nil, fmt.Errorf("catalog: domain %q declares invalid mode %q", name, d.Mode)
		}
		seenDomains[name] = struct{}{}

		kinds := make(map[string]struct{}, len(d.NonWaivable))
		for _, kind := range d.NonWaivable {
			kinds[kind] = struct{}{}
		}
		waivable[name] = kinds
		d.Name = name
		domains = append(domains, d)
	}

	rules := make(map[string][]Rule, len(domains))
	seenRules := make(map[string]struct{}, len(parsed.Rules))
	for _, r := range parsed.Rules {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return nil, errors.New("catalog: rule id is required")
		}
		if _, dup := seenRules[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate rule %q", id)
		}
		seenRules[id] = struct{}{}

		if _, ok := seenDomains[r.Domain]; !ok {
			return nil, fmt.Errorf("catalog: rule %q references undeclared domain %q", id, r.Domain)
		}

		if err := validateEffect(id, r.Effect); err != nil {
			return nil, err
		}

		program, err := expr.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("catalog: rule %q: %w", id, err)
		}

		r.ID = id
		r.program = program
		rules[r.Domain] = append(rules[r.Domain], r)
	}

	for name := range rules {
		sort.SliceStable(rules[name], func(i, j int) bool {
			a, b := rules[name][i], rules[name][j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.ID < b.ID
		})
	}

	digest := sha256.Sum256(data)

	return &Catalog{
		version:  strings.TrimSpace(parsed.Version),
		revision: hex.EncodeToString(digest[:]),
		domains:  domains,
		rules:    rules,
		waivable: waivable,
	}, nil
}

func validateEffect(ruleID string, effect Effect) error {
	switch effect.Type {
	case EffectAllow:
		return nil
	case EffectDeny:
		if effect.Kind != "" && !domain.ValidReason(domain.ReasonCode(effect.Kind)) {
			return fmt.Errorf("catalog: rule %q: deny kind %q is not a known reason code", ruleID, effect.Kind)
		}
		return nil
	case EffectViolation:
		if strings.TrimSpace(effect.Kind) == "" {
			return fmt.Errorf("catalog: rule %q: violation effect requires a kind", ruleID)
		}
		if !effect.Severity.IsValid() {
			return fmt.Errorf("catalog: rule %q: violation effect requires a valid severity", ruleID)
		}
		return nil
	case EffectWarning:
		if effect.Kind != "" && !domain.ValidReason(domain.ReasonCode(effect.Kind)) {
			return fmt.Errorf("catalog: rule %q: warning kind %q is not a known reason code", ruleID, effect.Kind)
		}
		if strings.TrimSpace(effect.Message) == "" {
			return fmt.Errorf("catalog: rule %q: warning effect requires a message", ruleID)
		}
		return nil
	case EffectObligation:
		if strings.TrimSpace(effect.Kind) == "" {
			return fmt.Errorf("catalog: rule %q: obligation effect requires a kind", ruleID)
		}
		return nil
	default:
		return fmt.Errorf("catalog: rule %q: unknown effect type %q", ruleID, effect.Type)
	}
}
