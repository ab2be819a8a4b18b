package engine

import (
	"errors"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/expr"
)

// domainVerdict is one domain's contribution to the decision.
type domainVerdict struct {
	Domain       string
	DefaultAllow bool
	Granted      bool
	Denied       bool
	DenyReason   domain.ReasonCode
	DenyMessage  string
	// Engaged marks that at least one rule in the domain matched. A
	// default-allow domain grants only when engaged; a domain that never
	// matched abstains and defers to the global default deny.
	Engaged bool
}

type raisedViolation struct {
	domain.Violation
	Domain string
	RuleID string
}

type warningOutcome struct {
	Message string
	Reason  domain.ReasonCode
	RuleID  string
}

type obligationFragment struct {
	Kind   string
	Params map[string]any
	RuleID string
}

// rawOutcomes accumulates everything rule evaluation produced, before
// exception resolution and composition.
type rawOutcomes struct {
	Verdicts   []domainVerdict
	Violations []raisedViolation
	Warnings   []warningOutcome
	Fragments  []obligationFragment
	Matched    []string
}

// evaluate runs every domain of the catalog against the request using the
// domain's declared evaluation mode. Conditions are pure predicates; a lookup
// miss means the rule does not match, and a type mismatch is a rule-authoring
// defect that is logged and skipped (fail-open for the single rule, while the
// global default remains deny).
func (e *Engine) evaluate(req domain.DecisionRequest, cat *catalog.Catalog) rawOutcomes {
	lookup := factLookup(req)
	outcomes := rawOutcomes{}

	for _, dom := range cat.Domains() {
		verdict := domainVerdict{Domain: dom.Name, DefaultAllow: dom.DefaultAllow}

		for _, rule := range cat.Rules(dom.Name) {
			matched, err := rule.Program().Eval(lookup)
			if err != nil {
				if !errors.Is(err, expr.ErrUnknownIdentifier) {
					e.logger.Warn().
						Str("rule", rule.ID).
						Str("domain", dom.Name).
						Err(err).
						Msg("rule condition defect; treating rule as non-matching")
				}
				continue
			}
			if !matched {
				continue
			}

			verdict.Engaged = true
			outcomes.Matched = append(outcomes.Matched, rule.ID)
			e.applyEffect(req, dom.Name, rule, &verdict, &outcomes)

			if dom.Mode == catalog.ModeFirstMatch {
				break
			}
		}

		outcomes.Verdicts = append(outcomes.Verdicts, verdict)
	}

	return outcomes
}

func (e *Engine) applyEffect(req domain.DecisionRequest, domainName string, rule catalog.Rule, verdict *domainVerdict, outcomes *rawOutcomes) {
	effect := rule.Effect

	switch effect.Type {
	case catalog.EffectAllow:
		verdict.Granted = true

	case catalog.EffectDeny:
		verdict.Denied = true
		verdict.DenyReason = domain.ReasonDenyRuleMatched
		if effect.Kind != "" {
			verdict.DenyReason = domain.ReasonCode(effect.Kind)
		}
		verdict.DenyMessage = effect.Message

	case catalog.EffectViolation:
		outcomes.Violations = append(outcomes.Violations, raisedViolation{
			Violation: domain.Violation{
				Kind:        effect.Kind,
				ResourceRef: req.Resource.ResourceRef(),
				Message:     effect.Message,
				Severity:    effect.Severity,
			},
			Domain: domainName,
			RuleID: rule.ID,
		})

	case catalog.EffectWarning:
		outcomes.Warnings = append(outcomes.Warnings, warningOutcome{
			Message: effect.Message,
			Reason:  domain.ReasonCode(effect.Kind),
			RuleID:  rule.ID,
		})

	case catalog.EffectObligation:
		outcomes.Fragments = append(outcomes.Fragments, obligationFragment{
			Kind:   effect.Kind,
			Params: effect.Params,
			RuleID: rule.ID,
		})
	}
}
