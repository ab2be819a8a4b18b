package engine

import (
	"time"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// composeInput carries everything the compositor needs to assemble the final
// decision.
type composeInput struct {
	Request     domain.DecisionRequest
	Outcomes    rawOutcomes
	Active      []domain.Violation
	Waived      []domain.Violation
	Risk        domain.RiskAssessment
	Obligations []domain.Obligation
	Revision    string
	EvalTime    time.Time
}

// compose assembles the decision and enforces the default-deny invariant.
// The reason reports the first blocking condition in a fixed precedence
// order: explicit deny rule, active critical violation, missing approval,
// missing justification, then the allow path.
func compose(in composeInput) domain.Decision {
	decision := domain.Decision{
		Allowed:          false,
		Violations:       nonNilViolations(in.Active),
		WaivedViolations: in.Waived,
		Obligations:      nonNilObligations(in.Obligations),
		Risk:             in.Risk,
		MatchedRules:     nonNilStrings(in.Outcomes.Matched),
		CatalogRevision:  in.Revision,
		EvaluatedAt:      in.EvalTime,
	}

	for _, w := range in.Outcomes.Warnings {
		decision.Warnings = append(decision.Warnings, w.Message)
	}
	decision.RequiredApprovals = approvalRouting(in.Outcomes.Fragments)

	// 1. Explicit deny-rule match, in catalog domain order.
	for _, verdict := range in.Outcomes.Verdicts {
		if verdict.Denied {
			decision.Reason = verdict.DenyReason
			return decision
		}
	}

	// 2. Active critical violation. Waived criticals do not block; that is
	// the entire point of an exception entry.
	if hasCritical(in.Active) {
		decision.Reason = domain.ReasonCriticalViolation
		return decision
	}

	// 3. Approval obligations block until the request carries a satisfied
	// approval reference. Resubmission with the reference re-derives the
	// decision from scratch; there is no engine-side pending state.
	if hasObligation(in.Obligations, domain.ObligationRequireApproval) && in.Request.Context.ApprovalRef == "" {
		decision.Reason = domain.ReasonApprovalRequired
		return decision
	}

	// 4. A justification obligation is attached exactly when the supplied
	// justification is too short, so its presence blocks.
	if hasObligation(in.Obligations, domain.ObligationRequireJustification) {
		decision.Reason = domain.ReasonJustificationRequired
		return decision
	}

	// 5. Allow path: an explicit grant, or an engaged default-allow domain
	// that raised no objection. A catalog where nothing matched grants
	// nothing, preserving the global default deny.
	granted := false
	reason := domain.ReasonDefaultDeny
	for _, verdict := range in.Outcomes.Verdicts {
		if verdict.Granted {
			granted = true
			reason = domain.ReasonAllowRuleMatched
			break
		}
	}
	if !granted {
		for _, verdict := range in.Outcomes.Verdicts {
			if verdict.DefaultAllow && verdict.Engaged {
				granted = true
				reason = domain.ReasonDefaultAllow
				break
			}
		}
	}

	if !granted {
		decision.Reason = domain.ReasonDefaultDeny
		return decision
	}

	decision.Allowed = true
	decision.Reason = reason

	// An allowed decision may still carry a reason-coded warning, e.g. a
	// discount routed above its role cap.
	for _, w := range in.Outcomes.Warnings {
		if w.Reason != "" && domain.ValidReason(w.Reason) {
			decision.Reason = w.Reason
			break
		}
	}

	return decision
}

// approvalRouting collects approver roles contributed by rule-level approval
// fragments. These route the decision for sign-off without blocking it; the
// blocking approval path is the risk-derived obligation.
func approvalRouting(fragments []obligationFragment) []string {
	var approvers []string
	seen := map[string]struct{}{}
	for _, f := range fragments {
		if f.Kind != string(domain.ObligationRequireApproval) {
			continue
		}
		for _, raw := range asStringSlice(f.Params["approvers"]) {
			if _, dup := seen[raw]; dup {
				continue
			}
			seen[raw] = struct{}{}
			approvers = append(approvers, raw)
		}
	}
	return approvers
}

// mergeFragments appends rule-contributed obligations that the risk-based
// generator did not already produce. Approval fragments are excluded; they
// feed approval routing instead.
func mergeFragments(derived []domain.Obligation, fragments []obligationFragment) []domain.Obligation {
	present := make(map[domain.ObligationKind]struct{}, len(derived))
	for _, o := range derived {
		present[o.Kind] = struct{}{}
	}

	out := derived
	for _, f := range fragments {
		kind := domain.ObligationKind(f.Kind)
		if kind == domain.ObligationRequireApproval {
			continue
		}
		if _, dup := present[kind]; dup {
			continue
		}
		present[kind] = struct{}{}
		out = append(out, domain.Obligation{Kind: kind, Parameters: f.Params})
	}
	return out
}

func hasObligation(obligations []domain.Obligation, kind domain.ObligationKind) bool {
	for _, o := range obligations {
		if o.Kind == kind {
			return true
		}
	}
	return false
}

func asStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func nonNilViolations(in []domain.Violation) []domain.Violation {
	if in == nil {
		return []domain.Violation{}
	}
	return in
}

func nonNilObligations(in []domain.Obligation) []domain.Obligation {
	if in == nil {
		return []domain.Obligation{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
