// Package obligations derives follow-up requirements from the decision state.
// Derivation is a pure function of the draft decision; the mapping from
// conditions to obligations is exact so behaviour stays testable.
package obligations

import (
	"strings"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// MinJustificationLength is the justification length below which access to
// high-sensitivity data requires a written justification.
const MinJustificationLength = 50

// ApprovalSLAHours is the service-level window attached to approval
// obligations.
const ApprovalSLAHours = 24

// AcknowledgmentTimeoutSeconds bounds how long a user acknowledgment prompt
// stays open.
const AcknowledgmentTimeoutSeconds = 30

// Draft is the decision state the generator maps over.
type Draft struct {
	Request          domain.DecisionRequest
	Risk             domain.RiskAssessment
	ActiveViolations []domain.Violation
	// Denied marks a draft already blocked by an explicit deny rule or an
	// active critical violation; approval and acknowledgment obligations are
	// pointless on such drafts.
	Denied bool
}

// Derive maps the draft onto its obligations:
//
//	high/critical risk, not denied      -> require_approval (role-appropriate approvers, 24h SLA)
//	confidential data + routine read    -> redact
//	restricted data + short justification -> require_justification (min 50 chars)
//	high/critical risk                  -> audit_enhanced
//	medium violation, not denied        -> user_acknowledgment (30s timeout)
func Derive(draft Draft) []domain.Obligation {
	var out []domain.Obligation
	req := draft.Request

	highRisk := draft.Risk.Level == domain.RiskHigh || draft.Risk.Level == domain.RiskCritical

	if highRisk && !draft.Denied {
		out = append(out, domain.Obligation{
			Kind: domain.ObligationRequireApproval,
			Parameters: map[string]any{
				"approvers": ApproversFor(req.Action.Type),
				"slaHours":  ApprovalSLAHours,
			},
		})
	}

	if req.Resource.Sensitivity == domain.SensitivityConfidential && routineRead(req.Action.Type) {
		out = append(out, domain.Obligation{Kind: domain.ObligationRedact})
	}

	if req.Resource.Sensitivity == domain.SensitivityRestricted &&
		len(strings.TrimSpace(req.Context.Justification)) < MinJustificationLength {
		out = append(out, domain.Obligation{
			Kind: domain.ObligationRequireJustification,
			Parameters: map[string]any{
				"minLength": MinJustificationLength,
			},
		})
	}

	if highRisk {
		out = append(out, domain.Obligation{Kind: domain.ObligationAuditEnhanced})
	}

	if !draft.Denied {
		if v, ok := firstMediumViolation(draft.ActiveViolations); ok {
			out = append(out, domain.Obligation{
				Kind: domain.ObligationUserAcknowledgment,
				Parameters: map[string]any{
					"message":        v.Message,
					"timeoutSeconds": AcknowledgmentTimeoutSeconds,
				},
			})
		}
	}

	return out
}

// ApproversFor selects the approver roles appropriate for the operation.
func ApproversFor(actionType string) []string {
	switch actionType {
	case domain.ActionInfraChange:
		return []string{"platform-lead"}
	case domain.ActionExport, domain.ActionShare, domain.ActionBulkExport:
		return []string{"data-steward"}
	default:
		return []string{"security-officer"}
	}
}

func routineRead(actionType string) bool {
	switch actionType {
	case domain.ActionRead, domain.ActionSearch, domain.ActionList:
		return true
	default:
		return false
	}
}

func firstMediumViolation(violations []domain.Violation) (domain.Violation, bool) {
	for _, v := range violations {
		if v.Severity == domain.SeverityMedium {
			return v, true
		}
	}
	return domain.Violation{}, false
}
