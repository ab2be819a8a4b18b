package domain

import "time"

// Severity ranks a violation.
type Severity string

const (
	// SeverityCritical forces a deny regardless of obligations.
	SeverityCritical Severity = "critical"
	// SeverityHigh marks violations that materially raise risk.
	SeverityHigh Severity = "high"
	// SeverityMedium marks violations that require acknowledgment.
	SeverityMedium Severity = "medium"
	// SeverityWarning marks advisory findings.
	SeverityWarning Severity = "warning"
)

// IsValid reports whether the severity is recognised.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityWarning:
		return true
	default:
		return false
	}
}

// Violation records a single policy violation raised during evaluation.
type Violation struct {
	Kind        string   `json:"kind"`
	ResourceRef string   `json:"resourceRef,omitempty"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
}

// ObligationKind identifies a follow-up requirement attached to a decision.
type ObligationKind string

const (
	// ObligationRedact requires masking before content leaves the platform.
	ObligationRedact ObligationKind = "redact"
	// ObligationRequireJustification requires a written justification of a
	// minimum length before the request can succeed.
	ObligationRequireJustification ObligationKind = "require_justification"
	// ObligationRequireApproval requires a satisfied approval reference.
	ObligationRequireApproval ObligationKind = "require_approval"
	// ObligationAuditEnhanced routes the decision to enhanced audit capture.
	ObligationAuditEnhanced ObligationKind = "audit_enhanced"
	// ObligationUserAcknowledgment requires the user to acknowledge a finding.
	ObligationUserAcknowledgment ObligationKind = "user_acknowledgment"
)

// Obligation is a follow-up requirement derived from the decision state.
type Obligation struct {
	Kind       ObligationKind `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	// RiskLow covers scores below 25.
	RiskLow RiskLevel = "low"
	// RiskMedium covers scores below 50.
	RiskMedium RiskLevel = "medium"
	// RiskHigh covers scores below 75.
	RiskHigh RiskLevel = "high"
	// RiskCritical covers scores of 75 and above.
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment combines the weighted score with its bucketed level.
type RiskAssessment struct {
	Score int       `json:"score"`
	Level RiskLevel `json:"level"`
}

// ReasonCode is the closed enumeration of decision reasons. Free text never
// replaces a reason code; messages ride alongside on violations.
type ReasonCode string

const (
	// ReasonMalformedRequest is returned when a required field is missing.
	ReasonMalformedRequest ReasonCode = "malformed_request"
	// ReasonCatalogUnavailable is returned before any catalog is loaded. The
	// condition is retryable.
	ReasonCatalogUnavailable ReasonCode = "catalog_unavailable"
	// ReasonDenyRuleMatched reports an explicit deny-effect rule match.
	ReasonDenyRuleMatched ReasonCode = "deny_rule_matched"
	// ReasonTenantScopeDenied reports a resource tenant outside the subject's
	// tenant scope list.
	ReasonTenantScopeDenied ReasonCode = "tenant_scope_denied"
	// ReasonPilotModeRestricted reports a high-risk action attempted while the
	// operation mode gates it.
	ReasonPilotModeRestricted ReasonCode = "pilot_mode_restricted"
	// ReasonCriticalViolation reports at least one active critical violation.
	ReasonCriticalViolation ReasonCode = "critical_violation"
	// ReasonApprovalRequired reports an unsatisfied approval obligation.
	ReasonApprovalRequired ReasonCode = "approval_required"
	// ReasonJustificationRequired reports a missing or too-short justification.
	ReasonJustificationRequired ReasonCode = "justification_required"
	// ReasonDiscountAboveRoleLimit reports a discount above the role's cap,
	// allowed but routed for approval.
	ReasonDiscountAboveRoleLimit ReasonCode = "discount_above_role_limit"
	// ReasonDefaultDeny reports that no domain granted the request.
	ReasonDefaultDeny ReasonCode = "default_deny"
	// ReasonDefaultAllow reports an allow produced by default-allow domains.
	ReasonDefaultAllow ReasonCode = "default_allow"
	// ReasonAllowRuleMatched reports an explicit allow-effect rule match.
	ReasonAllowRuleMatched ReasonCode = "allow_rule_matched"
)

// ValidReason reports whether the code belongs to the closed enumeration.
func ValidReason(code ReasonCode) bool {
	switch code {
	case ReasonMalformedRequest, ReasonCatalogUnavailable, ReasonDenyRuleMatched,
		ReasonTenantScopeDenied, ReasonPilotModeRestricted, ReasonCriticalViolation,
		ReasonApprovalRequired, ReasonJustificationRequired, ReasonDiscountAboveRoleLimit,
		ReasonDefaultDeny, ReasonDefaultAllow, ReasonAllowRuleMatched:
		return true
	default:
		return false
	}
}

// Decision is the single auditable object returned for every evaluation.
// Waived violations are retained for audit visibility even though they do not
// block the decision.
type Decision struct {
	ID                string         `json:"id,omitempty"`
	Allowed           bool           `json:"allowed"`
	Reason            ReasonCode     `json:"reason"`
	Violations        []Violation    `json:"violations"`
	WaivedViolations  []Violation    `json:"waivedViolations,omitempty"`
	Obligations       []Obligation   `json:"obligations"`
	RequiredApprovals []string       `json:"requiredApprovals,omitempty"`
	Risk              RiskAssessment `json:"risk"`
	MatchedRules      []string       `json:"matchedRules"`
	Warnings          []string       `json:"warnings,omitempty"`
	CatalogRevision   string         `json:"catalogRevision,omitempty"`
	EvaluatedAt       time.Time      `json:"evaluatedAt"`
}
