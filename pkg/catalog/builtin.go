package catalog

import "fmt"

// builtinSource is the standard rule set shipped with the engine. It covers
// the four production rule domains; deployments replace it by loading their
// own catalog through the administrative interface.
const builtinSource = `
version: "2026.08"
domains:
  - name: agent-governance
    mode: first-match
  - name: content-inspection
    mode: all-match
    defaultAllow: true
    nonWaivable:
      - destination-block
      - sensitivity-floor
  - name: infra-admission
    mode: all-match
    defaultAllow: true
  - name: revenue-ops
    mode: all-match
    defaultAllow: true

rules:
  # --- agent-governance: ordered capability and mode gating ---
  - id: agent-cross-tenant-block
    domain: agent-governance
    priority: 10
    condition: '!(resource.tenantId in subject.tenantScopes)'
    effect:
      type: deny
      kind: tenant_scope_denied
      message: resource tenant is outside the subject's tenant scope

  - id: agent-pilot-mode-gate
    domain: agent-governance
    priority: 20
    condition: 'context.mode == "pilot" && action.riskLevel == "high"'
    effect:
      type: deny
      kind: pilot_mode_restricted
      message: high-risk actions are gated while the tenant is in pilot mode

  - id: agent-allow-read
    domain: agent-governance
    priority: 30
    condition: '(action.type == "read" || action.type == "search" || action.type == "list") && "read:data" in subject.capabilities'
    effect:
      type: allow

  - id: agent-allow-write
    domain: agent-governance
    priority: 31
    condition: 'action.type == "write" && "write:data" in subject.capabilities'
    effect:
      type: allow

  - id: agent-allow-export
    domain: agent-governance
    priority: 32
    condition: '(action.type == "export" || action.type == "share" || action.type == "bulk-export") && "export:data" in subject.capabilities'
    effect:
      type: allow

  - id: agent-allow-infra
    domain: agent-governance
    priority: 33
    condition: 'action.type == "infra-change" && "infra:apply" in subject.capabilities'
    effect:
      type: allow

  # --- content-inspection: accumulated violations over outbound data ---
  - id: dlp-destination-block
    domain: content-inspection
    priority: 10
    condition: 'context.destination == "external-unmanaged"'
    effect:
      type: violation
      kind: destination-block
      severity: critical
      message: content may not leave the platform toward an unmanaged destination

  - id: dlp-sensitivity-floor
    domain: content-inspection
    priority: 20
    condition: 'resource.sensitivity == "restricted" && (action.type == "export" || action.type == "share" || action.type == "bulk-export")'
    effect:
      type: violation
      kind: sensitivity-floor
      severity: critical
      message: restricted data may never be exported or shared

  - id: dlp-bulk-pii
    domain: content-inspection
    priority: 30
    condition: 'volume.piiRecordCount > 1000'
    effect:
      type: violation
      kind: bulk-pii
      severity: high
      message: request touches PII records above the bulk threshold

  - id: dlp-missing-purpose
    domain: content-inspection
    priority: 40
    condition: '!exists context.purpose && resource.sensitivity == "confidential"'
    effect:
      type: warning
      message: no purpose declared for confidential data access

  # --- infra-admission: accumulated admission findings ---
  - id: iam-wildcard
    domain: infra-admission
    priority: 10
    condition: '(exists context.declaredActions && "*" in context.declaredActions) || (exists context.declaredResources && "*" in context.declaredResources)'
    effect:
      type: violation
      kind: iam-wildcard
      severity: critical
      message: wildcard actions or resources are not admissible on allow statements

  - id: infra-privileged-namespace
    domain: infra-admission
    priority: 20
    condition: 'resource.projectId == "kube-system"'
    effect:
      type: violation
      kind: privileged-namespace
      severity: high
      message: changes to privileged namespaces require elevated review

  - id: infra-unreviewed-change
    domain: infra-admission
    priority: 30
    condition: 'action.type == "infra-change" && action.riskLevel == "high" && !exists context.approvalRef'
    effect:
      type: violation
      kind: unreviewed-change
      severity: medium
      message: high-risk infrastructure change submitted without prior review

  # --- revenue-ops: discount caps by role ---
  - id: quote-discount-rep-cap
    domain: revenue-ops
    priority: 10
    condition: '"sales_rep" in subject.roles && context.discountPercentage > 10'
    effect:
      type: warning
      kind: discount_above_role_limit
      message: discount exceeds the sales_rep cap of 10%

  - id: quote-discount-rep-approvers
    domain: revenue-ops
    priority: 11
    condition: '"sales_rep" in subject.roles && context.discountPercentage > 10'
    effect:
      type: obligation
      kind: require_approval
      params:
        approvers: ["sales-manager"]
        slaHours: 24

  - id: quote-discount-manager-cap
    domain: revenue-ops
    priority: 20
    condition: '"sales_manager" in subject.roles && context.discountPercentage > 25'
    effect:
      type: warning
      kind: discount_above_role_limit
      message: discount exceeds the sales_manager cap of 25%

  - id: quote-discount-manager-approvers
    domain: revenue-ops
    priority: 21
    condition: '"sales_manager" in subject.roles && context.discountPercentage > 25'
    effect:
      type: obligation
      kind: require_approval
      params:
        approvers: ["vp-sales"]
        slaHours: 24

  - id: quote-discount-floor
    domain: revenue-ops
    priority: 30
    condition: 'context.discountPercentage > 40'
    effect:
      type: violation
      kind: discount-floor
      severity: high
      message: discount exceeds the absolute floor for any role
`

// Builtin returns the standard catalog. It panics if the embedded source no
// longer loads, which a unit test guards against.
func Builtin() *Catalog {
	c, err := Load([]byte(builtinSource))
	if err != nil {
		panic(fmt.Sprintf("catalog: builtin source failed to load: %v", err))
	}
	return c
}
