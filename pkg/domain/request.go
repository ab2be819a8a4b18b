package domain

import "time"

// Sensitivity classifications recognised on resources. Anything outside this
// set is treated as unclassified and scored conservatively.
const (
	SensitivityPublic       = "public"
	SensitivityInternal     = "internal"
	SensitivityConfidential = "confidential"
	SensitivityRestricted   = "restricted"
)

// Well-known action types. The engine does not reject unknown types; they fall
// through to the default operation weight during risk scoring.
const (
	ActionRead        = "read"
	ActionSearch      = "search"
	ActionList        = "list"
	ActionWrite       = "write"
	ActionExport      = "export"
	ActionShare       = "share"
	ActionBulkExport  = "bulk-export"
	ActionInfraChange = "infra-change"
)

// Subject identifies the caller requesting the action, including the
// attribute sets that authorization rules predicate on.
type Subject struct {
	ID             string   `json:"id" yaml:"id"`
	Roles          []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
	Certifications []string `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	Clearance      string   `json:"clearance,omitempty" yaml:"clearance,omitempty"`
	TenantScopes   []string `json:"tenantScopes,omitempty" yaml:"tenantScopes,omitempty"`
}

// Action describes what the subject intends to do.
type Action struct {
	Type      string `json:"type" yaml:"type"`
	RiskLevel string `json:"riskLevel" yaml:"riskLevel"`
}

// Resource describes the object the action targets.
type Resource struct {
	TenantID    string `json:"tenantId" yaml:"tenantId"`
	ProjectID   string `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// RequestContext carries situational attributes supplied by the caller.
// All fields are optional; rules referencing an unset field simply do not
// match unless they test for absence explicitly.
type RequestContext struct {
	Purpose            string            `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Justification      string            `json:"justification,omitempty" yaml:"justification,omitempty"`
	ApprovalRef        string            `json:"approvalRef,omitempty" yaml:"approvalRef,omitempty"`
	Mode               string            `json:"mode,omitempty" yaml:"mode,omitempty"`
	Emergency          bool              `json:"emergency,omitempty" yaml:"emergency,omitempty"`
	Timestamp          time.Time         `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Destination        string            `json:"destination,omitempty" yaml:"destination,omitempty"`
	DeclaredActions    []string          `json:"declaredActions,omitempty" yaml:"declaredActions,omitempty"`
	DeclaredResources  []string          `json:"declaredResources,omitempty" yaml:"declaredResources,omitempty"`
	QuasiIdentifiers   []string          `json:"quasiIdentifiers,omitempty" yaml:"quasiIdentifiers,omitempty"`
	DiscountPercentage float64           `json:"discountPercentage,omitempty" yaml:"discountPercentage,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Volume carries aggregation metadata for bulk operations.
type Volume struct {
	RecordCount    int64 `json:"recordCount" yaml:"recordCount"`
	PIIRecordCount int64 `json:"piiRecordCount" yaml:"piiRecordCount"`
}

// DecisionRequest is the fact model for a single evaluation. It is immutable
// once constructed; the engine never mutates caller-supplied data.
type DecisionRequest struct {
	Subject  Subject        `json:"subject" yaml:"subject"`
	Action   Action         `json:"action" yaml:"action"`
	Resource Resource       `json:"resource" yaml:"resource"`
	Tenant   string         `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Context  RequestContext `json:"context,omitempty" yaml:"context,omitempty"`
	Volume   *Volume        `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// Validate reports the first missing required field, if any. The minimal
// contract requires subject.id, subject.capabilities, action.type,
// action.riskLevel, and resource.tenantId.
func (r DecisionRequest) Validate() error {
	switch {
	case r.Subject.ID == "":
		return ErrMalformedRequest
	case len(r.Subject.Capabilities) == 0:
		return ErrMalformedRequest
	case r.Action.Type == "":
		return ErrMalformedRequest
	case r.Action.RiskLevel == "":
		return ErrMalformedRequest
	case r.Resource.TenantID == "":
		return ErrMalformedRequest
	}
	return nil
}

// Clone returns a deep copy of the request so the engine can hold facts
// without sharing mutable state with the caller.
func (r DecisionRequest) Clone() DecisionRequest {
	clone := r
	clone.Subject.Roles = cloneStrings(r.Subject.Roles)
	clone.Subject.Capabilities = cloneStrings(r.Subject.Capabilities)
	clone.Subject.Certifications = cloneStrings(r.Subject.Certifications)
	clone.Subject.TenantScopes = cloneStrings(r.Subject.TenantScopes)
	clone.Context.DeclaredActions = cloneStrings(r.Context.DeclaredActions)
	clone.Context.DeclaredResources = cloneStrings(r.Context.DeclaredResources)
	clone.Context.QuasiIdentifiers = cloneStrings(r.Context.QuasiIdentifiers)
	clone.Context.Attributes = cloneStringMap(r.Context.Attributes)
	if r.Volume != nil {
		volume := *r.Volume
		clone.Volume = &volume
	}
	return clone
}

// ResourceRef renders the tenant/project pair as a stable reference string
// used on violations.
func (r Resource) ResourceRef() string {
	if r.ProjectID == "" {
		return r.TenantID
	}
	return r.TenantID + "/" + r.ProjectID
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
