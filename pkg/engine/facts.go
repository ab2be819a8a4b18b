package engine

import (
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine/expr"
)

// factLookup flattens the request into the dotted fact paths conditions
// reference. Optional fields that are unset are absent from the map, so a
// condition referencing them fails the lookup and the rule does not match
// (absence-is-false), unless the rule tests presence with `exists`.
func factLookup(req domain.DecisionRequest) expr.LookupFunc {
	facts := make(map[string]any, 32)

	putString(facts, "subject.id", req.Subject.ID)
	putStrings(facts, "subject.roles", req.Subject.Roles)
	putStrings(facts, "subject.capabilities", req.Subject.Capabilities)
	putStrings(facts, "subject.certifications", req.Subject.Certifications)
	putString(facts, "subject.clearance", req.Subject.Clearance)
	putStrings(facts, "subject.tenantScopes", req.Subject.TenantScopes)

	putString(facts, "action.type", req.Action.Type)
	putString(facts, "action.riskLevel", req.Action.RiskLevel)

	putString(facts, "resource.tenantId", req.Resource.TenantID)
	putString(facts, "resource.projectId", req.Resource.ProjectID)
	putString(facts, "resource.sensitivity", req.Resource.Sensitivity)
	putString(facts, "resource.owner", req.Resource.Owner)

	putString(facts, "tenant", req.Tenant)

	putString(facts, "context.purpose", req.Context.Purpose)
	putString(facts, "context.justification", req.Context.Justification)
	putString(facts, "context.approvalRef", req.Context.ApprovalRef)
	putString(facts, "context.mode", req.Context.Mode)
	putString(facts, "context.destination", req.Context.Destination)
	putStrings(facts, "context.declaredActions", req.Context.DeclaredActions)
	putStrings(facts, "context.declaredResources", req.Context.DeclaredResources)
	putStrings(facts, "context.quasiIdentifiers", req.Context.QuasiIdentifiers)

	// Booleans are always present; their zero value is meaningful.
	facts["context.emergency"] = req.Context.Emergency

	if len(req.Context.QuasiIdentifiers) > 0 {
		facts["context.quasiIdentifierCount"] = int64(len(req.Context.QuasiIdentifiers))
	}
	if req.Context.DiscountPercentage > 0 {
		facts["context.discountPercentage"] = req.Context.DiscountPercentage
	}
	if len(req.Context.Justification) > 0 {
		facts["context.justificationLength"] = int64(len(req.Context.Justification))
	}

	if req.Volume != nil {
		facts["volume.recordCount"] = req.Volume.RecordCount
		facts["volume.piiRecordCount"] = req.Volume.PIIRecordCount
	}

	for key, value := range req.Context.Attributes {
		facts["context.attributes."+key] = value
	}

	return func(path string) (any, bool) {
		value, ok := facts[path]
		return value, ok
	}
}

func putString(facts map[string]any, path, value string) {
	if value != "" {
		facts[path] = value
	}
}

func putStrings(facts map[string]any, path string, values []string) {
	if len(values) > 0 {
		facts[path] = values
	}
}
