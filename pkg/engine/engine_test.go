package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/exceptions"
)

var evalTime = time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return evalTime },
	})
	e.SetCatalog(catalog.Builtin())
	return e
}

func readRequest() domain.DecisionRequest {
	return domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "agent-7",
			Capabilities: []string{"read:data"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "read", RiskLevel: "low"},
		Resource: domain.Resource{TenantID: "acme", ProjectID: "crm", Sensitivity: domain.SensitivityPublic},
	}
}

func TestCapabilityGateAllows(t *testing.T) {
	e := newTestEngine(t)

	decision := e.DecideAt(context.Background(), readRequest(), evalTime)

	require.True(t, decision.Allowed)
	assert.Equal(t, domain.ReasonAllowRuleMatched, decision.Reason)
	assert.Contains(t, decision.MatchedRules, "agent-allow-read")
	assert.Empty(t, decision.Violations)
	assert.Equal(t, domain.RiskLow, decision.Risk.Level)
}

func TestCrossTenantBlocked(t *testing.T) {
	e := newTestEngine(t)

	req := readRequest()
	req.Resource.TenantID = "globex"
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonTenantScopeDenied, decision.Reason)
	assert.Equal(t, []string{"agent-cross-tenant-block"}, decision.MatchedRules)
}

func infraRequest() domain.DecisionRequest {
	return domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "platform-bot",
			Capabilities: []string{"infra:apply"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "infra-change", RiskLevel: "high"},
		Resource: domain.Resource{TenantID: "acme", ProjectID: "payments", Sensitivity: domain.SensitivityInternal},
		Context: domain.RequestContext{
			DeclaredActions:   []string{"*"},
			DeclaredResources: []string{"arn:payments/*"},
			ApprovalRef:       "CHG-4411",
		},
	}
}

func TestWildcardAdmissionDenied(t *testing.T) {
	e := newTestEngine(t)

	decision := e.DecideAt(context.Background(), infraRequest(), evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonCriticalViolation, decision.Reason)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "iam-wildcard", decision.Violations[0].Kind)
	assert.Equal(t, domain.SeverityCritical, decision.Violations[0].Severity)
	assert.Empty(t, decision.WaivedViolations)
}

func TestWildcardAdmissionWaivedByException(t *testing.T) {
	e := newTestEngine(t)

	registry, err := exceptions.New([]exceptions.Entry{{
		ViolationKind: "iam-wildcard",
		Owner:         "platform-team",
		TicketRef:     "SEC-2041",
		ExpiresAt:     evalTime.Add(72 * time.Hour),
	}})
	require.NoError(t, err)
	e.SetExceptions(registry)

	decision := e.DecideAt(context.Background(), infraRequest(), evalTime)

	require.True(t, decision.Allowed)
	assert.Equal(t, domain.ReasonAllowRuleMatched, decision.Reason)
	require.Len(t, decision.WaivedViolations, 1)
	assert.Equal(t, "iam-wildcard", decision.WaivedViolations[0].Kind)
	assert.Empty(t, decision.Violations)
}

func TestExceptionExpiryBoundary(t *testing.T) {
	e := newTestEngine(t)

	registry, err := exceptions.New([]exceptions.Entry{{
		ViolationKind: "iam-wildcard",
		Owner:         "platform-team",
		TicketRef:     "SEC-2041",
		ExpiresAt:     evalTime,
	}})
	require.NoError(t, err)
	e.SetExceptions(registry)

	// An entry expiring exactly at evaluation time no longer waives.
	decision := e.DecideAt(context.Background(), infraRequest(), evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonCriticalViolation, decision.Reason)
}

func TestNonWaivableViolationIgnoresException(t *testing.T) {
	e := newTestEngine(t)

	registry, err := exceptions.New([]exceptions.Entry{{
		ViolationKind: "destination-block",
		Owner:         "data-team",
		TicketRef:     "SEC-9001",
		ExpiresAt:     evalTime.Add(24 * time.Hour),
	}})
	require.NoError(t, err)
	e.SetExceptions(registry)

	req := readRequest()
	req.Context.Destination = "external-unmanaged"
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonCriticalViolation, decision.Reason)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "destination-block", decision.Violations[0].Kind)
	assert.Empty(t, decision.WaivedViolations)
}

func TestDiscountAboveRoleCapRoutesApproval(t *testing.T) {
	e := newTestEngine(t)

	req := domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "rep-22",
			Roles:        []string{"sales_rep"},
			Capabilities: []string{"write:data"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "write", RiskLevel: "low"},
		Resource: domain.Resource{TenantID: "acme", ProjectID: "quotes", Sensitivity: domain.SensitivityInternal},
		Context:  domain.RequestContext{DiscountPercentage: 15},
	}
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.True(t, decision.Allowed)
	assert.Equal(t, domain.ReasonDiscountAboveRoleLimit, decision.Reason)
	assert.Equal(t, []string{"sales-manager"}, decision.RequiredApprovals)
	require.Len(t, decision.Warnings, 1)
}

func TestManagerDiscountWithinCapAllows(t *testing.T) {
	e := newTestEngine(t)

	req := domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "mgr-3",
			Roles:        []string{"sales_manager"},
			Capabilities: []string{"write:data"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "write", RiskLevel: "low"},
		Resource: domain.Resource{TenantID: "acme", ProjectID: "quotes", Sensitivity: domain.SensitivityInternal},
		Context:  domain.RequestContext{DiscountPercentage: 20},
	}
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.True(t, decision.Allowed)
	assert.Equal(t, domain.ReasonAllowRuleMatched, decision.Reason)
	assert.Empty(t, decision.RequiredApprovals)
	assert.Empty(t, decision.Warnings)
}

func bulkExportRequest() domain.DecisionRequest {
	return domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "etl-svc",
			Capabilities: []string{"export:data"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "bulk-export", RiskLevel: "high"},
		Resource: domain.Resource{TenantID: "acme", ProjectID: "warehouse", Sensitivity: domain.SensitivityConfidential},
		Context:  domain.RequestContext{Purpose: "quarterly-reporting"},
		Volume:   &domain.Volume{RecordCount: 50000, PIIRecordCount: 5000},
	}
}

func TestBulkPIIExportBlocksUntilApproved(t *testing.T) {
	e := newTestEngine(t)

	decision := e.DecideAt(context.Background(), bulkExportRequest(), evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonApprovalRequired, decision.Reason)
	assert.Equal(t, domain.RiskCritical, decision.Risk.Level)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "bulk-pii", decision.Violations[0].Kind)

	var approval *domain.Obligation
	for i := range decision.Obligations {
		if decision.Obligations[i].Kind == domain.ObligationRequireApproval {
			approval = &decision.Obligations[i]
		}
	}
	require.NotNil(t, approval, "expected a require_approval obligation")
	assert.Equal(t, []string{"data-steward"}, approval.Parameters["approvers"])

	// Resubmission with a satisfied approval reference re-derives the
	// decision from scratch and succeeds.
	approved := bulkExportRequest()
	approved.Context.ApprovalRef = "CHG-7010"
	decision = e.DecideAt(context.Background(), approved, evalTime)

	require.True(t, decision.Allowed)
	assert.Equal(t, domain.ReasonAllowRuleMatched, decision.Reason)
}

func TestBulkPIIExportOfPublicDataStillNeedsApproval(t *testing.T) {
	e := newTestEngine(t)

	// Low-sensitivity data contributes nothing to the score; the PII volume
	// alone must carry the request into the approval gate.
	req := bulkExportRequest()
	req.Resource.Sensitivity = domain.SensitivityPublic
	req.Volume = &domain.Volume{RecordCount: 5000, PIIRecordCount: 5000}

	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonApprovalRequired, decision.Reason)
	assert.Equal(t, domain.RiskHigh, decision.Risk.Level)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "bulk-pii", decision.Violations[0].Kind)
	require.NotEmpty(t, decision.Obligations)

	approved := req.Clone()
	approved.Context.ApprovalRef = "CHG-7011"
	decision = e.DecideAt(context.Background(), approved, evalTime)
	require.True(t, decision.Allowed)
}

func TestRestrictedExportDeniedOutright(t *testing.T) {
	e := newTestEngine(t)

	req := bulkExportRequest()
	req.Resource.Sensitivity = domain.SensitivityRestricted
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonCriticalViolation, decision.Reason)

	kinds := make([]string, 0, len(decision.Violations))
	for _, v := range decision.Violations {
		kinds = append(kinds, v.Kind)
	}
	assert.Contains(t, kinds, "sensitivity-floor")
}

func TestMalformedRequestFailsClosed(t *testing.T) {
	e := newTestEngine(t)

	req := readRequest()
	req.Subject.ID = ""
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonMalformedRequest, decision.Reason)
	assert.Empty(t, decision.MatchedRules)
}

func TestNoCatalogFailsClosed(t *testing.T) {
	e := New(Options{Logger: zerolog.Nop(), Clock: func() time.Time { return evalTime }})

	require.False(t, e.Ready())
	decision := e.DecideAt(context.Background(), readRequest(), evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonCatalogUnavailable, decision.Reason)
}

func TestNoMatchingRuleDefaultsToDeny(t *testing.T) {
	e := newTestEngine(t)

	req := readRequest()
	req.Subject.Capabilities = []string{"metrics:view"}
	decision := e.DecideAt(context.Background(), req, evalTime)

	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonDefaultDeny, decision.Reason)
	assert.Empty(t, decision.Violations)
}

func TestDecideUsesRequestTimestamp(t *testing.T) {
	e := newTestEngine(t)

	req := readRequest()
	req.Context.Timestamp = evalTime.Add(-48 * time.Hour)
	decision := e.Decide(context.Background(), req)

	assert.Equal(t, evalTime.Add(-48*time.Hour), decision.EvaluatedAt)

	req.Context.Timestamp = time.Time{}
	decision = e.Decide(context.Background(), req)
	assert.Equal(t, evalTime, decision.EvaluatedAt)
}

func TestCallerSliceNotMutated(t *testing.T) {
	e := newTestEngine(t)

	req := readRequest()
	caps := req.Subject.Capabilities
	_ = e.DecideAt(context.Background(), req, evalTime)

	assert.Equal(t, []string{"read:data"}, caps)
}

func TestCatalogSwapIsVisible(t *testing.T) {
	e := newTestEngine(t)

	first := e.DecideAt(context.Background(), readRequest(), evalTime)
	require.True(t, first.Allowed)

	replacement, err := catalog.Load([]byte(`
version: "2026.09"
domains:
  - name: lockdown
    mode: first-match
rules:
  - id: lockdown-all
    domain: lockdown
    priority: 1
    condition: 'exists subject.id'
    effect:
      type: deny
      message: catalog is in lockdown
`))
	require.NoError(t, err)
	e.SetCatalog(replacement)

	second := e.DecideAt(context.Background(), readRequest(), evalTime)
	require.False(t, second.Allowed)
	assert.Equal(t, domain.ReasonDenyRuleMatched, second.Reason)
	assert.NotEqual(t, first.CatalogRevision, second.CatalogRevision)
}

func TestDefectiveRuleConditionIsSkipped(t *testing.T) {
	// subject.id resolves to a string, so the comparison fails at evaluation
	// time rather than at compile time. The defective rule must be treated as
	// non-matching: later rules still run and the domain default still holds.
	cat, err := catalog.Load([]byte(`
version: "2026.09"
domains:
  - name: gate
    mode: first-match
rules:
  - id: gate-defective
    domain: gate
    priority: 1
    condition: 'subject.id > 5'
    effect:
      type: allow
  - id: gate-read
    domain: gate
    priority: 2
    condition: '"read:data" in subject.capabilities'
    effect:
      type: allow
`))
	require.NoError(t, err)

	e := New(Options{Logger: zerolog.Nop(), Clock: func() time.Time { return evalTime }})
	e.SetCatalog(cat)

	decision := e.DecideAt(context.Background(), readRequest(), evalTime)
	require.True(t, decision.Allowed)
	assert.Equal(t, []string{"gate-read"}, decision.MatchedRules)

	unprivileged := readRequest()
	unprivileged.Subject.Capabilities = []string{"other:cap"}
	decision = e.DecideAt(context.Background(), unprivileged, evalTime)
	require.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonDefaultDeny, decision.Reason)
	assert.Empty(t, decision.MatchedRules)
}
