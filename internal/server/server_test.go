package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine"
)

func newTestServer(t *testing.T, withCatalog bool) *Server {
	t.Helper()

	e := engine.New(engine.Options{
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC) },
	})
	if withCatalog {
		e.SetCatalog(catalog.Builtin())
	}

	return New(Options{
		Logger: zerolog.Nop(),
		Engine: e,
		Config: config.ServerConfig{Address: ":0"},
	})
}

func postDecide(t *testing.T, s *Server, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func allowedRequest() domain.DecisionRequest {
	return domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "agent-7",
			Capabilities: []string{"read:data"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "read", RiskLevel: "low"},
		Resource: domain.Resource{TenantID: "acme", Sensitivity: domain.SensitivityPublic},
	}
}

func TestDecideEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	rec := postDecide(t, s, allowedRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.NotEmpty(t, decision.ID)
	assert.NotEmpty(t, decision.CatalogRevision)
}

func TestDecideAssignsUniqueIDs(t *testing.T) {
	s := newTestServer(t, true)

	var first, second domain.Decision
	require.NoError(t, json.Unmarshal(postDecide(t, s, allowedRequest()).Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(postDecide(t, s, allowedRequest()).Body.Bytes(), &second))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDecideRejectsBadJSON(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideMalformedRequestReturns400(t *testing.T) {
	s := newTestServer(t, true)

	req := allowedRequest()
	req.Subject.ID = ""
	rec := postDecide(t, s, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonMalformedRequest, decision.Reason)
}

func TestDecideWithoutCatalogReturns503(t *testing.T) {
	s := newTestServer(t, false)

	rec := postDecide(t, s, allowedRequest())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, domain.ReasonCatalogUnavailable, decision.Reason)
}

func TestReadyzTracksCatalog(t *testing.T) {
	s := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.engine.SetCatalog(catalog.Builtin())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogUpdateEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	source := []byte(`
version: "2026.09"
domains:
  - name: access
    mode: first-match
rules:
  - id: access-allow-read
    domain: access
    priority: 10
    condition: '"read:data" in subject.capabilities'
    effect:
      type: allow
`)
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/catalog", bytes.NewReader(source))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026.09", resp["version"])
	assert.NotEmpty(t, resp["revision"])

	decideRec := postDecide(t, s, allowedRequest())
	require.Equal(t, http.StatusOK, decideRec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(decideRec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
}

func TestCatalogUpdateRejectsInvalidSourceAndKeepsCurrent(t *testing.T) {
	s := newTestServer(t, true)
	before := s.engine.Catalog().Revision()

	req := httptest.NewRequest(http.MethodPut, "/v1/admin/catalog", bytes.NewReader([]byte("rules: [")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, s.engine.Catalog().Revision())
}

func TestExceptionsUpdateEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	source := []byte(`
exceptions:
  - violationId: iam-wildcard
    owner: platform-team
    ticketRef: SEC-2041
    expiresAt: 2027-01-01T00:00:00Z
`)
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/exceptions", bytes.NewReader(source))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["entries"])

	decideReq := domain.DecisionRequest{
		Subject: domain.Subject{
			ID:           "platform-bot",
			Capabilities: []string{"infra:apply"},
			TenantScopes: []string{"acme"},
		},
		Action:   domain.Action{Type: "infra-change", RiskLevel: "high"},
		Resource: domain.Resource{TenantID: "acme", Sensitivity: domain.SensitivityInternal},
		Context: domain.RequestContext{
			DeclaredActions: []string{"*"},
			ApprovalRef:     "CHG-4411",
		},
	}
	rec = postDecide(t, s, decideReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	require.Len(t, decision.WaivedViolations, 1)
	assert.Equal(t, "iam-wildcard", decision.WaivedViolations[0].Kind)
}

func TestExceptionsUpdateRejectsInvalidEntries(t *testing.T) {
	s := newTestServer(t, true)

	source := []byte(`
exceptions:
  - owner: platform-team
    ticketRef: SEC-2041
    expiresAt: 2027-01-01T00:00:00Z
`)
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/exceptions", bytes.NewReader(source))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	_ = postDecide(t, s, allowedRequest())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbiter_decisions_total")
	assert.Contains(t, rec.Body.String(), "arbiter_http_requests_total")
}

func TestDecideAnnotatesServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s := newTestServer(t, true)
	rec := postDecide(t, s, allowedRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	var composed bool
	for _, span := range spans {
		for _, event := range span.Events() {
			if event.Name != "decision.composed" {
				continue
			}
			composed = true
			attrs := make(map[attribute.Key]attribute.Value, len(event.Attributes))
			for _, kv := range event.Attributes {
				attrs[kv.Key] = kv.Value
			}
			assert.True(t, attrs["decision.allowed"].AsBool())
			assert.Equal(t, "allow_rule_matched", attrs["decision.reason"].AsString())
		}
	}
	assert.True(t, composed, "expected a decision.composed span event")
}
