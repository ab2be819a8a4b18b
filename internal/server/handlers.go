package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/exceptions"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

// maxBodyBytes bounds request payloads on all endpoints.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req domain.DecisionRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	start := time.Now()
	decision := s.engine.Decide(r.Context(), req)
	decision.ID = uuid.NewString()

	s.metrics.RecordDecision(decision.Allowed, string(decision.Reason), time.Since(start))
	telemetry.RecordDecisionEvent(trace.SpanFromContext(r.Context()), decision.Allowed, string(decision.Reason), len(decision.Violations))

	status := http.StatusOK
	switch decision.Reason {
	case domain.ReasonMalformedRequest:
		status = http.StatusBadRequest
	case domain.ReasonCatalogUnavailable:
		status = http.StatusServiceUnavailable
	}

	s.logger.Info().
		Str("decision_id", decision.ID).
		Str("subject", req.Subject.ID).
		Str("action", req.Action.Type).
		Bool("allowed", decision.Allowed).
		Str("reason", string(decision.Reason)).
		Msg("decision served")

	writeJSON(w, status, decision)
}

func (s *Server) handleCatalogUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}

	cat, err := catalog.Load(data)
	if err != nil {
		s.metrics.RecordSourceReload("catalog", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.engine.SetCatalog(cat)
	s.metrics.RecordSourceReload("catalog", "applied")

	writeJSON(w, http.StatusOK, map[string]any{
		"version":  cat.Version(),
		"revision": cat.Revision(),
		"rules":    cat.RuleCount(),
	})
}

func (s *Server) handleExceptionsUpdate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}

	registry, err := exceptions.Load(data)
	if err != nil {
		s.metrics.RecordSourceReload("exceptions", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.engine.SetExceptions(registry)
	s.metrics.RecordSourceReload("exceptions", "applied")

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": registry.Len(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no catalog loaded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
