// Package risk combines weighted request signals into a single bounded risk
// score. Scoring is deterministic: the evaluation time is an explicit input,
// never a global clock read.
package risk

import (
	"time"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Config carries the deployment-tunable scoring thresholds.
type Config struct {
	// BulkRecordThreshold is the record count above which the bulk-volume
	// signal fires.
	BulkRecordThreshold int64
	// PIIRecordThreshold is the PII record count above which the bulk-volume
	// signal fires. PII rows price in at a lower volume than plain rows.
	PIIRecordThreshold int64
	// QuasiIdentifierLimit is the number of co-occurring re-identifying
	// attributes at which the aggregation signal fires.
	QuasiIdentifierLimit int
	// BusinessHoursStart and BusinessHoursEnd bound the business-hours window
	// in UTC hours, half-open [start, end).
	BusinessHoursStart int
	BusinessHoursEnd   int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BulkRecordThreshold:  10000,
		PIIRecordThreshold:   1000,
		QuasiIdentifierLimit: 3,
		BusinessHoursStart:   8,
		BusinessHoursEnd:     18,
	}
}

func (c Config) normalized() Config {
	if c.BulkRecordThreshold <= 0 {
		c.BulkRecordThreshold = 10000
	}
	if c.PIIRecordThreshold <= 0 {
		c.PIIRecordThreshold = 1000
	}
	if c.QuasiIdentifierLimit <= 0 {
		c.QuasiIdentifierLimit = 3
	}
	if c.BusinessHoursEnd <= c.BusinessHoursStart {
		c.BusinessHoursStart = 8
		c.BusinessHoursEnd = 18
	}
	return c
}

// Scorer computes risk assessments. The zero value uses default thresholds.
type Scorer struct {
	cfg Config
}

// NewScorer constructs a Scorer, normalizing out-of-range thresholds.
func NewScorer(cfg Config) Scorer {
	return Scorer{cfg: cfg.normalized()}
}

// Sensitivity tier weights.
const (
	weightPublic       = 0
	weightInternal     = 20
	weightConfidential = 40
	weightRestricted   = 60
)

// Operation weights.
const (
	weightRead       = 5
	weightWrite      = 15
	weightExport     = 30
	weightBulkExport = 45
)

// Signal weights.
const (
	weightBulkVolume      = 20
	weightQuasiIdentifier = 25
	weightOffHours        = 10
)

// Score combines the weighted signals for one request at the given evaluation
// time and clamps the result to [0, 100]. Active violations are accepted for
// interface stability with the aggregator but carry no extra weight; the
// signals below already price the conditions that raise them.
func (s Scorer) Score(req domain.DecisionRequest, _ []domain.Violation, at time.Time) domain.RiskAssessment {
	cfg := s.cfg.normalized()

	score := sensitivityWeight(req.Resource.Sensitivity)
	score += operationWeight(req.Action.Type)

	if bulkVolume(req.Volume, cfg) {
		score += weightBulkVolume
	}

	// Individually safe fields become re-identifying in combination.
	if len(req.Context.QuasiIdentifiers) >= cfg.QuasiIdentifierLimit {
		score += weightQuasiIdentifier
	}

	if s.offHours(at) && highSensitivity(req.Resource.Sensitivity) && !req.Context.Emergency {
		score += weightOffHours
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return domain.RiskAssessment{Score: score, Level: Level(score)}
}

// Level buckets a score into its risk level.
func Level(score int) domain.RiskLevel {
	switch {
	case score < 25:
		return domain.RiskLow
	case score < 50:
		return domain.RiskMedium
	case score < 75:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// bulkVolume fires once when either count crosses its threshold; crossing
// both does not double the signal.
func bulkVolume(vol *domain.Volume, cfg Config) bool {
	if vol == nil {
		return false
	}
	return vol.RecordCount > cfg.BulkRecordThreshold || vol.PIIRecordCount > cfg.PIIRecordThreshold
}

func (s Scorer) offHours(at time.Time) bool {
	hour := at.UTC().Hour()
	cfg := s.cfg.normalized()
	return hour < cfg.BusinessHoursStart || hour >= cfg.BusinessHoursEnd
}

func highSensitivity(sensitivity string) bool {
	switch sensitivity {
	case domain.SensitivityConfidential, domain.SensitivityRestricted:
		return true
	default:
		return false
	}
}

func sensitivityWeight(sensitivity string) int {
	switch sensitivity {
	case domain.SensitivityPublic:
		return weightPublic
	case domain.SensitivityInternal:
		return weightInternal
	case domain.SensitivityConfidential:
		return weightConfidential
	case domain.SensitivityRestricted:
		return weightRestricted
	default:
		// Unclassified data scores as confidential rather than public.
		return weightConfidential
	}
}

func operationWeight(actionType string) int {
	switch actionType {
	case domain.ActionRead, domain.ActionSearch, domain.ActionList:
		return weightRead
	case domain.ActionWrite, domain.ActionInfraChange:
		return weightWrite
	case domain.ActionExport, domain.ActionShare:
		return weightExport
	case domain.ActionBulkExport:
		return weightBulkExport
	default:
		return weightWrite
	}
}
