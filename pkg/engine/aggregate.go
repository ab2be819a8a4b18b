package engine

import (
	"time"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/exceptions"
)

// aggregate partitions raised violations into active and waived. A violation
// is waived only when a usable exception entry covers its kind and the kind
// is not flagged non-waivable at the domain level. The union of both slices
// is exactly what the matching rules raised; waived violations stay visible
// for audit.
func aggregate(cat *catalog.Catalog, raised []raisedViolation, registry *exceptions.Registry, at time.Time) (active, waived []domain.Violation) {
	for _, v := range raised {
		if cat.NonWaivable(v.Domain, v.Kind) {
			active = append(active, v.Violation)
			continue
		}
		if registry.Waived(v.Kind, at) {
			waived = append(waived, v.Violation)
			continue
		}
		active = append(active, v.Violation)
	}
	return active, waived
}

func hasCritical(violations []domain.Violation) bool {
	for _, v := range violations {
		if v.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}
