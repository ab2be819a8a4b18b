// Package engine evaluates decision requests against an immutable rule
// catalog snapshot and composes the single auditable decision object returned
// to callers. Evaluation is a pure function of (request, catalog snapshot,
// registry snapshot, evaluation time): it performs no I/O, so arbitrarily
// many evaluations may run in parallel. The only shared state, the catalog
// and exception registry, is swapped atomically on reload.
package engine
