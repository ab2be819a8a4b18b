// Package domain defines the fact model and decision types shared across the
// Arbiter engine: the typed representation of an incoming decision request,
// the decision object returned to callers, and the closed reason-code
// enumeration both sides agree on.
package domain
