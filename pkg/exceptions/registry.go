// Package exceptions maintains the allowlist of time-bounded violation
// waivers. The registry is a read-only snapshot at evaluation time; mutation
// happens administratively by loading and swapping a whole new registry.
package exceptions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry waives one violation kind until it expires. An entry with a blank
// owner, a blank ticket reference, or an expiry at or before evaluation time
// is treated as absent.
type Entry struct {
	ViolationKind string    `json:"violationId" yaml:"violationId"`
	Owner         string    `json:"owner" yaml:"owner"`
	TicketRef     string    `json:"ticketRef" yaml:"ticketRef"`
	ExpiresAt     time.Time `json:"expiresAt" yaml:"expiresAt"`
}

// usable reports whether the entry can suppress a violation at the given
// time. Expiry is a strict comparison: an entry expiring exactly at the
// evaluation instant is already expired.
func (e Entry) usable(at time.Time) bool {
	if strings.TrimSpace(e.Owner) == "" {
		return false
	}
	if strings.TrimSpace(e.TicketRef) == "" {
		return false
	}
	return e.ExpiresAt.After(at)
}

// Registry is an immutable set of exception entries keyed by violation kind.
type Registry struct {
	entries map[string][]Entry
	count   int
}

type registryFile struct {
	Exceptions []Entry `json:"exceptions" yaml:"exceptions"`
}

// Load parses a registry from its serialized form. Entries missing a
// violation kind are rejected; blank owners and tickets are tolerated at load
// time and simply never waive anything.
func Load(data []byte) (*Registry, error) {
	if len(data) == 0 {
		return nil, errors.New("exceptions: empty source")
	}

	var parsed registryFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("exceptions: parse: %w", err)
	}

	return New(parsed.Exceptions)
}

// New builds a registry from entries already in memory.
func New(entries []Entry) (*Registry, error) {
	byKind := make(map[string][]Entry, len(entries))
	for i, entry := range entries {
		kind := strings.TrimSpace(entry.ViolationKind)
		if kind == "" {
			return nil, fmt.Errorf("exceptions: entry %d is missing a violation kind", i)
		}
		if entry.ExpiresAt.IsZero() {
			return nil, fmt.Errorf("exceptions: entry for %q is missing an expiry", kind)
		}
		entry.ViolationKind = kind
		byKind[kind] = append(byKind[kind], entry)
	}
	return &Registry{entries: byKind, count: len(entries)}, nil
}

// Empty returns a registry with no entries. Every lookup misses, which is not
// an error: the violation is simply active.
func Empty() *Registry {
	return &Registry{entries: map[string][]Entry{}}
}

// Len returns the number of loaded entries, usable or not.
func (r *Registry) Len() int { return r.count }

// Waived reports whether an active entry covers the violation kind at the
// given time. With multiple entries for one kind the latest expiry decides;
// if all are expired the violation stays active.
func (r *Registry) Waived(kind string, at time.Time) bool {
	_, ok := r.active(kind, at)
	return ok
}

// ActiveEntry returns the entry that currently waives the kind, for audit
// surfaces that need the owner and ticket alongside the waiver.
func (r *Registry) ActiveEntry(kind string, at time.Time) (Entry, bool) {
	return r.active(kind, at)
}

func (r *Registry) active(kind string, at time.Time) (Entry, bool) {
	var best Entry
	var found bool
	for _, entry := range r.entries[kind] {
		if !entry.usable(at) {
			continue
		}
		if !found || entry.ExpiresAt.After(best.ExpiresAt) {
			best = entry
			found = true
		}
	}
	return best, found
}
