// Package policy holds the gate policy: whether DELETEs are dry-run blocked
// and which (service, method) pairs need human approval.
//
// A Policy is immutable once built. The Store publishes snapshots through an
// atomic pointer so every gate decision reads a consistent view and updates
// never block readers.
package policy

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/alfredjeanlab/extgate/internal/model"
)

// Document is the serializable form of a Policy, shared by the JSON admin
// API and the TOML policy file.
type Document struct {
	DryRunDeletes bool                `json:"dry_run_deletes" toml:"dry_run_deletes"`
	Approvals     map[string][]string `json:"approvals" toml:"approvals"`
}

// Validate checks that every service and method named in the document is
// known to the gateway.
func (d Document) Validate() error {
	for svc, methods := range d.Approvals {
		if !model.IsService(svc) {
			return fmt.Errorf("unknown service %q", svc)
		}
		for _, m := range methods {
			if !model.IsMethod(strings.ToUpper(strings.TrimSpace(m))) {
				return fmt.Errorf("service %q: unknown method %q", svc, m)
			}
		}
	}
	return nil
}

// Flags is the gate-relevant view of a (service, method) pair.
type Flags struct {
	DryRunDelete     bool
	RequiresApproval bool
}

// Policy is an immutable snapshot of the gate policy.
type Policy struct {
	dryRunDeletes bool
	approvals     map[string]map[string]struct{}
}

// New builds a Policy from a document. Method names are trimmed and
// upper-cased; empty entries are dropped.
func New(doc Document) *Policy {
	p := &Policy{
		dryRunDeletes: doc.DryRunDeletes,
		approvals:     make(map[string]map[string]struct{}, len(doc.Approvals)),
	}
	for svc, methods := range doc.Approvals {
		set := make(map[string]struct{}, len(methods))
		for _, m := range methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			set[m] = struct{}{}
		}
		if len(set) > 0 {
			p.approvals[svc] = set
		}
	}
	return p
}

// DryRunDeletes reports whether DELETEs are blocked globally.
func (p *Policy) DryRunDeletes() bool {
	return p.dryRunDeletes
}

// RequiresApproval reports whether method on service must pass the review
// queue. GET is never gated, whatever the configuration says.
func (p *Policy) RequiresApproval(service, method string) bool {
	method = strings.ToUpper(method)
	if method == http.MethodGet {
		return false
	}
	_, ok := p.approvals[service][method]
	return ok
}

// Flags returns the gate flags for a (service, method) pair. Unknown pairs
// yield zero flags.
func (p *Policy) Flags(service, method string) Flags {
	method = strings.ToUpper(method)
	return Flags{
		DryRunDelete:     p.dryRunDeletes && method == http.MethodDelete,
		RequiresApproval: p.RequiresApproval(service, method),
	}
}

// Document returns the serializable form of the policy with methods sorted.
func (p *Policy) Document() Document {
	doc := Document{
		DryRunDeletes: p.dryRunDeletes,
		Approvals:     make(map[string][]string, len(p.approvals)),
	}
	for svc, set := range p.approvals {
		methods := make([]string, 0, len(set))
		for m := range set {
			methods = append(methods, m)
		}
		slices.Sort(methods)
		doc.Approvals[svc] = methods
	}
	return doc
}

// ParseMethods parses a comma-separated method list such as "post, put,delete"
// into upper-cased method names. Empty input yields nil.
func ParseMethods(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		m := strings.ToUpper(strings.TrimSpace(part))
		if m == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Store publishes Policy snapshots. The zero value is not usable; call
// NewStore.
type Store struct {
	cur atomic.Pointer[Policy]
}

// NewStore returns a Store holding p.
func NewStore(p *Policy) *Store {
	s := &Store{}
	s.cur.Store(p)
	return s
}

// Current returns the latest published snapshot.
func (s *Store) Current() *Policy {
	return s.cur.Load()
}

// Set publishes p as the current snapshot.
func (s *Store) Set(p *Policy) {
	s.cur.Store(p)
}

// Update applies fn to a copy of the current document and publishes the
// result. Concurrent updates are serialized by retrying on conflict, so fn
// may run more than once.
func (s *Store) Update(fn func(Document) Document) *Policy {
	for {
		old := s.cur.Load()
		next := New(fn(old.Document()))
		if s.cur.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Flags is shorthand for Current().Flags.
func (s *Store) Flags(service, method string) Flags {
	return s.Current().Flags(service, method)
}
