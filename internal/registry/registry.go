// Package registry implements the session/node registry: a map from a
// node-type label (e.g. a Redis-cluster identifier) to the set of
// endpoints serving it, with health bookkeeping and selection helpers.
package registry

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// NodeSet is one label's endpoint membership and health state.
type NodeSet struct {
	mu         sync.Mutex
	endpoints  []string
	failed     map[string]bool
	lastProbe  map[string]time.Time
	rrCursor   int
	credential string
}

func newNodeSet() *NodeSet {
	return &NodeSet{
		failed:    make(map[string]bool),
		lastProbe: make(map[string]time.Time),
	}
}

// Registry is the top-level label -> NodeSet map.
type Registry struct {
	mu   sync.Mutex
	sets map[string]*NodeSet
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sets: make(map[string]*NodeSet)}
}

func (r *Registry) setFor(label string) *NodeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.sets[label]
	if !ok {
		ns = newNodeSet()
		r.sets[label] = ns
	}
	return ns
}

// AddEndpoint registers endpoint under label if not already present.
func (r *Registry) AddEndpoint(label, endpoint string) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for _, e := range ns.endpoints {
		if e == endpoint {
			return
		}
	}
	ns.endpoints = append(ns.endpoints, endpoint)
}

// RemoveEndpoint unregisters endpoint from label.
func (r *Registry) RemoveEndpoint(label, endpoint string) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i, e := range ns.endpoints {
		if e == endpoint {
			ns.endpoints = append(ns.endpoints[:i], ns.endpoints[i+1:]...)
			break
		}
	}
	delete(ns.failed, endpoint)
	delete(ns.lastProbe, endpoint)
}

// MarkFailed records endpoint as unhealthy under label.
func (r *Registry) MarkFailed(label, endpoint string) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.failed[endpoint] = true
}

// MarkRecovered clears endpoint's failed status under label.
func (r *Registry) MarkRecovered(label, endpoint string) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.failed, endpoint)
}

// IsFailed reports whether endpoint is currently marked failed.
func (r *Registry) IsFailed(label, endpoint string) bool {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.failed[endpoint]
}

// Detect returns a failed endpoint due for a health probe (one whose
// last probe predates minInterval ago, or has never been probed), and
// records the probe attempt. Returns ("", false) if none are due.
func (r *Registry) Detect(label string, minInterval time.Duration, now time.Time) (string, bool) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for endpoint := range ns.failed {
		last, probed := ns.lastProbe[endpoint]
		if !probed || now.Sub(last) >= minInterval {
			ns.lastProbe[endpoint] = now
			return endpoint, true
		}
	}
	return "", false
}

// Select round-robins across the non-failed endpoints under label. It
// returns false if every endpoint is failed or none are registered.
func (r *Registry) Select(label string) (string, bool) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if len(ns.endpoints) == 0 {
		return "", false
	}
	for i := 0; i < len(ns.endpoints); i++ {
		idx := (ns.rrCursor + i) % len(ns.endpoints)
		endpoint := ns.endpoints[idx]
		if !ns.failed[endpoint] {
			ns.rrCursor = (idx + 1) % len(ns.endpoints)
			return endpoint, true
		}
	}
	return "", false
}

// SelectByIntHash picks a stable endpoint for an integer sharding
// factor, skipping failed endpoints by probing forward.
func (r *Registry) SelectByIntHash(label string, factor int64) (string, bool) {
	return r.selectByHash(label, uint64(factor))
}

// SelectByStringHash picks a stable endpoint for a string sharding
// factor (FNV-1a), skipping failed endpoints by probing forward.
func (r *Registry) SelectByStringHash(label, factor string) (string, bool) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(factor))
	return r.selectByHash(label, h.Sum64())
}

func (r *Registry) selectByHash(label string, hash uint64) (string, bool) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	n := len(ns.endpoints)
	if n == 0 {
		return "", false
	}
	start := int(hash % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		endpoint := ns.endpoints[idx]
		if !ns.failed[endpoint] {
			return endpoint, true
		}
	}
	return "", false
}

// Broadcast returns every registered endpoint under label, regardless
// of health.
func (r *Registry) Broadcast(label string) []string {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return append([]string(nil), ns.endpoints...)
}

// SetCredential stores the AUTH password associated with label.
func (r *Registry) SetCredential(label, password string) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.credential = password
}

// Credential returns the AUTH password registered for label.
func (r *Registry) Credential(label string) (string, error) {
	ns := r.setFor(label)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.credential == "" {
		return "", fmt.Errorf("registry: no credential registered for %q", label)
	}
	return ns.credential, nil
}
