package bridge

import (
	"fmt"
	"sync"
)

// RouteKey builds the "source->destination" key used by the routing table.
func RouteKey(from, to string) string {
	return fmt.Sprintf("%s->%s", from, to)
}

// WildcardKey builds the "source->*" key matching any destination.
func WildcardKey(from string) string {
	return fmt.Sprintf("%s->*", from)
}

// RoutingTable is the directed permission matrix gating which platform
// pairs may exchange envelopes. Lookup order for from->to:
//
//  1. exact entry "from->to"
//  2. wildcard entry "from->*"
//  3. hidden-sink default: traffic into the sink from anyone but itself is
//     denied (fail-closed)
//  4. default allow (fail-open)
type RoutingTable struct {
	mu      sync.RWMutex
	entries map[string]bool
	sink    string
}

// NewRoutingTable creates a table with the given hidden sink name.
func NewRoutingTable(sink string) *RoutingTable {
	return &RoutingTable{entries: make(map[string]bool), sink: sink}
}

// Allow inserts an explicit allow entry for from->to. Use "*" as to for a
// wildcard entry.
func (t *RoutingTable) Allow(from, to string) {
	t.set(from, to, true)
}

// Deny inserts an explicit deny entry for from->to.
func (t *RoutingTable) Deny(from, to string) {
	t.set(from, to, false)
}

func (t *RoutingTable) set(from, to string, allowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[RouteKey(from, to)] = allowed
}

// Load replaces entries in bulk from string-keyed booleans, the persisted
// configuration shape.
func (t *RoutingTable) Load(entries map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range entries {
		t.entries[k] = v
	}
}

// Check resolves whether from may send to to, returning the matched route
// key for diagnostics.
func (t *RoutingTable) Check(from, to string) (allowed bool, matched string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exact := RouteKey(from, to)
	if v, ok := t.entries[exact]; ok {
		return v, exact
	}
	wildcard := WildcardKey(from)
	if v, ok := t.entries[wildcard]; ok {
		return v, wildcard
	}
	if to == t.sink && from != t.sink {
		return false, exact
	}
	return true, exact
}

// Sink returns the hidden sink platform name.
func (t *RoutingTable) Sink() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sink
}

// Snapshot returns a copy of the explicit entries.
func (t *RoutingTable) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
