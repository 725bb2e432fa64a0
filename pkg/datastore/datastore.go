// Package datastore provides the concurrent keyed map that source workers
// publish into and destination workers read from. It is the only shared
// mutable state in the engine (spec.md §5): all three operations are
// linearizable, there is no versioning, subscription or history, and the
// store holds nothing durable across process restarts.
package datastore

import "sync"

// ConsumersKey is the reserved datastore key recording, per hypervisor
// UUID, which remote hostnames have most recently been told about it.
const ConsumersKey = "consumers"

// UpdateFunc is the pure callback passed to Update. It must not itself
// call back into the Datastore; the store treats its execution as a
// single critical section.
type UpdateFunc func(key string, current any, extra any) any

// Datastore is a concurrent keyed map with atomic read-modify-write.
type Datastore struct {
	mu   sync.Mutex
	data map[string]any
}

// New returns an empty Datastore.
func New() *Datastore {
	return &Datastore{data: make(map[string]any)}
}

// Get returns the current value for key, or def if key is unset.
func (d *Datastore) Get(key string, def any) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.data[key]; ok {
		return v
	}
	return def
}

// Put unconditionally replaces the value at key.
func (d *Datastore) Put(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
}

// Update atomically reads key (falling back to def), invokes
// fn(key, current, extra), and writes the returned value back. fn runs
// under the store's exclusive lock and must not call Get/Put/Update on the
// same Datastore.
func (d *Datastore) Update(key string, def any, fn UpdateFunc, extra any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.data[key]
	if !ok {
		current = def
	}
	d.data[key] = fn(key, current, extra)
}
