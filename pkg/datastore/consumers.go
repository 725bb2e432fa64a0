package datastore

// Consumers is the value type stored under ConsumersKey: for each
// hypervisor UUID, the set-semantics list of remote hostnames that have
// been told about it. Duplicates are never appended.
type Consumers map[string][]string

// AddConsumer appends hostname to consumers[hypervisorID] if it is not
// already present.
func AddConsumer(consumers Consumers, hypervisorID, hostname string) Consumers {
	if consumers == nil {
		consumers = Consumers{}
	}
	for _, h := range consumers[hypervisorID] {
		if h == hostname {
			return consumers
		}
	}
	consumers[hypervisorID] = append(consumers[hypervisorID], hostname)
	return consumers
}

// RemoveConsumer removes hostname from every hypervisor's consumer list.
// Used when a destination becomes unreachable (spec.md §4.5).
func RemoveConsumer(consumers Consumers, hostname string) Consumers {
	for hv, hosts := range consumers {
		filtered := hosts[:0]
		for _, h := range hosts {
			if h != hostname {
				filtered = append(filtered, h)
			}
		}
		consumers[hv] = filtered
	}
	return consumers
}

// Reachable reports whether datastore["consumers"][hypervisorID] exists
// and is non-empty. When no consumers entry has ever been written it
// returns true (optimistic), per spec.md §4.4.
func (d *Datastore) Reachable(hypervisorID string) bool {
	raw := d.Get(ConsumersKey, nil)
	if raw == nil {
		return true
	}
	consumers, ok := raw.(Consumers)
	if !ok {
		return true
	}
	return len(consumers[hypervisorID]) > 0
}

// UpdateConsumers atomically applies fn to the current Consumers value
// (defaulting to an empty map), a thin wrapper over Update that spares
// callers the type assertion.
func (d *Datastore) UpdateConsumers(fn func(Consumers) Consumers) {
	d.Update(ConsumersKey, Consumers{}, func(_ string, current any, _ any) any {
		c, ok := current.(Consumers)
		if !ok {
			c = Consumers{}
		}
		return fn(c)
	}, nil)
}
