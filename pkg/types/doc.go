/*
Package types defines hyperwatch's core domain model: the data that flows
from a virtualization backend, through the datastore, to a remote
subscription manager.

# Core types

Guest: one virtual machine, identified by UUID, carrying a GuestState.
Immutable after construction.

Hypervisor: a host running zero or more Guests, identified by
HypervisorID. Its Hash method returns the SHA-256 digest of its canonical,
sorted-key serialization — the sole equality predicate used by downstream
dedup. Hashing is pure: it depends only on HypervisorID, Name, Facts and
Guests, never on timestamps or object identity.

Config: the immutable-for-the-life-of-a-worker configuration for one
source (name, backend type, interval, owner, host filters). EffectiveInterval
and EffectivePollingInterval apply the MinimumSendInterval clamp and the
polling-interval fallback described in spec.md §4.5.

DestinationInfo: identifies one of {Satellite5, Satellite6, Default}; the
Executor maps this to a concrete destination-worker constructor.
*/
package types
