package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalGuest is the sorted-key serialization of a Guest, matching the
// field set the original backend reports ("guestId", "state", "attributes").
// Exported so pkg/report can fold it into a batch-level association hash
// without re-deriving guest ordering.
type CanonicalGuest struct {
	Attributes map[string]string `json:"attributes"`
	GuestID    string            `json:"guestId"`
	State      GuestState        `json:"state"`
}

func toCanonicalGuest(g Guest) CanonicalGuest {
	active := "0"
	if g.State.Active() {
		active = "1"
	}
	return CanonicalGuest{
		GuestID: g.UUID,
		State:   g.State,
		Attributes: map[string]string{
			"virtWhoType": g.HypervisorType,
			"active":      active,
		},
	}
}

func sortedCanonicalGuests(guests []Guest) []CanonicalGuest {
	out := make([]CanonicalGuest, len(guests))
	for i, g := range guests {
		out[i] = toCanonicalGuest(g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuestID < out[j].GuestID })
	return out
}

// CanonicalHypervisor is the sorted-key serialization of a Hypervisor.
type CanonicalHypervisor struct {
	Facts        map[string]string `json:"facts,omitempty"`
	GuestIDs     []CanonicalGuest  `json:"guestIds"`
	HypervisorID string            `json:"hypervisorId"`
	Name         string            `json:"name,omitempty"`
}

// Canonical returns the form whose sorted-key JSON encoding is hashed by
// Hash. Exposed so report-level batching can reuse it without re-deriving
// the guest ordering.
func (h Hypervisor) Canonical() CanonicalHypervisor {
	return CanonicalHypervisor{
		HypervisorID: h.HypervisorID,
		Name:         h.Name,
		Facts:        h.Facts,
		GuestIDs:     sortedCanonicalGuests(h.Guests),
	}
}

// Hash is the SHA-256 hex digest of the canonical form, serialized with
// keys in sorted order. Two Hypervisors built with equal content in
// different guest order hash identically.
func (h Hypervisor) Hash() string {
	return hashSortedJSON(h.Canonical())
}

// hashSortedJSON serializes v with object keys in sorted order and returns
// the hex SHA-256 digest. encoding/json already emits struct fields in
// declaration order and map keys in sorted order; canonical types above
// declare their fields in alphabetical order of their JSON keys, so a plain
// Marshal suffices.
func hashSortedJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Canonical types are built entirely from strings, slices and maps
		// of strings; Marshal cannot fail for them.
		panic("types: unmarshalable canonical form: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
