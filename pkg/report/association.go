package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cuemby/hyperwatch/pkg/types"
)

// HostGuestAssociationReport is published by a hypervisor source about the
// host/guest mapping it observed. Filters (ExcludeHosts/FilterHosts) are
// applied lazily, on every call to Association, never baked into the
// stored hypervisor list.
type HostGuestAssociationReport struct {
	base
	hypervisors  []types.Hypervisor
	excludeHosts []string
	filterHosts  []string

	filterOnce sync.Once
	regexCache map[string]*regexp.Regexp
}

// NewHostGuestAssociationReport constructs a report. excludeHosts/filterHosts
// default to cfg.ExcludeHosts/cfg.FilterHosts when nil, matching the
// original backend's fallback to config-level filters (spec.md §3).
func NewHostGuestAssociationReport(cfg *types.Config, hypervisors []types.Hypervisor, excludeHosts, filterHosts []string) *HostGuestAssociationReport {
	if excludeHosts == nil && cfg != nil {
		excludeHosts = cfg.ExcludeHosts
	}
	if filterHosts == nil && cfg != nil {
		filterHosts = cfg.FilterHosts
	}
	return &HostGuestAssociationReport{
		base:         base{config: cfg, state: StateCreated},
		hypervisors:  hypervisors,
		excludeHosts: excludeHosts,
		filterHosts:  filterHosts,
	}
}

// Hypervisors returns the unfiltered hypervisor list as originally
// constructed.
func (r *HostGuestAssociationReport) Hypervisors() []types.Hypervisor { return r.hypervisors }

// compileAnchored caches the case-insensitive, fully-anchored regular
// expression for a pattern. Caching is permitted at the report level (it
// must not, and does not, change the hash — see spec.md §9): it only
// avoids recompiling the same pattern once per hypervisor per call.
func (r *HostGuestAssociationReport) compileAnchored(pattern string) *regexp.Regexp {
	r.filterOnce.Do(func() { r.regexCache = make(map[string]*regexp.Regexp) })
	if re, ok := r.regexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)^" + pattern + "$")
	if err != nil {
		// A malformed pattern is treated as a non-match, never fatal.
		r.regexCache[pattern] = nil
		return nil
	}
	r.regexCache[pattern] = re
	return re
}

// matches reports whether host matches any pattern in the list, case
// insensitively, either as a shell-style glob over the full id or as an
// anchored regular expression.
func (r *HostGuestAssociationReport) matches(host string, patterns []string) bool {
	lowerHost := strings.ToLower(host)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(strings.ToLower(p), lowerHost); ok {
			return true
		}
		if re := r.compileAnchored(p); re != nil && re.MatchString(host) {
			return true
		}
	}
	return false
}

// Association applies the exclude/filter host patterns (spec.md §4.2):
// exclude wins outright, then filter (an allow-list) must match if
// present, otherwise the hypervisor is kept. Filtering is idempotent and
// always yields a subset of the original list.
func (r *HostGuestAssociationReport) Association() []types.Hypervisor {
	kept := make([]types.Hypervisor, 0, len(r.hypervisors))
	for _, h := range r.hypervisors {
		if len(r.excludeHosts) > 0 && r.matches(h.HypervisorID, r.excludeHosts) {
			continue
		}
		if len(r.filterHosts) > 0 && !r.matches(h.HypervisorID, r.filterHosts) {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// SerializedAssociation returns the filtered hypervisor list, each
// serialized canonically and sorted by hypervisorId.
func (r *HostGuestAssociationReport) SerializedAssociation() []types.CanonicalHypervisor {
	filtered := r.Association()
	canon := make([]types.CanonicalHypervisor, len(filtered))
	for i, h := range filtered {
		canon[i] = h.Canonical()
	}
	sort.Slice(canon, func(i, j int) bool { return canon[i].HypervisorID < canon[j].HypervisorID })
	return canon
}

// canonicalAssociation is the hashable form: {"hypervisors": [...]}.
type canonicalAssociation struct {
	Hypervisors []types.CanonicalHypervisor `json:"hypervisors"`
}

// Hash is the SHA-256 of the filtered, serialized association. Two
// reports with identical filtered content hash identically regardless of
// original (pre-filter) ordering.
func (r *HostGuestAssociationReport) Hash() string {
	b, err := json.Marshal(canonicalAssociation{Hypervisors: r.SerializedAssociation()})
	if err != nil {
		panic("report: unmarshalable association: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
