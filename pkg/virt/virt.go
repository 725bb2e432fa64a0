// Package virt defines the backend interface a source worker discovers
// guests through, plus the constructor registry that maps a config's
// type string to a concrete adapter (spec.md §6, §9 "Polymorphic worker
// dispatch"). Backend-specific adapters (ESX, libvirt, RHEV-M, ...) live
// outside this package and register themselves from an init func; only
// the in-memory FakeSource reference adapter ships here.
package virt

import (
	"context"
	"fmt"

	"github.com/cuemby/hyperwatch/pkg/types"
)

// Source is the interface a virtualization backend implements. A source
// worker calls IsHypervisor on every poll to decide whether to call
// GetHostGuestMapping or ListDomains.
type Source interface {
	// IsHypervisor reports whether this backend enumerates hypervisor
	// hosts and their guests (true) or a single host's own domains
	// (false, e.g. a local libvirt/xen list).
	IsHypervisor() bool

	// GetHostGuestMapping returns the current set of hypervisors and
	// their guests. Only called when IsHypervisor() is true.
	GetHostGuestMapping(ctx context.Context) ([]types.Hypervisor, error)

	// ListDomains returns the guests running on the local host. Only
	// called when IsHypervisor() is false.
	ListDomains(ctx context.Context) ([]types.Guest, error)
}

// Constructor builds a Source from a resolved config. Adapters register
// one of these under their CONFIG_TYPE-equivalent tag.
type Constructor func(cfg *types.Config) (Source, error)

var registry = map[string]Constructor{}

// RegisterAdapter associates a config type string (e.g. "esx", "libvirt",
// "fake") with a Source constructor. Called from adapter package init
// functions; panics on duplicate registration since that indicates two
// adapters claiming the same config type at link time.
func RegisterAdapter(configType string, ctor Constructor) {
	if _, exists := registry[configType]; exists {
		panic(fmt.Sprintf("virt: adapter already registered for type %q", configType))
	}
	registry[configType] = ctor
}

// New builds the Source for cfg.Type, or an error if no adapter has
// registered that type.
func New(cfg *types.Config) (Source, error) {
	ctor, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("virt: no adapter registered for type %q", cfg.Type)
	}
	return ctor(cfg)
}

// HypervisorTypes lists every registered config type except "fake",
// mirroring the engine's own introspection of its adapter set.
func HypervisorTypes() []string {
	tags := make([]string, 0, len(registry))
	for t := range registry {
		if t == "fake" {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}
