package virt

import (
	"context"

	"github.com/cuemby/hyperwatch/pkg/types"
)

func init() {
	RegisterAdapter("fake", newFakeSource)
}

// FakeSource is an in-memory Source used for testing the engine without a
// real hypervisor backend. Its data is supplied via SetHostGuestMapping/
// SetDomains rather than discovered, and IsHypervisor is fixed at
// construction.
type FakeSource struct {
	isHypervisor bool
	hypervisors  []types.Hypervisor
	guests       []types.Guest
}

func newFakeSource(cfg *types.Config) (Source, error) {
	return NewFakeSource(true), nil
}

// NewFakeSource returns an empty FakeSource. Call SetHostGuestMapping or
// SetDomains to seed it before a worker polls it.
func NewFakeSource(isHypervisor bool) *FakeSource {
	return &FakeSource{isHypervisor: isHypervisor}
}

// IsHypervisor reports the mode the source was constructed with.
func (f *FakeSource) IsHypervisor() bool {
	return f.isHypervisor
}

// SetHostGuestMapping replaces the hypervisor set returned by
// GetHostGuestMapping.
func (f *FakeSource) SetHostGuestMapping(hypervisors []types.Hypervisor) {
	f.hypervisors = hypervisors
}

// SetDomains replaces the guest list returned by ListDomains.
func (f *FakeSource) SetDomains(guests []types.Guest) {
	f.guests = guests
}

// GetHostGuestMapping returns the seeded hypervisor set.
func (f *FakeSource) GetHostGuestMapping(ctx context.Context) ([]types.Hypervisor, error) {
	return f.hypervisors, nil
}

// ListDomains returns the seeded guest list.
func (f *FakeSource) ListDomains(ctx context.Context) ([]types.Guest, error) {
	return f.guests, nil
}
