package virt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/types"
)

func TestRegisteredFakeAdapterRoundTrip(t *testing.T) {
	src, err := New(&types.Config{Type: "fake"})
	require.NoError(t, err)

	fake, ok := src.(*FakeSource)
	require.True(t, ok)

	hv := []types.Hypervisor{{HypervisorID: "hv1"}}
	fake.SetHostGuestMapping(hv)

	got, err := src.GetHostGuestMapping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hv, got)
}

func TestNewUnknownTypeErrors(t *testing.T) {
	_, err := New(&types.Config{Type: "no-such-backend"})
	assert.Error(t, err)
}

func TestFakeSourceListDomainsMode(t *testing.T) {
	f := NewFakeSource(false)
	assert.False(t, f.IsHypervisor())

	guests := []types.Guest{types.NewGuest("g1", "fake", types.GuestStateRunning)}
	f.SetDomains(guests)

	got, err := f.ListDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guests, got)
}
