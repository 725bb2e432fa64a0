package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/types"
)

func cfg(name string) *types.Config {
	return &types.Config{Name: name, Type: "fake", Interval: 60}
}

func TestDomainListReportHashStableAcrossOrder(t *testing.T) {
	g1 := types.NewGuest("g1", "fake", types.GuestStateRunning)
	g2 := types.NewGuest("g2", "fake", types.GuestStateShutOff)

	a := NewDomainListReport(cfg("s1"), []types.Guest{g1, g2}, "")
	b := NewDomainListReport(cfg("s1"), []types.Guest{g2, g1}, "")

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestDomainListReportHashIncludesHypervisorID(t *testing.T) {
	g := types.NewGuest("g1", "fake", types.GuestStateRunning)
	a := NewDomainListReport(cfg("s1"), []types.Guest{g}, "hv1")
	b := NewDomainListReport(cfg("s1"), []types.Guest{g}, "hv2")
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestAssociationFilterTotality(t *testing.T) {
	hosts := []types.Hypervisor{
		{HypervisorID: "esx-01"},
		{HypervisorID: "esx-02"},
		{HypervisorID: "hyperv-01"},
	}
	r := NewHostGuestAssociationReport(cfg("s1"), hosts, []string{"esx-*"}, nil)
	filtered := r.Association()
	require.Len(t, filtered, 1)
	assert.Equal(t, "hyperv-01", filtered[0].HypervisorID)

	// Idempotent: calling twice yields the same subset.
	assert.Equal(t, filtered, r.Association())
}

func TestAssociationFilterIncludeWins(t *testing.T) {
	hosts := []types.Hypervisor{
		{HypervisorID: "esx-01"},
		{HypervisorID: "hyperv-01"},
	}
	r := NewHostGuestAssociationReport(cfg("s1"), hosts, nil, []string{"esx-.*"})
	filtered := r.Association()
	require.Len(t, filtered, 1)
	assert.Equal(t, "esx-01", filtered[0].HypervisorID)
}

func TestAssociationFilterExcludeBeforeInclude(t *testing.T) {
	hosts := []types.Hypervisor{
		{HypervisorID: "esx-01"},
		{HypervisorID: "esx-02"},
	}
	r := NewHostGuestAssociationReport(cfg("s1"), hosts, []string{"esx-01"}, []string{"esx-*"})
	filtered := r.Association()
	require.Len(t, filtered, 1)
	assert.Equal(t, "esx-02", filtered[0].HypervisorID)
}

func TestAssociationMalformedRegexIsNonMatchNotFatal(t *testing.T) {
	hosts := []types.Hypervisor{{HypervisorID: "esx-01"}}
	r := NewHostGuestAssociationReport(cfg("s1"), hosts, []string{"(unclosed"}, nil)
	assert.NotPanics(t, func() {
		filtered := r.Association()
		assert.Len(t, filtered, 1, "malformed exclude pattern should not match, not panic")
	})
}

func TestAssociationHashStableUnderPreFilterOrder(t *testing.T) {
	h1 := types.Hypervisor{HypervisorID: "h1", Guests: []types.Guest{types.NewGuest("g1", "fake", types.GuestStateRunning)}}
	h2 := types.Hypervisor{HypervisorID: "h2", Guests: []types.Guest{types.NewGuest("g2", "fake", types.GuestStateRunning)}}

	a := NewHostGuestAssociationReport(cfg("s1"), []types.Hypervisor{h1, h2}, nil, nil)
	b := NewHostGuestAssociationReport(cfg("s1"), []types.Hypervisor{h2, h1}, nil, nil)

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestBatchMergesFilteredAssociations(t *testing.T) {
	h1 := types.Hypervisor{HypervisorID: "h1"}
	h2 := types.Hypervisor{HypervisorID: "h2"}
	r1 := NewHostGuestAssociationReport(cfg("s1"), []types.Hypervisor{h1}, nil, nil)
	r2 := NewHostGuestAssociationReport(cfg("s2"), []types.Hypervisor{h2}, nil, nil)

	batch := NewBatch(cfg("dest"), []*HostGuestAssociationReport{r1, r2})
	assert.Len(t, batch.Association(), 2)
}

func TestErrorReportHashIsUniquePerInstance(t *testing.T) {
	a := NewErrorReport(cfg("s1"))
	b := NewErrorReport(cfg("s1"))
	assert.NotEqual(t, a.Hash(), b.Hash(), "an ErrorReport must never dedup against another report")
	assert.NotEmpty(t, a.Hash())
}

func TestReportStateTerminal(t *testing.T) {
	assert.False(t, StateCreated.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateFinished.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCanceled.Terminal())
}
