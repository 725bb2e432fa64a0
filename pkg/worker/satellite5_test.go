package worker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
)

func TestSatellite5DropsDomainListReports(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "sat5dest", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})

	w := NewSatellite5DestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, false)
	body := w.body.(*satellite5Body)

	srcCfg := &types.Config{Name: "s1"}
	dl := report.NewDomainListReport(srcCfg, []types.Guest{types.NewGuest("g1", "fake", types.GuestStateRunning)}, "")
	store.Put("s1", dl)

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.Equal(t, 0, mgr.virtGuestsCalls, "satellite 5 must never call SendVirtGuests")
	assert.NotContains(t, body.sourceKeys, "s1", "the source must be dropped permanently, not just skipped this cycle")
}

func TestSatellite5SendsAssociationReportsUnbatched(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "sat5dest", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})

	w := NewSatellite5DestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, true)
	body := w.body.(*satellite5Body)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.Equal(t, 1, mgr.checkInCalls)
	assert.Equal(t, 0, mgr.stateCalls, "satellite 5 never polls check_report_state")
	assert.True(t, w.IsTerminated())
}

func TestSatellite5TopLevelErrorReportStopsImmediately(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "sat5dest", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})

	w := NewSatellite5DestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, false)
	body := w.body.(*satellite5Body)

	body.SendData(context.Background(), report.NewErrorReport(cfg))

	assert.True(t, w.IsTerminated(), "satellite 5 stops unconditionally on its own cycle's ErrorReport")
}
