package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
	"github.com/cuemby/hyperwatch/pkg/virt"
)

// fakeManager is a scriptable manager.Manager local to this package's
// tests, independent of pkg/worker's own fake of the same shape.
type fakeManager struct {
	checkInErr   []error
	checkInCalls int
}

func (m *fakeManager) HypervisorCheckIn(ctx context.Context, r *report.HostGuestAssociationReport, opts manager.SendOptions) error {
	var err error
	if m.checkInCalls < len(m.checkInErr) {
		err = m.checkInErr[m.checkInCalls]
	}
	m.checkInCalls++
	if err == nil {
		r.SetState(report.StateFinished)
	}
	return err
}

func (m *fakeManager) CheckReportState(ctx context.Context, r *report.HostGuestAssociationReport) error {
	return nil
}

func (m *fakeManager) SendVirtGuests(ctx context.Context, r *report.DomainListReport, opts manager.SendOptions) error {
	return nil
}

type fakeLeaderGate struct{ leader bool }

func (g *fakeLeaderGate) IsLeader() bool { return g.leader }

func runWithTimeout(t *testing.T, e *Executor, ctx context.Context, timeout time.Duration) (Outcome, error) {
	t.Helper()
	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := e.Run(ctx)
		done <- result{o, err}
	}()
	select {
	case r := <-done:
		return r.outcome, r.err
	case <-time.After(timeout):
		t.Fatal("Run did not return within timeout")
		return 0, nil
	}
}

func TestExecutorOneshotNaturalTermination(t *testing.T) {
	src := virt.NewFakeSource(true)
	src.SetHostGuestMapping([]types.Hypervisor{{HypervisorID: "h1"}})
	mgr := &fakeManager{}

	e := New(zerolog.Nop(), nil, Config{
		Sources: []SourceSpec{{Config: &types.Config{Name: "s1", Interval: 60}, Source: src}},
		Destinations: []DestinationSpec{{
			Config: &types.Config{Name: "d1", Interval: 60},
			Info:   types.DestinationInfo{Kind: types.DestinationDefault},
			Manager: mgr,
		}},
		Oneshot: true,
	})

	outcome, err := runWithTimeout(t, e, context.Background(), 10*time.Second)

	require.NoError(t, err)
	assert.Equal(t, TerminatedNormally, outcome)
	assert.Equal(t, 1, mgr.checkInCalls)
}

func TestExecutorFatalErrorBlocksThenReloads(t *testing.T) {
	src := virt.NewFakeSource(true)
	src.SetHostGuestMapping([]types.Hypervisor{{HypervisorID: "h1"}})
	mgr := &fakeManager{checkInErr: []error{&manager.FatalError{Err: assert.AnError}}}

	e := New(zerolog.Nop(), nil, Config{
		Sources: []SourceSpec{{Config: &types.Config{Name: "s1", Interval: 60}, Source: src}},
		Destinations: []DestinationSpec{{
			Config: &types.Config{Name: "d1", Interval: 60},
			Info:   types.DestinationInfo{Kind: types.DestinationDefault},
			Manager: mgr,
		}},
		Oneshot: false,
	})

	go func() {
		// Long enough that the fatal checkin (which only needs the source
		// worker's first, near-instant cycle) has already fired and parked
		// the executor in awaitReload before this arrives.
		time.Sleep(3 * time.Second)
		e.Reload()
	}()

	outcome, err := runWithTimeout(t, e, context.Background(), 15*time.Second)

	require.NoError(t, err)
	assert.Equal(t, ReloadRequested, outcome)
	assert.Equal(t, 1, mgr.checkInCalls)
}

func TestExecutorContextCancelTerminatesNormally(t *testing.T) {
	src := virt.NewFakeSource(true)
	src.SetHostGuestMapping([]types.Hypervisor{{HypervisorID: "h1"}})

	e := New(zerolog.Nop(), nil, Config{
		Sources: []SourceSpec{{Config: &types.Config{Name: "s1", Interval: 60}, Source: src}},
		Oneshot: false,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	outcome, err := runWithTimeout(t, e, ctx, 10*time.Second)

	assert.Equal(t, TerminatedNormally, outcome)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutorDefersDestinationsUntilLeader(t *testing.T) {
	src := virt.NewFakeSource(true)
	src.SetHostGuestMapping([]types.Hypervisor{{HypervisorID: "h1"}})
	mgr := &fakeManager{}
	gate := &fakeLeaderGate{leader: false}

	e := New(zerolog.Nop(), nil, Config{
		Sources: []SourceSpec{{Config: &types.Config{Name: "s1", Interval: 60}, Source: src}},
		Destinations: []DestinationSpec{{
			Config: &types.Config{Name: "d1", Interval: 60},
			Info:   types.DestinationInfo{Kind: types.DestinationDefault},
			Manager: mgr,
		}},
		Oneshot:    false,
		LeaderGate: gate,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	outcome, err := runWithTimeout(t, e, ctx, 10*time.Second)

	assert.Equal(t, TerminatedNormally, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mgr.checkInCalls, "a non-leader replica must never dispatch to the remote manager")
}
