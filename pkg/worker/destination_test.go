package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/report"
	"github.com/cuemby/hyperwatch/pkg/types"
)

// fakeManager is a scriptable manager.Manager: each method consumes the
// next error off its own queue (nil once the queue is exhausted) and
// records how many times it was called.
type fakeManager struct {
	checkInErr   []error
	checkInCalls int

	stateErr   []error
	stateCalls int

	virtGuestsErr   []error
	virtGuestsCalls int
}

func (m *fakeManager) nextErr(queue []error, calls int) error {
	if calls < len(queue) {
		return queue[calls]
	}
	return nil
}

func (m *fakeManager) HypervisorCheckIn(ctx context.Context, r *report.HostGuestAssociationReport, opts manager.SendOptions) error {
	err := m.nextErr(m.checkInErr, m.checkInCalls)
	m.checkInCalls++
	if err == nil {
		r.SetState(report.StateFinished)
	}
	return err
}

func (m *fakeManager) CheckReportState(ctx context.Context, r *report.HostGuestAssociationReport) error {
	err := m.nextErr(m.stateErr, m.stateCalls)
	m.stateCalls++
	return err
}

func (m *fakeManager) SendVirtGuests(ctx context.Context, r *report.DomainListReport, opts manager.SendOptions) error {
	err := m.nextErr(m.virtGuestsErr, m.virtGuestsCalls)
	m.virtGuestsCalls++
	return err
}

func newAssociationReport(source string, hv []types.Hypervisor) *report.HostGuestAssociationReport {
	return report.NewHostGuestAssociationReport(&types.Config{Name: source}, hv, nil, nil)
}

func TestDestinationWorkerOneshotDeliversAndTerminates(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})

	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, true)

	hv := []types.Hypervisor{{HypervisorID: "h1", Guests: []types.Guest{types.NewGuest("g1", "fake", types.GuestStateRunning)}}}
	store.Put("s1", newAssociationReport("s1", hv))

	w.Run(context.Background())

	assert.Equal(t, 1, mgr.checkInCalls)
	assert.True(t, w.IsTerminated())
}

func TestDestinationWorkerDedupSkipsIdenticalContent(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})

	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, false)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data1, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data1)
	assert.Equal(t, 1, mgr.checkInCalls)

	store.Put("s1", newAssociationReport("s1", hv))
	data2, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data2)

	assert.Equal(t, 1, mgr.checkInCalls, "identical content must not trigger a second checkin")
}

func TestDestinationWorkerFailedDeliveryIsRetriedNextCycle(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{checkInErr: []error{&manager.Error{Err: errors.New("boom")}}}
	done := make(chan struct{})

	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, false)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data1, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data1)

	assert.Equal(t, 1, mgr.checkInCalls)
	assert.Empty(t, body.lastReportForSource["s1"], "a failed delivery must not advance the dedup mark")

	data2, err := body.GetData(context.Background())
	require.NoError(t, err)
	assert.Len(t, data2, 1, "identical content must be retried since the dedup mark did not advance")
}

func TestDestinationWorkerThrottleInOneshotMarksErredWithoutRetry(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{checkInErr: []error{&manager.ThrottleError{RetryAfter: 300}}}
	done := make(chan struct{})

	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, true)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.Equal(t, 1, mgr.checkInCalls, "oneshot must not retry a 429")
	assert.True(t, w.IsTerminated(), "an erred source still counts as handled for oneshot termination")
}

// asyncManager accepts a checkin synchronously but leaves the report in
// StateProcessing, forcing the caller to poll CheckReportState like a real
// asynchronous manager would.
type asyncManager struct {
	fakeManager
}

func (m *asyncManager) HypervisorCheckIn(ctx context.Context, r *report.HostGuestAssociationReport, opts manager.SendOptions) error {
	r.SetState(report.StateProcessing)
	m.checkInCalls++
	return nil
}

func TestDestinationWorkerThrottleDuringPollInOneshotMarksErredNotSent(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &asyncManager{fakeManager{stateErr: []error{&manager.ThrottleError{RetryAfter: 300}}}}
	done := make(chan struct{})

	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, true)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.Equal(t, 1, mgr.stateCalls, "oneshot must not retry a 429 during check_report_state polling")
	assert.Empty(t, body.lastReportForSource["s1"], "a source erred mid-poll must not advance the dedup mark")
	assert.Contains(t, body.sourceKeys, "s1", "an erred (not sent) source is not pruned from sourceKeys")
}

func TestDestinationWorkerFatalErrorSurfacesToCallback(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{checkInErr: []error{&manager.FatalError{Err: errors.New("unauthorized")}}}
	done := make(chan struct{})

	var gotErr error
	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
		OnFatalError: func(err error) { gotErr = err },
	}, done, false)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "unauthorized")
}

func TestDestinationWorkerConnectionErrorRemovesConsumer(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60, RHSMHostname: "sat.example.com"}
	store.UpdateConsumers(func(c datastore.Consumers) datastore.Consumers {
		return datastore.AddConsumer(c, "h1", "sat.example.com")
	})

	mgr := &fakeManager{checkInErr: []error{errors.New("connection refused")}}
	done := make(chan struct{})
	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, false)
	body := w.body.(*destinationBody)

	hv := []types.Hypervisor{{HypervisorID: "h1"}}
	store.Put("s1", newAssociationReport("s1", hv))

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.False(t, store.Reachable("h1"))
}

func TestDestinationWorkerMissingSourceOwnerAdoptedFromReport(t *testing.T) {
	store := datastore.New()
	cfg := &types.Config{Name: "dest1", Interval: 60}
	mgr := &fakeManager{}
	done := make(chan struct{})
	w := NewDestinationWorker(zerolog.Nop(), cfg, DestinationDeps{
		Store: store, Manager: mgr, SourceKeys: []string{"s1"},
	}, done, true)
	body := w.body.(*destinationBody)

	srcCfg := &types.Config{Name: "s1", Owner: "acme"}
	r := report.NewHostGuestAssociationReport(srcCfg, []types.Hypervisor{{HypervisorID: "h1"}}, nil, nil)
	store.Put("s1", r)

	data, err := body.GetData(context.Background())
	require.NoError(t, err)
	body.SendData(context.Background(), data)

	assert.Equal(t, "acme", cfg.Owner)
}
